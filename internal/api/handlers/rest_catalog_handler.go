package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// RestCatalogHandler serves the public category catalog.
type RestCatalogHandler struct {
	catalogService services.ICatalogService
}

// NewRestCatalogHandler creates a new RestCatalogHandler.
func NewRestCatalogHandler(catalogService services.ICatalogService) *RestCatalogHandler {
	return &RestCatalogHandler{catalogService: catalogService}
}

// GetCategories handles GET /v1/categories
func (h *RestCatalogHandler) GetCategories(c *gin.Context) {
	categories := h.catalogService.ListCategories(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": categories})
}
