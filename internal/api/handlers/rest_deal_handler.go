package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// RestDealHandler handles REST requests for deals.
type RestDealHandler struct {
	dealService services.IDealService
}

// NewRestDealHandler creates a new RestDealHandler.
func NewRestDealHandler(dealService services.IDealService) *RestDealHandler {
	return &RestDealHandler{dealService: dealService}
}

// GetDealByID handles GET /v1/deal/:id (parties only)
func (h *RestDealHandler) GetDealByID(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}
	dealID, ok := parseIDParam(c)
	if !ok {
		return
	}

	deal, err := h.dealService.FindDealByID(c.Request.Context(), identity, dealID)
	if err != nil {
		restError(c, err, "Failed to retrieve deal")
		return
	}

	c.JSON(http.StatusOK, deal)
}

// GetMyDeals handles GET /v1/my/deals
func (h *RestDealHandler) GetMyDeals(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}

	deals, err := h.dealService.FindDealsByUser(c.Request.Context(), identity.UserID)
	if err != nil {
		restError(c, err, "Failed to retrieve deals")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": deals})
}
