package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// RestNotificationHandler handles REST requests for notifications.
type RestNotificationHandler struct {
	notificationService services.INotificationService
}

// NewRestNotificationHandler creates a new RestNotificationHandler.
func NewRestNotificationHandler(notificationService services.INotificationService) *RestNotificationHandler {
	return &RestNotificationHandler{notificationService: notificationService}
}

// GetMyNotifications handles GET /v1/my/notifications.
// Unread chat notifications are grouped per conversation at read time.
func (h *RestNotificationHandler) GetMyNotifications(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}

	groups, err := h.notificationService.ListGrouped(c.Request.Context(), identity)
	if err != nil {
		restError(c, err, "Failed to retrieve notifications")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": groups})
}
