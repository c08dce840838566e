package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// RestProfileHandler handles REST requests for public profile views.
type RestProfileHandler struct {
	profileService services.IProfileService
}

// NewRestProfileHandler creates a new RestProfileHandler.
func NewRestProfileHandler(profileService services.IProfileService) *RestProfileHandler {
	return &RestProfileHandler{profileService: profileService}
}

// GetProfileByID handles GET /v1/user/:id
func (h *RestProfileHandler) GetProfileByID(c *gin.Context) {
	userID, ok := parseIDParam(c)
	if !ok {
		return
	}

	profile, err := h.profileService.FindByID(c.Request.Context(), userID)
	if err != nil {
		restError(c, err, "Failed to retrieve profile")
		return
	}
	if profile.Suspended || profile.Deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}

	// Public view only; the password hash is never serialized and the email
	// stays private.
	c.JSON(http.StatusOK, gin.H{
		"id":        profile.ID.Hex(),
		"full_name": profile.FullName,
		"location":  profile.Location,
		"user_type": profile.UserType,
	})
}
