package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rabby0101/khulna-hub-services/internal/services"
)

// RestChatHandler handles REST requests for conversations and messages.
type RestChatHandler struct {
	chatService services.IChatService
}

// NewRestChatHandler creates a new RestChatHandler.
func NewRestChatHandler(chatService services.IChatService) *RestChatHandler {
	return &RestChatHandler{chatService: chatService}
}

// GetMyConversations handles GET /v1/my/conversations
func (h *RestChatHandler) GetMyConversations(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}

	conversations, err := h.chatService.ListConversations(c.Request.Context(), identity)
	if err != nil {
		restError(c, err, "Failed to retrieve conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": conversations})
}

// GetConversationMessages handles GET /v1/conversation/:id/messages (parties only)
func (h *RestChatHandler) GetConversationMessages(c *gin.Context) {
	identity, ok := restIdentity(c)
	if !ok {
		return
	}
	conversationID, ok := parseIDParam(c)
	if !ok {
		return
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), identity, conversationID, limit)
	if err != nil {
		restError(c, err, "Failed to retrieve messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": messages})
}
