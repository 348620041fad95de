package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepboard/prepboard/services"
)

// APIKeyHandler manages service API keys
type APIKeyHandler struct {
	apiKeys *services.APIKeyService
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(apiKeys *services.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{apiKeys: apiKeys}
}

// CreateAPIKey handles POST /api-keys
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input struct {
		Name           string `json:"name" binding:"required"`
		OrganizationID string `json:"organization_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, plaintext, err := h.apiKeys.CreateAPIKey(c.Request.Context(), userID, input.OrganizationID, input.Name)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	// The plaintext key is shown once and never stored.
	c.JSON(http.StatusCreated, gin.H{"api_key": key, "key": plaintext})
}

// ListAPIKeys handles GET /api-keys
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.apiKeys.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

// RevokeAPIKey handles DELETE /api-keys/:id
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	userID := c.GetString("user_id")
	keyID := c.Param("id")

	if err := h.apiKeys.Revoke(c.Request.Context(), userID, keyID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
