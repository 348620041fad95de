package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepboard/prepboard/session"
)

// SessionHandler exposes session state and the active-organization selector.
type SessionHandler struct {
	sessions *session.Manager
	// serviceKey authenticates the identity provider's event webhook.
	serviceKey string
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions *session.Manager, serviceKey string) *SessionHandler {
	return &SessionHandler{sessions: sessions, serviceKey: serviceKey}
}

// GetSession handles GET /session
// Returns the caller's membership snapshot and active organization.
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	snap, err := h.sessions.Snapshot(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	activeOrg, err := h.sessions.ActiveOrg(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"is_admin":      snap.IsGlobalAdmin(),
		"organizations": snap.Memberships(),
		"active_org_id": activeOrg,
	})
}

// SelectActiveOrg handles PUT /session/active-org
func (h *SessionHandler) SelectActiveOrg(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input struct {
		OrganizationID string `json:"organization_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.SelectOrg(c.Request.Context(), userID, input.OrganizationID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"active_org_id": input.OrganizationID})
}

// RefreshSession handles POST /session/refresh
// Forces a reload of the caller's membership snapshot.
func (h *SessionHandler) RefreshSession(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	snap, err := h.sessions.Refresh(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"organizations": snap.Memberships()})
}

// SignOut handles POST /session/signout
func (h *SessionHandler) SignOut(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.sessions.SignOut(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleAuthEvent handles POST /session/events
// Called by the identity provider with session changes. Protected by the
// service key, not a user token.
func (h *SessionHandler) HandleAuthEvent(c *gin.Context) {
	key := c.GetHeader("X-Service-Key")
	if h.serviceKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.serviceKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid service key"})
		return
	}

	var event session.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.HandleEvent(c.Request.Context(), event); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
