package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepboard/prepboard/authz"
	"github.com/prepboard/prepboard/session"
)

// InvitationHandler handles invitation lifecycle HTTP requests
type InvitationHandler struct {
	invitations *authz.InvitationService
	sessions    *session.Manager
}

// NewInvitationHandler creates a new InvitationHandler
func NewInvitationHandler(invitations *authz.InvitationService, sessions *session.Manager) *InvitationHandler {
	return &InvitationHandler{invitations: invitations, sessions: sessions}
}

// CreateInvitation handles POST /orgs/:org_id/invitations
func (h *InvitationHandler) CreateInvitation(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")

	var input authz.CreateInvitationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inv, err := h.invitations.Create(c.Request.Context(), userID, orgID, input)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, inv)
}

// ListInvitations handles GET /orgs/:org_id/invitations
func (h *InvitationHandler) ListInvitations(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")

	invitations, err := h.invitations.List(c.Request.Context(), userID, orgID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invitations": invitations})
}

// RevokeInvitation handles DELETE /orgs/:org_id/invitations/:invitation_id
func (h *InvitationHandler) RevokeInvitation(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")
	invitationID := c.Param("invitation_id")

	if err := h.invitations.Revoke(c.Request.Context(), userID, orgID, invitationID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "invitation revoked"})
}

// ResendInvitation handles POST /orgs/:org_id/invitations/:invitation_id/resend
func (h *InvitationHandler) ResendInvitation(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")
	invitationID := c.Param("invitation_id")

	inv, err := h.invitations.Resend(c.Request.Context(), userID, orgID, invitationID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, inv)
}

// GetInvitationByToken handles GET /invitations/:token
// Public: the accept page needs the invitation details before sign-in.
func (h *InvitationHandler) GetInvitationByToken(c *gin.Context) {
	token := c.Param("token")

	inv, err := h.invitations.GetByToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	// The token holder sees the invitation, not who sent it.
	c.JSON(http.StatusOK, gin.H{
		"organization_id": inv.OrganizationID,
		"email":           inv.Email,
		"access_level":    inv.AccessLevel,
		"status":          inv.Status,
		"expires_at":      inv.ExpiresAt,
	})
}

// AcceptInvitation handles POST /invitations/:token/accept
func (h *InvitationHandler) AcceptInvitation(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := c.Param("token")

	member, err := h.invitations.Accept(c.Request.Context(), userID, token)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	// The accepted membership must be visible to the guard immediately.
	_, _ = h.sessions.Refresh(c.Request.Context(), userID)

	c.JSON(http.StatusOK, gin.H{"membership": member})
}
