package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepboard/prepboard/authz"
	"github.com/prepboard/prepboard/session"
)

// OrgHandler handles organization-related HTTP requests
type OrgHandler struct {
	orgService *authz.OrgService
	sessions   *session.Manager
}

// NewOrgHandler creates a new OrgHandler
func NewOrgHandler(orgService *authz.OrgService, sessions *session.Manager) *OrgHandler {
	return &OrgHandler{orgService: orgService, sessions: sessions}
}

// statusForError maps service errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, authz.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, authz.ErrAlreadyExists), errors.Is(err, authz.ErrAlreadyMember):
		return http.StatusConflict
	case errors.Is(err, authz.ErrInvalidInput),
		errors.Is(err, authz.ErrLastAdmin),
		errors.Is(err, authz.ErrCannotRemoveSelf),
		errors.Is(err, authz.ErrLevelTooHigh):
		return http.StatusBadRequest
	case errors.Is(err, authz.ErrInviteExpired),
		errors.Is(err, authz.ErrInviteNotPending),
		errors.Is(err, authz.ErrInviteNotExpired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CreateOrg handles POST /orgs
func (h *OrgHandler) CreateOrg(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var input authz.CreateOrgInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.SignupRole == "" {
		input.SignupRole = c.GetString("signup_role")
	}

	org, err := h.orgService.CreateOrg(c.Request.Context(), userID, input)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	// The new membership must show up on the next snapshot read.
	if _, err := h.sessions.Refresh(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusCreated, org)
		return
	}

	c.JSON(http.StatusCreated, org)
}

// ListOrgs handles GET /orgs
func (h *OrgHandler) ListOrgs(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{"organizations": snap.Memberships()})
}

// GetOrg handles GET /orgs/:org_id
func (h *OrgHandler) GetOrg(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")

	org, err := h.orgService.GetOrg(c.Request.Context(), userID, orgID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, org)
}

// UpdateOrg handles PATCH /orgs/:org_id
func (h *OrgHandler) UpdateOrg(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")

	var input authz.UpdateOrgInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, err := h.orgService.UpdateOrg(c.Request.Context(), userID, orgID, input)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, org)
}

// DeleteOrg handles DELETE /orgs/:org_id
func (h *OrgHandler) DeleteOrg(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")

	if err := h.orgService.DeleteOrg(c.Request.Context(), userID, orgID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	_, _ = h.sessions.Refresh(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "organization deleted"})
}

// GetOrgMembers handles GET /orgs/:org_id/members
func (h *OrgHandler) GetOrgMembers(c *gin.Context) {
	userID := c.GetString("user_id")
	orgID := c.Param("org_id")

	members, err := h.orgService.Members(c.Request.Context(), userID, orgID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

// UpdateOrgMember handles PATCH /orgs/:org_id/members/:user_id
func (h *OrgHandler) UpdateOrgMember(c *gin.Context) {
	actorID := c.GetString("user_id")
	orgID := c.Param("org_id")
	targetUserID := c.Param("user_id")

	var input struct {
		AccessLevel      authz.AccessLevel `json:"access_level" binding:"required"`
		CanInviteMembers bool              `json:"can_invite_members"`
		CanManageRoles   bool              `json:"can_manage_roles"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.orgService.UpdateMemberAccess(c.Request.Context(), actorID, orgID, targetUserID,
		input.AccessLevel, input.CanInviteMembers, input.CanManageRoles)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	_, _ = h.sessions.Refresh(c.Request.Context(), targetUserID)
	c.JSON(http.StatusOK, gin.H{"message": "access updated"})
}

// RemoveOrgMember handles DELETE /orgs/:org_id/members/:user_id
func (h *OrgHandler) RemoveOrgMember(c *gin.Context) {
	actorID := c.GetString("user_id")
	orgID := c.Param("org_id")
	targetUserID := c.Param("user_id")

	if err := h.orgService.RemoveMember(c.Request.Context(), actorID, orgID, targetUserID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	_, _ = h.sessions.Refresh(c.Request.Context(), targetUserID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "member removed"})
}
