package authz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// OrgService handles organization CRUD and member administration.
type OrgService struct {
	orgs      OrgRepository
	registry  MembershipRegistry
	evaluator *Evaluator
}

// NewOrgService creates a new OrgService
func NewOrgService(orgs OrgRepository, registry MembershipRegistry, evaluator *Evaluator) *OrgService {
	return &OrgService{orgs: orgs, registry: registry, evaluator: evaluator}
}

// CreateOrgInput carries the fields for creating an organization
type CreateOrgInput struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
	// SignupRole lets the signup flow seed the creator at the level their
	// role maps to. Empty means level 3.
	SignupRole string `json:"signup_role"`
}

// CreateOrg creates an organization and enrolls the creator as a member.
// If the membership insert fails the organization row is removed again so a
// half-created org never lingers.
func (s *OrgService) CreateOrg(ctx context.Context, userID string, input CreateOrgInput) (*Organization, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}

	org := &Organization{
		ID:          uuid.New().String(),
		Name:        name,
		Description: input.Description,
		LogoURL:     input.LogoURL,
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		return nil, err
	}

	level := LevelAdmin
	if input.SignupRole != "" {
		level = LevelForSignupRole(input.SignupRole)
	}
	perms := PermissionsForLevel(level)

	member := Membership{
		OrganizationID:   org.ID,
		UserID:           userID,
		AccessLevel:      level,
		Status:           MembershipActive,
		CanInviteMembers: perms.Invite,
		CanManageRoles:   perms.Admin,
		Permissions:      perms,
	}
	if err := s.registry.Add(ctx, member); err != nil {
		if delErr := s.orgs.Delete(ctx, org.ID); delErr != nil {
			log.Printf("Failed to roll back organization %s after membership error: %v", org.ID, delErr)
		}
		return nil, fmt.Errorf("failed to enroll creator: %w", err)
	}

	return org, nil
}

// GetOrg returns an organization the caller belongs to
func (s *OrgService) GetOrg(ctx context.Context, userID, orgID string) (*Organization, error) {
	if !s.evaluator.CanPerform(ctx, userID, orgID, LevelMember) {
		return nil, ErrForbidden
	}
	return s.orgs.Get(ctx, orgID)
}

// UpdateOrgInput carries the updatable organization fields
type UpdateOrgInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
}

// UpdateOrg updates organization details. Level 3 only.
func (s *OrgService) UpdateOrg(ctx context.Context, userID, orgID string, input UpdateOrgInput) (*Organization, error) {
	if err := s.evaluator.RequireLevel(ctx, userID, orgID, LevelAdmin); err != nil {
		return nil, err
	}

	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		org.Name = name
	}
	if input.Description != "" {
		org.Description = input.Description
	}
	if input.LogoURL != "" {
		org.LogoURL = input.LogoURL
	}

	if err := s.orgs.Update(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// DeleteOrg deletes an organization. Level 3 only.
func (s *OrgService) DeleteOrg(ctx context.Context, userID, orgID string) error {
	if err := s.evaluator.RequireLevel(ctx, userID, orgID, LevelAdmin); err != nil {
		return err
	}
	return s.orgs.Delete(ctx, orgID)
}

// Members lists an organization's members. Any member may look.
func (s *OrgService) Members(ctx context.Context, userID, orgID string) ([]Membership, error) {
	if !s.evaluator.CanPerform(ctx, userID, orgID, LevelMember) {
		return nil, ErrForbidden
	}
	return s.registry.OrgMembers(ctx, orgID)
}

// UpdateMemberAccess changes a member's level and capability flags. The actor
// needs level 3 or the can_manage_roles flag. Demoting the last active level-3
// member is refused so an organization can never lock itself out of
// administration.
func (s *OrgService) UpdateMemberAccess(ctx context.Context, actorID, orgID, memberID string, level AccessLevel, canInvite, canManage bool) error {
	if !level.Valid() {
		return fmt.Errorf("%w: access level must be 1, 2 or 3", ErrInvalidInput)
	}
	if err := s.requireRoleManagement(ctx, actorID, orgID); err != nil {
		return err
	}

	current, err := s.registry.Membership(ctx, memberID, orgID)
	if err != nil {
		return err
	}

	if current.AccessLevel == LevelAdmin && level < LevelAdmin {
		admins, err := s.registry.CountAdmins(ctx, orgID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	return s.registry.UpdateAccess(ctx, orgID, memberID, level, canInvite, canManage)
}

// requireRoleManagement passes level-3 members, members holding the
// can_manage_roles flag, and global admins. The flag is read directly, never
// re-derived from the level.
func (s *OrgService) requireRoleManagement(ctx context.Context, actorID, orgID string) error {
	if s.evaluator.CanPerform(ctx, actorID, orgID, LevelAdmin) {
		return nil
	}
	actor, err := s.registry.Membership(ctx, actorID, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if actor.Status == MembershipActive && actor.CanManageRoles {
		return nil
	}
	return ErrForbidden
}

// RemoveMember removes a member from the organization. Level 3 only.
// Admins leave through a separate flow; removing yourself or the last admin
// is refused.
func (s *OrgService) RemoveMember(ctx context.Context, actorID, orgID, memberID string) error {
	if actorID == memberID {
		return ErrCannotRemoveSelf
	}
	if err := s.evaluator.RequireLevel(ctx, actorID, orgID, LevelAdmin); err != nil {
		return err
	}

	current, err := s.registry.Membership(ctx, memberID, orgID)
	if err != nil {
		return err
	}
	if current.AccessLevel == LevelAdmin {
		admins, err := s.registry.CountAdmins(ctx, orgID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	return s.registry.Remove(ctx, orgID, memberID)
}
