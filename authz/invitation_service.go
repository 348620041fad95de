package authz

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InviteNotifier enqueues invitation emails for asynchronous delivery.
// Implementations live outside this package so the lifecycle logic stays
// independent of the delivery transport.
type InviteNotifier interface {
	EnqueueInvitationEmail(ctx context.Context, inv Invitation, orgName string) error
}

// InvitationService owns the invitation lifecycle.
type InvitationService struct {
	invitations InvitationRepository
	registry    MembershipRegistry
	orgs        OrgRepository
	roles       RoleChecker
	evaluator   *Evaluator
	notifier    InviteNotifier
	now         func() time.Time
}

// NewInvitationService creates a new InvitationService. notifier may be nil
// when no delivery channel is configured.
func NewInvitationService(invitations InvitationRepository, registry MembershipRegistry, orgs OrgRepository, roles RoleChecker, evaluator *Evaluator, notifier InviteNotifier) *InvitationService {
	return &InvitationService{
		invitations: invitations,
		registry:    registry,
		orgs:        orgs,
		roles:       roles,
		evaluator:   evaluator,
		notifier:    notifier,
		now:         time.Now,
	}
}

// CreateInvitationInput carries the fields for inviting a member
type CreateInvitationInput struct {
	Email       string      `json:"email" binding:"required,email"`
	AccessLevel AccessLevel `json:"access_level" binding:"required"`
}

// Create issues an invitation. The inviter needs level 2 in the organization
// and may not grant a level above their own. Global admins are exempt from
// the ceiling.
func (s *InvitationService) Create(ctx context.Context, inviterID, orgID string, input CreateInvitationInput) (*Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !input.AccessLevel.Valid() {
		return nil, fmt.Errorf("%w: access level must be 1, 2 or 3", ErrInvalidInput)
	}

	if err := s.evaluator.RequireLevel(ctx, inviterID, orgID, LevelManager); err != nil {
		return nil, err
	}

	globalAdmin, err := s.roles.IsGlobalAdmin(ctx, inviterID)
	if err != nil {
		return nil, fmt.Errorf("failed to check global role: %w", err)
	}
	if !globalAdmin {
		inviter, err := s.registry.Membership(ctx, inviterID, orgID)
		if err != nil {
			return nil, err
		}
		if input.AccessLevel > inviter.AccessLevel {
			return nil, ErrLevelTooHigh
		}
	}

	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	token, err := s.invitations.NewToken(ctx)
	if err != nil {
		return nil, err
	}

	perms := PermissionsForLevel(input.AccessLevel)
	now := s.now()
	inv := &Invitation{
		ID:               uuid.New().String(),
		OrganizationID:   orgID,
		Email:            email,
		AccessLevel:      input.AccessLevel,
		Permissions:      perms,
		Token:            token,
		Status:           InvitationPending,
		CanInviteMembers: perms.Invite,
		CanManageRoles:   perms.Admin,
		InvitedBy:        inviterID,
		ExpiresAt:        now.Add(InvitationTTL),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.notify(ctx, *inv, org.Name)
	return inv, nil
}

// List returns an organization's invitations with expiry applied at read
// time. Rows past their expiry are reported as expired even though the
// stored status is still pending.
func (s *InvitationService) List(ctx context.Context, userID, orgID string) ([]Invitation, error) {
	if err := s.evaluator.RequireLevel(ctx, userID, orgID, LevelManager); err != nil {
		return nil, err
	}

	invitations, err := s.invitations.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range invitations {
		invitations[i].Status = invitations[i].EffectiveStatus(now)
	}
	return invitations, nil
}

// Revoke withdraws an invitation. Revoking one that is already revoked or
// expired succeeds without effect.
func (s *InvitationService) Revoke(ctx context.Context, userID, orgID, invitationID string) error {
	if err := s.evaluator.RequireLevel(ctx, userID, orgID, LevelManager); err != nil {
		return err
	}

	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.OrganizationID != orgID {
		return ErrNotFound
	}
	if inv.Status == InvitationAccepted {
		return fmt.Errorf("%w: invitation was already accepted", ErrInvalidInput)
	}
	return s.invitations.MarkRevoked(ctx, invitationID)
}

// Resend reissues an expired invitation with a fresh expiry window. Only
// expired invitations qualify; pending ones are still live and accepted or
// revoked ones are terminal.
func (s *InvitationService) Resend(ctx context.Context, userID, orgID, invitationID string) (*Invitation, error) {
	if err := s.evaluator.RequireLevel(ctx, userID, orgID, LevelManager); err != nil {
		return nil, err
	}

	inv, err := s.invitations.Get(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.OrganizationID != orgID {
		return nil, ErrNotFound
	}

	// The ceiling applies on resend too: reissuing an invitation grants its
	// stored level anew.
	globalAdmin, err := s.roles.IsGlobalAdmin(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check global role: %w", err)
	}
	if !globalAdmin {
		actor, err := s.registry.Membership(ctx, userID, orgID)
		if err != nil {
			return nil, err
		}
		if inv.AccessLevel > actor.AccessLevel {
			return nil, ErrLevelTooHigh
		}
	}

	now := s.now()
	if inv.EffectiveStatus(now) != InvitationExpired {
		return nil, ErrInviteNotExpired
	}

	expiresAt := now.Add(InvitationTTL)
	if err := s.invitations.Renew(ctx, invitationID, expiresAt); err != nil {
		return nil, err
	}
	inv.Status = InvitationPending
	inv.ExpiresAt = expiresAt

	org, err := s.orgs.Get(ctx, orgID)
	if err == nil {
		s.notify(ctx, *inv, org.Name)
	}
	return inv, nil
}

// GetByToken resolves an invitation for the accept page, with expiry applied
// at read time.
func (s *InvitationService) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	inv.Status = inv.EffectiveStatus(s.now())
	return inv, nil
}

// Accept redeems an invitation token for the signed-in user. The membership
// is created with the invitation's level, flags, and permissions exactly as
// stored. Accepting twice fails with ErrInviteNotPending, accepting with an
// existing membership with ErrAlreadyMember.
func (s *InvitationService) Accept(ctx context.Context, userID, token string) (*Membership, error) {
	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !inv.Redeemable(now) {
		switch inv.EffectiveStatus(now) {
		case InvitationExpired:
			return nil, ErrInviteExpired
		default:
			return nil, ErrInviteNotPending
		}
	}

	// Consume the token first. The pending-only transition in the store is
	// the arbiter under concurrent accepts: exactly one caller wins it, every
	// other one gets ErrInviteNotPending here.
	if err := s.invitations.MarkAccepted(ctx, inv.ID); err != nil {
		return nil, err
	}

	member := Membership{
		OrganizationID:   inv.OrganizationID,
		UserID:           userID,
		AccessLevel:      inv.AccessLevel,
		Status:           MembershipActive,
		CanInviteMembers: inv.CanInviteMembers,
		CanManageRoles:   inv.CanManageRoles,
		Permissions:      inv.Permissions,
	}
	if err := s.registry.Add(ctx, member); err != nil {
		// Hand the token back so the invitation is not burned by a failed
		// enrollment. Renew keeps the original expiry.
		if renewErr := s.invitations.Renew(ctx, inv.ID, inv.ExpiresAt); renewErr != nil {
			log.Printf("Failed to restore invitation %s after enrollment error: %v", inv.ID, renewErr)
		}
		return nil, err
	}

	return &member, nil
}

func (s *InvitationService) notify(ctx context.Context, inv Invitation, orgName string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueInvitationEmail(ctx, inv, orgName); err != nil {
		log.Printf("Failed to enqueue invitation email for %s: %v", inv.Email, err)
	}
}
