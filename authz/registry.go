package authz

import (
	"context"
	"time"
)

// MembershipRegistry loads and mutates membership rows. The read side backs
// session snapshots; the write side is used by OrgService and the invitation
// accept flow.
type MembershipRegistry interface {
	// ActiveMemberships returns all active memberships for a user, each with
	// its organization details populated.
	ActiveMemberships(ctx context.Context, userID string) ([]Membership, error)

	// Membership returns one membership row, ErrNotFound if none exists.
	Membership(ctx context.Context, userID, orgID string) (*Membership, error)

	// Add inserts a membership. ErrAlreadyMember if the (user, organization)
	// pair already has one; the uniqueness constraint in the store is the
	// final arbiter under concurrent inserts.
	Add(ctx context.Context, m Membership) error

	// UpdateAccess changes a member's access level, capability flags, and the
	// derived permissions map in one write.
	UpdateAccess(ctx context.Context, orgID, userID string, level AccessLevel, canInvite, canManage bool) error

	// Remove deletes a membership row, ErrNotFound if none exists.
	Remove(ctx context.Context, orgID, userID string) error

	// OrgMembers returns all memberships of an organization with profile
	// details joined in, highest access level first.
	OrgMembers(ctx context.Context, orgID string) ([]Membership, error)

	// CountAdmins returns the number of active level-3 memberships in an org.
	CountAdmins(ctx context.Context, orgID string) (int, error)
}

// RoleChecker answers system-wide role queries, backed by the has_role
// procedure. Global admin is independent of any organization membership.
type RoleChecker interface {
	IsGlobalAdmin(ctx context.Context, userID string) (bool, error)
}

// OrgRepository is the data access layer for organizations; no authorization
// logic lives here.
type OrgRepository interface {
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id string) (*Organization, error)
	Update(ctx context.Context, org *Organization) error
	// Delete removes the organization; memberships and invitations cascade in
	// the store.
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) bool
}

// InvitationRepository is the data access layer for member invitations.
type InvitationRepository interface {
	Create(ctx context.Context, inv *Invitation) error
	Get(ctx context.Context, id string) (*Invitation, error)
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	ListByOrg(ctx context.Context, orgID string) ([]Invitation, error)

	// MarkRevoked sets status revoked. Reports rows affected so the service
	// can keep revoke idempotent.
	MarkRevoked(ctx context.Context, id string) error

	// MarkAccepted flips pending -> accepted, guarded so only a pending row
	// transitions; returns ErrInviteNotPending when the guard fails.
	MarkAccepted(ctx context.Context, id string) error

	// Renew resets the row to pending with a new expiry (the resend path).
	Renew(ctx context.Context, id string, expiresAt time.Time) error

	// NewToken asks the store's generate_invitation_token() procedure for a
	// fresh unguessable token.
	NewToken(ctx context.Context) (string, error)
}
