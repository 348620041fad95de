package authz

import (
	"time"
)

// InvitationStatus is the stored lifecycle state of an invitation.
// pending -> accepted (terminal), pending -> revoked (terminal),
// pending -> expired by wall clock, expired -> pending again via resend.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// InvitationTTL is how long a fresh (or resent) invitation stays redeemable.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation is a pending offer of membership, redeemable once via its token
// before expiry.
type Invitation struct {
	ID               string           `json:"id"`
	OrganizationID   string           `json:"organization_id"`
	Email            string           `json:"email"`
	AccessLevel      AccessLevel      `json:"access_level"`
	Permissions      Permissions      `json:"permissions"`
	Token            string           `json:"invitation_token,omitempty"`
	Status           InvitationStatus `json:"status"`
	CanInviteMembers bool             `json:"can_invite_members"`
	CanManageRoles   bool             `json:"can_manage_roles"`
	InvitedBy        string           `json:"invited_by,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// EffectiveStatus applies the lazy expiry rule: a stored pending invitation
// whose expires_at has passed reads as expired. Nothing sweeps statuses in the
// background; this is the only place the transition happens.
func (i Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && now.After(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

// Redeemable reports whether an accept with this invitation's token should
// succeed at the given instant.
func (i Invitation) Redeemable(now time.Time) bool {
	return i.EffectiveStatus(now) == InvitationPending
}
