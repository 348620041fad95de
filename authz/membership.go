package authz

import (
	"sort"
	"time"
)

// MembershipStatus is the lifecycle state of a membership row. Only active
// memberships participate in access decisions.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
)

// Organization represents a tenant/workspace grouping users and data.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	LogoURL     string    `json:"logo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership joins a user to an organization with an access level and
// capability flags. There is at most one membership per (user, organization)
// pair; the storage layer enforces the uniqueness.
type Membership struct {
	OrganizationID   string           `json:"organization_id"`
	UserID           string           `json:"user_id"`
	AccessLevel      AccessLevel      `json:"access_level"`
	Status           MembershipStatus `json:"status"`
	CanInviteMembers bool             `json:"can_invite_members"`
	CanManageRoles   bool             `json:"can_manage_roles"`
	Permissions      Permissions      `json:"permissions"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`

	// Organization details, populated when loading a user's registry.
	Organization Organization `json:"organization"`

	// Profile details, populated when listing an organization's members.
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Meets reports whether the membership satisfies the required level.
func (m Membership) Meets(required AccessLevel) bool {
	return m.Status == MembershipActive && m.AccessLevel >= required
}

// Snapshot is an immutable view of one user's active memberships plus their
// global-admin flag. All access decisions over a snapshot are pure; the
// snapshot does no I/O after construction.
//
// A nil snapshot behaves like a signed-out user: every check returns false.
type Snapshot struct {
	userID      string
	globalAdmin bool
	seq         uint64
	byOrg       map[string]Membership
	ordered     []Membership
}

// NewSnapshot builds a snapshot from the registry rows of one user. The
// memberships are ordered by created_at (ties broken by organization id) so
// that default-organization selection is deterministic regardless of the order
// the backing store returned them in.
func NewSnapshot(userID string, globalAdmin bool, seq uint64, memberships []Membership) *Snapshot {
	s := &Snapshot{
		userID:      userID,
		globalAdmin: globalAdmin,
		seq:         seq,
		byOrg:       make(map[string]Membership, len(memberships)),
		ordered:     make([]Membership, 0, len(memberships)),
	}
	for _, m := range memberships {
		if m.Status != MembershipActive {
			continue
		}
		if _, dup := s.byOrg[m.OrganizationID]; dup {
			continue
		}
		s.byOrg[m.OrganizationID] = m
		s.ordered = append(s.ordered, m)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		a, b := s.ordered[i], s.ordered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.OrganizationID < b.OrganizationID
	})
	return s
}

// UserID returns the user the snapshot belongs to.
func (s *Snapshot) UserID() string {
	if s == nil {
		return ""
	}
	return s.userID
}

// Seq returns the refresh sequence number the snapshot was loaded under.
func (s *Snapshot) Seq() uint64 {
	if s == nil {
		return 0
	}
	return s.seq
}

// IsGlobalAdmin reports whether the user holds the system-wide admin role.
func (s *Snapshot) IsGlobalAdmin() bool {
	return s != nil && s.globalAdmin
}

// Membership returns the user's membership in the given organization.
func (s *Snapshot) Membership(orgID string) (Membership, bool) {
	if s == nil {
		return Membership{}, false
	}
	m, ok := s.byOrg[orgID]
	return m, ok
}

// Contains reports whether the user has an active membership in the org.
func (s *Snapshot) Contains(orgID string) bool {
	_, ok := s.Membership(orgID)
	return ok
}

// CanPerform answers "can this user perform an action requiring the given
// level in the given organization". Global admins pass unconditionally, with
// or without a membership row. Levels outside {1,2,3} are not validated here;
// that is the caller's responsibility.
func (s *Snapshot) CanPerform(orgID string, required AccessLevel) bool {
	if s == nil {
		return false
	}
	if s.globalAdmin {
		return true
	}
	m, ok := s.byOrg[orgID]
	if !ok {
		return false
	}
	return m.Meets(required)
}

// CanInviteMembers checks the invite capability flag by direct field lookup.
// The flag is granted independently of the access level, so it is never
// derived from it here.
func (s *Snapshot) CanInviteMembers(orgID string) bool {
	m, ok := s.Membership(orgID)
	return ok && m.CanInviteMembers
}

// CanManageRoles checks the manage-roles capability flag by direct field
// lookup.
func (s *Snapshot) CanManageRoles(orgID string) bool {
	m, ok := s.Membership(orgID)
	return ok && m.CanManageRoles
}

// Memberships returns the ordered memberships (earliest created first).
func (s *Snapshot) Memberships() []Membership {
	if s == nil {
		return nil
	}
	out := make([]Membership, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// DefaultOrganization returns the organization a fresh session should select
// when no persisted choice exists: the earliest membership by created_at.
func (s *Snapshot) DefaultOrganization() (string, bool) {
	if s == nil || len(s.ordered) == 0 {
		return "", false
	}
	return s.ordered[0].OrganizationID, true
}
