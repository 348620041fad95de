package authz

import (
	"context"
	"fmt"
	"time"
)

// In-memory doubles for the service tests. They keep the same sentinel
// behavior as the SQL-backed implementations.

type fakeRegistry struct {
	members       map[string]*Membership // key orgID/userID
	addErr        error
	membershipErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{members: make(map[string]*Membership)}
}

func memberKey(orgID, userID string) string {
	return orgID + "/" + userID
}

func (r *fakeRegistry) put(m Membership) {
	r.members[memberKey(m.OrganizationID, m.UserID)] = &m
}

func (r *fakeRegistry) ActiveMemberships(ctx context.Context, userID string) ([]Membership, error) {
	var out []Membership
	for _, m := range r.members {
		if m.UserID == userID && m.Status == MembershipActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeRegistry) Membership(ctx context.Context, userID, orgID string) (*Membership, error) {
	if r.membershipErr != nil {
		return nil, r.membershipErr
	}
	m, ok := r.members[memberKey(orgID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRegistry) Add(ctx context.Context, m Membership) error {
	if r.addErr != nil {
		return r.addErr
	}
	key := memberKey(m.OrganizationID, m.UserID)
	if _, ok := r.members[key]; ok {
		return ErrAlreadyMember
	}
	if m.Status == "" {
		m.Status = MembershipActive
	}
	r.members[key] = &m
	return nil
}

func (r *fakeRegistry) UpdateAccess(ctx context.Context, orgID, userID string, level AccessLevel, canInvite, canManage bool) error {
	m, ok := r.members[memberKey(orgID, userID)]
	if !ok {
		return ErrNotFound
	}
	m.AccessLevel = level
	m.CanInviteMembers = canInvite
	m.CanManageRoles = canManage
	m.Permissions = PermissionsForLevel(level)
	return nil
}

func (r *fakeRegistry) Remove(ctx context.Context, orgID, userID string) error {
	key := memberKey(orgID, userID)
	if _, ok := r.members[key]; !ok {
		return ErrNotFound
	}
	delete(r.members, key)
	return nil
}

func (r *fakeRegistry) OrgMembers(ctx context.Context, orgID string) ([]Membership, error) {
	var out []Membership
	for _, m := range r.members {
		if m.OrganizationID == orgID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeRegistry) CountAdmins(ctx context.Context, orgID string) (int, error) {
	n := 0
	for _, m := range r.members {
		if m.OrganizationID == orgID && m.AccessLevel == LevelAdmin && m.Status == MembershipActive {
			n++
		}
	}
	return n, nil
}

type fakeRoles struct {
	admins map[string]bool
}

func (r *fakeRoles) IsGlobalAdmin(ctx context.Context, userID string) (bool, error) {
	return r.admins[userID], nil
}

type fakeOrgs struct {
	orgs      map[string]*Organization
	createErr error
	deleted   []string
}

func newFakeOrgs() *fakeOrgs {
	return &fakeOrgs{orgs: make(map[string]*Organization)}
}

func (r *fakeOrgs) Create(ctx context.Context, org *Organization) error {
	if r.createErr != nil {
		return r.createErr
	}
	cp := *org
	r.orgs[org.ID] = &cp
	return nil
}

func (r *fakeOrgs) Get(ctx context.Context, id string) (*Organization, error) {
	org, ok := r.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (r *fakeOrgs) Update(ctx context.Context, org *Organization) error {
	if _, ok := r.orgs[org.ID]; !ok {
		return ErrNotFound
	}
	cp := *org
	r.orgs[org.ID] = &cp
	return nil
}

func (r *fakeOrgs) Delete(ctx context.Context, id string) error {
	if _, ok := r.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(r.orgs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeOrgs) Exists(ctx context.Context, id string) bool {
	_, ok := r.orgs[id]
	return ok
}

type fakeInvitations struct {
	invs     map[string]*Invitation
	tokenSeq int
}

func newFakeInvitations() *fakeInvitations {
	return &fakeInvitations{invs: make(map[string]*Invitation)}
}

func (r *fakeInvitations) Create(ctx context.Context, inv *Invitation) error {
	cp := *inv
	r.invs[inv.ID] = &cp
	return nil
}

func (r *fakeInvitations) Get(ctx context.Context, id string) (*Invitation, error) {
	inv, ok := r.invs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *fakeInvitations) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	for _, inv := range r.invs {
		if inv.Token == token {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeInvitations) ListByOrg(ctx context.Context, orgID string) ([]Invitation, error) {
	var out []Invitation
	for _, inv := range r.invs {
		if inv.OrganizationID == orgID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (r *fakeInvitations) MarkRevoked(ctx context.Context, id string) error {
	inv, ok := r.invs[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != InvitationAccepted {
		inv.Status = InvitationRevoked
	}
	return nil
}

func (r *fakeInvitations) MarkAccepted(ctx context.Context, id string) error {
	inv, ok := r.invs[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status != InvitationPending {
		return ErrInviteNotPending
	}
	inv.Status = InvitationAccepted
	return nil
}

func (r *fakeInvitations) Renew(ctx context.Context, id string, expiresAt time.Time) error {
	inv, ok := r.invs[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = InvitationPending
	inv.ExpiresAt = expiresAt
	return nil
}

func (r *fakeInvitations) NewToken(ctx context.Context) (string, error) {
	r.tokenSeq++
	return fmt.Sprintf("token-%04d", r.tokenSeq), nil
}
