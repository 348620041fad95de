package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeNotifier struct {
	enqueued []Invitation
}

func (n *fakeNotifier) EnqueueInvitationEmail(ctx context.Context, inv Invitation, orgName string) error {
	n.enqueued = append(n.enqueued, inv)
	return nil
}

type invitationFixture struct {
	svc      *InvitationService
	registry *fakeRegistry
	roles    *fakeRoles
	orgs     *fakeOrgs
	invs     *fakeInvitations
	notifier *fakeNotifier
	now      time.Time
}

func newInvitationFixture() *invitationFixture {
	f := &invitationFixture{
		registry: newFakeRegistry(),
		roles:    &fakeRoles{admins: make(map[string]bool)},
		orgs:     newFakeOrgs(),
		invs:     newFakeInvitations(),
		notifier: &fakeNotifier{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.orgs.orgs["org-1"] = &Organization{ID: "org-1", Name: "Culinary Institute"}
	evaluator := NewEvaluator(f.registry, f.roles)
	f.svc = NewInvitationService(f.invs, f.registry, f.orgs, f.roles, evaluator, f.notifier)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *invitationFixture) addMember(userID string, level AccessLevel) {
	perms := PermissionsForLevel(level)
	f.registry.put(Membership{
		OrganizationID:   "org-1",
		UserID:           userID,
		AccessLevel:      level,
		Status:           MembershipActive,
		CanInviteMembers: perms.Invite,
		CanManageRoles:   perms.Admin,
		Permissions:      perms,
	})
}

func TestInvitationService_Create(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)

	inv, err := f.svc.Create(context.Background(), "manager-1", "org-1", CreateInvitationInput{
		Email:       "  New.Chef@Example.COM ",
		AccessLevel: LevelMember,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if inv.Email != "new.chef@example.com" {
		t.Errorf("Email = %q, want normalized lowercase", inv.Email)
	}
	if inv.Status != InvitationPending {
		t.Errorf("Status = %q, want pending", inv.Status)
	}
	if want := f.now.Add(InvitationTTL); !inv.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", inv.ExpiresAt, want)
	}
	if inv.Token == "" {
		t.Error("Token is empty")
	}
	if inv.CanInviteMembers || inv.CanManageRoles {
		t.Error("level 1 invitation should not carry capability flags")
	}
	if len(f.notifier.enqueued) != 1 {
		t.Errorf("enqueued %d emails, want 1", len(f.notifier.enqueued))
	}
}

func TestInvitationService_Create_LevelCeiling(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)

	_, err := f.svc.Create(context.Background(), "manager-1", "org-1", CreateInvitationInput{
		Email:       "someone@example.com",
		AccessLevel: LevelAdmin,
	})
	if !errors.Is(err, ErrLevelTooHigh) {
		t.Errorf("error = %v, want ErrLevelTooHigh", err)
	}
}

func TestInvitationService_Create_GlobalAdminSkipsCeiling(t *testing.T) {
	f := newInvitationFixture()
	f.roles.admins["root-1"] = true

	inv, err := f.svc.Create(context.Background(), "root-1", "org-1", CreateInvitationInput{
		Email:       "someone@example.com",
		AccessLevel: LevelAdmin,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if inv.AccessLevel != LevelAdmin {
		t.Errorf("AccessLevel = %d, want %d", inv.AccessLevel, LevelAdmin)
	}
}

func TestInvitationService_Create_MemberForbidden(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("member-1", LevelMember)

	_, err := f.svc.Create(context.Background(), "member-1", "org-1", CreateInvitationInput{
		Email:       "someone@example.com",
		AccessLevel: LevelMember,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
}

func TestInvitationService_List_AppliesLazyExpiry(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)

	f.invs.invs["inv-live"] = &Invitation{
		ID: "inv-live", OrganizationID: "org-1", Status: InvitationPending,
		ExpiresAt: f.now.Add(time.Hour),
	}
	f.invs.invs["inv-stale"] = &Invitation{
		ID: "inv-stale", OrganizationID: "org-1", Status: InvitationPending,
		ExpiresAt: f.now.Add(-time.Hour),
	}

	list, err := f.svc.List(context.Background(), "manager-1", "org-1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	statuses := make(map[string]InvitationStatus)
	for _, inv := range list {
		statuses[inv.ID] = inv.Status
	}
	if statuses["inv-live"] != InvitationPending {
		t.Errorf("live invitation status = %q, want pending", statuses["inv-live"])
	}
	if statuses["inv-stale"] != InvitationExpired {
		t.Errorf("stale invitation status = %q, want expired", statuses["inv-stale"])
	}
	// reads never write the expiry back
	if f.invs.invs["inv-stale"].Status != InvitationPending {
		t.Errorf("stored status = %q, lazy expiry must not persist", f.invs.invs["inv-stale"].Status)
	}
}

func TestInvitationService_Revoke(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Status: InvitationPending,
		ExpiresAt: f.now.Add(time.Hour),
	}

	if err := f.svc.Revoke(context.Background(), "manager-1", "org-1", "inv-1"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if f.invs.invs["inv-1"].Status != InvitationRevoked {
		t.Errorf("status = %q, want revoked", f.invs.invs["inv-1"].Status)
	}

	// second revoke is a no-op, not an error
	if err := f.svc.Revoke(context.Background(), "manager-1", "org-1", "inv-1"); err != nil {
		t.Errorf("repeat Revoke() error: %v", err)
	}
}

func TestInvitationService_Revoke_AcceptedRefused(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Status: InvitationAccepted,
	}

	err := f.svc.Revoke(context.Background(), "manager-1", "org-1", "inv-1")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestInvitationService_Revoke_WrongOrgIsNotFound(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-other", Status: InvitationPending,
	}

	err := f.svc.Revoke(context.Background(), "manager-1", "org-1", "inv-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestInvitationService_Resend(t *testing.T) {
	f := newInvitationFixture()
	f.addMember("manager-1", LevelManager)

	t.Run("expired invitation renews", func(t *testing.T) {
		f.invs.invs["inv-1"] = &Invitation{
			ID: "inv-1", OrganizationID: "org-1", Status: InvitationPending,
			ExpiresAt: f.now.Add(-time.Hour),
		}

		inv, err := f.svc.Resend(context.Background(), "manager-1", "org-1", "inv-1")
		if err != nil {
			t.Fatalf("Resend() error: %v", err)
		}
		if inv.Status != InvitationPending {
			t.Errorf("Status = %q, want pending", inv.Status)
		}
		if want := f.now.Add(InvitationTTL); !inv.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", inv.ExpiresAt, want)
		}
	})

	t.Run("still-live invitation refused", func(t *testing.T) {
		f.invs.invs["inv-2"] = &Invitation{
			ID: "inv-2", OrganizationID: "org-1", Status: InvitationPending,
			ExpiresAt: f.now.Add(time.Hour),
		}

		_, err := f.svc.Resend(context.Background(), "manager-1", "org-1", "inv-2")
		if !errors.Is(err, ErrInviteNotExpired) {
			t.Errorf("error = %v, want ErrInviteNotExpired", err)
		}
	})

	t.Run("ceiling applies on resend", func(t *testing.T) {
		f.invs.invs["inv-high"] = &Invitation{
			ID: "inv-high", OrganizationID: "org-1", Status: InvitationPending,
			AccessLevel: LevelAdmin, ExpiresAt: f.now.Add(-time.Hour),
		}

		_, err := f.svc.Resend(context.Background(), "manager-1", "org-1", "inv-high")
		if !errors.Is(err, ErrLevelTooHigh) {
			t.Errorf("error = %v, want ErrLevelTooHigh", err)
		}
	})

	t.Run("revoked invitation refused", func(t *testing.T) {
		f.invs.invs["inv-3"] = &Invitation{
			ID: "inv-3", OrganizationID: "org-1", Status: InvitationRevoked,
			ExpiresAt: f.now.Add(-time.Hour),
		}

		_, err := f.svc.Resend(context.Background(), "manager-1", "org-1", "inv-3")
		if !errors.Is(err, ErrInviteNotExpired) {
			t.Errorf("error = %v, want ErrInviteNotExpired", err)
		}
	})
}

func TestInvitationService_Accept(t *testing.T) {
	f := newInvitationFixture()
	perms := PermissionsForLevel(LevelManager)
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Email: "chef@example.com",
		AccessLevel: LevelManager, Permissions: perms,
		CanInviteMembers: perms.Invite, CanManageRoles: perms.Admin,
		Token: "tok-1", Status: InvitationPending,
		ExpiresAt: f.now.Add(time.Hour),
	}

	m, err := f.svc.Accept(context.Background(), "user-9", "tok-1")
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	if m.AccessLevel != LevelManager || !m.CanInviteMembers {
		t.Errorf("membership = %+v, want invitation's level and flags", m)
	}
	if f.invs.invs["inv-1"].Status != InvitationAccepted {
		t.Errorf("invitation status = %q, want accepted", f.invs.invs["inv-1"].Status)
	}
	if _, err := f.registry.Membership(context.Background(), "user-9", "org-1"); err != nil {
		t.Errorf("membership not created: %v", err)
	}
}

func TestInvitationService_Accept_Expired(t *testing.T) {
	f := newInvitationFixture()
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Token: "tok-1",
		Status: InvitationPending, ExpiresAt: f.now.Add(-time.Minute),
	}

	_, err := f.svc.Accept(context.Background(), "user-9", "tok-1")
	if !errors.Is(err, ErrInviteExpired) {
		t.Errorf("error = %v, want ErrInviteExpired", err)
	}
}

func TestInvitationService_Accept_Twice(t *testing.T) {
	f := newInvitationFixture()
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Token: "tok-1",
		AccessLevel: LevelMember, Status: InvitationPending,
		ExpiresAt: f.now.Add(time.Hour),
	}

	if _, err := f.svc.Accept(context.Background(), "user-9", "tok-1"); err != nil {
		t.Fatalf("first Accept() error: %v", err)
	}
	_, err := f.svc.Accept(context.Background(), "user-9", "tok-1")
	if !errors.Is(err, ErrInviteNotPending) {
		t.Errorf("second Accept() error = %v, want ErrInviteNotPending", err)
	}
}

func TestInvitationService_Accept_ExistingMember(t *testing.T) {
	f := newInvitationFixture()
	f.registry.put(Membership{
		OrganizationID: "org-1", UserID: "user-9",
		AccessLevel: LevelMember, Status: MembershipActive,
	})
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Token: "tok-1",
		AccessLevel: LevelMember, Status: InvitationPending,
		ExpiresAt: f.now.Add(time.Hour),
	}

	_, err := f.svc.Accept(context.Background(), "user-9", "tok-1")
	if !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("error = %v, want ErrAlreadyMember", err)
	}
	// the failed enrollment must not burn the token
	if f.invs.invs["inv-1"].Status != InvitationPending {
		t.Errorf("invitation status = %q, want pending restored", f.invs.invs["inv-1"].Status)
	}
}

// slowReadInvitations hands control to the test between reading an invitation
// and returning it, so two accepts can both observe the pending row.
type slowReadInvitations struct {
	*fakeInvitations
	reads chan chan struct{}
}

func (r *slowReadInvitations) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	inv, err := r.fakeInvitations.GetByToken(ctx, token)
	release := make(chan struct{})
	r.reads <- release
	<-release
	return inv, err
}

func TestInvitationService_Accept_SingleUseUnderRace(t *testing.T) {
	f := newInvitationFixture()
	invs := &slowReadInvitations{
		fakeInvitations: f.invs,
		reads:           make(chan chan struct{}),
	}
	f.svc = NewInvitationService(invs, f.registry, f.orgs, f.roles, NewEvaluator(f.registry, f.roles), f.notifier)
	f.svc.now = func() time.Time { return f.now }

	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Token: "tok-1",
		AccessLevel: LevelMember, Status: InvitationPending,
		ExpiresAt: f.now.Add(time.Hour),
	}

	type result struct {
		user string
		err  error
	}
	results := make(chan result, 2)
	accept := func(userID string) {
		_, err := f.svc.Accept(context.Background(), userID, "tok-1")
		results <- result{user: userID, err: err}
	}

	// Both accepts read the invitation while it is still pending.
	go accept("user-a")
	first := <-invs.reads
	go accept("user-b")
	second := <-invs.reads

	close(first)
	winner := <-results
	close(second)
	loser := <-results

	if winner.err != nil {
		t.Fatalf("winning Accept(%s) error: %v", winner.user, winner.err)
	}
	if !errors.Is(loser.err, ErrInviteNotPending) {
		t.Errorf("losing Accept(%s) error = %v, want ErrInviteNotPending", loser.user, loser.err)
	}
	if f.invs.invs["inv-1"].Status != InvitationAccepted {
		t.Errorf("invitation status = %q, want accepted", f.invs.invs["inv-1"].Status)
	}
	if _, err := f.registry.Membership(context.Background(), loser.user, "org-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("loser %s got a membership: %v", loser.user, err)
	}
}

func TestInvitationService_GetByToken_Expired(t *testing.T) {
	f := newInvitationFixture()
	f.invs.invs["inv-1"] = &Invitation{
		ID: "inv-1", OrganizationID: "org-1", Token: "tok-1",
		Status: InvitationPending, ExpiresAt: f.now.Add(-time.Hour),
	}

	inv, err := f.svc.GetByToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("GetByToken() error: %v", err)
	}
	if inv.Status != InvitationExpired {
		t.Errorf("Status = %q, want expired", inv.Status)
	}
}
