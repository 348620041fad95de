package authz

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestSimpleMembershipRegistry_Membership(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	registry := NewSimpleMembershipRegistry(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"organization_id", "user_id", "access_level", "status",
			"can_invite_members", "can_manage_roles", "permissions", "created_at", "updated_at",
		}).AddRow("org-1", "user-1", 2, "active", true, false, []byte(`{"read":true,"write":true,"invite":true,"admin":false}`), now, now)

		mock.ExpectQuery("SELECT organization_id, user_id, access_level").
			WithArgs("user-1", "org-1").
			WillReturnRows(rows)

		m, err := registry.Membership(ctx, "user-1", "org-1")
		if err != nil {
			t.Fatalf("Membership() error: %v", err)
		}
		if m.AccessLevel != LevelManager {
			t.Errorf("AccessLevel = %d, want %d", m.AccessLevel, LevelManager)
		}
		if !m.Permissions.Invite || m.Permissions.Admin {
			t.Errorf("permissions not decoded: %+v", m.Permissions)
		}
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT organization_id, user_id, access_level").
			WithArgs("user-2", "org-1").
			WillReturnError(sql.ErrNoRows)

		_, err := registry.Membership(ctx, "user-2", "org-1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSimpleMembershipRegistry_Add_DuplicateIsErrAlreadyMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	registry := NewSimpleMembershipRegistry(db)

	mock.ExpectExec("INSERT INTO organization_members").
		WillReturnError(&pq.Error{Code: "23505"})

	m := Membership{
		OrganizationID: "org-1",
		UserID:         "user-1",
		AccessLevel:    LevelMember,
		Permissions:    PermissionsForLevel(LevelMember),
	}
	if err := registry.Add(context.Background(), m); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("Add() duplicate error = %v, want ErrAlreadyMember", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSimpleMembershipRegistry_CountAdmins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	registry := NewSimpleMembershipRegistry(db)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := registry.CountAdmins(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("CountAdmins() error: %v", err)
	}
	if n != 2 {
		t.Errorf("CountAdmins() = %d, want 2", n)
	}
}

func TestSimpleRoleChecker_IsGlobalAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	checker := NewSimpleRoleChecker(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT has_role").
		WithArgs("admin-1").
		WillReturnRows(sqlmock.NewRows([]string{"has_role"}).AddRow(true))

	admin, err := checker.IsGlobalAdmin(ctx, "admin-1")
	if err != nil {
		t.Fatalf("IsGlobalAdmin() error: %v", err)
	}
	if !admin {
		t.Error("IsGlobalAdmin() = false, want true")
	}

	mock.ExpectQuery("SELECT has_role").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"has_role"}).AddRow(false))

	admin, err = checker.IsGlobalAdmin(ctx, "user-1")
	if err != nil {
		t.Fatalf("IsGlobalAdmin() error: %v", err)
	}
	if admin {
		t.Error("IsGlobalAdmin() = true, want false")
	}
}

func TestSimpleInvitationRepository_MarkAccepted_RequiresPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSimpleInvitationRepository(db)
	ctx := context.Background()

	t.Run("pending row flips", func(t *testing.T) {
		mock.ExpectExec("UPDATE member_invitations SET status = 'accepted'").
			WithArgs("inv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.MarkAccepted(ctx, "inv-1"); err != nil {
			t.Errorf("MarkAccepted() error: %v", err)
		}
	})

	t.Run("non-pending row refuses", func(t *testing.T) {
		mock.ExpectExec("UPDATE member_invitations SET status = 'accepted'").
			WithArgs("inv-2").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := repo.MarkAccepted(ctx, "inv-2"); !errors.Is(err, ErrInviteNotPending) {
			t.Errorf("MarkAccepted() error = %v, want ErrInviteNotPending", err)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSimpleInvitationRepository_NewToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSimpleInvitationRepository(db)

	mock.ExpectQuery("SELECT generate_invitation_token").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok-abc123"))

	token, err := repo.NewToken(context.Background())
	if err != nil {
		t.Fatalf("NewToken() error: %v", err)
	}
	if token != "tok-abc123" {
		t.Errorf("NewToken() = %q", token)
	}
}

func TestSimpleOrgRepository_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewSimpleOrgRepository(db)

	mock.ExpectQuery("SELECT id, name").
		WithArgs("org-missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "org-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
