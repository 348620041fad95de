package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type staticStateResolver struct {
	state GuardState
}

func (r *staticStateResolver) GuardState(c *gin.Context) GuardState {
	return r.state
}

func TestRequireOrgLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := newFakeRegistry()
	registry.put(Membership{
		OrganizationID: "org-1",
		UserID:         "manager-1",
		AccessLevel:    LevelManager,
		Status:         MembershipActive,
		Permissions:    PermissionsForLevel(LevelManager),
	})
	mw := NewMiddleware(NewEvaluator(registry, &fakeRoles{admins: map[string]bool{"root-1": true}}), nil)

	newRouter := func(required AccessLevel) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			if userID := c.GetHeader("X-Test-User"); userID != "" {
				c.Set("user_id", userID)
			}
			c.Next()
		})
		r.GET("/orgs/:org_id/thing", mw.RequireOrgLevel(required), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"org_id": GetOrgIDFromContext(c)})
		})
		return r
	}

	tests := []struct {
		name     string
		user     string
		required AccessLevel
		want     int
	}{
		{"no user", "", LevelMember, http.StatusUnauthorized},
		{"member level ok", "manager-1", LevelMember, http.StatusOK},
		{"exact level ok", "manager-1", LevelManager, http.StatusOK},
		{"level too low", "manager-1", LevelAdmin, http.StatusForbidden},
		{"non-member", "stranger-1", LevelMember, http.StatusForbidden},
		{"global admin bypass", "root-1", LevelAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/thing", nil)
			if tt.user != "" {
				req.Header.Set("X-Test-User", tt.user)
			}
			w := httptest.NewRecorder()
			newRouter(tt.required).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireOrgLevel_HeaderFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := newFakeRegistry()
	registry.put(Membership{
		OrganizationID: "org-1",
		UserID:         "member-1",
		AccessLevel:    LevelMember,
		Status:         MembershipActive,
		Permissions:    PermissionsForLevel(LevelMember),
	})
	mw := NewMiddleware(NewEvaluator(registry, &fakeRoles{}), nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "member-1")
		c.Next()
	})
	r.GET("/thing", mw.RequireOrgLevel(LevelMember), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	t.Run("org id from header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/thing", nil)
		req.Header.Set("X-Org-ID", "org-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("no org id anywhere", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/thing", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestPageGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)

	signedIn := NewSnapshot("user-1", false, 1, []Membership{{
		OrganizationID: "org-1",
		UserID:         "user-1",
		AccessLevel:    LevelMember,
		Status:         MembershipActive,
		Permissions:    PermissionsForLevel(LevelMember),
		CreatedAt:      time.Now(),
	}})

	serve := func(state GuardState, req GuardRequirement, path string) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/app/*page", PageGuard(&staticStateResolver{state: state}, req), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	t.Run("loading returns accepted", func(t *testing.T) {
		w := serve(GuardState{Loading: true}, GuardRequirement{}, "/app/settings")
		if w.Code != http.StatusAccepted {
			t.Errorf("status = %d, want 202", w.Code)
		}
	})

	t.Run("signed out redirects with return_to", func(t *testing.T) {
		w := serve(GuardState{}, GuardRequirement{}, "/app/settings")
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		loc := w.Header().Get("Location")
		if loc != SignInPath+"?return_to=%2Fapp%2Fsettings" {
			t.Errorf("Location = %q", loc)
		}
	})

	t.Run("allowed falls through", func(t *testing.T) {
		state := GuardState{Snapshot: signedIn, ActiveOrgID: "org-1"}
		w := serve(state, GuardRequirement{RequireOrgAccess: true}, "/app/settings")
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("insufficient level redirects to dashboard", func(t *testing.T) {
		state := GuardState{Snapshot: signedIn, ActiveOrgID: "org-1"}
		w := serve(state, GuardRequirement{RequireOrgAccess: true, MinLevel: LevelAdmin}, "/app/settings")
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != DashboardPath {
			t.Errorf("Location = %q, want %q", loc, DashboardPath)
		}
	})
}
