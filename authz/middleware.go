package authz

import (
	"log"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// ContextKey is the type for context keys to avoid collisions
type ContextKey string

const (
	// Context keys for storing authorization data
	ContextKeyOrgID       ContextKey = "org_id"
	ContextKeyAccessLevel ContextKey = "access_level"
)

// Middleware wires the Evaluator into Gin request handling.
type Middleware struct {
	Evaluator *Evaluator
	Roles     RoleChecker
}

// NewMiddleware creates a new authorization middleware
func NewMiddleware(evaluator *Evaluator, roles RoleChecker) *Middleware {
	return &Middleware{Evaluator: evaluator, Roles: roles}
}

// orgIDFrom resolves the organization ID for the request.
// Priority: URL param > query > header.
func orgIDFrom(c *gin.Context) string {
	orgID := c.Param("org_id")
	if orgID == "" {
		orgID = c.Query("org_id")
	}
	if orgID == "" {
		orgID = c.GetHeader("X-Org-ID")
	}
	return orgID
}

// RequireOrgLevel ensures the user holds at least the given access level in
// the request's organization. Global admins always pass.
// Usage: router.Use(mw.RequireOrgLevel(authz.LevelManager))
func (m *Middleware) RequireOrgLevel(required AccessLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User not authenticated",
			})
			return
		}

		orgID := orgIDFrom(c)
		if orgID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "bad_request",
				"message": "Organization ID is required",
			})
			return
		}

		if !m.Evaluator.CanPerform(c.Request.Context(), userID, orgID, required) {
			log.Printf("AUTHZ DENIED - User %s below level %d in org %s", userID, required, orgID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You don't have access to this organization",
			})
			return
		}

		c.Set(string(ContextKeyOrgID), orgID)
		c.Set(string(ContextKeyAccessLevel), int(required))
		c.Next()
	}
}

// RequireGlobalAdmin ensures the user holds the system-wide admin role.
func (m *Middleware) RequireGlobalAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User not authenticated",
			})
			return
		}

		admin, err := m.Roles.IsGlobalAdmin(c.Request.Context(), userID)
		if err != nil {
			log.Printf("AUTHZ DENIED - role check failed for user %s: %v", userID, err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required",
			})
			return
		}
		if !admin {
			log.Printf("AUTHZ DENIED - User %s is not a global admin", userID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required",
			})
			return
		}

		c.Next()
	}
}

// GetOrgIDFromContext retrieves the organization ID from Gin context
func GetOrgIDFromContext(c *gin.Context) string {
	return c.GetString(string(ContextKeyOrgID))
}

// StateResolver loads the session state the page guard evaluates.
// Implemented by session.Manager.
type StateResolver interface {
	GuardState(c *gin.Context) GuardState
}

// PageGuard applies the route guard to server-rendered pages, turning guard
// decisions into redirects. The sign-in redirect carries the requested path
// in a return_to query parameter.
func PageGuard(resolver StateResolver, req GuardRequirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := resolver.GuardState(c)
		state.RequestedPath = c.Request.URL.RequestURI()

		decision := EvaluateGuard(state, req)
		switch decision.Action {
		case GuardWait:
			c.AbortWithStatus(http.StatusAccepted)
		case GuardRedirect:
			target := decision.Target
			if decision.ReturnTo != "" {
				target += "?return_to=" + url.QueryEscape(decision.ReturnTo)
			}
			c.Redirect(http.StatusFound, target)
			c.Abort()
		default:
			c.Next()
		}
	}
}
