package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepboard/prepboard/services"
)

// SupabaseAuthMiddleware authenticates requests with either a Supabase JWT
// or a Prepboard API key.
type SupabaseAuthMiddleware struct {
	SupabaseAuth   *services.SupabaseAuthService
	ProfileService *services.ProfileService
	APIKeyService  *services.APIKeyService
}

// NewSupabaseAuthMiddleware creates the authentication middleware
func NewSupabaseAuthMiddleware(supabaseAuth *services.SupabaseAuthService, profileService *services.ProfileService, apiKeyService *services.APIKeyService) *SupabaseAuthMiddleware {
	return &SupabaseAuthMiddleware{
		SupabaseAuth:   supabaseAuth,
		ProfileService: profileService,
		APIKeyService:  apiKeyService,
	}
}

// RequireAuth validates the bearer credential and populates user context.
func (m *SupabaseAuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		token, err := m.SupabaseAuth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		// API keys first; they are cheap to reject on format alone.
		if m.APIKeyService != nil {
			if apiKey, err := m.APIKeyService.ValidateAPIKey(c.Request.Context(), token); err == nil {
				c.Set("user_id", apiKey.UserID)
				c.Set("is_api_key", true)
				c.Set("api_key_id", apiKey.ID)
				if apiKey.OrganizationID != "" {
					c.Set("org_id", apiKey.OrganizationID)
				}
				log.Printf("AUTH SUCCESS - API Key: %s (user: %s)", apiKey.Name, apiKey.UserID)
				go func() { _ = m.APIKeyService.UpdateLastUsed(apiKey.ID) }()
				c.Next()
				return
			}
		}

		claims, err := m.SupabaseAuth.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		// Keep the profile row in step with the identity provider. A sync
		// failure is logged but never blocks the request.
		if m.ProfileService != nil {
			if _, err := m.ProfileService.EnsureProfile(c.Request.Context(), claims); err != nil {
				log.Printf("Failed to sync profile for %s: %v", claims.UserID(), err)
			}
		}

		c.Set("user_id", claims.UserID())
		c.Set("user_email", claims.Email)
		c.Set("user_role", claims.Role)
		c.Set("signup_role", claims.UserMeta.SignupRole)

		c.Next()
	}
}

// OptionalAuth populates user context when a valid credential is present and
// lets the request through either way.
func (m *SupabaseAuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			if token, err := m.SupabaseAuth.ExtractTokenFromHeader(authHeader); err == nil {
				if claims, err := m.SupabaseAuth.ValidateToken(token); err == nil {
					c.Set("user_id", claims.UserID())
					c.Set("user_email", claims.Email)
					c.Set("user_role", claims.Role)
					c.Set("authenticated", true)
				}
			}
		}
		c.Next()
	}
}
