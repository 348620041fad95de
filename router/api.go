package router

import (
	"database/sql"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/prepboard/prepboard/authz"
	"github.com/prepboard/prepboard/handlers"
	"github.com/prepboard/prepboard/internal/config"
	"github.com/prepboard/prepboard/services"
	"github.com/prepboard/prepboard/session"
)

func NewGinRouter(pg *sql.DB, rdb *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Org-ID, X-Service-Key")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize authz backend (memberships, roles, orgs, invitations)
	registry, roles, orgRepo, invitationRepo := authz.NewSimpleBackend(pg)
	evaluator := authz.NewEvaluator(registry, roles)
	orgService := authz.NewOrgService(orgRepo, registry, evaluator)
	inviteQueue := services.NewInviteQueue(pg)
	invitationService := authz.NewInvitationService(invitationRepo, registry, orgRepo, roles, evaluator, inviteQueue)
	authzMiddleware := authz.NewMiddleware(evaluator, roles)

	// Session state: snapshot cache plus active-org selector
	var orgStore session.ActiveOrgStore
	if rdb != nil {
		orgStore = session.NewRedisActiveOrgStore(rdb)
	} else {
		log.Println("No Redis configured, active-org selections will not survive restarts")
		orgStore = session.NewMemoryActiveOrgStore()
	}
	selector := session.NewSelector(orgStore)
	sessions := session.NewManager(evaluator, selector)

	// Initialize services
	supabaseAuth := services.NewSupabaseAuthService(config.App.SupabaseURL, config.App.SupabaseJWTSecret)
	profileService := services.NewProfileService(pg)
	apiKeyService := services.NewAPIKeyService(pg)

	// Initialize handlers
	orgHandler := handlers.NewOrgHandler(orgService, sessions)
	invitationHandler := handlers.NewInvitationHandler(invitationService, sessions)
	sessionHandler := handlers.NewSessionHandler(sessions, config.App.ServiceKey)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService)
	profileHandler := handlers.NewProfileHandler(profileService)

	// Initialize middleware
	authMiddleware := handlers.NewSupabaseAuthMiddleware(supabaseAuth, profileService, apiKeyService)

	// PUBLIC ENDPOINTS (no authentication required)

	r.GET("/env", func(c *gin.Context) {
		// Supabase config for the frontend. Use PublicSupabaseURL for
		// browser access, fall back to the internal URL.
		supabaseURL := config.App.PublicSupabaseURL
		if supabaseURL == "" {
			supabaseURL = config.App.SupabaseURL
		}

		c.JSON(200, gin.H{
			"supabase_url":      supabaseURL,
			"supabase_anon_key": config.App.SupabaseAnonKey,
		})
	})

	// Invitation accept page needs details before sign-in
	r.GET("/invitations/:token", invitationHandler.GetInvitationByToken)

	// Identity provider webhook, protected by the service key
	r.POST("/session/events", sessionHandler.HandleAuthEvent)

	// PROTECTED ENDPOINTS (require Supabase authentication)
	protected := r.Group("/")
	protected.Use(authMiddleware.RequireAuth())
	{
		// =====================================================================
		// SESSION AND ACTIVE ORGANIZATION
		// =====================================================================
		sessionRoutes := protected.Group("/session")
		{
			sessionRoutes.GET("", sessionHandler.GetSession)
			sessionRoutes.PUT("/active-org", sessionHandler.SelectActiveOrg)
			sessionRoutes.POST("/refresh", sessionHandler.RefreshSession)
			sessionRoutes.POST("/signout", sessionHandler.SignOut)
		}

		// =====================================================================
		// ORGANIZATION MANAGEMENT
		// =====================================================================
		orgRoutes := protected.Group("/orgs")
		{
			// Routes WITHOUT resource ID - checks happen in the handler
			orgRoutes.POST("", orgHandler.CreateOrg) // Anyone authenticated can create
			orgRoutes.GET("", orgHandler.ListOrgs)   // Returns only user's orgs

			// Routes WITH resource ID - middleware does the coarse check,
			// the service layer enforces the exact level again.
			orgDetailRoutes := orgRoutes.Group("/:org_id")
			orgDetailRoutes.Use(authzMiddleware.RequireOrgLevel(authz.LevelMember))
			{
				orgDetailRoutes.GET("", orgHandler.GetOrg)
				orgDetailRoutes.GET("/members", orgHandler.GetOrgMembers)

				orgDetailRoutes.PATCH("",
					authzMiddleware.RequireOrgLevel(authz.LevelAdmin),
					orgHandler.UpdateOrg)
				orgDetailRoutes.DELETE("",
					authzMiddleware.RequireOrgLevel(authz.LevelAdmin),
					orgHandler.DeleteOrg)

				// No level-3 gate here: the service accepts the
				// can_manage_roles flag as well as level 3.
				orgDetailRoutes.PATCH("/members/:user_id", orgHandler.UpdateOrgMember)
				orgDetailRoutes.DELETE("/members/:user_id",
					authzMiddleware.RequireOrgLevel(authz.LevelAdmin),
					orgHandler.RemoveOrgMember)

				// Invitations require level 2
				invitationRoutes := orgDetailRoutes.Group("/invitations")
				invitationRoutes.Use(authzMiddleware.RequireOrgLevel(authz.LevelManager))
				{
					invitationRoutes.POST("", invitationHandler.CreateInvitation)
					invitationRoutes.GET("", invitationHandler.ListInvitations)
					invitationRoutes.DELETE("/:invitation_id", invitationHandler.RevokeInvitation)
					invitationRoutes.POST("/:invitation_id/resend", invitationHandler.ResendInvitation)
				}
			}
		}

		// INVITATION REDEMPTION (token scoped, not org scoped)
		protected.POST("/invitations/:token/accept", invitationHandler.AcceptInvitation)

		// API KEY MANAGEMENT
		apiKeyRoutes := protected.Group("/api-keys")
		{
			apiKeyRoutes.POST("", apiKeyHandler.CreateAPIKey)
			apiKeyRoutes.GET("", apiKeyHandler.ListAPIKeys)
			apiKeyRoutes.DELETE("/:id", apiKeyHandler.RevokeAPIKey)
		}

		// PROFILE
		protected.GET("/me", profileHandler.GetMe)
		protected.PATCH("/me", profileHandler.UpdateMe)

		protected.GET("/verify-token", func(c *gin.Context) {
			c.JSON(200, gin.H{"message": "Token is valid"})
		})
	}

	return r
}
