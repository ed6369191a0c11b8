package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/quantleap/tradecrm/internal/app"
	iauth "github.com/quantleap/tradecrm/internal/auth"
	"github.com/quantleap/tradecrm/internal/auth/mfa"
	"github.com/quantleap/tradecrm/internal/auth/providers"
	"github.com/quantleap/tradecrm/internal/handlers"
	"github.com/quantleap/tradecrm/internal/middleware"
	"github.com/quantleap/tradecrm/internal/monitoring"
	"github.com/quantleap/tradecrm/internal/permissions"
	"github.com/quantleap/tradecrm/internal/secrets"
	"github.com/quantleap/tradecrm/internal/security"
	"github.com/quantleap/tradecrm/internal/services"
)

// Dependencies carries the constructed services the router wires into handlers.
type Dependencies struct {
	JWT       *iauth.JWTService
	Sessions  *iauth.SessionService
	Resolver  *permissions.Resolver
	Provider  *providers.LocalProvider
	TOTP      *mfa.TOTPService
	Secrets   *secrets.Service
	Validator *secrets.Validator

	// Health backs the readiness endpoint. Nil reports ready unconditionally.
	Health *monitoring.HealthManager
	// Audit powers the admin security audit endpoint; nil hides the route.
	Audit *security.AuditService

	// RateStore backs the partner rate limiter. Nil falls back to the
	// in-process store, which is fine for single-node deployments.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.JWT == nil || deps.Sessions == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("jwt, session and resolver services must be provided")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("local auth provider must be provided")
	}
	if deps.Secrets == nil || deps.Validator == nil {
		return nil, fmt.Errorf("secret service and validator must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.RateLimit(cfg.Server.RateLimitPerMinute, time.Minute))

	// Health endpoints (public)
	r.GET("/health", handlers.Health(db))
	r.GET("/health/ready", handlers.Ready(deps.Health))

	authHandler := handlers.NewAuthHandler(db, deps.Sessions, deps.Provider, deps.TOTP, deps.Resolver)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	requireAuth := middleware.Auth(deps.JWT)
	requires := func(section, title, actionType string) gin.HandlerFunc {
		return middleware.RequirePermission(deps.Resolver, section, title, actionType)
	}

	api := r.Group("/api")
	api.Use(requireAuth)

	// Authenticated auth routes
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	if deps.TOTP != nil {
		mfaHandler := handlers.NewMFAHandler(db, deps.TOTP)
		api.POST("/auth/mfa/setup", mfaHandler.Setup)
		api.POST("/auth/mfa/enable", mfaHandler.Enable)
		api.POST("/auth/mfa/disable", mfaHandler.Disable)
	}

	userSvc, err := services.NewUserService(db)
	if err != nil {
		return nil, err
	}
	permSvc, err := services.NewPermissionService(db, deps.Resolver)
	if err != nil {
		return nil, err
	}
	affiliateSvc, err := services.NewAffiliateService(db)
	if err != nil {
		return nil, err
	}

	// Users
	userHandler := handlers.NewUserHandler(userSvc)
	users := api.Group("/users")
	{
		users.GET("", requires("Users", "View", "V"), userHandler.List)
		users.GET("/:id", requires("Users", "View", "V"), userHandler.Get)
		users.POST("", requires("Users", "Create", "C"), userHandler.Create)
		users.PATCH("/:id", requires("Users", "Update", "U"), userHandler.Update)
		users.PUT("/:id/role", requires("Users", "Update", "U"), userHandler.SetRole)
		users.POST("/:id/activate", requires("Users", "Update", "U"), userHandler.Activate)
		users.POST("/:id/deactivate", requires("Users", "Update", "U"), userHandler.Deactivate)
		users.DELETE("/:id", requires("Users", "Delete", "D"), userHandler.Delete)
	}

	// Permission catalog and per-user grants
	permHandler := handlers.NewPermissionHandler(permSvc)
	api.GET("/permissions/catalog", requires("Permissions", "View", "V"), permHandler.Catalog)
	{
		users.GET("/:id/permissions", requires("Permissions", "View", "V"), permHandler.UserGrants)
		users.GET("/:id/permissions/effective", requires("Permissions", "View", "V"), permHandler.Effective)
		users.POST("/:id/permissions", requires("Permissions", "Manage", "U"), permHandler.Grant)
		users.DELETE("/:id/permissions/:permissionID", requires("Permissions", "Manage", "U"), permHandler.Revoke)
	}

	// Affiliates and their API secrets
	affiliateHandler := handlers.NewAffiliateHandler(affiliateSvc, deps.Secrets)
	affiliates := api.Group("/affiliates")
	{
		affiliates.GET("", requires("Affiliates", "View", "V"), affiliateHandler.List)
		affiliates.GET("/:id", requires("Affiliates", "View", "V"), affiliateHandler.Get)
		affiliates.POST("", requires("Affiliates", "Create", "C"), affiliateHandler.Create)
		affiliates.PATCH("/:id", requires("Affiliates", "Update", "U"), affiliateHandler.Update)
		affiliates.GET("/:id/secrets", requires("Affiliates", "ManageSecrets", "U"), affiliateHandler.ListSecrets)
		affiliates.POST("/:id/secrets", requires("Affiliates", "ManageSecrets", "U"), affiliateHandler.CreateSecret)
	}
	manageSecrets := requires("Affiliates", "ManageSecrets", "U")
	api.POST("/secrets/:id/deactivate", manageSecrets, affiliateHandler.DeactivateSecret)
	api.POST("/secrets/:id/reactivate", manageSecrets, affiliateHandler.ReactivateSecret)
	api.PUT("/secrets/:id/expiration", manageSecrets, affiliateHandler.ReplaceSecretExpiration)

	// Admin security posture audit
	if deps.Audit != nil {
		securityHandler := handlers.NewSecurityHandler(deps.Audit)
		api.GET("/security/audit", requires("Permissions", "View", "V"), securityHandler.Audit)
	}

	// Partner API, authenticated with affiliate secrets instead of JWTs.
	// Gets its own rate budget keyed on a shared store when one is configured.
	partnerStore := deps.RateStore
	if partnerStore == nil {
		partnerStore = middleware.NewMemoryRateStore()
	}
	partnerHandler := handlers.NewPartnerHandler()
	partner := r.Group("/api/partner")
	partner.Use(middleware.RateLimitWithStore(partnerStore, cfg.Secrets.PartnerRateLimitPerMinute, time.Minute))
	partner.Use(middleware.SecretAuth(deps.Validator))
	{
		partner.GET("/ping", partnerHandler.Ping)
		partner.GET("/me", partnerHandler.Me)
	}

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
