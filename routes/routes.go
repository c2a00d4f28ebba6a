package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/tenant-auth/app"
	"github.com/upb/tenant-auth/handlers"
	"github.com/upb/tenant-auth/utils"
)

// Scopes and roles required by the protected routes
const (
	RolePlatformAdmin     = "platform_admin"
	ScopeTenantsRead      = "tenants.read"
	ScopeTenantsWrite     = "tenants.write"
	ScopeMarketplaceRead  = "marketplace.read"
	ScopeMarketplaceWrite = "marketplace.write"
	ScopeOrdersRead       = "orders.read"
	ScopeOrdersWrite      = "orders.write"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"WWW-Authenticate", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.HealthChecks(), deps.Logger)
	tenants := handlers.NewTenantHandler(deps.Authority, deps.Logger)
	oauth := handlers.NewOAuthHandler(deps.Authority, deps.Keys, cfg.Auth.Issuer, deps.Roles.Scopes(), deps.Logger)
	marketplace := handlers.NewMarketplaceHandler(deps.Store, deps.Logger)
	auth := deps.AuthMiddleware

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Authorization server endpoints
	r.Post("/tenants", tenants.HandleRegister)
	r.Get("/authorize", oauth.HandleAuthorize)
	r.Post("/authorize", oauth.HandleAuthorize)
	r.Post("/token", oauth.HandleToken)
	r.Post("/revoke", oauth.HandleRevoke)
	r.Get("/.well-known/jwks.json", oauth.HandleJWKS)
	r.Get("/.well-known/oauth-authorization-server", oauth.HandleMetadata)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/me", tenants.HandleMe)

			// Tenant administration (platform operators only)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(RolePlatformAdmin))
				r.With(auth.RequireScope(ScopeTenantsWrite)).Post("/", tenants.HandleCreate)
				r.With(auth.RequireScope(ScopeTenantsRead)).Get("/{id}", tenants.HandleGet)
				r.With(auth.RequireScope(ScopeTenantsWrite)).Patch("/{id}/status", tenants.HandleUpdateStatus)
			})
		})

		r.Route("/marketplace", func(r chi.Router) {
			r.With(auth.RequireScope(ScopeMarketplaceRead)).Get("/listings", marketplace.HandleListListings)
			r.With(auth.RequireScope(ScopeMarketplaceWrite)).Post("/listings", marketplace.HandleCreateListing)
			r.With(auth.RequireAnyScope(ScopeOrdersRead, ScopeOrdersWrite)).Get("/orders", marketplace.HandleListOrders)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
