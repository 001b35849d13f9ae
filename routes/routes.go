package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/multi-tenant-crm/app"
	"github.com/upb/multi-tenant-crm/middleware"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/utils"
)

// maxBodyBytes caps request bodies; JSON decoding past it fails
const maxBodyBytes = 1 << 20

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestSize(maxBodyBytes))
	r.Use(chimiddleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(chimiddleware.SetHeader("X-Frame-Options", "DENY"))
	r.Use(chimiddleware.SetHeader("Referrer-Policy", "no-referrer"))
	r.Use(chimiddleware.SetHeader("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"))
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
	}
	if cfg.Observability.MetricsEnabled {
		r.Use(deps.Metrics.Instrument)
	}
	r.Use(middleware.AuditContext)

	// The browser client is the only cross-origin caller
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{strings.TrimSuffix(cfg.Scalekit.ClientURL, "/")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	guard := deps.AuthMiddleware

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.LoginLimiter.Middleware).Post("/login/{method}", deps.AuthHandler.HandleLogin)
			r.Get("/callback", deps.AuthHandler.HandleCallback)
			r.Post("/logout", deps.AuthHandler.HandleLogout)
			r.With(guard.Authenticate).Get("/me", deps.AuthHandler.HandleMe)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(guard.Authenticate)
			r.Get("/organization", deps.UserHandler.HandleListOrganizationUsers)

			r.Group(func(r chi.Router) {
				r.Use(guard.RequireRole(models.RoleAdmin))
				r.Post("/invite", deps.UserHandler.HandleInvite)
				r.Patch("/{userId}/role", deps.UserHandler.HandleUpdateRole)
				r.Delete("/{userId}", deps.UserHandler.HandleDelete)
			})
		})

		r.Route("/organizations/{organizationId}", func(r chi.Router) {
			r.Use(guard.Authenticate)
			r.Use(guard.RequireOwnOrganization("organizationId"))
			r.Get("/", deps.OrganizationHandler.HandleGet)
			r.Get("/users", deps.OrganizationHandler.HandleListUsers)
			r.Get("/contacts", deps.OrganizationHandler.HandleListContacts)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Use(guard.Authenticate)
			r.Get("/", deps.ContactHandler.HandleList)
			r.Post("/", deps.ContactHandler.HandleCreate)
			r.Get("/stats/overview", deps.ContactHandler.HandleStats)
			r.Get("/search/{query}", deps.ContactHandler.HandleSearch)
			r.Delete("/bulk/{ids}", deps.ContactHandler.HandleBulkDelete)
			r.Get("/{id}", deps.ContactHandler.HandleGet)
			r.Put("/{id}", deps.ContactHandler.HandleUpdate)
			r.Delete("/{id}", deps.ContactHandler.HandleDelete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
