package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/basalt/basalt/internal/handler"
	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/middleware"
)

// RouterDeps is everything the router mounts.
type RouterDeps struct {
	Logger   *slog.Logger
	Metrics  metrics.Recorder
	Security middleware.SecurityConfig
	CORS     middleware.CORSConfig
	// MaxUploadSize bounds POST /notarize; other routes use Security.MaxRequestBodySize.
	MaxUploadSize int64
	RateLimit     middleware.RateLimitConfig

	Sessions middleware.SessionResolver
	Keys     middleware.KeyValidator

	Index       *handler.Handler
	Health      *handler.HealthHandler
	MetricsPage *handler.MetricsHandler
	Web         *handler.WebHandler
	APIKeys     *handler.APIKeyHandler
	Notarize    *handler.NotarizeHandler
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.Security(d.Security))
	r.Use(middleware.CORS(d.CORS))

	// Ops endpoints (no auth required)
	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	r.Get("/metrics", d.MetricsPage.Metrics)

	authLimit := middleware.RateLimitIP(d.RateLimit, "auth")
	formBody := middleware.MaxBodySize(d.Security.MaxRequestBodySize)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(d.Sessions, d.Logger))

		// Web pages
		r.Group(func(r chi.Router) {
			r.Use(formBody)

			r.Get("/", d.Web.Home)
			r.Get("/login", d.Web.LoginPage)
			r.With(authLimit).Post("/login", d.Web.Login)
			r.Get("/signup", d.Web.SignupPage)
			r.With(authLimit).Post("/signup", d.Web.Signup)
			r.Get("/logout", d.Web.Logout)
			r.Get("/pricing", d.Web.Pricing)
			r.Get("/verify-email", d.Web.VerifyEmail)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession)
				r.Get("/dashboard", d.Web.Dashboard)
				r.Get("/dashboard/assets", d.Web.Assets)
			})
		})

		// Key management from the dashboard (session only)
		r.Route("/api/keys", func(r chi.Router) {
			r.Use(formBody)
			r.Use(middleware.RequireUserJSON)
			r.Get("/", d.APIKeys.ListAPIKeys)
			r.Post("/", d.APIKeys.CreateAPIKey)
			r.Delete("/{key_id}", d.APIKeys.DeleteAPIKey)
		})

		apiAuth := middleware.APIKeyAuth(middleware.AuthConfig{Logger: d.Logger, Keys: d.Keys})
		apiLimit := middleware.RateLimitAPI(d.RateLimit)

		// Programmatic API (API key, or session as a fallback)
		r.With(apiAuth, apiLimit, middleware.MaxBodySize(d.MaxUploadSize)).Post("/notarize", d.Notarize.Notarize)

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(formBody)
			r.Get("/", d.Index.Index)
			r.Get("/verify", d.Notarize.Verify)

			r.Group(func(r chi.Router) {
				r.Use(apiAuth)
				r.Use(apiLimit)
				r.Get("/usage", d.Notarize.Usage)
				r.Get("/notarizations", d.Notarize.List)
				r.Get("/notarizations/{id}", d.Notarize.Get)
			})
		})
	})

	r.NotFound(d.Index.NotFound)
	r.MethodNotAllowed(d.Index.MethodNotAllowed)

	return r
}

