package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/ticket-intake/internal/api/http/handlers"
	"github.com/spec-kit/ticket-intake/internal/auth"
	"github.com/spec-kit/ticket-intake/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Events         *handlers.EventsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
	AdminGuard     *auth.AdminKeyGuard
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if reg := cfg.Metrics.Registry(); reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/v1")
	v1.Post("/events", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeEvents), cfg.Events.PostEvent)

	admin := v1.Group("/admin", cfg.AdminGuard.Handle)
	admin.Post("/rate-limits/reset", cfg.Admin.ResetRateLimits)
	admin.Post("/tickets/:id/retry", cfg.Admin.RetryTicket)
	admin.Post("/catalog/refresh", cfg.Admin.RefreshCatalog)
	admin.Post("/sessions/sweep", cfg.Admin.SweepSessions)
}
