package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/sla-engine/internal/api/http/handlers"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	SLA            *handlers.SLAHandler
	Escalation     *handlers.EscalationHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	slaGroup := app.Group("/sla", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	slaGroup.Get("/tickets", cfg.SLA.ListSnapshots)
	slaGroup.Get("/tickets/:id", cfg.SLA.GetSnapshot)
	slaGroup.Get("/tickets/:id/history", cfg.SLA.History)
	slaGroup.Put("/tickets/:id/pause", cfg.SLA.SetPause)
	slaGroup.Post("/tickets/:id/messages", cfg.SLA.ObserveMessage)
	slaGroup.Get("/units/:unit/escalation-levels", cfg.Escalation.Levels)

	operator := auth.RequireStaffRole(domain.StaffRoleTeamLead, domain.StaffRoleAdmin)
	slaGroup.Post("/tickets/:id/escalation/notify", operator, cfg.Escalation.Renotify)
	slaGroup.Post("/sweeps/escalation", operator, cfg.Escalation.RunSweep)
	slaGroup.Get("/notifications/failed", operator, cfg.Escalation.ListFailed)
	slaGroup.Post("/notifications/reclaim", operator, cfg.Escalation.Reclaim)
}
