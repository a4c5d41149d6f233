package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/routedesk/routing-engine/internal/api/http/handlers"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Audit          *handlers.AuditHandler
	Admin          *handlers.AdminHandler
	Agents         *handlers.AgentsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// NewApp builds the Fiber app. Handlers pass path params and bodies into stores that
// outlive the request, so fasthttp buffers are copied instead of reused.
func NewApp(name string) *fiber.App {
	return fiber.New(fiber.Config{AppName: name, Immutable: true})
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	protected := app.Group("", cfg.AuthMiddleware.Handle)

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/transition", cfg.Tickets.Transition)
	tickets.Post("/:id/reassign", cfg.Tickets.Reassign)
	tickets.Get("/:id/distribution-log", cfg.Tickets.DistributionLog)
	tickets.Get("/:id/sla", cfg.Tickets.SlaSnapshot)
	tickets.Get("/:id/sla-events", cfg.Tickets.SlaEvents)

	protected.Get("/distribution-log", cfg.Audit.DistributionLog)
	protected.Get("/sla/events", cfg.Audit.SlaEvents)
	protected.Get("/sla/metrics", cfg.Audit.SlaMetrics)

	protected.Put("/agents/:id/status", auth.RequireRole(auth.RoleAdmin, auth.RoleService), cfg.Agents.SetStatus)

	admin := protected.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.Post("/queues", cfg.Admin.CreateQueue)
	admin.Get("/queues", cfg.Admin.ListQueues)
	admin.Get("/queues/:id", cfg.Admin.GetQueue)
	admin.Put("/queues/:id", cfg.Admin.UpdateQueue)
	admin.Get("/queues/:id/members", cfg.Admin.ListMembers)
	admin.Put("/queues/:id/members/:agentId", cfg.Admin.UpsertMember)
	admin.Delete("/queues/:id/members/:agentId", cfg.Admin.RemoveMember)

	admin.Post("/agents", cfg.Admin.CreateAgent)
	admin.Get("/agents", cfg.Admin.ListAgents)
	admin.Put("/agents/:id/capacity", cfg.Admin.UpdateAgentCapacity)
	admin.Put("/agents/:id/skills", cfg.Admin.ReplaceSkills)

	admin.Post("/sla-policies", cfg.Admin.CreatePolicy)
	admin.Get("/sla-policies", cfg.Admin.ListPolicies)
	admin.Put("/sla-policies/:id", cfg.Admin.UpdatePolicy)

	admin.Put("/statuses", cfg.Admin.UpsertStatuses)
	admin.Get("/statuses", cfg.Admin.ListStatuses)
}
