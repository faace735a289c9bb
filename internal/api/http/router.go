package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/erp-suite/ticketflow/internal/api/http/handlers"
	"github.com/erp-suite/ticketflow/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health    *handlers.HealthHandler
	Tickets   *handlers.TicketsHandler
	Directory *handlers.DirectoryHandler
	Principal *auth.PrincipalMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api", cfg.Principal.Handle)

	tickets := api.Group("/tickets")
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/stats", cfg.Tickets.Stats)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/assign", cfg.Tickets.Assign)
	tickets.Post("/:id/resolve", cfg.Tickets.Resolve)
	tickets.Post("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)

	departments := api.Group("/departments")
	departments.Get("", cfg.Directory.ListDepartments)
	departments.Get("/:id/users", cfg.Directory.DepartmentUsers)
}
