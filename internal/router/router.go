package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/COS301-SE-2025/fitchfork-go/internal/config"
	"github.com/COS301-SE-2025/fitchfork-go/internal/handler"
	"github.com/COS301-SE-2025/fitchfork-go/internal/middleware"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler *handler.AssignmentHandler
	SubmissionHandler *handler.SubmissionHandler
	StatsHandler      *handler.StatsHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	staff := middleware.RequireStaff()

	assignments := api.Group("/assignments", jwtMiddleware)
	submissions := api.Group("/submissions", jwtMiddleware)

	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(assignments, staff)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(assignments, submissions, staff)
	}

	if deps.StatsHandler != nil {
		deps.StatsHandler.Register(assignments, staff)
	}
}
