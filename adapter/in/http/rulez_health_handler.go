package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	ready func() bool
}

// NewHealthHandler creates the handler; ready reports whether the engine
// finished loading its accounts.
func NewHealthHandler(ready func() bool) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// Register mounts the routes.
func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.ready != nil && !h.ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "loading",
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
	})
}
