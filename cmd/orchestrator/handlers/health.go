package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/common/bootstrap"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/metrics"
)

// HealthHandler reports dependency health and real-time channel load
type HealthHandler struct {
	components *bootstrap.Components
	hub        *events.Hub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(c *container.Container) *HealthHandler {
	return &HealthHandler{
		components: c.Components,
		hub:        c.Hub,
	}
}

// Health checks the database and redis
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	status, code := "ok", http.StatusOK
	body := map[string]interface{}{
		"service":  h.components.Config.Service.Name,
		"rooms":    h.hub.RoomCount(),
		"members":  h.hub.Memberships(),
		"instance": metrics.Capture(),
	}
	if h.components.DB != nil {
		body["db_pool"] = h.components.DB.PoolStats()
	}

	if err := h.components.Health(c.Request().Context()); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		body["error"] = err.Error()
	}
	body["status"] = status

	return c.JSON(code, body)
}
