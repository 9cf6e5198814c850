package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/handlers"
	"github.com/lyzr/appforge/cmd/orchestrator/middleware"
)

// RegisterRealtimeRoutes registers the WebSocket endpoint and health check
func RegisterRealtimeRoutes(e *echo.Echo, c *container.Container) {
	auth := c.Components.Config.Auth

	ws := handlers.NewWebSocketHandler(c)
	e.GET("/ws", ws.Serve, middleware.RequireToken(auth.JWTSecret, auth.Required))

	health := handlers.NewHealthHandler(c)
	e.GET("/health", health.Health)
}
