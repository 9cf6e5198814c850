package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/handlers"
)

// RegisterDeploymentRoutes registers deployment and provider routes
func RegisterDeploymentRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDeploymentHandler(c)

	gen := e.Group("/generations/:id/deployments")
	{
		gen.POST("", h.Deploy)         // POST /generations/{generation_id}/deployments?wait=true
		gen.GET("", h.ListDeployments) // GET /generations/{generation_id}/deployments
	}

	e.GET("/deployments/:id", h.GetDeployment) // GET /deployments/{deployment_id}
	e.GET("/providers", h.ListProviders)       // GET /providers
}
