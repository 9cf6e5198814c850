package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/handlers"
	commonmw "github.com/lyzr/appforge/common/middleware"
)

// rateLimitWindow is the window GENERATION_RATE_LIMIT counts in
const rateLimitWindow = 60

// RegisterGenerationRoutes registers all generation-related routes
func RegisterGenerationRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewGenerationHandler(c)

	var start []echo.MiddlewareFunc
	if c.RateLimiter != nil {
		limit := int64(c.Components.Config.Generation.RateLimit)
		start = append(start, commonmw.ProjectRateLimit(c.RateLimiter, limit, rateLimitWindow))
	}

	projects := e.Group("/projects/:id/generations")
	{
		projects.POST("", h.StartGeneration, start...) // POST /projects/p1/generations
		projects.GET("", h.ListGenerations)            // GET /projects/p1/generations?limit=10
		projects.GET("/latest", h.GetLatest)           // GET /projects/p1/generations/latest
	}

	e.GET("/generations/:id", h.GetGeneration) // GET /generations/{generation_id}
}
