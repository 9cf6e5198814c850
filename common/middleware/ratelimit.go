package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/common/ratelimit"
)

// ProjectRateLimit caps how often a project may start generations.
// The project id is read from the :id path parameter. Limiter errors fail open.
func ProjectRateLimit(checker ratelimit.Checker, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			projectID := c.Param("id")
			if projectID == "" || limit <= 0 {
				return next(c)
			}

			result, err := checker.CheckProjectLimit(c.Request().Context(), projectID, limit, windowSec)
			if err != nil {
				// On error, allow request (fail open for availability)
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "project_rate_limit_exceeded",
					"message": "Too many generations started for this project. Please try again later.",
					"details": map[string]interface{}{
						"project_id":          projectID,
						"limit":               result.Limit,
						"window_seconds":      windowSec,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
