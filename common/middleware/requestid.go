package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/common/logger"
)

// RequestContext copies the request id assigned by echo's RequestID
// middleware into the request context, where logger.WithContext finds it.
// Register it after middleware.RequestID.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			if id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(logger.ContextWithRequestID(req.Context(), id)))
			}
			return next(c)
		}
	}
}
