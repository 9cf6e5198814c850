package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/lyzr/appforge/common/validation"
)

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConcurrentGeneration):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoFiles):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrNotConfigured), errors.Is(err, models.ErrUnknownProvider):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Internal errors are logged
// and hidden from the client.
func respondError(c echo.Context, log *logger.Logger, what string, err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.WithContext(c.Request().Context()).Error(what, "error", err, "path", c.Path())
		return c.JSON(status, map[string]interface{}{
			"error": what,
		})
	}
	return c.JSON(status, map[string]interface{}{
		"error": err.Error(),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": msg,
	})
}
