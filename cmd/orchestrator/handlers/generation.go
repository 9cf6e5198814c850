package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/service"
	"github.com/lyzr/appforge/common/logger"
)

// GenerationHandler handles generation requests
type GenerationHandler struct {
	generations *service.GenerationService
	log         *logger.Logger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(c *container.Container) *GenerationHandler {
	return &GenerationHandler{
		generations: c.GenerationService,
		log:         c.Components.Logger,
	}
}

// StartGeneration queues a generation for a project
// POST /projects/:id/generations
func (h *GenerationHandler) StartGeneration(c echo.Context) error {
	var req service.StartGenerationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.ProjectID = c.Param("id")

	if err := c.Validate(&req); err != nil {
		return respondError(c, h.log, "invalid generation request", err)
	}

	rec, err := h.generations.StartGeneration(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, h.log, "failed to start generation", err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"generationId": rec.ID,
		"status":       rec.Status,
	})
}

// ListGenerations returns a project's recent generations, newest first
// GET /projects/:id/generations?limit=N
func (h *GenerationHandler) ListGenerations(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}

	recs, err := h.generations.ListGenerations(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return respondError(c, h.log, "failed to list generations", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"generations": recs,
		"count":       len(recs),
	})
}

// GetLatest returns the project's last generation that produced files
// GET /projects/:id/generations/latest
func (h *GenerationHandler) GetLatest(c echo.Context) error {
	rec, err := h.generations.GetLatestWithFiles(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.log, "failed to load latest generation", err)
	}
	return c.JSON(http.StatusOK, rec)
}

// GetGeneration returns one generation record
// GET /generations/:id
func (h *GenerationHandler) GetGeneration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid generation id")
	}

	rec, err := h.generations.GetGeneration(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.log, "failed to load generation", err)
	}
	return c.JSON(http.StatusOK, rec)
}
