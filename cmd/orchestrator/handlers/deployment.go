package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/appforge/cmd/orchestrator/container"
	"github.com/lyzr/appforge/cmd/orchestrator/service"
	"github.com/lyzr/appforge/common/logger"
)

// DeploymentHandler handles deployment and provider requests
type DeploymentHandler struct {
	deployments *service.DeploymentService
	log         *logger.Logger
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(c *container.Container) *DeploymentHandler {
	return &DeploymentHandler{
		deployments: c.DeploymentService,
		log:         c.Components.Logger,
	}
}

// Deploy ships a generation through a provider. By default the job is
// returned as deploying (202); ?wait=true blocks until it is terminal (200).
// POST /generations/:id/deployments
func (h *DeploymentHandler) Deploy(c echo.Context) error {
	generationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid generation id")
	}

	var req service.DeployRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.GenerationID = generationID

	if err := c.Validate(&req); err != nil {
		return respondError(c, h.log, "invalid deploy request", err)
	}

	ctx := c.Request().Context()
	if c.QueryParam("wait") == "true" {
		job, err := h.deployments.Deploy(ctx, &req)
		if err != nil {
			return respondError(c, h.log, "failed to deploy", err)
		}
		return c.JSON(http.StatusOK, job)
	}

	job, err := h.deployments.Submit(ctx, &req)
	if err != nil {
		return respondError(c, h.log, "failed to deploy", err)
	}
	return c.JSON(http.StatusAccepted, job)
}

// ListDeployments returns a generation's deployments, newest first
// GET /generations/:id/deployments
func (h *DeploymentHandler) ListDeployments(c echo.Context) error {
	generationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid generation id")
	}

	jobs, err := h.deployments.ListDeployments(c.Request().Context(), generationID)
	if err != nil {
		return respondError(c, h.log, "failed to list deployments", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"deployments": jobs,
		"count":       len(jobs),
	})
}

// GetDeployment returns one deployment job
// GET /deployments/:id
func (h *DeploymentHandler) GetDeployment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid deployment id")
	}

	job, err := h.deployments.GetDeployment(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.log, "failed to load deployment", err)
	}
	return c.JSON(http.StatusOK, job)
}

// ListProviders reports each deploy provider and whether it has credentials
// GET /providers
func (h *DeploymentHandler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"providers": h.deployments.Providers(),
	})
}
