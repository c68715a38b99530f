package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// StartRun starts a run for a project.
// POST /v1/projects/:project_id/runs
func (h *Handler) StartRun(c echo.Context) error {
	var req domain.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Objective == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "objective is required"})
	}

	run, err := h.service.StartRun(c.Request().Context(), c.Param("project_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// GetRun returns the project's current run.
// GET /v1/projects/:project_id/run
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRunStatus(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun cancels the project's active run. It is a no-op otherwise.
// POST /v1/projects/:project_id/run/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
