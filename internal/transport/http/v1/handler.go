// Package v1 provides the public HTTP handlers of the orchestrator.
package v1

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/service"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Runs
	e.POST("/v1/projects/:project_id/runs", h.StartRun)
	e.GET("/v1/projects/:project_id/run", h.GetRun)
	e.POST("/v1/projects/:project_id/run/cancel", h.CancelRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	// Plan review
	e.GET("/v1/projects/:project_id/plans", h.ListPlans)
	e.GET("/v1/plans/:plan_id", h.GetPlan)
	e.POST("/v1/plans/:plan_id/approve", h.ApprovePlan)
	e.POST("/v1/plans/:plan_id/reject", h.RejectPlan)

	// Roles
	e.GET("/v1/roles", h.ListRoles)
	e.PUT("/v1/roles/:role", h.UpdateRole)

	// Manual edits
	e.GET("/v1/projects/:project_id/files", h.ListFiles)
	e.GET("/v1/projects/:project_id/files/*", h.ReadFile)
	e.PUT("/v1/projects/:project_id/files/*", h.WriteFile)
	e.DELETE("/v1/projects/:project_id/files/*", h.DeleteFile)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// writeError maps domain errors to status codes.
func writeError(c echo.Context, err error) error {
	var missing *domain.MissingCredentialError
	switch {
	case errors.As(err, &missing):
		return c.JSON(http.StatusPreconditionFailed, domain.MissingCredentialsResponse{
			Error:   "missing_credentials",
			Missing: missing.Roles,
		})
	case errors.Is(err, domain.ErrRunActive):
		return c.JSON(http.StatusConflict, map[string]string{"error": "run_active"})
	case errors.Is(err, domain.ErrEditConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": "edit_conflict"})
	case errors.Is(err, domain.ErrPlanExecuting), errors.Is(err, domain.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPlanNotFound), errors.Is(err, domain.ErrRunNotFound), errors.Is(err, fs.ErrNotExist):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, workspace.ErrBadPath):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	logging.Error("request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
