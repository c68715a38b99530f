package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// ListPlans lists a project's plan reviews in creation order.
// GET /v1/projects/:project_id/plans
func (h *Handler) ListPlans(c echo.Context) error {
	plans, err := h.service.ListPlans(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ListPlansResponse{Plans: plans})
}

// GetPlan returns one plan review.
// GET /v1/plans/:plan_id
func (h *Handler) GetPlan(c echo.Context) error {
	plan, err := h.service.GetPlan(c.Request().Context(), c.Param("plan_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}

// ApprovePlan approves a pending plan.
// POST /v1/plans/:plan_id/approve
func (h *Handler) ApprovePlan(c echo.Context) error {
	plan, err := h.service.ApprovePlan(c.Request().Context(), c.Param("plan_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}

// RejectPlan rejects a pending plan. The body is optional.
// POST /v1/plans/:plan_id/reject
func (h *Handler) RejectPlan(c echo.Context) error {
	var req domain.ReviewDecisionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
	}

	plan, err := h.service.RejectPlan(c.Request().Context(), c.Param("plan_id"), req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}
