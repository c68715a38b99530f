package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// ListRoles lists the role assignments. Credentials are never returned.
// GET /v1/roles
func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.service.ListRoles(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ListRolesResponse{Roles: roles})
}

// UpdateRole assigns a provider and credential to a role.
// PUT /v1/roles/:role
func (h *Handler) UpdateRole(c echo.Context) error {
	var req domain.RoleUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Provider == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider is required"})
	}

	view, err := h.service.UpdateRole(c.Request().Context(), c.Param("role"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}
