package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// ListFiles lists a project's files.
// GET /v1/projects/:project_id/files
func (h *Handler) ListFiles(c echo.Context) error {
	files, err := h.service.ListFiles(c.Request().Context(), c.Param("project_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ListFilesResponse{Files: files})
}

// ReadFile returns one file.
// GET /v1/projects/:project_id/files/*
func (h *Handler) ReadFile(c echo.Context) error {
	path := c.Param("*")
	if path == "" {
		return h.ListFiles(c)
	}
	content, err := h.service.ReadFile(c.Request().Context(), c.Param("project_id"), path)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.FileResponse{Path: path, Content: content})
}

// WriteFile writes one file. Rejected with 409 while a run is active.
// PUT /v1/projects/:project_id/files/*
func (h *Handler) WriteFile(c echo.Context) error {
	var req domain.FileWriteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	path := c.Param("*")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file path is required"})
	}

	if err := h.service.WriteFile(c.Request().Context(), c.Param("project_id"), path, req.Content); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.FileResponse{Path: path, Content: req.Content})
}

// DeleteFile deletes one file. Rejected with 409 while a run is active.
// DELETE /v1/projects/:project_id/files/*
func (h *Handler) DeleteFile(c echo.Context) error {
	path := c.Param("*")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file path is required"})
	}
	if err := h.service.DeleteFile(c.Request().Context(), c.Param("project_id"), path); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
