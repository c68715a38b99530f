// Package http provides the HTTP server implementation for the orchestrator.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/xiaot623/gogo/autopilot/internal/annotate"
	"github.com/xiaot623/gogo/autopilot/internal/service"
	v1 "github.com/xiaot623/gogo/autopilot/internal/transport/http/v1"
)

// NewServer creates the orchestrator's HTTP server. It serves the public API,
// the preview annotation channel and the metrics endpoint.
func NewServer(svc *service.Service, preview *annotate.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	v1Handler.RegisterRoutes(e)

	// Preview channel
	e.GET("/v1/projects/:project_id/preview/ws", preview.HandleWebSocket)
	e.GET("/preview/annotate.js", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/javascript", annotate.Script())
	})

	e.GET("/metrics", echo.WrapHandler(svc.Metrics().Handler()))

	return e
}
