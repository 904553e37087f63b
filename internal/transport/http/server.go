// Package http provides the HTTP server for the flyspace engine.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/heyglassy/flyspace/internal/service"
	v1 "github.com/heyglassy/flyspace/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server. metrics may be nil.
func NewServer(svc *service.Service, metrics http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)
	v1Handler.RegisterRoutes(e)

	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	return e
}
