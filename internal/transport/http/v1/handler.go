// Package v1 provides the v1 HTTP handlers.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/heyglassy/flyspace/internal/interceptor"
	"github.com/heyglassy/flyspace/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

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

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Queries
	e.GET("/v1/files", h.GetFiles)
	e.GET("/v1/state", h.GetState)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	// Commands
	e.POST("/v1/trigger", h.Trigger)
	e.POST("/v1/evals", h.NewEval)
	e.POST("/v1/steps/complete", h.CompleteStep)

	// Subscriptions
	e.GET("/v1/state/stream", h.StreamState)
	e.GET("/v1/frames/stream", h.StreamFrames)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"running": h.service.Running(),
	})
}

// errorJSON writes err with the status its kind maps to.
func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownEntryPoint), errors.Is(err, service.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRunInProgress),
		errors.Is(err, service.ErrNoPendingStep),
		errors.Is(err, interceptor.ErrStepBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrJournalDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
