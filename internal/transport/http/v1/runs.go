package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/service"
)

// Trigger starts a script execution.
// POST /v1/trigger
func (h *Handler) Trigger(c echo.Context) error {
	var req domain.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.Trigger(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// NewEval replays the suspended step with a new prompt.
// POST /v1/evals
func (h *Handler) NewEval(c echo.Context) error {
	var req domain.NewEvalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := h.service.NewEval(c.Request().Context(), req); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// CompleteStep finalizes the suspended step and resumes the script.
// POST /v1/steps/complete
func (h *Handler) CompleteStep(c echo.Context) error {
	if err := h.service.CompleteStep(c.Request().Context()); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// GetRunEvents retrieves journaled events for a run.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	q := service.RunEventsQuery{RunID: c.Param("run_id"), Limit: 100}
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			q.Limit = val
		}
	}
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			q.AfterTs = val
		}
	}
	if types := c.QueryParam("types"); types != "" {
		q.Types = strings.Split(types, ",")
	}

	events, err := h.service.RunEvents(c.Request().Context(), q)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":   events,
		"has_more": len(events) == q.Limit, // Approximate
	})
}
