package v1

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/heyglassy/flyspace/internal/bus"
)

const keepAliveInterval = 15 * time.Second

// StreamState streams the execution state via SSE. The current state is sent
// first, then one state event per registry mutation.
// GET /v1/state/stream
func (h *Handler) StreamState(c echo.Context) error {
	ctx := c.Request().Context()
	events := h.service.Events(ctx, bus.KindStateChanged)

	startSSE(c)
	if err := sendSSEEvent(c, "state", h.service.State()); err != nil {
		return err
	}

	return pumpSSE(c, events, func(ev bus.Event) error {
		sc, ok := ev.(bus.StateChanged)
		if !ok {
			return nil
		}
		return sendSSEEvent(c, "state", sc.Snapshot)
	})
}

// StreamFrames streams screencast frames via SSE.
// GET /v1/frames/stream
func (h *Handler) StreamFrames(c echo.Context) error {
	ctx := c.Request().Context()
	events := h.service.Events(ctx, bus.KindFrameRelayed)

	startSSE(c)
	return pumpSSE(c, events, func(ev bus.Event) error {
		fr, ok := ev.(bus.FrameRelayed)
		if !ok {
			return nil
		}
		return sendSSEEvent(c, "frame", fr.Frame)
	})
}

func startSSE(c echo.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// pumpSSE forwards events until the client disconnects.
func pumpSSE(c echo.Context, events <-chan bus.Event, send func(bus.Event) error) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Client disconnected
				return nil
			}
			if err := send(ev); err != nil {
				log.Printf("ERROR: failed to send SSE event: %v", err)
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Response(), ": keep-alive\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

// sendSSEEvent sends a single event in SSE format.
func sendSSEEvent(c echo.Context, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	// Format: event: <event_type>\ndata: <json>\n\n
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
