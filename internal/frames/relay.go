// Package frames relays screencast frames from the browser to the bus.
package frames

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
)

// Session is a screencast session. The browser sends the next frame only
// after the previous one has been acknowledged.
type Session interface {
	Frames() <-chan domain.Frame
	Ack(ctx context.Context, sessionID int64) error
}

// Relay acknowledges screencast frames and republishes them on the bus.
type Relay struct {
	bus      *bus.Bus
	relayed  atomic.Uint64
	ackFails atomic.Uint64
}

// NewRelay creates a Relay publishing to b.
func NewRelay(b *bus.Bus) *Relay {
	return &Relay{bus: b}
}

// Run relays frames from session until ctx ends or the session's frame
// channel is closed. Each frame is acknowledged once, before it is
// published.
func (r *Relay) Run(ctx context.Context, session Session) error {
	frames := session.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if err := session.Ack(ctx, frame.SessionID); err != nil {
				r.ackFails.Add(1)
				log.Printf("WARN: Failed to ack frame %d: %v", frame.SessionID, err)
			}
			r.bus.Publish(bus.FrameRelayed{Frame: frame})
			r.relayed.Add(1)
		}
	}
}

// Relayed returns the number of frames published so far.
func (r *Relay) Relayed() uint64 { return r.relayed.Load() }

// AckFailures returns the number of failed acknowledgements.
func (r *Relay) AckFailures() uint64 { return r.ackFails.Load() }
