package browser

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/heyglassy/flyspace/internal/domain"
)

// ScreencastConfig selects the encoding of screencast frames.
type ScreencastConfig struct {
	Format  string
	Quality int
}

// Screencast is a running screencast of the tab.
type Screencast struct {
	b      *Browser
	frames chan domain.Frame

	mu     sync.Mutex
	closed bool
}

// StartScreencast starts streaming frames of the tab. The browser sends the
// next frame only after the previous one has been acknowledged.
func (b *Browser) StartScreencast(ctx context.Context, cfg ScreencastConfig) (*Screencast, error) {
	s := &Screencast{b: b, frames: make(chan domain.Frame, 1)}

	chromedp.ListenTarget(b.tabCtx, func(ev any) {
		if e, ok := ev.(*page.EventScreencastFrame); ok {
			s.push(toFrame(e))
		}
	})

	format := page.ScreencastFormatJpeg
	if cfg.Format == string(page.ScreencastFormatPng) {
		format = page.ScreencastFormatPng
	}
	start := page.StartScreencast().WithFormat(format)
	if cfg.Quality > 0 {
		start = start.WithQuality(int64(cfg.Quality))
	}
	if err := b.run(ctx, start); err != nil {
		return nil, fmt.Errorf("failed to start screencast: %w", err)
	}

	go func() {
		<-b.tabCtx.Done()
		s.close()
	}()
	return s, nil
}

// Frames returns the stream of frames. It is closed when the tab closes.
func (s *Screencast) Frames() <-chan domain.Frame { return s.frames }

// Ack acknowledges a frame so the browser sends the next one.
func (s *Screencast) Ack(ctx context.Context, sessionID int64) error {
	return s.b.run(ctx, page.ScreencastFrameAck(sessionID))
}

// Stop ends the screencast.
func (s *Screencast) Stop(ctx context.Context) error {
	return s.b.run(ctx, page.StopScreencast())
}

// push runs on the event listener goroutine and must not block. With one
// frame outstanding the buffer is only full if the relay stalled; the frame
// is then acknowledged and dropped so the stream keeps going.
func (s *Screencast) push(f domain.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- f:
	default:
		log.Printf("WARN: Dropping screencast frame %d, relay is behind", f.SessionID)
		go func() {
			if err := s.Ack(context.Background(), f.SessionID); err != nil {
				log.Printf("WARN: Failed to ack dropped frame %d: %v", f.SessionID, err)
			}
		}()
	}
}

func (s *Screencast) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

func toFrame(e *page.EventScreencastFrame) domain.Frame {
	f := domain.Frame{Data: e.Data, SessionID: e.SessionID}
	if m := e.Metadata; m != nil {
		f.Metadata = domain.FrameMetadata{
			OffsetTop:       m.OffsetTop,
			PageScaleFactor: m.PageScaleFactor,
			DeviceWidth:     m.DeviceWidth,
			DeviceHeight:    m.DeviceHeight,
			ScrollOffsetX:   m.ScrollOffsetX,
			ScrollOffsetY:   m.ScrollOffsetY,
		}
		if m.Timestamp != nil {
			ts := float64(m.Timestamp.Time().UnixNano()) / 1e9
			f.Metadata.Timestamp = &ts
		}
	}
	return f
}
