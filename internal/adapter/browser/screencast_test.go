package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyglassy/flyspace/internal/domain"
)

func TestToFrame(t *testing.T) {
	ts := cdp.TimeSinceEpoch(time.Unix(1700000000, 500000000))
	ev := &page.EventScreencastFrame{
		Data:      "aGVsbG8=",
		SessionID: 3,
		Metadata: &page.ScreencastFrameMetadata{
			OffsetTop:       10,
			PageScaleFactor: 1,
			DeviceWidth:     1280,
			DeviceHeight:    720,
			ScrollOffsetY:   42,
			Timestamp:       &ts,
		},
	}

	f := toFrame(ev)

	assert.Equal(t, int64(3), f.SessionID)
	assert.Equal(t, "aGVsbG8=", f.Data)
	assert.Equal(t, 1280.0, f.Metadata.DeviceWidth)
	assert.Equal(t, 720.0, f.Metadata.DeviceHeight)
	assert.Equal(t, 42.0, f.Metadata.ScrollOffsetY)
	require.NotNil(t, f.Metadata.Timestamp)
	assert.InDelta(t, 1700000000.5, *f.Metadata.Timestamp, 0.001)
}

func TestToFrameWithoutMetadata(t *testing.T) {
	f := toFrame(&page.EventScreencastFrame{Data: "x", SessionID: 1})
	assert.Nil(t, f.Metadata.Timestamp)
	assert.Zero(t, f.Metadata.DeviceWidth)
}

func TestScreencastPushAndClose(t *testing.T) {
	s := &Screencast{frames: make(chan domain.Frame, 1)}

	s.push(domain.Frame{SessionID: 1})
	got := <-s.Frames()
	assert.Equal(t, int64(1), got.SessionID)

	s.close()
	s.close()
	s.push(domain.Frame{SessionID: 2})

	_, ok := <-s.Frames()
	assert.False(t, ok)
}
