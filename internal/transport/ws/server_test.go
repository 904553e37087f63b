package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/registry"
	"github.com/heyglassy/flyspace/internal/sandbox"
	"github.com/heyglassy/flyspace/internal/service"
	"github.com/heyglassy/flyspace/pkg/flyspace"
	"github.com/heyglassy/flyspace/tests/helpers"
)

type staticIndex map[string]domain.ExportDetails

func (staticIndex) Dir() string { return "" }

func (i staticIndex) Files() (map[string]domain.ExportDetails, error) { return i, nil }

func (i staticIndex) Lookup(file, export string) bool {
	for _, name := range i[file].MatchingExports {
		if name == export {
			return true
		}
	}
	return false
}

type fixture struct {
	reg    *registry.Registry
	bus    *bus.Bus
	loader *sandbox.StaticLoader
	hub    *Hub
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New(64)
	reg := registry.New(b)
	loader := sandbox.NewStaticLoader()
	sb := sandbox.New(reg, b, helpers.NewFakePage(), loader,
		sandbox.WithSourceReader(func(string) ([]byte, error) { return []byte("package main"), nil }))
	svc := service.New(reg, b, sb, staticIndex{"title.go": {MatchingExports: []string{"Title"}}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	go h.Run(ctx)
	srv := NewServer(DefaultConfig(), h, svc)
	go srv.Run(ctx)

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		svc.Shutdown(shutdownCtx)
	})

	return &fixture{
		reg:    reg,
		bus:    b,
		loader: loader,
		hub:    h,
		url:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads messages until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		var got string
		require.NoError(t, json.Unmarshal(msg["type"], &got))
		if got == typ {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestSubscribeStateReceivesSnapshotAndChanges(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, SubscribeMessage{BaseMessage: BaseMessage{Type: TypeSubscribe, RequestID: "r1"}, Topic: TopicState})
	ack := next(t, conn, TypeAck)
	assert.JSONEq(t, `"r1"`, string(ack["request_id"]))
	next(t, conn, TypeState)

	runID := f.reg.NewRun("title.go", "package main")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := next(t, conn, TypeState)
		var snap domain.Snapshot
		require.NoError(t, json.Unmarshal(msg["state"], &snap))
		if _, ok := snap.Runs[runID]; ok {
			return
		}
	}
	t.Fatalf("run %s never appeared in streamed state", runID)
}

func TestSubscribeFrames(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, SubscribeMessage{BaseMessage: BaseMessage{Type: TypeSubscribe}, Topic: TopicFrames})
	next(t, conn, TypeAck)
	require.Eventually(t, func() bool { return f.hub.SubscriberCount(TopicFrames) == 1 }, time.Second, 5*time.Millisecond)

	f.bus.Publish(bus.FrameRelayed{Frame: domain.Frame{Data: "aGVsbG8=", SessionID: 3}})
	msg := next(t, conn, TypeFrame)
	var frame domain.Frame
	require.NoError(t, json.Unmarshal(msg["frame"], &frame))
	assert.Equal(t, int64(3), frame.SessionID)

	send(t, conn, SubscribeMessage{BaseMessage: BaseMessage{Type: TypeUnsubscribe}, Topic: TopicFrames})
	next(t, conn, TypeAck)
	assert.Equal(t, 0, f.hub.SubscriberCount(TopicFrames))
}

func TestUnknownTopicAndType(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, SubscribeMessage{BaseMessage: BaseMessage{Type: TypeSubscribe}, Topic: "logs"})
	msg := next(t, conn, TypeError)
	assert.JSONEq(t, `"unknown_topic"`, string(msg["code"]))

	send(t, conn, BaseMessage{Type: "hello"})
	msg = next(t, conn, TypeError)
	assert.JSONEq(t, `"invalid_message"`, string(msg["code"]))
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	f.loader.Register("title.go", "Title", func(ctx context.Context, env flyspace.Env) error {
		_, err := env.Page.Extract(ctx, "find the title")
		return err
	})

	send(t, conn, BaseMessage{Type: TypeCompleteStep, RequestID: "c0"})
	msg := next(t, conn, TypeError)
	assert.JSONEq(t, `"no_pending_step"`, string(msg["code"]))

	send(t, conn, TriggerMessage{BaseMessage: BaseMessage{Type: TypeTrigger, RequestID: "t0"}, File: "nope.go", ExportName: "Title"})
	msg = next(t, conn, TypeError)
	assert.JSONEq(t, `"not_found"`, string(msg["code"]))

	send(t, conn, TriggerMessage{BaseMessage: BaseMessage{Type: TypeTrigger, RequestID: "t1"}, File: "title.go", ExportName: "Title"})
	msg = next(t, conn, TypeAck)
	assert.JSONEq(t, `"trigger"`, string(msg["command"]))

	require.Eventually(t, func() bool {
		step, ok := f.reg.Step(f.reg.Cursor().StepID)
		return ok && step.Status == domain.StepStatusIdle
	}, 2*time.Second, 5*time.Millisecond)

	send(t, conn, NewEvalMessage{BaseMessage: BaseMessage{Type: TypeNewEval, RequestID: "e1"}, Prompt: "find the heading"})
	msg = next(t, conn, TypeAck)
	assert.JSONEq(t, `"e1"`, string(msg["request_id"]))

	send(t, conn, BaseMessage{Type: TypeCompleteStep, RequestID: "c1"})
	msg = next(t, conn, TypeAck)
	assert.JSONEq(t, `"c1"`, string(msg["request_id"]))

	require.Eventually(t, func() bool {
		run, ok := f.reg.Run(f.reg.Cursor().RunID)
		return ok && run.Status == domain.RunStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}
