package driver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyglassy/flyspace/pkg/flyspace"
	"github.com/heyglassy/flyspace/tests/helpers"
)

// Bridge is a fake AI bridge echoing the request back.
type Bridge struct {
	last chan CapabilityRequest
}

func (b *Bridge) Act(req *CapabilityRequest, resp *flyspace.ActResult) error {
	b.last <- *req
	var opts map[string]any
	_ = json.Unmarshal(req.Options, &opts)
	if opts["action"] == "fail" {
		return errors.New("could not act")
	}
	*resp = flyspace.ActResult{Success: true, Action: opts["action"].(string)}
	return nil
}

func (b *Bridge) Extract(req *CapabilityRequest, resp *ExtractReply) error {
	b.last <- *req
	resp.Data = json.RawMessage(`{"title":"Example Domain"}`)
	return nil
}

func (b *Bridge) Observe(req *CapabilityRequest, resp *ObserveReply) error {
	b.last <- *req
	resp.Elements = []flyspace.ObserveResult{{Selector: "h1", Description: "heading"}}
	return nil
}

func startBridge(t *testing.T) (string, *Bridge) {
	t.Helper()
	bridge := &Bridge{last: make(chan CapabilityRequest, 8)}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("Bridge", bridge))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()
	return ln.Addr().String(), bridge
}

func TestClientAct(t *testing.T) {
	addr, bridge := startBridge(t)
	c := NewClient("tcp://"+addr, "gpt-4o")

	res, err := c.Act(context.Background(), "https://example.com", "click the link")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "click the link", res.Action)

	req := <-bridge.last
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "https://example.com", req.PageURL)
	assert.JSONEq(t, `{"action":"click the link"}`, string(req.Options))
}

func TestClientActError(t *testing.T) {
	addr, _ := startBridge(t)
	c := NewClient(addr, "gpt-4o")

	_, err := c.Act(context.Background(), "", flyspace.ActOptions{Action: "fail"})
	assert.ErrorContains(t, err, "could not act")
}

func TestClientExtractAndObserve(t *testing.T) {
	addr, bridge := startBridge(t)
	c := NewClient(addr, "claude-3-5-sonnet-latest")

	data, err := c.Extract(context.Background(), "https://example.com", flyspace.ExtractOptions{Instruction: "find the title"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Example Domain"}`, string(data))
	req := <-bridge.last
	assert.JSONEq(t, `{"instruction":"find the title"}`, string(req.Options))

	els, err := c.Observe(context.Background(), "https://example.com", "find headings")
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "h1", els[0].Selector)
}

func TestClientNotConfigured(t *testing.T) {
	c := NewClient("", "gpt-4o")
	_, err := c.Extract(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrBridgeNotConfigured)
}

func TestClientHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	// accept but never answer
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	c := NewClient(ln.Addr().String(), "gpt-4o")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Observe(ctx, "", "x")
	assert.Error(t, err)
}

func TestResolveRPCAddr(t *testing.T) {
	assert.Equal(t, "", resolveRPCAddr("  "))
	assert.Equal(t, "localhost:7070", resolveRPCAddr("localhost:7070"))
	assert.Equal(t, "bridge:7070", resolveRPCAddr("tcp://bridge:7070"))
}

func TestDriverRoutesCapabilitiesWithCurrentURL(t *testing.T) {
	addr, bridge := startBridge(t)
	nav := helpers.NewFakePage()
	d := New(nav, NewClient(addr, "gpt-4o"))

	require.NoError(t, d.Page().Goto(context.Background(), "https://example.com/login"))
	_, err := d.Page().Act(context.Background(), "type the password")
	require.NoError(t, err)

	req := <-bridge.last
	assert.Equal(t, "https://example.com/login", req.PageURL)

	require.NoError(t, d.Reset(context.Background()))
	url, _ := d.Page().URL(context.Background())
	assert.Equal(t, "about:blank", url)
	assert.Equal(t, nav, d.Context())
}
