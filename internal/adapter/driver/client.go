// Package driver assembles the automation driver scripts run against: browser
// navigation from a Chrome tab plus the AI capabilities served by a bridge
// process over JSON-RPC.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/heyglassy/flyspace/pkg/flyspace"
)

// ErrBridgeNotConfigured is returned by capability calls when no bridge
// address is set.
var ErrBridgeNotConfigured = errors.New("ai bridge address not configured")

// Client calls the AI capability bridge.
type Client struct {
	addr        string
	model       string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient creates a bridge client. baseURL may be host:port or a URL.
func NewClient(baseURL, model string) *Client {
	return &Client{
		addr:        resolveRPCAddr(baseURL),
		model:       model,
		dialTimeout: 5 * time.Second,
		callTimeout: 2 * time.Minute,
	}
}

// CapabilityRequest is the argument of every bridge method.
type CapabilityRequest struct {
	Model   string          `json:"model"`
	PageURL string          `json:"page_url"`
	Options json.RawMessage `json:"options"`
}

// ExtractReply is the reply of Bridge.Extract.
type ExtractReply struct {
	Data json.RawMessage `json:"data"`
}

// ObserveReply is the reply of Bridge.Observe.
type ObserveReply struct {
	Elements []flyspace.ObserveResult `json:"elements"`
}

// Act asks the bridge to perform an action on the page at pageURL.
func (c *Client) Act(ctx context.Context, pageURL string, arg any) (*flyspace.ActResult, error) {
	req, err := c.request(pageURL, arg, "action")
	if err != nil {
		return nil, err
	}
	var resp flyspace.ActResult
	if err := c.call(ctx, "Bridge.Act", req, &resp); err != nil {
		return nil, fmt.Errorf("bridge act: %w", err)
	}
	return &resp, nil
}

// Extract asks the bridge to extract data from the page at pageURL.
func (c *Client) Extract(ctx context.Context, pageURL string, arg any) (json.RawMessage, error) {
	req, err := c.request(pageURL, arg, "instruction")
	if err != nil {
		return nil, err
	}
	var resp ExtractReply
	if err := c.call(ctx, "Bridge.Extract", req, &resp); err != nil {
		return nil, fmt.Errorf("bridge extract: %w", err)
	}
	return resp.Data, nil
}

// Observe asks the bridge for candidate elements on the page at pageURL.
func (c *Client) Observe(ctx context.Context, pageURL string, arg any) ([]flyspace.ObserveResult, error) {
	req, err := c.request(pageURL, arg, "instruction")
	if err != nil {
		return nil, err
	}
	var resp ObserveReply
	if err := c.call(ctx, "Bridge.Observe", req, &resp); err != nil {
		return nil, fmt.Errorf("bridge observe: %w", err)
	}
	return resp.Elements, nil
}

// request encodes arg as the bridge's options object. A bare string becomes
// {key: string}.
func (c *Client) request(pageURL string, arg any, key string) (*CapabilityRequest, error) {
	if s, ok := arg.(string); ok {
		arg = map[string]string{key: s}
	}
	opts, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flyspace.ErrInvalidArgument, err)
	}
	return &CapabilityRequest{Model: c.model, PageURL: pageURL, Options: opts}, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	if c.addr == "" {
		return ErrBridgeNotConfigured
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, err := d.DialContext(dialCtx, "tcp", c.addr)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
