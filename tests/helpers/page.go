package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/heyglassy/flyspace/pkg/flyspace"
)

// FakePage is a scriptable flyspace.Page. Unset hooks return canned results
// derived from the call's instruction.
type FakePage struct {
	mu      sync.Mutex
	url     string
	calls   []Call
	cookies int
	headers map[string]string

	GotoFn    func(ctx context.Context, url string) error
	ActFn     func(ctx context.Context, arg any) (*flyspace.ActResult, error)
	ExtractFn func(ctx context.Context, arg any) (json.RawMessage, error)
	ObserveFn func(ctx context.Context, arg any) ([]flyspace.ObserveResult, error)
}

// Call is one recorded capability invocation.
type Call struct {
	Method string
	Arg    any
}

// NewFakePage returns a page at about:blank.
func NewFakePage() *FakePage {
	return &FakePage{url: "about:blank"}
}

func (p *FakePage) record(method string, arg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Method: method, Arg: arg})
}

// Calls returns the recorded invocations in order.
func (p *FakePage) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *FakePage) Goto(ctx context.Context, url string) error {
	p.record("goto", url)
	if p.GotoFn != nil {
		if err := p.GotoFn(ctx, url); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Act(ctx context.Context, arg any) (*flyspace.ActResult, error) {
	p.record("act", arg)
	if p.ActFn != nil {
		return p.ActFn(ctx, arg)
	}
	return &flyspace.ActResult{Success: true, Message: "done", Action: fmt.Sprint(arg)}, nil
}

func (p *FakePage) Extract(ctx context.Context, arg any) (json.RawMessage, error) {
	p.record("extract", arg)
	if p.ExtractFn != nil {
		return p.ExtractFn(ctx, arg)
	}
	b, _ := json.Marshal(map[string]string{"answer": InstructionOf(arg)})
	return b, nil
}

func (p *FakePage) Observe(ctx context.Context, arg any) ([]flyspace.ObserveResult, error) {
	p.record("observe", arg)
	if p.ObserveFn != nil {
		return p.ObserveFn(ctx, arg)
	}
	return []flyspace.ObserveResult{{Selector: "#main", Description: InstructionOf(arg)}}, nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	return "Fake Page", nil
}

// Reset returns the page to about:blank.
func (p *FakePage) Reset(ctx context.Context) error {
	p.record("reset", nil)
	p.mu.Lock()
	p.url = "about:blank"
	p.mu.Unlock()
	return nil
}

func (p *FakePage) ClearCookies(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies++
	return nil
}

func (p *FakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = headers
	return nil
}

// InstructionOf returns the instruction carried by a capability argument.
func InstructionOf(arg any) string {
	switch v := arg.(type) {
	case string:
		return v
	case flyspace.ExtractOptions:
		return v.Instruction
	case *flyspace.ExtractOptions:
		return v.Instruction
	case flyspace.ObserveOptions:
		return v.Instruction
	case *flyspace.ObserveOptions:
		return v.Instruction
	case flyspace.ActOptions:
		return v.Action
	case map[string]any:
		if s, ok := v["instruction"].(string); ok {
			return s
		}
		s, _ := v["action"].(string)
		return s
	}
	return ""
}

// Page returns p, so a FakePage can stand in for a whole driver.
func (p *FakePage) Page() flyspace.Page { return p }

// Context returns p as the browser context.
func (p *FakePage) Context() flyspace.BrowserContext { return p }

// CookieClears returns how many times ClearCookies was called.
func (p *FakePage) CookieClears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies
}
