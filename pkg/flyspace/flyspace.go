// Package flyspace defines the contract automation scripts are written against.
//
// A script is a Go plugin exporting one or more entry points of type
// EntryPoint. The engine loads the plugin, looks the entry point up by name and
// calls it with an Env whose Page records every capability call.
package flyspace

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidArgument is returned by a capability call whose argument carries
// no usable instruction.
var ErrInvalidArgument = errors.New("invalid argument")

// EntryPoint is the signature every runnable script export must have.
type EntryPoint func(ctx context.Context, env Env) error

// Env is the only thing a script receives from the engine.
type Env struct {
	Page    Page
	Context BrowserContext
	Driver  Driver
}

// Page is the capability surface of a browser page: plain navigation plus the
// three AI-mediated capabilities.
//
// Act accepts a plain instruction string, ActOptions, *ActOptions or a
// map[string]any carrying an "action" key. Extract and Observe accept a plain
// string, their options struct (or pointer) or a map[string]any carrying an
// "instruction" key.
type Page interface {
	Goto(ctx context.Context, url string) error
	Act(ctx context.Context, arg any) (*ActResult, error)
	Extract(ctx context.Context, arg any) (json.RawMessage, error)
	Observe(ctx context.Context, arg any) ([]ObserveResult, error)

	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// BrowserContext exposes browser-wide state shared by every page.
type BrowserContext interface {
	ClearCookies(ctx context.Context) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
}

// Driver is the automation driver as seen by a script.
type Driver interface {
	Page() Page
	Context() BrowserContext
}

// ActOptions is the structured form of an act call.
type ActOptions struct {
	Action             string            `json:"action"`
	Variables          map[string]string `json:"variables,omitempty"`
	UseVision          bool              `json:"useVision,omitempty"`
	DOMSettleTimeoutMs int               `json:"domSettleTimeoutMs,omitempty"`
}

// ExtractOptions is the structured form of an extract call. Schema is a JSON
// schema describing the expected result.
type ExtractOptions struct {
	Instruction        string          `json:"instruction"`
	Schema             json.RawMessage `json:"schema,omitempty"`
	UseTextExtract     bool            `json:"useTextExtract,omitempty"`
	DOMSettleTimeoutMs int             `json:"domSettleTimeoutMs,omitempty"`
}

// ObserveOptions is the structured form of an observe call.
type ObserveOptions struct {
	Instruction        string `json:"instruction"`
	UseVision          bool   `json:"useVision,omitempty"`
	DOMSettleTimeoutMs int    `json:"domSettleTimeoutMs,omitempty"`
}

// ActResult is the outcome of an act call.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// ObserveResult is one candidate element found by observe.
type ObserveResult struct {
	Selector    string `json:"selector"`
	Description string `json:"description"`
}

// BoundDriver is a Driver over a fixed page and browser context.
type BoundDriver struct {
	P Page
	C BrowserContext
}

func (d BoundDriver) Page() Page              { return d.P }
func (d BoundDriver) Context() BrowserContext { return d.C }
