package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/heyglassy/flyspace/pkg/flyspace"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "FLYSPACE_MODE"
	// ModeMock indicates mock capabilities should be used.
	ModeMock = "MOCK"
)

// NewCapabilities returns mock capabilities in mock mode and a bridge client
// otherwise.
func NewCapabilities(mode, bridgeAddr, model string) Capabilities {
	if mode == ModeMock {
		log.Printf("%s=%s detected, using mock capabilities", EnvMode, ModeMock)
		return NewMockCapabilities()
	}
	return NewClient(bridgeAddr, model)
}

// MockCapabilities answers every capability call locally with a result
// derived from its instruction. It lets scripts be stepped through without
// an AI bridge.
type MockCapabilities struct{}

// NewMockCapabilities creates mock capabilities.
func NewMockCapabilities() *MockCapabilities {
	return &MockCapabilities{}
}

// Ensure MockCapabilities implements Capabilities.
var _ Capabilities = (*MockCapabilities)(nil)

// Act reports success without touching the page.
func (m *MockCapabilities) Act(ctx context.Context, pageURL string, arg any) (*flyspace.ActResult, error) {
	action, err := instructionOf(arg, "action")
	if err != nil {
		return nil, err
	}
	return &flyspace.ActResult{
		Success: true,
		Message: fmt.Sprintf("mock: performed %q on %s", action, pageURL),
		Action:  action,
	}, nil
}

// Extract echoes the instruction back as the extraction.
func (m *MockCapabilities) Extract(ctx context.Context, pageURL string, arg any) (json.RawMessage, error) {
	instruction, err := instructionOf(arg, "instruction")
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{
		"extraction": instruction,
		"page_url":   pageURL,
	})
}

// Observe returns the document body as the only candidate.
func (m *MockCapabilities) Observe(ctx context.Context, pageURL string, arg any) ([]flyspace.ObserveResult, error) {
	instruction, err := instructionOf(arg, "instruction")
	if err != nil {
		return nil, err
	}
	return []flyspace.ObserveResult{{Selector: "body", Description: instruction}}, nil
}

// instructionOf reads key from arg's options object.
func instructionOf(arg any, key string) (string, error) {
	if s, ok := arg.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", flyspace.ErrInvalidArgument, err)
	}
	var opts map[string]any
	if err := json.Unmarshal(data, &opts); err != nil {
		return "", fmt.Errorf("%w: options must be an object", flyspace.ErrInvalidArgument)
	}
	s, _ := opts[key].(string)
	return s, nil
}
