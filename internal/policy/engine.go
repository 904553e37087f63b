// Package policy evaluates the navigation policy scripts run under.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions a policy can return.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// ErrNavigationBlocked is returned for navigations the policy blocks.
var ErrNavigationBlocked = errors.New("navigation blocked by policy")

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.navigation_policy.decision"),
		rego.Module("navigation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine creates an engine from the policy file at path, or from
// DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the decision for input. A policy with no matching rule
// allows.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("policy returned %T, want string", results[0].Expressions[0].Value)
}

// AllowNavigation evaluates a navigation of run runID to rawURL.
func (e *Engine) AllowNavigation(ctx context.Context, runID, rawURL string) error {
	input := map[string]interface{}{
		"run_id": runID,
		"url":    rawURL,
	}
	if u, err := url.Parse(rawURL); err == nil {
		input["scheme"] = strings.ToLower(u.Scheme)
		input["host"] = strings.ToLower(u.Hostname())
	}

	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if decision != DecisionAllow {
		return fmt.Errorf("%w: %s (%s)", ErrNavigationBlocked, rawURL, decision)
	}
	return nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package navigation_policy

default decision = "allow"

# Scripts drive web pages only
decision = "block" {
	not allowed_schemes[input.scheme]
}

allowed_schemes = {"http", "https", "about"}
`
