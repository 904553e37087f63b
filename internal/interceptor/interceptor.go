// Package interceptor records every capability call a script makes against a
// page, and holds extract and observe calls open until an operator advances
// them.
package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/registry"
	"github.com/heyglassy/flyspace/pkg/flyspace"
)

var (
	// ErrNoPendingStep is returned to replay and advance commands when no
	// step is waiting for the operator.
	ErrNoPendingStep = errors.New("no step is waiting for operator input")
	// ErrStepBusy is returned when a command arrives while the pending step is
	// still processing an earlier one.
	ErrStepBusy = errors.New("step is busy with a previous command")
)

// NavigationPolicy decides whether a script may navigate to a URL. A non-nil
// error rejects the navigation before anything is recorded.
type NavigationPolicy interface {
	AllowNavigation(ctx context.Context, runID, url string) error
}

// Page wraps a driver page. Goto, Act, Extract and Observe are recorded in
// the registry; every other method is the wrapped page's own.
type Page struct {
	flyspace.Page

	reg     *registry.Registry
	bus     *bus.Bus
	runID   string
	policy  NavigationPolicy
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*continuation
	cancels []func()
}

// Option configures a Page.
type Option func(*Page)

// WithNavigationPolicy checks every Goto against policy.
func WithNavigationPolicy(policy NavigationPolicy) Option {
	return func(p *Page) { p.policy = policy }
}

// WithCapabilityTimeout bounds every driver invocation. Zero means no bound.
// Time spent waiting for the operator is never bounded.
func WithCapabilityTimeout(d time.Duration) Option {
	return func(p *Page) { p.timeout = d }
}

// New wraps page for the run runID and starts listening for replay and
// advance commands on b. Close must be called when the run ends.
func New(reg *registry.Registry, b *bus.Bus, page flyspace.Page, runID string, opts ...Option) *Page {
	p := &Page{
		Page:    page,
		reg:     reg,
		bus:     b,
		runID:   runID,
		pending: make(map[string]*continuation),
	}
	for _, opt := range opts {
		opt(p)
	}
	if b != nil {
		p.cancels = append(p.cancels,
			b.Handle(bus.KindReplayRequested, p.onReplay),
			b.Handle(bus.KindAdvanceRequested, p.onAdvance),
		)
	}
	return p
}

// Close stops listening for commands. Calls still suspended are unaffected;
// they end when their context does.
func (p *Page) Close() {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// RunID returns the run this page records into.
func (p *Page) RunID() string { return p.runID }

// Goto navigates and records a goto step.
func (p *Page) Goto(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("%w: goto requires a url", flyspace.ErrInvalidArgument)
	}
	if p.policy != nil {
		if err := p.policy.AllowNavigation(ctx, p.runID, url); err != nil {
			return fmt.Errorf("%w: %v", flyspace.ErrInvalidArgument, err)
		}
	}

	stepID, err := p.reg.NewGotoStep(url, p.runID)
	if err != nil {
		return err
	}

	callCtx, cancel := p.callContext(ctx)
	err = p.Page.Goto(callCtx, url)
	cancel()
	if err != nil {
		if ferr := p.reg.FailGotoStep(stepID); ferr != nil {
			log.Printf("ERROR: Failed to mark goto step %s crashed: %v", stepID, ferr)
		}
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return p.reg.CompleteGotoStep(stepID)
}

// Act performs an action and records it as a step that finalizes at once.
func (p *Page) Act(ctx context.Context, arg any) (*flyspace.ActResult, error) {
	instr, err := actInstruction(arg)
	if err != nil {
		return nil, err
	}

	stepID, evalID, err := p.reg.NewLLMStep(domain.StepTypeAct, instr, p.runID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := p.callContext(ctx)
	res, err := p.Page.Act(callCtx, arg)
	cancel()
	if err != nil {
		p.crashStep(stepID, evalID, err)
		return nil, fmt.Errorf("act: %w", err)
	}

	if err := p.reg.CompleteEval(evalID, serialize(res)); err != nil {
		return nil, err
	}
	if err := p.reg.UpdateLLMStep(registry.LLMStepUpdate{
		StepID:      stepID,
		Status:      domain.StepStatusCompleted,
		FinalEvalID: evalID,
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Extract runs an extraction and waits for the operator to advance it. The
// returned data is the result of the last successful evaluation.
func (p *Page) Extract(ctx context.Context, arg any) (json.RawMessage, error) {
	return invoke(ctx, p, domain.StepTypeExtract, arg, p.Page.Extract)
}

// Observe runs an observation and waits for the operator to advance it.
func (p *Page) Observe(ctx context.Context, arg any) ([]flyspace.ObserveResult, error) {
	return invoke(ctx, p, domain.StepTypeObserve, arg, p.Page.Observe)
}

// invoke runs the first evaluation of an extract or observe step, then
// suspends until the operator advances it.
func invoke[T any](ctx context.Context, p *Page, stepType domain.StepType, arg any, call func(context.Context, any) (T, error)) (T, error) {
	var zero T

	instr, err := instruction(string(stepType), arg)
	if err != nil {
		return zero, err
	}

	stepID, evalID, err := p.reg.NewLLMStep(stepType, instr, p.runID)
	if err != nil {
		return zero, err
	}

	callCtx, cancel := p.callContext(ctx)
	res, err := call(callCtx, arg)
	cancel()
	if err != nil {
		p.crashStep(stepID, evalID, err)
		return zero, fmt.Errorf("%s: %w", stepType, err)
	}
	if err := p.reg.CompleteEval(evalID, serialize(res)); err != nil {
		return zero, err
	}

	rerun := func(ctx context.Context, prompt string) (T, error) {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()
		return call(callCtx, withInstruction(arg, prompt))
	}
	return await(ctx, p, stepID, candidate[T]{value: res, evalID: evalID}, rerun)
}

// crashStep settles the in-flight eval and step of a failed capability call.
func (p *Page) crashStep(stepID, evalID string, cause error) {
	if err := p.reg.FailEval(evalID, cause.Error()); err != nil {
		log.Printf("ERROR: Failed to mark eval %s crashed: %v", evalID, err)
	}
	if err := p.reg.UpdateLLMStep(registry.LLMStepUpdate{StepID: stepID, Status: domain.StepStatusCrashed}); err != nil {
		log.Printf("ERROR: Failed to mark step %s crashed: %v", stepID, err)
	}
}

func (p *Page) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}
