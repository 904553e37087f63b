// Package registry holds every run, step and eval created during the process
// lifetime. It is the single writer of that state: every mutation goes through
// a Registry method, and every successful mutation publishes exactly one
// bus.StateChanged carrying the full snapshot.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/ids"
)

// ErrInvariantViolation marks a registry call that references an unknown
// entity or the wrong kind of entity. It signals a wiring bug, never bad user
// input.
var ErrInvariantViolation = errors.New("registry invariant violation")

// InvariantError describes one invariant violation.
type InvariantError struct {
	Op     string
	ID     string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

func violation(op, id, format string, args ...any) error {
	return &InvariantError{Op: op, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// Publisher receives change notifications. *bus.Bus implements it.
type Publisher interface {
	Publish(ev bus.Event) int
}

// Registry is the in-memory, append-only store of runs, steps and evals.
type Registry struct {
	mu    sync.RWMutex
	state domain.Snapshot
	pub   Publisher
	now   func() time.Time
	newID func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the identifier generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// New creates an empty registry publishing to pub. A nil pub disables
// notifications.
func New(pub Publisher, opts ...Option) *Registry {
	r := &Registry{
		state: domain.NewSnapshot(),
		pub:   pub,
		now:   time.Now,
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRun appends a running run and makes it current.
func (r *Registry) NewRun(file, code string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	r.state.Runs[id] = domain.Run{
		ID:        id,
		StartedAt: r.now().UTC(),
		File:      file,
		Code:      code,
		Status:    domain.RunStatusRunning,
	}
	r.state.CurrentRunID = ptr(id)

	r.notify(domain.Mutation{Type: domain.EventTypeRunStarted, RunID: id})
	return id
}

// CompleteRun sets the run's final status and completion time. A run is
// settled once.
func (r *Registry) CompleteRun(runID string, status domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.state.Runs[runID]
	if !ok {
		return violation("complete run", runID, "run not found")
	}
	if !status.IsTerminal() {
		return violation("complete run", runID, "status %q is not terminal", status)
	}
	if run.Status.IsTerminal() {
		return violation("complete run", runID, "run already settled as %q", run.Status)
	}

	run.CompletedAt = ptr(r.now().UTC())
	run.Status = status
	r.state.Runs[runID] = run

	r.notify(domain.Mutation{Type: domain.EventTypeRunCompleted, RunID: runID})
	return nil
}

// NewLLMStep creates an LLM step and its original eval together, both
// running, and makes both current.
func (r *Registry) NewLLMStep(stepType domain.StepType, originalPrompt, runID string) (stepID, originalEvalID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !stepType.IsLLM() {
		return "", "", violation("new llm step", runID, "step type %q is not an llm step", stepType)
	}
	if _, ok := r.state.Runs[runID]; !ok {
		return "", "", violation("new llm step", runID, "run not found")
	}

	stepID = r.newID()
	originalEvalID = r.newID()
	now := r.now().UTC()

	r.state.Evals[originalEvalID] = domain.Eval{
		ID:        originalEvalID,
		CreatedAt: now,
		StepID:    stepID,
		RunID:     runID,
		Prompt:    originalPrompt,
		Status:    domain.EvalStatusRunning,
	}
	r.state.Steps[stepID] = domain.Step{
		Type:           stepType,
		ID:             stepID,
		RunID:          runID,
		OriginalEvalID: originalEvalID,
		Status:         domain.StepStatusRunning,
	}
	r.state.CurrentEvalID = ptr(originalEvalID)
	r.state.CurrentStepID = ptr(stepID)

	r.notify(domain.Mutation{Type: domain.EventTypeStepStarted, RunID: runID, StepID: stepID, EvalID: originalEvalID})
	return stepID, originalEvalID, nil
}

// NewGotoStep creates a running goto step and makes it current.
func (r *Registry) NewGotoStep(url, runID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.Runs[runID]; !ok {
		return "", violation("new goto step", runID, "run not found")
	}

	id := r.newID()
	r.state.Steps[id] = domain.Step{
		Type:   domain.StepTypeGoto,
		ID:     id,
		RunID:  runID,
		URL:    url,
		Status: domain.StepStatusRunning,
	}
	r.state.CurrentStepID = ptr(id)

	r.notify(domain.Mutation{Type: domain.EventTypeStepStarted, RunID: runID, StepID: id})
	return id, nil
}

// CompleteGotoStep marks a goto step completed.
func (r *Registry) CompleteGotoStep(stepID string) error {
	return r.settleGotoStep("complete goto step", stepID, domain.StepStatusCompleted)
}

// FailGotoStep marks a goto step crashed.
func (r *Registry) FailGotoStep(stepID string) error {
	return r.settleGotoStep("fail goto step", stepID, domain.StepStatusCrashed)
}

func (r *Registry) settleGotoStep(op, stepID string, status domain.StepStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	step, ok := r.state.Steps[stepID]
	if !ok {
		return violation(op, stepID, "step not found")
	}
	if step.Type != domain.StepTypeGoto {
		return violation(op, stepID, "step is a %s step, not goto", step.Type)
	}

	step.Status = status
	r.state.Steps[stepID] = step

	r.notify(domain.Mutation{Type: domain.EventTypeStepUpdated, RunID: step.RunID, StepID: stepID})
	return nil
}

// LLMStepUpdate is a status transition of an LLM step. FinalEvalID is
// required exactly when Status is completed.
type LLMStepUpdate struct {
	StepID      string
	Status      domain.StepStatus
	FinalEvalID string
}

// UpdateLLMStep transitions an LLM step. Finalized steps cannot change again.
func (r *Registry) UpdateLLMStep(u LLMStepUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "update llm step"
	step, ok := r.state.Steps[u.StepID]
	if !ok {
		return violation(op, u.StepID, "step not found")
	}
	if step.Type == domain.StepTypeGoto {
		return violation(op, u.StepID, "cannot update goto step as llm step")
	}
	if step.FinalEvalID != nil || step.Status.IsTerminal() {
		return violation(op, u.StepID, "step already %s", step.Status)
	}

	switch u.Status {
	case domain.StepStatusCompleted:
		if u.FinalEvalID == "" {
			return violation(op, u.StepID, "final eval id is required to complete a step")
		}
		ev, ok := r.state.Evals[u.FinalEvalID]
		if !ok || ev.StepID != u.StepID {
			return violation(op, u.StepID, "final eval %s does not belong to step", u.FinalEvalID)
		}
		step.FinalEvalID = ptr(u.FinalEvalID)
	case domain.StepStatusIdle, domain.StepStatusRunning, domain.StepStatusCrashed:
		if u.FinalEvalID != "" {
			return violation(op, u.StepID, "final eval id is only set on completion")
		}
	default:
		return violation(op, u.StepID, "unknown status %q", u.Status)
	}

	step.Status = u.Status
	r.state.Steps[u.StepID] = step

	r.notify(domain.Mutation{Type: domain.EventTypeStepUpdated, RunID: step.RunID, StepID: u.StepID, EvalID: u.FinalEvalID})
	return nil
}

// NewEval appends a replay eval under an idle LLM step and makes it current.
func (r *Registry) NewEval(stepID, runID, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "new eval"
	step, ok := r.state.Steps[stepID]
	if !ok {
		return "", violation(op, stepID, "step not found")
	}
	if step.Type == domain.StepTypeGoto {
		return "", violation(op, stepID, "goto steps have no evals")
	}
	if step.RunID != runID {
		return "", violation(op, stepID, "step belongs to run %s, not %s", step.RunID, runID)
	}
	if step.Status != domain.StepStatusIdle {
		return "", violation(op, stepID, "step is %s, not idle", step.Status)
	}

	id := r.newID()
	r.state.Evals[id] = domain.Eval{
		ID:        id,
		CreatedAt: r.now().UTC(),
		StepID:    stepID,
		RunID:     runID,
		Prompt:    prompt,
		Status:    domain.EvalStatusRunning,
	}
	r.state.CurrentEvalID = ptr(id)

	r.notify(domain.Mutation{Type: domain.EventTypeEvalStarted, RunID: runID, StepID: stepID, EvalID: id})
	return id, nil
}

// CompleteEval stores the serialized result and completes the eval.
func (r *Registry) CompleteEval(evalID, result string) error {
	return r.settleEval("complete eval", evalID, result, domain.EvalStatusCompleted)
}

// FailEval marks the eval crashed, storing reason as its result.
func (r *Registry) FailEval(evalID, reason string) error {
	return r.settleEval("fail eval", evalID, reason, domain.EvalStatusCrashed)
}

func (r *Registry) settleEval(op, evalID, result string, status domain.EvalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.state.Evals[evalID]
	if !ok {
		return violation(op, evalID, "eval not found")
	}
	if ev.Status.IsTerminal() {
		return violation(op, evalID, "eval already %s", ev.Status)
	}

	ev.Result = ptr(result)
	ev.CompletedAt = ptr(r.now().UTC())
	ev.Status = status
	r.state.Evals[evalID] = ev

	r.notify(domain.Mutation{Type: domain.EventTypeEvalCompleted, RunID: ev.RunID, StepID: ev.StepID, EvalID: evalID})
	return nil
}

// Snapshot returns a copy of the full state.
func (r *Registry) Snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Cursor returns the current run, step and eval pointers.
func (r *Registry) Cursor() domain.Cursor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Cursor()
}

// Run returns the run with the given id.
func (r *Registry) Run(id string) (domain.Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.state.Runs[id]
	return run, ok
}

// Step returns the step with the given id.
func (r *Registry) Step(id string) (domain.Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.state.Steps[id]
	return step, ok
}

// Eval returns the eval with the given id.
func (r *Registry) Eval(id string) (domain.Eval, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.state.Evals[id]
	return ev, ok
}

// StepsForRun returns the run's steps in creation order.
func (r *Registry) StepsForRun(runID string) []domain.Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.StepsForRun(runID)
}

// EvalsForStep returns the step's evals in creation order.
func (r *Registry) EvalsForStep(stepID string) []domain.Eval {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.EvalsForStep(stepID)
}

// notify must be called with the write lock held so no reader can observe
// the mutation before its notification is published.
func (r *Registry) notify(m domain.Mutation) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(bus.StateChanged{Mutation: m, Snapshot: r.state.Clone()})
}

func ptr[T any](v T) *T { return &v }
