package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []bus.StateChanged
}

func (r *recorder) Publish(ev bus.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := ev.(bus.StateChanged); ok {
		r.events = append(r.events, sc)
	}
	return 0
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() bus.StateChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestRegistry() (*Registry, *recorder) {
	rec := &recorder{}
	return New(rec), rec
}

func TestNewRun(t *testing.T) {
	reg, rec := newTestRegistry()

	runID := reg.NewRun("scripts/title.go", "package main")

	run, ok := reg.Run(runID)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Equal(t, "scripts/title.go", run.File)
	assert.Equal(t, "package main", run.Code)
	assert.Nil(t, run.CompletedAt)
	assert.Equal(t, runID, reg.Cursor().RunID)

	require.Equal(t, 1, rec.count())
	ev := rec.last()
	assert.Equal(t, domain.EventTypeRunStarted, ev.Mutation.Type)
	assert.Contains(t, ev.Snapshot.Runs, runID)
}

func TestCompleteRun(t *testing.T) {
	reg, rec := newTestRegistry()
	runID := reg.NewRun("a.go", "")

	require.NoError(t, reg.CompleteRun(runID, domain.RunStatusCrashed))

	run, _ := reg.Run(runID)
	assert.Equal(t, domain.RunStatusCrashed, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, 2, rec.count())
}

func TestCompleteRunSettlesOnce(t *testing.T) {
	reg, rec := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	require.NoError(t, reg.CompleteRun(runID, domain.RunStatusCrashed))

	err := reg.CompleteRun(runID, domain.RunStatusCompleted)

	assert.ErrorIs(t, err, ErrInvariantViolation)
	run, _ := reg.Run(runID)
	assert.Equal(t, domain.RunStatusCrashed, run.Status)
	assert.Equal(t, 2, rec.count())
}

func TestCompleteRunUnknown(t *testing.T) {
	reg, rec := newTestRegistry()

	err := reg.CompleteRun("missing", domain.RunStatusCompleted)

	assert.ErrorIs(t, err, ErrInvariantViolation)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "missing", ie.ID)
	assert.Equal(t, 0, rec.count())
}

func TestNewLLMStepIsAtomic(t *testing.T) {
	reg, rec := newTestRegistry()
	runID := reg.NewRun("a.go", "")

	stepID, evalID, err := reg.NewLLMStep(domain.StepTypeExtract, "find the title", runID)
	require.NoError(t, err)

	step, ok := reg.Step(stepID)
	require.True(t, ok)
	assert.Equal(t, domain.StepStatusRunning, step.Status)
	assert.Equal(t, evalID, step.OriginalEvalID)
	assert.Nil(t, step.FinalEvalID)

	ev, ok := reg.Eval(evalID)
	require.True(t, ok)
	assert.Equal(t, domain.EvalStatusRunning, ev.Status)
	assert.Equal(t, "find the title", ev.Prompt)
	assert.Equal(t, stepID, ev.StepID)
	assert.Equal(t, runID, ev.RunID)

	cur := reg.Cursor()
	assert.Equal(t, stepID, cur.StepID)
	assert.Equal(t, evalID, cur.EvalID)

	// one notification covers both entities
	require.Equal(t, 2, rec.count())
	snap := rec.last().Snapshot
	assert.Contains(t, snap.Steps, stepID)
	assert.Contains(t, snap.Evals, evalID)
}

func TestNewLLMStepRejectsGotoAndUnknownRun(t *testing.T) {
	reg, rec := newTestRegistry()
	runID := reg.NewRun("a.go", "")

	_, _, err := reg.NewLLMStep(domain.StepTypeGoto, "x", runID)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, _, err = reg.NewLLMStep(domain.StepTypeAct, "x", "missing")
	assert.ErrorIs(t, err, ErrInvariantViolation)

	snap := reg.Snapshot()
	assert.Empty(t, snap.Steps)
	assert.Empty(t, snap.Evals)
	assert.Equal(t, 1, rec.count())
}

func TestGotoStepLifecycle(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")

	stepID, err := reg.NewGotoStep("https://example.com", runID)
	require.NoError(t, err)

	step, _ := reg.Step(stepID)
	assert.Equal(t, domain.StepTypeGoto, step.Type)
	assert.Equal(t, domain.StepStatusRunning, step.Status)
	assert.Equal(t, "https://example.com", step.URL)
	assert.Empty(t, reg.Cursor().EvalID)

	require.NoError(t, reg.CompleteGotoStep(stepID))
	step, _ = reg.Step(stepID)
	assert.Equal(t, domain.StepStatusCompleted, step.Status)
}

func TestTypeMismatchPerformsNoMutation(t *testing.T) {
	reg, rec := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	llmID, _, err := reg.NewLLMStep(domain.StepTypeAct, "click", runID)
	require.NoError(t, err)
	gotoID, err := reg.NewGotoStep("https://example.com", runID)
	require.NoError(t, err)

	before := reg.Snapshot()
	n := rec.count()

	err = reg.CompleteGotoStep(llmID)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	err = reg.UpdateLLMStep(LLMStepUpdate{StepID: gotoID, Status: domain.StepStatusIdle})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	err = reg.FailGotoStep("missing")
	assert.ErrorIs(t, err, ErrInvariantViolation)

	assert.Equal(t, before, reg.Snapshot())
	assert.Equal(t, n, rec.count())
}

func TestUpdateLLMStepFinalEvalRules(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	stepID, evalID, err := reg.NewLLMStep(domain.StepTypeObserve, "find buttons", runID)
	require.NoError(t, err)

	err = reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusCompleted})
	assert.ErrorIs(t, err, ErrInvariantViolation, "completion needs a final eval")

	err = reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusIdle, FinalEvalID: evalID})
	assert.ErrorIs(t, err, ErrInvariantViolation, "final eval only on completion")

	err = reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusCompleted, FinalEvalID: "other"})
	assert.ErrorIs(t, err, ErrInvariantViolation, "final eval must belong to the step")

	require.NoError(t, reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusCompleted, FinalEvalID: evalID}))
	step, _ := reg.Step(stepID)
	require.NotNil(t, step.FinalEvalID)
	assert.Equal(t, evalID, *step.FinalEvalID)

	err = reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusIdle})
	assert.ErrorIs(t, err, ErrInvariantViolation, "finalized steps are immutable")
}

func TestReplayKeepsStepShape(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	stepID, originalID, err := reg.NewLLMStep(domain.StepTypeExtract, "find the title", runID)
	require.NoError(t, err)
	require.NoError(t, reg.CompleteEval(originalID, `"Example Domain"`))
	require.NoError(t, reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusIdle}))

	var last string
	for _, prompt := range []string{"find the subtitle", "find the heading", "find the footer"} {
		evalID, err := reg.NewEval(stepID, runID, prompt)
		require.NoError(t, err)
		assert.Equal(t, evalID, reg.Cursor().EvalID)
		require.NoError(t, reg.CompleteEval(evalID, `"x"`))

		step, _ := reg.Step(stepID)
		assert.Equal(t, domain.StepTypeExtract, step.Type)
		assert.Equal(t, runID, step.RunID)
		assert.Equal(t, originalID, step.OriginalEvalID)
		assert.Nil(t, step.FinalEvalID)
		last = evalID
	}

	evals := reg.EvalsForStep(stepID)
	require.Len(t, evals, 4)
	assert.Equal(t, originalID, evals[0].ID)
	assert.Equal(t, last, evals[3].ID)
}

func TestNewEvalRequiresIdleLLMStepOfRun(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	otherRun := reg.NewRun("b.go", "")
	stepID, _, err := reg.NewLLMStep(domain.StepTypeExtract, "x", runID)
	require.NoError(t, err)
	gotoID, err := reg.NewGotoStep("https://example.com", runID)
	require.NoError(t, err)

	_, err = reg.NewEval(stepID, runID, "y")
	assert.ErrorIs(t, err, ErrInvariantViolation, "step is still running")

	require.NoError(t, reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusIdle}))

	_, err = reg.NewEval(stepID, otherRun, "y")
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, err = reg.NewEval(gotoID, runID, "y")
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, err = reg.NewEval("missing", runID, "y")
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, err = reg.NewEval(stepID, runID, "y")
	assert.NoError(t, err)
}

func TestCompleteEvalOnce(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	_, evalID, err := reg.NewLLMStep(domain.StepTypeAct, "click", runID)
	require.NoError(t, err)

	require.NoError(t, reg.CompleteEval(evalID, `{"success":true}`))
	ev, _ := reg.Eval(evalID)
	assert.Equal(t, domain.EvalStatusCompleted, ev.Status)
	require.NotNil(t, ev.Result)
	assert.Equal(t, `{"success":true}`, *ev.Result)
	assert.NotNil(t, ev.CompletedAt)

	assert.ErrorIs(t, reg.CompleteEval(evalID, "again"), ErrInvariantViolation)
	assert.ErrorIs(t, reg.CompleteEval("missing", "x"), ErrInvariantViolation)
}

func TestFailEval(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	_, evalID, err := reg.NewLLMStep(domain.StepTypeObserve, "x", runID)
	require.NoError(t, err)

	require.NoError(t, reg.FailEval(evalID, "driver unavailable"))
	ev, _ := reg.Eval(evalID)
	assert.Equal(t, domain.EvalStatusCrashed, ev.Status)
	assert.Equal(t, "driver unavailable", *ev.Result)
}

func TestReferentialValidity(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	for i := 0; i < 3; i++ {
		stepID, _, err := reg.NewLLMStep(domain.StepTypeExtract, "x", runID)
		require.NoError(t, err)
		require.NoError(t, reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusIdle}))
		_, err = reg.NewEval(stepID, runID, "y")
		require.NoError(t, err)
		_, err = reg.NewGotoStep("https://example.com", runID)
		require.NoError(t, err)
	}

	snap := reg.Snapshot()
	for _, step := range snap.Steps {
		assert.Contains(t, snap.Runs, step.RunID)
	}
	for _, ev := range snap.Evals {
		assert.Contains(t, snap.Runs, ev.RunID)
		assert.Contains(t, snap.Steps, ev.StepID)
	}

	steps := reg.StepsForRun(runID)
	require.Len(t, steps, 6)
	for i := 1; i < len(steps); i++ {
		assert.Less(t, steps[i-1].ID, steps[i].ID)
	}
}

func TestNotificationSnapshotIsIsolated(t *testing.T) {
	reg, rec := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	first := rec.last().Snapshot

	require.NoError(t, reg.CompleteRun(runID, domain.RunStatusCompleted))

	assert.Equal(t, domain.RunStatusRunning, first.Runs[runID].Status)
	assert.Equal(t, domain.RunStatusCompleted, rec.last().Snapshot.Runs[runID].Status)
}

func TestSnapshotRoundTripRehydrate(t *testing.T) {
	reg, _ := newTestRegistry()
	runID := reg.NewRun("a.go", "")
	stepID, _, err := reg.NewLLMStep(domain.StepTypeExtract, "x", runID)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateLLMStep(LLMStepUpdate{StepID: stepID, Status: domain.StepStatusIdle}))
	_, err = reg.NewGotoStep("https://example.com", runID)
	require.NoError(t, err)

	data, err := json.Marshal(reg.Snapshot())
	require.NoError(t, err)

	snap, err := domain.Rehydrate(data)
	require.NoError(t, err)
	for _, r := range snap.Runs {
		assert.True(t, r.Status.IsTerminal())
	}
	for _, s := range snap.Steps {
		assert.True(t, s.Status.IsTerminal())
	}
	for _, e := range snap.Evals {
		assert.True(t, e.Status.IsTerminal())
	}
	assert.Equal(t, runID, snap.Cursor().RunID)
}
