package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStepMarshalVariants(t *testing.T) {
	llm := Step{Type: StepTypeExtract, ID: "s1", RunID: "r1", OriginalEvalID: "e1", Status: StepStatusIdle}
	data, err := json.Marshal(llm)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"extract","id":"s1","runId":"r1","originalEvalId":"e1","finalEvalId":null,"status":"idle"}`, string(data))

	nav := Step{Type: StepTypeGoto, ID: "s2", RunID: "r1", URL: "https://example.com", Status: StepStatusCompleted}
	data, err = json.Marshal(nav)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"goto","id":"s2","runId":"r1","url":"https://example.com","status":"completed"}`, string(data))

	_, err = json.Marshal(Step{Type: "scroll"})
	assert.Error(t, err)
}

func TestRehydrateMarksInterrupted(t *testing.T) {
	snap := NewSnapshot()
	snap.CurrentRunID = strPtr("r1")
	snap.Runs["r1"] = Run{ID: "r1", StartedAt: time.Unix(0, 0).UTC(), Status: RunStatusRunning}
	snap.Runs["r0"] = Run{ID: "r0", StartedAt: time.Unix(0, 0).UTC(), Status: RunStatusCompleted}
	snap.Steps["s1"] = Step{Type: StepTypeObserve, ID: "s1", RunID: "r1", OriginalEvalID: "e1", Status: StepStatusIdle}
	snap.Steps["s2"] = Step{Type: StepTypeGoto, ID: "s2", RunID: "r1", URL: "https://example.com", Status: StepStatusRunning}
	snap.Evals["e1"] = Eval{ID: "e1", StepID: "s1", RunID: "r1", Status: EvalStatusRunning}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	got, err := Rehydrate(data)
	require.NoError(t, err)

	assert.Equal(t, RunStatusCrashed, got.Runs["r1"].Status)
	assert.Equal(t, RunStatusCompleted, got.Runs["r0"].Status)
	assert.Equal(t, StepStatusCrashed, got.Steps["s1"].Status)
	assert.Equal(t, StepStatusCrashed, got.Steps["s2"].Status)
	assert.Equal(t, EvalStatusCrashed, got.Evals["e1"].Status)
	assert.Equal(t, "r1", got.Cursor().RunID)
}

func TestRehydrateEmptyAndInvalid(t *testing.T) {
	got, err := Rehydrate([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Runs)
	assert.NotNil(t, got.Steps)
	assert.NotNil(t, got.Evals)

	_, err = Rehydrate([]byte(`not json`))
	assert.Error(t, err)
}

func TestMergeKeepsHistory(t *testing.T) {
	prev := NewSnapshot()
	prev.CurrentRunID = strPtr("r0")
	prev.Runs["r0"] = Run{ID: "r0", Status: RunStatusCrashed}

	next := NewSnapshot()
	next.CurrentRunID = strPtr("r1")
	next.Runs["r1"] = Run{ID: "r1", Status: RunStatusRunning}
	next.Runs["r0"] = Run{ID: "r0", Status: RunStatusCompleted}

	got := Merge(prev, next)
	assert.Len(t, got.Runs, 2)
	assert.Equal(t, RunStatusCompleted, got.Runs["r0"].Status)
	assert.Equal(t, "r1", got.Cursor().RunID)

	// prev is not mutated
	assert.Len(t, prev.Runs, 1)
	assert.Equal(t, RunStatusCrashed, prev.Runs["r0"].Status)
}

func TestMergeKeepsCursorWhenNextHasNone(t *testing.T) {
	prev := NewSnapshot()
	prev.CurrentStepID = strPtr("s9")
	got := Merge(prev, NewSnapshot())
	assert.Equal(t, "s9", got.Cursor().StepID)
}

func TestStepsForRunOrdered(t *testing.T) {
	snap := NewSnapshot()
	snap.Steps["b"] = Step{ID: "b", RunID: "r1"}
	snap.Steps["a"] = Step{ID: "a", RunID: "r1"}
	snap.Steps["c"] = Step{ID: "c", RunID: "r2"}

	steps := snap.StepsForRun("r1")
	require.Len(t, steps, 2)
	assert.Equal(t, "a", steps[0].ID)
	assert.Equal(t, "b", steps[1].ID)
}
