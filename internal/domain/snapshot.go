package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is the full registry state as seen by consumers.
type Snapshot struct {
	CurrentRunID  *string         `json:"currentRunId"`
	CurrentStepID *string         `json:"currentStepId"`
	CurrentEvalID *string         `json:"currentEvalId"`
	Runs          map[string]Run  `json:"runs"`
	Steps         map[string]Step `json:"steps"`
	Evals         map[string]Eval `json:"evals"`
}

// NewSnapshot returns an empty snapshot with initialised maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Runs:  make(map[string]Run),
		Steps: make(map[string]Step),
		Evals: make(map[string]Eval),
	}
}

// Cursor returns the snapshot's current pointers.
func (s Snapshot) Cursor() Cursor {
	return Cursor{
		RunID:  deref(s.CurrentRunID),
		StepID: deref(s.CurrentStepID),
		EvalID: deref(s.CurrentEvalID),
	}
}

// Clone returns a copy that shares no maps with s. Entity values are copied;
// their pointer fields are never mutated in place so they can be shared.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		CurrentRunID:  s.CurrentRunID,
		CurrentStepID: s.CurrentStepID,
		CurrentEvalID: s.CurrentEvalID,
		Runs:          make(map[string]Run, len(s.Runs)),
		Steps:         make(map[string]Step, len(s.Steps)),
		Evals:         make(map[string]Eval, len(s.Evals)),
	}
	for k, v := range s.Runs {
		out.Runs[k] = v
	}
	for k, v := range s.Steps {
		out.Steps[k] = v
	}
	for k, v := range s.Evals {
		out.Evals[k] = v
	}
	return out
}

// StepsForRun returns the run's steps ordered by creation (id order).
func (s Snapshot) StepsForRun(runID string) []Step {
	var steps []Step
	for _, step := range s.Steps {
		if step.RunID == runID {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps
}

// EvalsForStep returns the step's evals ordered by creation (id order).
func (s Snapshot) EvalsForStep(stepID string) []Eval {
	var evals []Eval
	for _, e := range s.Evals {
		if e.StepID == stepID {
			evals = append(evals, e)
		}
	}
	sort.Slice(evals, func(i, j int) bool { return evals[i].ID < evals[j].ID })
	return evals
}

// MarkInterrupted marks every run, step and eval still in a non-terminal
// status as crashed. A snapshot restored after the producing process is gone
// can never see those entities finish. It returns the number of entities
// changed.
func (s *Snapshot) MarkInterrupted() int {
	n := 0
	for id, r := range s.Runs {
		if !r.Status.IsTerminal() {
			r.Status = RunStatusCrashed
			s.Runs[id] = r
			n++
		}
	}
	for id, st := range s.Steps {
		if !st.Status.IsTerminal() {
			st.Status = StepStatusCrashed
			s.Steps[id] = st
			n++
		}
	}
	for id, e := range s.Evals {
		if !e.Status.IsTerminal() {
			e.Status = EvalStatusCrashed
			s.Evals[id] = e
			n++
		}
	}
	return n
}

// Rehydrate decodes a previously serialized snapshot and marks interrupted
// entities as crashed.
func Rehydrate(data []byte) (Snapshot, error) {
	snap := NewSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Runs == nil {
		snap.Runs = make(map[string]Run)
	}
	if snap.Steps == nil {
		snap.Steps = make(map[string]Step)
	}
	if snap.Evals == nil {
		snap.Evals = make(map[string]Eval)
	}
	snap.MarkInterrupted()
	return snap, nil
}

// Merge folds next into prev. Entities present in next replace those in prev,
// entities only in prev are kept, so history from earlier processes survives
// a restart. Cursor pointers come from next when set.
func Merge(prev, next Snapshot) Snapshot {
	out := prev.Clone()
	for k, v := range next.Runs {
		out.Runs[k] = v
	}
	for k, v := range next.Steps {
		out.Steps[k] = v
	}
	for k, v := range next.Evals {
		out.Evals[k] = v
	}
	if next.CurrentRunID != nil {
		out.CurrentRunID = next.CurrentRunID
	}
	if next.CurrentStepID != nil {
		out.CurrentStepID = next.CurrentStepID
	}
	if next.CurrentEvalID != nil {
		out.CurrentEvalID = next.CurrentEvalID
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
