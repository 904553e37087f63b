package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Run represents one execution of a triggered script.
type Run struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	File        string     `json:"file"`
	Code        string     `json:"code"`
	Status      RunStatus  `json:"status"`
}

// Step is one capability invocation within a run. It is a tagged union on
// Type: goto steps carry URL, LLM steps carry the eval pointers.
type Step struct {
	Type           StepType   `json:"type"`
	ID             string     `json:"id"`
	RunID          string     `json:"runId"`
	Status         StepStatus `json:"status"`
	URL            string     `json:"url,omitempty"`
	OriginalEvalID string     `json:"originalEvalId,omitempty"`
	FinalEvalID    *string    `json:"finalEvalId,omitempty"`
}

type llmStepJSON struct {
	Type           StepType   `json:"type"`
	ID             string     `json:"id"`
	RunID          string     `json:"runId"`
	OriginalEvalID string     `json:"originalEvalId"`
	FinalEvalID    *string    `json:"finalEvalId"`
	Status         StepStatus `json:"status"`
}

type gotoStepJSON struct {
	Type   StepType   `json:"type"`
	ID     string     `json:"id"`
	RunID  string     `json:"runId"`
	URL    string     `json:"url"`
	Status StepStatus `json:"status"`
}

// MarshalJSON emits the variant shape for the step type, so LLM steps always
// carry an explicit finalEvalId (null until finalized) and goto steps never do.
func (s Step) MarshalJSON() ([]byte, error) {
	if s.Type == StepTypeGoto {
		return json.Marshal(gotoStepJSON{
			Type:   s.Type,
			ID:     s.ID,
			RunID:  s.RunID,
			URL:    s.URL,
			Status: s.Status,
		})
	}
	if !s.Type.IsLLM() {
		return nil, fmt.Errorf("unknown step type %q", s.Type)
	}
	return json.Marshal(llmStepJSON{
		Type:           s.Type,
		ID:             s.ID,
		RunID:          s.RunID,
		OriginalEvalID: s.OriginalEvalID,
		FinalEvalID:    s.FinalEvalID,
		Status:         s.Status,
	})
}

// Eval is one concrete instruction and result pair. Result is always the
// serialized capability payload.
type Eval struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	StepID      string     `json:"stepId"`
	RunID       string     `json:"runId"`
	Prompt      string     `json:"prompt"`
	Result      *string    `json:"result"`
	Status      EvalStatus `json:"status"`
}

// Cursor points at the most recently created entity of each kind.
type Cursor struct {
	RunID  string `json:"currentRunId"`
	StepID string `json:"currentStepId"`
	EvalID string `json:"currentEvalId"`
}

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusCrashed
}

// IsTerminal reports whether the step status is final.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusCrashed
}

// IsTerminal reports whether the eval status is final.
func (s EvalStatus) IsTerminal() bool {
	return s == EvalStatusCompleted || s == EvalStatusCrashed
}
