// Package domain defines the core domain models for the instrumented run engine.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCrashed   RunStatus = "crashed"
)

// StepType represents the capability a step records.
type StepType string

const (
	StepTypeAct     StepType = "act"
	StepTypeExtract StepType = "extract"
	StepTypeObserve StepType = "observe"
	StepTypeGoto    StepType = "goto"
)

// IsLLM reports whether the step type is one of the AI-mediated capabilities.
func (t StepType) IsLLM() bool {
	switch t {
	case StepTypeAct, StepTypeExtract, StepTypeObserve:
		return true
	}
	return false
}

// StepStatus represents the status of a step. Goto steps never enter idle.
type StepStatus string

const (
	StepStatusIdle      StepStatus = "idle"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusCrashed   StepStatus = "crashed"
)

// EvalStatus represents the status of an eval.
type EvalStatus string

const (
	EvalStatusRunning   EvalStatus = "running"
	EvalStatusCompleted EvalStatus = "completed"
	EvalStatusCrashed   EvalStatus = "crashed"
)

// EventType represents the type of a journal event.
type EventType string

const (
	EventTypeRunStarted    EventType = "run_started"
	EventTypeRunCompleted  EventType = "run_completed"
	EventTypeStepStarted   EventType = "step_started"
	EventTypeStepUpdated   EventType = "step_updated"
	EventTypeEvalStarted   EventType = "eval_started"
	EventTypeEvalCompleted EventType = "eval_completed"
)
