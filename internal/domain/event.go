package domain

import "encoding/json"

// Event is one journaled registry mutation.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Mutation names one registry change and the entities it touched.
type Mutation struct {
	Type   EventType `json:"type"`
	RunID  string    `json:"run_id"`
	StepID string    `json:"step_id,omitempty"`
	EvalID string    `json:"eval_id,omitempty"`
}
