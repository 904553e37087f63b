package ws

import "github.com/heyglassy/flyspace/internal/domain"

// Message types from client to server
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeTrigger      = "trigger"
	TypeNewEval      = "new_eval"
	TypeCompleteStep = "complete_step"
)

// Message types from server to client
const (
	TypeState = "state"
	TypeFrame = "frame"
	TypeAck   = "ack"
	TypeError = "error"
)

// Subscription topics
const (
	TopicState  = "state"
	TopicFrames = "frames"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
}

// SubscribeMessage subscribes to or unsubscribes from a topic.
type SubscribeMessage struct {
	BaseMessage
	Topic string `json:"topic"`
}

// TriggerMessage asks the engine to run an entry point.
type TriggerMessage struct {
	BaseMessage
	File       string `json:"file"`
	ExportName string `json:"exportName"`
}

// NewEvalMessage replays the suspended step with a new prompt.
type NewEvalMessage struct {
	BaseMessage
	Prompt string `json:"prompt"`
}

// StateMessage carries the whole execution state.
type StateMessage struct {
	BaseMessage
	State domain.Snapshot `json:"state"`
}

// FrameMessage carries one screencast frame.
type FrameMessage struct {
	BaseMessage
	Frame domain.Frame `json:"frame"`
}

// AckMessage confirms a command. Trigger is set for trigger commands.
type AckMessage struct {
	BaseMessage
	Command string                  `json:"command"`
	Trigger *domain.TriggerResponse `json:"trigger,omitempty"`
}

// ErrorMessage is sent when a message cannot be handled.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeUnknownTopic   = "unknown_topic"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeRunInProgress  = "run_in_progress"
	ErrorCodeNoPendingStep  = "no_pending_step"
	ErrorCodeInternalError  = "internal_error"
)
