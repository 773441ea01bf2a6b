package agent

import (
	"encoding/json"

	"github.com/google/uuid"

	"tabular/internal/streaming"
)

// EventKind tags the wire events emitted over a run's stream.
type EventKind string

const (
	EventMessageStart    EventKind = "message_start"
	EventReasoningDelta  EventKind = "reasoning_delta"
	EventToolCallStart   EventKind = "tool_call_start"
	EventToolComplete    EventKind = "tool_complete"
	EventMessageComplete EventKind = "message_complete"
	EventError           EventKind = "error"
)

// Event is one streaming update. Events are emitted in strict order for a
// single run over a bounded channel; a slow consumer back-pressures the
// producer.
type Event struct {
	Kind      EventKind `json:"kind"`
	MessageID uuid.UUID `json:"message_id,omitempty"`
	ChatID    uuid.UUID `json:"chat_id,omitempty"`

	// ReasoningDelta payload: exactly one of File/Text plus the block id.
	BlockID       string                   `json:"block_id,omitempty"`
	ReasoningFile *streaming.ReasoningFile `json:"reasoning_file,omitempty"`
	ReasoningText *streaming.ReasoningText `json:"reasoning_text,omitempty"`

	// Tool events.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// MessageComplete payload.
	FinalContent string `json:"final_content,omitempty"`

	// Error payload (terminal).
	ErrKind    string `json:"err_kind,omitempty"`
	ErrMessage string `json:"err_message,omitempty"`
}
