// Package tools defines the executable capabilities the agent can call and
// the registry that dispatches them.
package tools

import (
	"context"
	"encoding/json"

	"tabular/internal/llm"
)

// State is the agent's mutable key/value state as seen by tools. Tools use it
// to gate their own availability and to hand results forward to later turns.
type State interface {
	Value(key string) (any, bool)
	SetValue(key string, value any)
}

// Tool is an executable capability. Execute runs one logical step and may
// suspend for I/O; its output is serialized into the tool-role message.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema for the tool's arguments.
	Parameters() map[string]any
	// IsEnabled decides whether the tool is offered to the model for the
	// coming turn, given the current agent state.
	IsEnabled(ctx context.Context, state State) bool
	Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error)
}

// Schema renders a tool into the wire-format schema sent to the LLM.
func Schema(t Tool) llm.ToolSchema {
	return llm.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}
