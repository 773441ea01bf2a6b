// Package llm abstracts the OpenAI-compatible chat-completions wire format
// used by the agent and its sub-calls.
package llm

import (
	"context"
	"encoding/json"
)

type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Message is one entry of the LLM-wire thread.
type Message struct {
	Role    string // "system" | "developer" | "user" | "assistant" | "tool"
	Content string
	Name    string
	ToolID  string
	// ToolCalls are only set on assistant messages.
	ToolCalls []ToolCall
}

type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamHandler receives streaming callbacks in wire order.
type StreamHandler interface {
	// OnDelta receives assistant content deltas.
	OnDelta(content string)
	// OnToolCallStart fires when a tool call first appears on the stream.
	OnToolCallStart(index int, id, name string)
	// OnToolCallDelta receives incremental tool-call argument text. The
	// concatenation of deltas for one index is the final argument JSON.
	OnToolCallDelta(index int, id, argsDelta string)
	// OnToolCall fires once per tool call when its arguments are complete.
	OnToolCall(tc ToolCall)
}

// Options tune a single completion request.
type Options struct {
	// JSONResponse requests response_format {"type": "json_object"}.
	JSONResponse bool
	// MaxTokens caps the completion when > 0.
	MaxTokens int
}

type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, opts Options) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, opts Options, h StreamHandler) error
}
