package tools

import (
	"context"
	"encoding/json"
)

// Response tools terminate the run and set the final assistant message.

type responseTool struct {
	env         *Env
	name        string
	description string
	argumentKey string
}

func (t *responseTool) Name() string { return t.name }

func (t *responseTool) Description() string { return t.description }

func (t *responseTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			t.argumentKey: map[string]any{
				"type":        "string",
				"description": "The message shown to the user.",
			},
		},
		"required": []any{t.argumentKey},
	}
}

func (t *responseTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *responseTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args map[string]string
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	t.env.State.SetValue("final_response", args[t.argumentKey])
	return map[string]string{"message": "Response sent."}, nil
}

// NewDoneTool ends the run after completing all planned work.
func NewDoneTool(env *Env) Tool {
	return &responseTool{
		env:         env,
		name:        "done",
		description: "Mark the request complete and deliver the final response to the user.",
		argumentKey: "final_response",
	}
}

// NewFinishAndRespondTool ends the run with a final message.
func NewFinishAndRespondTool(env *Env) Tool {
	return &responseTool{
		env:         env,
		name:        "finish_and_respond",
		description: "Finish the analysis and send the final response to the user.",
		argumentKey: "final_response",
	}
}

// NewMessageNotifyUserTool sends an interim notification without ending the
// conversation semantics; it still terminates the current run.
func NewMessageNotifyUserTool(env *Env) Tool {
	return &responseTool{
		env:         env,
		name:        "message_notify_user",
		description: "Notify the user with a short message.",
		argumentKey: "text",
	}
}
