package tools

import (
	"context"
	"encoding/json"

	"tabular/internal/llm"
	"tabular/internal/observability"
)

// Planning tools store a plan string in agent state and derive a to-do list
// via an LLM sub-call so the later turns can track progress.

const todoPrompt = `Convert the following analysis plan into a short JSON to-do list.
Return a JSON object {"todos": ["...", ...]} with one entry per actionable step.

Plan:
`

type planTool struct {
	env         *Env
	name        string
	description string
}

func planParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan": map[string]any{
				"type":        "string",
				"description": "The step-by-step plan for fulfilling the user's request.",
			},
		},
		"required": []any{"plan"},
	}
}

func (t *planTool) Name() string { return t.name }

func (t *planTool) Description() string { return t.description }

func (t *planTool) Parameters() map[string]any { return planParameters() }

func (t *planTool) IsEnabled(ctx context.Context, state State) bool {
	// Planning requires dataset context and happens once per run.
	if v, ok := state.Value("plan_available"); ok {
		if b, _ := v.(bool); b {
			return false
		}
	}
	v, ok := state.Value("data_context")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (t *planTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}

	t.env.State.SetValue("plan", args.Plan)
	t.env.State.SetValue("plan_available", true)

	todos := t.generateTodos(ctx, args.Plan)
	if len(todos) > 0 {
		t.env.State.SetValue("todos", todos)
	}

	return map[string]any{
		"message": "Plan created.",
		"todos":   todos,
	}, nil
}

// generateTodos asks the model for a structured to-do list; planning still
// succeeds when the sub-call fails.
func (t *planTool) generateTodos(ctx context.Context, plan string) []string {
	if t.env.Provider == nil {
		return nil
	}
	msg, err := t.env.Provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: todoPrompt + plan},
	}, nil, t.env.PlannerModel, llm.Options{JSONResponse: true})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("todo_generation_failed")
		return nil
	}
	var parsed struct {
		Todos []string `json:"todos"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &parsed); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("todo_parse_failed")
		return nil
	}
	return parsed.Todos
}

// NewCreatePlanInvestigativeTool plans open-ended, exploratory analysis.
func NewCreatePlanInvestigativeTool(env *Env) Tool {
	return &planTool{
		env:         env,
		name:        "create_plan_investigative",
		description: "Create a plan for an open-ended, investigative analysis request.",
	}
}

// NewCreatePlanStraightforwardTool plans direct, well-specified requests.
func NewCreatePlanStraightforwardTool(env *Env) Tool {
	return &planTool{
		env:         env,
		name:        "create_plan_straightforward",
		description: "Create a plan for a direct, well-specified request.",
	}
}
