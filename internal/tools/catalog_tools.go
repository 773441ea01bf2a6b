package tools

import (
	"context"
	"encoding/json"

	"tabular/internal/errs"
)

// --- search_data_catalog ---

type SearchDataCatalogTool struct{ env *Env }

func NewSearchDataCatalogTool(env *Env) *SearchDataCatalogTool {
	return &SearchDataCatalogTool{env: env}
}

func (t *SearchDataCatalogTool) Name() string { return "search_data_catalog" }

func (t *SearchDataCatalogTool) Description() string {
	return "Search the data catalog for datasets relevant to the given natural language queries. Returns a pruned YAML bundle of candidate datasets with matching column values."
}

func (t *SearchDataCatalogTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"specific_queries": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Concise, full-sentence queries targeting the needed data assets and attributes.",
			},
		},
		"required": []any{"specific_queries"},
	}
}

func (t *SearchDataCatalogTool) IsEnabled(ctx context.Context, state State) bool { return true }

type searchDataCatalogOutput struct {
	Message  string `json:"message"`
	Datasets string `json:"datasets"`
}

func (t *SearchDataCatalogTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args struct {
		SpecificQueries []string `json:"specific_queries"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if t.env.Catalog == nil {
		return nil, errs.Internal(nil)
	}
	if len(t.env.User.Organizations) == 0 {
		return nil, errs.Unauthorized()
	}
	orgID := t.env.User.Organizations[0].OrganizationID

	result, err := t.env.Catalog.Search(ctx, orgID, args.SpecificQueries)
	if err != nil {
		return nil, err
	}
	bundle, err := result.ToYamlBundle()
	if err != nil {
		return nil, err
	}

	// Dataset context is now available for the planning and file phases.
	t.env.State.SetValue("data_context", true)
	t.env.State.SetValue("search_performed", true)

	return searchDataCatalogOutput{
		Message:  "Found relevant datasets.",
		Datasets: bundle,
	}, nil
}

// --- no_search_needed ---

type NoSearchNeededTool struct{ env *Env }

func NewNoSearchNeededTool(env *Env) *NoSearchNeededTool {
	return &NoSearchNeededTool{env: env}
}

func (t *NoSearchNeededTool) Name() string { return "no_search_needed" }

func (t *NoSearchNeededTool) Description() string {
	return "Signal that the existing dataset context is sufficient and no catalog search is required."
}

func (t *NoSearchNeededTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why no search is needed, referencing the existing context.",
			},
		},
		"required": []any{"reason"},
	}
}

func (t *NoSearchNeededTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *NoSearchNeededTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	return map[string]string{"message": "No search needed.", "reason": args.Reason}, nil
}
