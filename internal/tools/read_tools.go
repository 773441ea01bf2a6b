package tools

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"tabular/internal/models"
	"tabular/internal/sharing"
)

// --- search_existing_metrics_dashboards ---

type SearchExistingAssetsTool struct{ env *Env }

func NewSearchExistingAssetsTool(env *Env) *SearchExistingAssetsTool {
	return &SearchExistingAssetsTool{env: env}
}

func (t *SearchExistingAssetsTool) Name() string { return "search_existing_metrics_dashboards" }

func (t *SearchExistingAssetsTool) Description() string {
	return "Search previously saved metrics and dashboards by name so existing assets can be reused."
}

func (t *SearchExistingAssetsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Free-text search over asset names.",
			},
		},
		"required": []any{"query"},
	}
}

func (t *SearchExistingAssetsTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *SearchExistingAssetsTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	results, err := t.env.Index.Search(ctx, args.Query, 20)
	if err != nil {
		return nil, err
	}
	type hit struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		if r.AssetType != models.AssetTypeMetricFile && r.AssetType != models.AssetTypeDashboardFile {
			continue
		}
		hits = append(hits, hit{ID: r.AssetID.String(), Type: string(r.AssetType), Name: r.Content})
	}
	return map[string]any{"results": hits}, nil
}

// --- open_files ---

type OpenFilesTool struct{ env *Env }

func NewOpenFilesTool(env *Env) *OpenFilesTool {
	return &OpenFilesTool{env: env}
}

func (t *OpenFilesTool) Name() string { return "open_files" }

func (t *OpenFilesTool) Description() string {
	return "Open metric or dashboard files by id and return their YAML content."
}

func (t *OpenFilesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":        map[string]any{"type": "string"},
						"file_type": map[string]any{"type": "string", "enum": []any{"metric", "dashboard"}},
					},
					"required": []any{"id", "file_type"},
				},
			},
		},
		"required": []any{"files"},
	}
}

func (t *OpenFilesTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *OpenFilesTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args struct {
		Files []struct {
			ID       uuid.UUID `json:"id"`
			FileType string    `json:"file_type"`
		} `json:"files"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}

	type opened struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		FileType      string `json:"file_type"`
		VersionNumber int    `json:"version_number"`
		YmlContent    string `json:"yml_content"`
	}
	var out []opened
	var failures []FileFailure
	for _, f := range args.Files {
		switch f.FileType {
		case "metric":
			view, err := t.env.Metrics.Get(ctx, t.env.User, f.ID, nil, sharing.Options{})
			if err != nil {
				failures = append(failures, FileFailure{ID: f.ID.String(), Error: err.Error()})
				continue
			}
			out = append(out, opened{
				ID: f.ID.String(), Name: view.Metric.Name, FileType: "metric",
				VersionNumber: view.VersionNumber, YmlContent: view.Yml,
			})
		case "dashboard":
			view, err := t.env.Dashboards.Get(ctx, t.env.User, f.ID, nil, sharing.Options{})
			if err != nil {
				failures = append(failures, FileFailure{ID: f.ID.String(), Error: err.Error()})
				continue
			}
			out = append(out, opened{
				ID: f.ID.String(), Name: view.Dashboard.Name, FileType: "dashboard",
				VersionNumber: view.VersionNumber, YmlContent: view.Yml,
			})
		default:
			failures = append(failures, FileFailure{ID: f.ID.String(), Error: "unknown file type " + f.FileType})
		}
	}
	return map[string]any{"files": out, "failed_files": failures}, nil
}
