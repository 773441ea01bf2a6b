package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"tabular/internal/files"
	"tabular/internal/models"
)

// File tools apply lists of {name|id, yml_content} operations. Each file is
// processed independently: successes persist even when siblings fail, and
// failures are reported per file.

type createFileArgs struct {
	Files []struct {
		Name       string `json:"name"`
		YmlContent string `json:"yml_content"`
	} `json:"files"`
}

type modifyFileArgs struct {
	Files []struct {
		ID         uuid.UUID `json:"id"`
		YmlContent string    `json:"yml_content"`
	} `json:"files"`
}

// FileToolOutput is the shared result payload of the four file tools.
type FileToolOutput struct {
	Message  string        `json:"message"`
	FileIDs  []uuid.UUID   `json:"file_ids"`
	Failures []FileFailure `json:"failed_files,omitempty"`
}

type FileFailure struct {
	Name  string `json:"name,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

func fileListSchema(withID bool) map[string]any {
	fileProps := map[string]any{
		"yml_content": map[string]any{
			"type":        "string",
			"description": "The YAML content of the file.",
		},
	}
	required := []any{"yml_content"}
	if withID {
		fileProps["id"] = map[string]any{
			"type":        "string",
			"description": "The id of the existing file to modify.",
		}
		required = append(required, "id")
	} else {
		fileProps["name"] = map[string]any{
			"type":        "string",
			"description": "The name of the new file.",
		}
		required = append(required, "name")
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"files": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": fileProps,
					"required":   required,
				},
			},
		},
		"required": []any{"files"},
	}
}

// --- create_metric_files ---

type CreateMetricFilesTool struct{ env *Env }

func NewCreateMetricFilesTool(env *Env) *CreateMetricFilesTool {
	return &CreateMetricFilesTool{env: env}
}

func (t *CreateMetricFilesTool) Name() string { return "create_metric_files" }

func (t *CreateMetricFilesTool) Description() string {
	return "Create one or more metric files from YAML definitions. Each file's SQL is validated before persisting."
}

func (t *CreateMetricFilesTool) Parameters() map[string]any { return fileListSchema(false) }

func (t *CreateMetricFilesTool) IsEnabled(ctx context.Context, state State) bool {
	// Metric creation needs dataset context from the catalog phase.
	v, ok := state.Value("data_context")
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (t *CreateMetricFilesTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args createFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	out := FileToolOutput{}
	for _, f := range args.Files {
		metric, err := t.env.Metrics.Create(ctx, t.env.User, f.YmlContent)
		if err != nil {
			out.Failures = append(out.Failures, FileFailure{Name: f.Name, Error: err.Error()})
			continue
		}
		out.FileIDs = append(out.FileIDs, metric.ID)
		t.env.recordCreatedFile(CreatedFile{
			ID: metric.ID, Name: metric.Name,
			FileType: models.AssetTypeMetricFile, VersionNumber: metric.VersionHistory.LatestNumber(),
		})
	}
	out.Message = fmt.Sprintf("Successfully created %d metric files.", len(out.FileIDs))
	return out, nil
}

// --- modify_metric_files ---

type ModifyMetricFilesTool struct{ env *Env }

func NewModifyMetricFilesTool(env *Env) *ModifyMetricFilesTool {
	return &ModifyMetricFilesTool{env: env}
}

func (t *ModifyMetricFilesTool) Name() string { return "modify_metric_files" }

func (t *ModifyMetricFilesTool) Description() string {
	return "Replace the YAML content of existing metric files, creating a new version per file."
}

func (t *ModifyMetricFilesTool) Parameters() map[string]any { return fileListSchema(true) }

func (t *ModifyMetricFilesTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *ModifyMetricFilesTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args modifyFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	out := FileToolOutput{}
	for _, f := range args.Files {
		yml := f.YmlContent
		metric, err := t.env.Metrics.Update(ctx, t.env.User, f.ID, files.UpdateMetricRequest{YmlContent: &yml})
		if err != nil {
			out.Failures = append(out.Failures, FileFailure{ID: f.ID.String(), Error: err.Error()})
			continue
		}
		out.FileIDs = append(out.FileIDs, metric.ID)
		t.env.recordCreatedFile(CreatedFile{
			ID: metric.ID, Name: metric.Name,
			FileType: models.AssetTypeMetricFile, VersionNumber: metric.VersionHistory.LatestNumber(),
		})
	}
	out.Message = fmt.Sprintf("Successfully modified %d metric files.", len(out.FileIDs))
	return out, nil
}

// --- create_dashboard_files ---

type CreateDashboardFilesTool struct{ env *Env }

func NewCreateDashboardFilesTool(env *Env) *CreateDashboardFilesTool {
	return &CreateDashboardFilesTool{env: env}
}

func (t *CreateDashboardFilesTool) Name() string { return "create_dashboard_files" }

func (t *CreateDashboardFilesTool) Description() string {
	return "Create one or more dashboard files from YAML definitions. Row layout and metric references are validated."
}

func (t *CreateDashboardFilesTool) Parameters() map[string]any { return fileListSchema(false) }

func (t *CreateDashboardFilesTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *CreateDashboardFilesTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args createFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	out := FileToolOutput{}
	for _, f := range args.Files {
		dashboard, err := t.env.Dashboards.Create(ctx, t.env.User, f.YmlContent)
		if err != nil {
			out.Failures = append(out.Failures, FileFailure{Name: f.Name, Error: err.Error()})
			continue
		}
		out.FileIDs = append(out.FileIDs, dashboard.ID)
		t.env.recordCreatedFile(CreatedFile{
			ID: dashboard.ID, Name: dashboard.Name,
			FileType: models.AssetTypeDashboardFile, VersionNumber: dashboard.VersionHistory.LatestNumber(),
		})
	}
	out.Message = fmt.Sprintf("Successfully created %d dashboard files.", len(out.FileIDs))
	return out, nil
}

// --- modify_dashboard_files ---

type ModifyDashboardFilesTool struct{ env *Env }

func NewModifyDashboardFilesTool(env *Env) *ModifyDashboardFilesTool {
	return &ModifyDashboardFilesTool{env: env}
}

func (t *ModifyDashboardFilesTool) Name() string { return "modify_dashboard_files" }

func (t *ModifyDashboardFilesTool) Description() string {
	return "Replace the YAML content of existing dashboard files, creating a new version per file."
}

func (t *ModifyDashboardFilesTool) Parameters() map[string]any { return fileListSchema(true) }

func (t *ModifyDashboardFilesTool) IsEnabled(ctx context.Context, state State) bool { return true }

func (t *ModifyDashboardFilesTool) Execute(ctx context.Context, params json.RawMessage, toolCallID string) (any, error) {
	var args modifyFileArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	out := FileToolOutput{}
	for _, f := range args.Files {
		yml := f.YmlContent
		dashboard, err := t.env.Dashboards.Update(ctx, t.env.User, f.ID, files.UpdateDashboardRequest{YmlContent: &yml})
		if err != nil {
			out.Failures = append(out.Failures, FileFailure{ID: f.ID.String(), Error: err.Error()})
			continue
		}
		out.FileIDs = append(out.FileIDs, dashboard.ID)
		t.env.recordCreatedFile(CreatedFile{
			ID: dashboard.ID, Name: dashboard.Name,
			FileType: models.AssetTypeDashboardFile, VersionNumber: dashboard.VersionHistory.LatestNumber(),
		})
	}
	out.Message = fmt.Sprintf("Successfully modified %d dashboard files.", len(out.FileIDs))
	return out, nil
}
