package tools

import (
	"github.com/google/uuid"

	"tabular/internal/catalog"
	"tabular/internal/files"
	"tabular/internal/llm"
	"tabular/internal/models"
	"tabular/internal/search"
)

// Env carries the per-run dependencies the tools close over: the acting
// user, the session, and the services they mutate.
type Env struct {
	User   *models.AuthenticatedUser
	ChatID uuid.UUID
	State  State

	Metrics    *files.MetricService
	Dashboards *files.DashboardService
	Catalog    *catalog.Searcher
	Index      search.Index
	Provider   llm.Provider
	// PlannerModel is the model used for planning sub-calls.
	PlannerModel string
}

// CreatedFile records a file a tool produced this turn so the chat layer
// can link it to the producing message.
type CreatedFile struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	FileType      models.AssetType `json:"file_type"`
	VersionNumber int              `json:"version_number"`
}

// recordCreatedFile appends to the files_created state list.
func (e *Env) recordCreatedFile(f CreatedFile) {
	var existing []CreatedFile
	if v, ok := e.State.Value("files_created"); ok {
		existing, _ = v.([]CreatedFile)
	}
	e.State.SetValue("files_created", append(existing, f))
}

// CreatedFiles reads back the files recorded during a run.
func CreatedFiles(state State) []CreatedFile {
	v, ok := state.Value("files_created")
	if !ok {
		return nil
	}
	out, _ := v.([]CreatedFile)
	return out
}
