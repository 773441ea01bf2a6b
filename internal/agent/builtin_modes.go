package agent

import (
	"tabular/internal/tools"
)

// AnalystMode is the super-agent phase: planning, file building, and the
// terminating response tools.
func AnalystMode(env *tools.Env, model string) *Mode {
	return &Mode{
		Name:           "analyst",
		PromptTemplate: AnalystAgentPrompt,
		Model:          model,
		LoadTools: func(a *Agent) {
			env.State = a.State
			a.Registry.AddTool(tools.NewSearchDataCatalogTool(env))
			a.Registry.AddTool(tools.NewCreatePlanStraightforwardTool(env))
			a.Registry.AddTool(tools.NewCreatePlanInvestigativeTool(env))
			a.Registry.AddTool(tools.NewCreateMetricFilesTool(env))
			a.Registry.AddTool(tools.NewModifyMetricFilesTool(env))
			a.Registry.AddTool(tools.NewCreateDashboardFilesTool(env))
			a.Registry.AddTool(tools.NewModifyDashboardFilesTool(env))
			a.Registry.AddTool(tools.NewSearchExistingAssetsTool(env))
			a.Registry.AddTool(tools.NewOpenFilesTool(env))
			a.Registry.AddTool(tools.NewDoneTool(env))
			a.Registry.AddTool(tools.NewFinishAndRespondTool(env))
			a.Registry.AddTool(tools.NewMessageNotifyUserTool(env))
		},
		TerminatingTools: []string{"done", "finish_and_respond", "message_notify_user"},
	}
}

// DataCatalogSearchMode gates the run on dataset retrieval; no_search_needed
// terminates it and hands control back to the analyst mode.
func DataCatalogSearchMode(env *tools.Env, model string, next *Mode) *Mode {
	m := &Mode{
		Name:           "data_catalog_search",
		PromptTemplate: DataCatalogSearchPrompt,
		Model:          model,
		LoadTools: func(a *Agent) {
			env.State = a.State
			a.Registry.AddTool(tools.NewSearchDataCatalogTool(env))
			a.Registry.AddTool(tools.NewNoSearchNeededTool(env))
		},
		TerminatingTools: []string{"no_search_needed"},
	}
	if next != nil {
		m.NextMode = func(string) *Mode { return next }
	}
	return m
}
