package agent

import (
	"context"
	"strings"
	"time"

	"tabular/internal/llm"
	"tabular/internal/observability"
)

// ModeAgentData fills the documented prompt placeholders at mode entry.
type ModeAgentData struct {
	Datasets            string
	DatasetDescriptions string
	TodaysDate          time.Time
}

// Mode is a named configuration fixing the system prompt, model, tool set,
// and terminating tools for a phase of agent reasoning.
type Mode struct {
	Name             string
	PromptTemplate   string
	Model            string
	LoadTools        func(a *Agent)
	TerminatingTools []string
	// NextMode, when set, names the mode entered after a terminating tool
	// fires (e.g. no_search_needed exits data-catalog back to the
	// super-agent).
	NextMode func(terminatedBy string) *Mode
	// SelfTransition may inspect state at the start of a turn and return a
	// mode to switch into; transitions never happen mid-turn.
	SelfTransition func(ctx context.Context, a *Agent) *Mode
}

// RenderPrompt substitutes the documented placeholders with agent data.
func (m *Mode) RenderPrompt(data ModeAgentData) string {
	r := strings.NewReplacer(
		"{DATASETS}", data.Datasets,
		"{DATASET_DESCRIPTIONS}", data.DatasetDescriptions,
		"{TODAYS_DATE}", data.TodaysDate.Format("2006-01-02"),
	)
	return r.Replace(m.PromptTemplate)
}

// IsTerminating reports whether a successful call to name ends the run for
// this mode.
func (m *Mode) IsTerminating(name string) bool {
	for _, t := range m.TerminatingTools {
		if t == name {
			return true
		}
	}
	return false
}

// EnterMode clears the registry, loads the mode's tools, and installs the
// rendered system prompt at the head of the thread.
func (a *Agent) EnterMode(ctx context.Context, mode *Mode, data ModeAgentData, thread []llm.Message) []llm.Message {
	observability.LoggerWithTrace(ctx).Info().
		Str("mode", mode.Name).
		Str("model", mode.Model).
		Msg("agent_mode_enter")

	a.mode = mode
	a.Registry.ClearTools()
	if mode.LoadTools != nil {
		mode.LoadTools(a)
	}

	system := llm.Message{Role: "system", Content: mode.RenderPrompt(data)}
	if len(thread) > 0 && thread[0].Role == "system" {
		out := append([]llm.Message{system}, thread[1:]...)
		return out
	}
	return append([]llm.Message{system}, thread...)
}

func (m *Mode) maybeSelfTransition(ctx context.Context, a *Agent) {
	if m.SelfTransition == nil {
		return
	}
	if next := m.SelfTransition(ctx, a); next != nil && next != m {
		a.mode = next
		a.Registry.ClearTools()
		if next.LoadTools != nil {
			next.LoadTools(a)
		}
		observability.LoggerWithTrace(ctx).Info().
			Str("from", m.Name).Str("to", next.Name).Msg("agent_mode_self_transition")
	}
}

func (m *Mode) transitionAfter(ctx context.Context, a *Agent, terminatedBy string) {
	if m.NextMode == nil {
		return
	}
	if next := m.NextMode(terminatedBy); next != nil && next != m {
		a.mode = next
		a.Registry.ClearTools()
		if next.LoadTools != nil {
			next.LoadTools(a)
		}
		observability.LoggerWithTrace(ctx).Info().
			Str("from", m.Name).Str("to", next.Name).Str("terminated_by", terminatedBy).Msg("agent_mode_transition")
	}
}
