package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/files"
	"tabular/internal/llm"
	"tabular/internal/models"
	"tabular/internal/search"
	"tabular/internal/sharing"
	"tabular/internal/stores"
	"tabular/internal/tools"
)

// scriptedTurn is one LLM turn the fake provider plays back.
type scriptedTurn struct {
	content   string
	toolName  string
	toolArgs  string // streamed in chunks of chunkSize
	chunkSize int
}

type fakeProvider struct {
	turns []scriptedTurn
	calls int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string, opts llm.Options) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: `{"todos": ["build the metric"]}`}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, schemas []llm.ToolSchema, model string, opts llm.Options, h llm.StreamHandler) error {
	if f.calls >= len(f.turns) {
		h.OnDelta("All done.")
		return nil
	}
	turn := f.turns[f.calls]
	f.calls++

	if turn.content != "" {
		for _, chunk := range splitChunks(turn.content, 5) {
			h.OnDelta(chunk)
		}
		return nil
	}

	id := "call_" + uuid.NewString()[:8]
	h.OnToolCallStart(0, id, turn.toolName)
	size := turn.chunkSize
	if size <= 0 {
		size = 7
	}
	for _, chunk := range splitChunks(turn.toolArgs, size) {
		h.OnToolCallDelta(0, id, chunk)
	}
	h.OnToolCall(llm.ToolCall{ID: id, Name: turn.toolName, Args: json.RawMessage(turn.toolArgs)})
	return nil
}

func timeDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func splitChunks(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func newToolEnv(t *testing.T) (*tools.Env, *stores.Memory, *models.AuthenticatedUser) {
	t.Helper()
	mem := stores.NewMemory()
	resolver := sharing.NewResolver(sharing.NewStore(
		mem.MetricFiles(), mem.DashboardFiles(), mem.Collections(), mem.Chats(), mem.Permissions()))
	deps := &files.Deps{
		Metrics:     mem.MetricFiles(),
		Dashboards:  mem.DashboardFiles(),
		Collections: mem.Collections(),
		Datasets:    mem.Datasets(),
		Orgs:        mem.Organizations(),
		Permissions: mem.Permissions(),
		Resolver:    resolver,
		Index:       search.NewMemory(),
	}
	userID := uuid.New()
	user := &models.AuthenticatedUser{
		User:          models.User{ID: userID, Email: "u@example.com"},
		Organizations: []models.Membership{{UserID: userID, OrganizationID: uuid.New(), Role: models.OrgRoleQuerier}},
	}
	env := &tools.Env{
		User:       user,
		ChatID:     uuid.New(),
		Metrics:    files.NewMetricService(deps),
		Dashboards: files.NewDashboardService(deps),
		Index:      search.NewMemory(),
	}
	return env, mem, user
}

const metricToolArgs = `{"files":[{"name":"a","yml_content":"name: a\nsql: SELECT 1 AS v\ntime_frame: daily\nchart_config:\n  selectedChartType: metric\n  metric_column_id: v\ndataset_ids: []\n"}]}`

// S6: streaming a create_metric_files call yields incremental file deltas
// whose concatenation equals the final yml_content, persists the asset at
// version 1, and brackets the turn with MessageStart/MessageComplete.
func TestAgentStreamingToolCall(t *testing.T) {
	env, mem, user := newToolEnv(t)
	provider := &fakeProvider{turns: []scriptedTurn{
		{toolName: "create_metric_files", toolArgs: metricToolArgs, chunkSize: 9},
		{toolName: "finish_and_respond", toolArgs: `{"final_response":"Built the Rev metric."}`},
	}}

	a := New(user.ID, env.ChatID, provider)
	thread := a.EnterMode(context.Background(), AnalystMode(env, "gpt-test"), ModeAgentData{}, []llm.Message{
		{Role: "user", Content: "build a metric"},
	})
	a.State.SetValue(StateKeyDataContext, true)

	var events []Event
	for ev := range a.Run(context.Background(), thread) {
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, EventMessageStart, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, EventMessageComplete, last.Kind)
	assert.Equal(t, "Built the Rev metric.", last.FinalContent)

	// Reasoning deltas reconstruct the yml_content exactly.
	var reconstructed strings.Builder
	var sawDelta bool
	for _, ev := range events {
		if ev.Kind == EventReasoningDelta && ev.ReasoningFile != nil {
			sawDelta = true
			for _, id := range ev.ReasoningFile.FileIDs {
				reconstructed.WriteString(ev.ReasoningFile.Files[id].TextChunk)
			}
		}
	}
	assert.True(t, sawDelta, "expected at least one file reasoning delta")
	assert.Equal(t, "name: a\nsql: SELECT 1 AS v\ntime_frame: daily\nchart_config:\n  selectedChartType: metric\n  metric_column_id: v\ndataset_ids: []\n", reconstructed.String())

	// ToolComplete fired for both calls and the asset is persisted at v1.
	var toolCompletes int
	for _, ev := range events {
		if ev.Kind == EventToolComplete {
			toolCompletes++
			assert.True(t, ev.Success)
		}
	}
	assert.Equal(t, 2, toolCompletes)

	created := tools.CreatedFiles(a.State)
	require.Len(t, created, 1)
	metric, err := mem.Get(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, metric.VersionHistory.LatestNumber())
	assert.Equal(t, "a", metric.Name)
}

func TestAgentPlainMessageEndsRun(t *testing.T) {
	env, _, user := newToolEnv(t)
	provider := &fakeProvider{turns: []scriptedTurn{{content: "Hello there."}}}

	a := New(user.ID, env.ChatID, provider)
	thread := a.EnterMode(context.Background(), AnalystMode(env, "gpt-test"), ModeAgentData{}, []llm.Message{
		{Role: "user", Content: "hi"},
	})

	var events []Event
	for ev := range a.Run(context.Background(), thread) {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, EventMessageStart, events[0].Kind)
	assert.Equal(t, EventMessageComplete, events[1].Kind)
	assert.Equal(t, "Hello there.", events[1].FinalContent)
}

func TestAgentUnknownToolReportsAndContinues(t *testing.T) {
	env, _, user := newToolEnv(t)
	provider := &fakeProvider{turns: []scriptedTurn{
		{toolName: "imaginary_tool", toolArgs: `{}`},
		{content: "Recovered."},
	}}

	a := New(user.ID, env.ChatID, provider)
	thread := a.EnterMode(context.Background(), AnalystMode(env, "gpt-test"), ModeAgentData{}, []llm.Message{
		{Role: "user", Content: "go"},
	})

	var events []Event
	for ev := range a.Run(context.Background(), thread) {
		events = append(events, ev)
	}
	last := events[len(events)-1]
	assert.Equal(t, EventMessageComplete, last.Kind)
	assert.Equal(t, "Recovered.", last.FinalContent)
}

func TestAgentSchemaViolationReportedToModel(t *testing.T) {
	env, mem, user := newToolEnv(t)
	provider := &fakeProvider{turns: []scriptedTurn{
		// files must be an array; the model sent a string.
		{toolName: "create_metric_files", toolArgs: `{"files": "oops"}`},
		{content: "Understood."},
	}}

	a := New(user.ID, env.ChatID, provider)
	thread := a.EnterMode(context.Background(), AnalystMode(env, "gpt-test"), ModeAgentData{}, []llm.Message{
		{Role: "user", Content: "go"},
	})
	a.State.SetValue(StateKeyDataContext, true)

	var toolEvents []Event
	for ev := range a.Run(context.Background(), thread) {
		if ev.Kind == EventToolComplete {
			toolEvents = append(toolEvents, ev)
		}
	}
	require.Len(t, toolEvents, 1)
	assert.False(t, toolEvents[0].Success)
	assert.Contains(t, string(toolEvents[0].Output), "schema")

	// Nothing was persisted.
	assert.Empty(t, tools.CreatedFiles(a.State))
	_ = mem
}

func TestAgentLoopCapExceeded(t *testing.T) {
	env, _, user := newToolEnv(t)
	// Endless non-terminating tool calls.
	turns := make([]scriptedTurn, MaxTurns+1)
	for i := range turns {
		turns[i] = scriptedTurn{toolName: "search_existing_metrics_dashboards", toolArgs: `{"query":"x"}`}
	}
	provider := &fakeProvider{turns: turns}

	a := New(user.ID, env.ChatID, provider)
	thread := a.EnterMode(context.Background(), AnalystMode(env, "gpt-test"), ModeAgentData{}, []llm.Message{
		{Role: "user", Content: "loop"},
	})

	var last Event
	for ev := range a.Run(context.Background(), thread) {
		last = ev
	}
	assert.Equal(t, EventError, last.Kind)
	assert.Equal(t, "loop_cap_exceeded", last.ErrKind)
}

func TestModeTransitionOnTerminatingTool(t *testing.T) {
	env, _, user := newToolEnv(t)
	provider := &fakeProvider{turns: []scriptedTurn{
		{toolName: "no_search_needed", toolArgs: `{"reason":"context is sufficient"}`},
	}}

	a := New(user.ID, env.ChatID, provider)
	analyst := AnalystMode(env, "gpt-test")
	catalogMode := DataCatalogSearchMode(env, "gpt-test", analyst)
	thread := a.EnterMode(context.Background(), catalogMode, ModeAgentData{}, []llm.Message{
		{Role: "user", Content: "show revenue"},
	})

	for range a.Run(context.Background(), thread) {
	}
	assert.Equal(t, "analyst", a.Mode().Name)
}

func TestRenderPromptPlaceholders(t *testing.T) {
	m := &Mode{PromptTemplate: "date={TODAYS_DATE} sets={DATASETS} desc={DATASET_DESCRIPTIONS}"}
	out := m.RenderPrompt(ModeAgentData{
		Datasets:            "a",
		DatasetDescriptions: "b",
		TodaysDate:          timeDate(2026, 8, 1),
	})
	assert.Equal(t, "date=2026-08-01 sets=a desc=b", out)
}
