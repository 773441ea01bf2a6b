package chats

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/files"
	"tabular/internal/models"
	"tabular/internal/search"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

type env struct {
	mem     *stores.Memory
	svc     *Service
	metrics *files.MetricService
	dash    *files.DashboardService
	orgID   uuid.UUID
}

func newEnv(t *testing.T) *env {
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
	metrics := files.NewMetricService(deps)
	dash := files.NewDashboardService(deps)
	svc := NewService(ServiceConfig{
		Chats:      mem.Chats(),
		Metrics:    metrics,
		Dashboards: dash,
		MetricRows: mem.MetricFiles(),
		DashRows:   mem.DashboardFiles(),
		Perms:      mem.Permissions(),
		Resolver:   resolver,
		Index:      search.NewMemory(),
	})
	return &env{mem: mem, svc: svc, metrics: metrics, dash: dash, orgID: uuid.New()}
}

func (e *env) user() *models.AuthenticatedUser {
	id := uuid.New()
	return &models.AuthenticatedUser{
		User:          models.User{ID: id, Email: "u@example.com"},
		Organizations: []models.Membership{{UserID: id, OrganizationID: e.orgID, Role: models.OrgRoleQuerier}},
	}
}

const metricYml = `
name: Rev
sql: SELECT 1 AS v
time_frame: daily
chart_config:
  selectedChartType: metric
  metric_column_id: v
dataset_ids: []
`

const metricYmlV2 = `
name: Rev
sql: SELECT 2 AS v
time_frame: daily
chart_config:
  selectedChartType: metric
  metric_column_id: v
dataset_ids: []
`

func TestImportMetricIntoChat(t *testing.T) {
	e := newEnv(t)
	u := e.user()
	ctx := context.Background()

	metric, err := e.metrics.Create(ctx, u, metricYml)
	require.NoError(t, err)

	chat, err := e.svc.ImportAsset(ctx, u, metric.ID, models.AssetTypeMetricFile)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	msg := chat.Messages[0]

	assert.True(t, msg.IsCompleted)
	assert.Equal(t, "Rev", msg.Title)
	assert.Nil(t, msg.RequestMessage)

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal(msg.ResponseMessages, &blocks))
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0]["type"])
	assert.Contains(t, blocks[0]["message"], "Rev has been pulled into a new chat.")
	assert.Equal(t, "file", blocks[1]["type"])
	assert.Equal(t, metric.ID.String(), blocks[1]["id"])
	assert.Equal(t, float64(1), blocks[1]["version_number"])

	// The seeded transcript carries the asset YAML for the next agent turn.
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(msg.RawLLMMessages, &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, "user", raw[0]["role"])
	assert.Contains(t, raw[0]["content"], "SELECT 1 AS v")

	// most_recent_file_* points at the imported asset.
	require.NotNil(t, chat.Chat.MostRecentFileID)
	assert.Equal(t, metric.ID, *chat.Chat.MostRecentFileID)
}

func TestImportDashboardSeedsMetricContext(t *testing.T) {
	e := newEnv(t)
	u := e.user()
	ctx := context.Background()

	metric, err := e.metrics.Create(ctx, u, metricYml)
	require.NoError(t, err)
	dashYml := fmt.Sprintf("name: Board\nrows:\n  - id: 1\n    items:\n      - id: %s\n    column_sizes: [12]\n", metric.ID)
	dashboard, err := e.dash.Create(ctx, u, dashYml)
	require.NoError(t, err)

	chat, err := e.svc.ImportAsset(ctx, u, dashboard.ID, models.AssetTypeDashboardFile)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(chat.Messages[0].RawLLMMessages, &raw))
	content := raw[0]["content"].(string)
	assert.Contains(t, content, "with 1 additional context files")
	assert.Contains(t, content, "SELECT 1 AS v")

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal(chat.Messages[0].ResponseMessages, &blocks))
	assert.Contains(t, blocks[0]["message"], "Board has been pulled into a new chat.")
}

func TestImportUnauthorized(t *testing.T) {
	e := newEnv(t)
	owner := e.user()
	stranger := &models.AuthenticatedUser{User: models.User{ID: uuid.New()}}
	ctx := context.Background()

	metric, err := e.metrics.Create(ctx, owner, metricYml)
	require.NoError(t, err)

	_, err = e.svc.ImportAsset(ctx, stranger, metric.ID, models.AssetTypeMetricFile)
	require.Error(t, err)
}

func TestRestoreDocumentsVersionInChat(t *testing.T) {
	e := newEnv(t)
	u := e.user()
	ctx := context.Background()

	metric, err := e.metrics.Create(ctx, u, metricYml)
	require.NoError(t, err)
	_, err = e.metrics.Update(ctx, u, metric.ID, files.UpdateMetricRequest{YmlContent: strRef(metricYmlV2)})
	require.NoError(t, err)

	chat, err := e.svc.CreateChat(ctx, u, "analysis")
	require.NoError(t, err)

	result, err := e.svc.Restore(ctx, u, chat.ID, RestoreRequest{
		AssetID:       metric.ID,
		AssetType:     models.AssetTypeMetricFile,
		VersionNumber: 1,
	})
	require.NoError(t, err)

	// The asset gained a new latest version with v1's content.
	restored, err := e.mem.Get(ctx, metric.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionHistory.LatestNumber())
	assert.Equal(t, "SELECT 1 AS v", restored.Content.SQL)

	require.Len(t, result.Messages, 1)
	msg := result.Messages[0]
	assert.Equal(t, "Version Restoration", msg.Title)
	require.NotNil(t, msg.FinalReasoningMessage)
	assert.Equal(t, "v3 was created by restoring v1", *msg.FinalReasoningMessage)

	// Synthetic transcript: an assistant restore_metric_file tool call and
	// its tool response carrying the restored YAML.
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(msg.RawLLMMessages, &raw))
	require.Len(t, raw, 2)
	assert.Equal(t, "assistant", raw[0]["role"])
	calls := raw[0]["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "restore_metric_file", fn["name"])
	assert.Equal(t, "tool", raw[1]["role"])
	assert.Contains(t, raw[1]["content"], "SELECT 1 AS v")

	var blocks []map[string]any
	require.NoError(t, json.Unmarshal(msg.ResponseMessages, &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, "file", blocks[0]["type"])
	assert.Equal(t, float64(3), blocks[0]["version_number"])

	// Chat columns updated atomically with the message.
	require.NotNil(t, result.Chat.MostRecentFileID)
	assert.Equal(t, metric.ID, *result.Chat.MostRecentFileID)
	assert.Equal(t, 3, *result.Chat.MostRecentVersionNumber)
	assert.Equal(t, models.AssetTypeMetricFile, *result.Chat.MostRecentFileType)
}

func TestRestoreUnknownVersion(t *testing.T) {
	e := newEnv(t)
	u := e.user()
	ctx := context.Background()

	metric, err := e.metrics.Create(ctx, u, metricYml)
	require.NoError(t, err)
	chat, err := e.svc.CreateChat(ctx, u, "c")
	require.NoError(t, err)

	_, err = e.svc.Restore(ctx, u, chat.ID, RestoreRequest{
		AssetID:       metric.ID,
		AssetType:     models.AssetTypeMetricFile,
		VersionNumber: 7,
	})
	require.Error(t, err)
}

func TestMessagesOrderedByCreatedAt(t *testing.T) {
	e := newEnv(t)
	u := e.user()
	ctx := context.Background()

	chat, err := e.svc.CreateChat(ctx, u, "ordered")
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		msg := &models.Message{
			ID:               uuid.New(),
			ChatID:           chat.ID,
			ResponseMessages: json.RawMessage(`[]`),
			Reasoning:        json.RawMessage(`[]`),
			RawLLMMessages:   json.RawMessage(`[]`),
			Title:            fmt.Sprintf("m%d", i),
			CreatedBy:        u.ID,
			CreatedAt:        base.Add(time.Duration(2-i) * time.Minute),
			UpdatedAt:        base,
		}
		require.NoError(t, e.mem.InsertMessage(ctx, msg))
	}

	out, err := e.svc.Get(ctx, u, chat.ID)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "m2", out.Messages[0].Title)
	assert.Equal(t, "m1", out.Messages[1].Title)
	assert.Equal(t, "m0", out.Messages[2].Title)
}
