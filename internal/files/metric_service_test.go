package files

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/search"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

type env struct {
	mem        *stores.Memory
	metrics    *MetricService
	dashboards *DashboardService
	orgID      uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := stores.NewMemory()
	resolver := sharing.NewResolver(sharing.NewStore(
		mem.MetricFiles(), mem.DashboardFiles(), mem.Collections(), mem.Chats(), mem.Permissions()))
	deps := &Deps{
		Metrics:     mem.MetricFiles(),
		Dashboards:  mem.DashboardFiles(),
		Collections: mem.Collections(),
		Datasets:    mem.Datasets(),
		Orgs:        mem.Organizations(),
		Permissions: mem.Permissions(),
		Resolver:    resolver,
		Index:       search.NewMemory(),
	}
	return &env{
		mem:        mem,
		metrics:    NewMetricService(deps),
		dashboards: NewDashboardService(deps),
		orgID:      uuid.New(),
	}
}

func (e *env) user(role models.OrgRole) *models.AuthenticatedUser {
	id := uuid.New()
	return &models.AuthenticatedUser{
		User:          models.User{ID: id, Email: "u@example.com"},
		Organizations: []models.Membership{{UserID: id, OrganizationID: e.orgID, Role: role}},
	}
}

const revYmlV1 = `
name: Rev
sql: SELECT 1 AS v
time_frame: daily
chart_config:
  selectedChartType: metric
  metric_column_id: v
dataset_ids: []
`

const revYmlV2 = `
name: Rev
sql: SELECT 2 AS v
time_frame: daily
chart_config:
  selectedChartType: metric
  metric_column_id: v
dataset_ids: []
`

// S1: create, update the SQL, restore version 1. Three versions exist;
// version 3 equals version 1; latest get returns the restored SQL.
func TestMetricCreateUpdateRestore(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()

	created, err := e.metrics.Create(ctx, u, revYmlV1)
	require.NoError(t, err)
	assert.Equal(t, "Rev", created.Name)
	assert.Equal(t, 1, created.VersionHistory.LatestNumber())

	_, err = e.metrics.Update(ctx, u, created.ID, UpdateMetricRequest{YmlContent: strPtr(revYmlV2)})
	require.NoError(t, err)

	restored, err := e.metrics.Restore(ctx, u, created.ID, 1)
	require.NoError(t, err)

	require.Len(t, restored.VersionHistory, 3)
	v1, err := restored.VersionHistory.Version(1)
	require.NoError(t, err)
	v3, err := restored.VersionHistory.Version(3)
	require.NoError(t, err)
	assert.Equal(t, v1.Content, v3.Content)
	assert.Equal(t, 3, restored.VersionHistory.LatestNumber())

	view, err := e.metrics.Get(ctx, u, created.ID, nil, sharing.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, view.VersionNumber)
	assert.Equal(t, "SELECT 1 AS v", view.Metric.Content.SQL)
	assert.Equal(t, []int{1, 2, 3}, view.Versions)
}

func TestMetricRestoreUnknownVersion(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()

	created, err := e.metrics.Create(ctx, u, revYmlV1)
	require.NoError(t, err)

	_, err = e.metrics.Restore(ctx, u, created.ID, 9)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindVersionNotFound))
}

func TestMetricCreatorIsOwner(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()

	created, err := e.metrics.Create(ctx, u, revYmlV1)
	require.NoError(t, err)

	view, err := e.metrics.Get(ctx, u, created.ID, nil, sharing.Options{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, view.Permission)
}

func TestMetricGetUnauthorized(t *testing.T) {
	e := newEnv(t)
	owner := e.user(models.OrgRoleQuerier)
	stranger := e.user(models.OrgRoleViewer)
	ctx := context.Background()

	created, err := e.metrics.Create(ctx, owner, revYmlV1)
	require.NoError(t, err)

	_, err = e.metrics.Get(ctx, stranger, created.ID, nil, sharing.Options{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestMetricUpdateRequiresCanEdit(t *testing.T) {
	e := newEnv(t)
	owner := e.user(models.OrgRoleQuerier)
	viewer := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := e.metrics.Create(ctx, owner, revYmlV1)
	require.NoError(t, err)
	require.NoError(t, e.mem.UpsertPermission(ctx, &models.AssetPermission{
		AssetID: created.ID, AssetType: models.AssetTypeMetricFile,
		IdentityID: viewer.ID, IdentityType: models.IdentityTypeUser,
		Role: models.RoleCanView, CreatedAt: now, UpdatedAt: now,
	}))

	_, err = e.metrics.Update(ctx, viewer, created.ID, UpdateMetricRequest{YmlContent: strPtr(revYmlV2)})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestMetricDeleteRequiresFullAccess(t *testing.T) {
	e := newEnv(t)
	owner := e.user(models.OrgRoleQuerier)
	editor := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := e.metrics.Create(ctx, owner, revYmlV1)
	require.NoError(t, err)
	require.NoError(t, e.mem.UpsertPermission(ctx, &models.AssetPermission{
		AssetID: created.ID, AssetType: models.AssetTypeMetricFile,
		IdentityID: editor.ID, IdentityType: models.IdentityTypeUser,
		Role: models.RoleCanEdit, CreatedAt: now, UpdatedAt: now,
	}))

	err = e.metrics.Delete(ctx, editor, created.ID)
	require.Error(t, err)

	require.NoError(t, e.metrics.Delete(ctx, owner, created.ID))
	_, err = e.metrics.Get(ctx, owner, created.ID, nil, sharing.Options{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestMetricListOrderingAndPaging(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		m, err := e.metrics.Create(ctx, u, revYmlV1)
		require.NoError(t, err)
		// Spread updated_at so ordering is deterministic.
		m.UpdatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, e.mem.Update(ctx, m))
		ids = append(ids, m.ID)
	}

	page1, err := e.metrics.List(ctx, u, stores.ListFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, ids[4], page1[0].ID)
	assert.Equal(t, ids[3], page1[1].ID)

	page3, err := e.metrics.List(ctx, u, stores.ListFilter{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[0], page3[0].ID)
}

func TestMetricBulkDeletePartialSuccess(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()

	created, err := e.metrics.Create(ctx, u, revYmlV1)
	require.NoError(t, err)
	missing := uuid.New()

	result := e.metrics.BulkDelete(ctx, u, []uuid.UUID{created.ID, missing})
	assert.Equal(t, []uuid.UUID{created.ID}, result.SuccessfulIDs)
	require.Len(t, result.FailedIDs, 1)
	assert.Equal(t, missing, result.FailedIDs[0].ID)
}

func strPtr(s string) *string { return &s }
