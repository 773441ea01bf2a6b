package files

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/sharing"
)

func dashYml(rows string) string {
	return "name: Board\n" + rows
}

func rowFor(ids []uuid.UUID, sizes string) string {
	out := "rows:\n  - id: 1\n    items:\n"
	for _, id := range ids {
		out += fmt.Sprintf("      - id: %s\n", id)
	}
	out += "    column_sizes: " + sizes + "\n"
	return out
}

func (e *env) createMetric(t *testing.T, u *models.AuthenticatedUser) *models.MetricFile {
	t.Helper()
	m, err := e.metrics.Create(context.Background(), u, revYmlV1)
	require.NoError(t, err)
	return m
}

func TestDashboardCreateAndGet(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	m1 := e.createMetric(t, u)
	m2 := e.createMetric(t, u)

	created, err := e.dashboards.Create(ctx, u, dashYml(rowFor([]uuid.UUID{m1.ID, m2.ID}, "[6, 6]")))
	require.NoError(t, err)
	assert.Equal(t, "Board", created.Name)

	view, err := e.dashboards.Get(ctx, u, created.ID, nil, sharing.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, view.VersionNumber)
	assert.Len(t, view.Metrics, 2)
	assert.Equal(t, models.RoleOwner, view.Permission)
}

// S2: a two-item row whose sizes sum to 10 is rejected.
func TestDashboardColumnSizeRejection(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	m1 := e.createMetric(t, u)
	m2 := e.createMetric(t, u)

	_, err := e.dashboards.Create(ctx, u, dashYml(rowFor([]uuid.UUID{m1.ID, m2.ID}, "[5, 5]")))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
	assert.Contains(t, err.Error(), "sum must equal 12")
}

// S3: referencing a metric outside the user's organization fails with the
// missing ids.
func TestDashboardMissingMetricReference(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	unknown := uuid.New()

	_, err := e.dashboards.Create(ctx, u, dashYml(rowFor([]uuid.UUID{unknown}, "[12]")))
	require.Error(t, err)
	var de *errs.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errs.KindInvalidReferences, de.Kind)
	assert.Equal(t, []uuid.UUID{unknown}, de.IDs)
}

func TestDashboardUpdateAppendsVersionAndRelinks(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	m1 := e.createMetric(t, u)
	m2 := e.createMetric(t, u)

	created, err := e.dashboards.Create(ctx, u, dashYml(rowFor([]uuid.UUID{m1.ID}, "[12]")))
	require.NoError(t, err)

	updated, err := e.dashboards.Update(ctx, u, created.ID, UpdateDashboardRequest{
		YmlContent: strPtr(dashYml(rowFor([]uuid.UUID{m2.ID}, "[12]"))),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.VersionHistory.LatestNumber())

	linked, err := e.mem.DashboardsForMetric(ctx, m2.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, created.ID, linked[0].ID)

	gone, err := e.mem.DashboardsForMetric(ctx, m1.ID)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestDashboardRestore(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	m1 := e.createMetric(t, u)
	m2 := e.createMetric(t, u)

	created, err := e.dashboards.Create(ctx, u, dashYml(rowFor([]uuid.UUID{m1.ID}, "[12]")))
	require.NoError(t, err)
	_, err = e.dashboards.Update(ctx, u, created.ID, UpdateDashboardRequest{
		YmlContent: strPtr(dashYml(rowFor([]uuid.UUID{m2.ID}, "[12]"))),
	})
	require.NoError(t, err)

	restored, err := e.dashboards.Restore(ctx, u, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionHistory.LatestNumber())

	v1, err := restored.VersionHistory.Version(1)
	require.NoError(t, err)
	assert.Equal(t, v1.Content, restored.Content)
	assert.Equal(t, []uuid.UUID{m1.ID}, restored.Content.MetricIDs())
}

func TestDashboardRowHeightValidation(t *testing.T) {
	e := newEnv(t)
	u := e.user(models.OrgRoleQuerier)
	ctx := context.Background()
	m1 := e.createMetric(t, u)

	yml := "name: Board\nrows:\n  - id: 1\n    items:\n      - id: " + m1.ID.String() + "\n    column_sizes: [12]\n    row_height: 600\n"
	_, err := e.dashboards.Create(ctx, u, yml)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}
