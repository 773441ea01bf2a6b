package sharing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabular/internal/assets"
	"tabular/internal/models"
	"tabular/internal/stores"
)

type fixture struct {
	mem      *stores.Memory
	resolver *Resolver
	orgID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := stores.NewMemory()
	store := NewStore(mem.MetricFiles(), mem.DashboardFiles(), mem.Collections(), mem.Chats(), mem.Permissions())
	return &fixture{
		mem:      mem,
		resolver: NewResolver(store),
		orgID:    uuid.New(),
	}
}

func (f *fixture) user(role models.OrgRole) *models.AuthenticatedUser {
	return &models.AuthenticatedUser{
		User:          models.User{ID: uuid.New(), Email: "u@example.com"},
		Organizations: []models.Membership{{UserID: uuid.New(), OrganizationID: f.orgID, Role: role}},
	}
}

func (f *fixture) addMetric(t *testing.T, mutate func(*models.MetricFile)) *models.MetricFile {
	t.Helper()
	now := time.Now().UTC()
	yml := assets.MetricYml{Name: "m", SQL: "SELECT 1", TimeFrame: "daily",
		ChartConfig: assets.ChartConfig{Type: assets.ChartTypeTable, Table: &assets.TableChartConfig{}}}
	m := &models.MetricFile{
		ID:               uuid.New(),
		Name:             "m",
		FileName:         "m.yml",
		Content:          yml,
		Verification:     models.VerificationNotRequested,
		OrganizationID:   f.orgID,
		CreatedBy:        uuid.New(),
		CreatedAt:        now,
		UpdatedAt:        now,
		VersionHistory:   assets.NewVersionHistory(yml, now),
		WorkspaceSharing: models.WorkspaceSharingNone,
	}
	if mutate != nil {
		mutate(m)
	}
	require.NoError(t, f.mem.Insert(context.Background(), m))
	return m
}

func (f *fixture) grant(t *testing.T, assetID uuid.UUID, assetType models.AssetType, identity uuid.UUID, identityType models.IdentityType, role models.AssetPermissionRole) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.mem.UpsertPermission(context.Background(), &models.AssetPermission{
		AssetID: assetID, AssetType: assetType, IdentityID: identity,
		IdentityType: identityType, Role: role, CreatedAt: now, UpdatedAt: now,
	}))
}

func strPtr(s string) *string { return &s }

func TestAdminElevationShortCircuits(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)

	for _, orgRole := range []models.OrgRole{models.OrgRoleWorkspaceAdmin, models.OrgRoleDataAdmin} {
		u := f.user(orgRole)
		role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.RoleOwner, role)
	}
}

func TestDirectGrant(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleQuerier)
	f.grant(t, m.ID, models.AssetTypeMetricFile, u.ID, models.IdentityTypeUser, models.RoleCanEdit)

	role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanEdit, role)
}

func TestTeamGrant(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleQuerier)
	teamID := uuid.New()
	f.mem.AddUserToTeam(u.ID, teamID)
	f.grant(t, m.ID, models.AssetTypeMetricFile, teamID, models.IdentityTypeTeam, models.RoleFullAccess)

	role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleFullAccess, role)
}

func TestNoAccess(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleViewer)

	_, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// S4: Editor on a collection containing the metric grants CanEdit on it.
func TestCollectionInheritance(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleQuerier)
	now := time.Now().UTC()

	collection := &models.Collection{
		ID: uuid.New(), Name: "C", OrganizationID: f.orgID,
		CreatedAt: now, UpdatedAt: now, WorkspaceSharing: models.WorkspaceSharingNone,
	}
	require.NoError(t, f.mem.InsertCollection(context.Background(), collection))
	require.NoError(t, f.mem.AddAsset(context.Background(), &models.CollectionToAsset{
		CollectionID: collection.ID, AssetID: m.ID, AssetType: models.AssetTypeMetricFile,
		CreatedAt: now, UpdatedAt: now,
	}))
	f.grant(t, collection.ID, models.AssetTypeCollection, u.ID, models.IdentityTypeUser, models.RoleCanEdit)

	role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanEdit, role)
}

func TestDashboardInheritanceForMetric(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleQuerier)
	now := time.Now().UTC()

	yml := assets.DashboardYml{Name: "d", Rows: []assets.Row{
		{ID: 1, Items: []assets.RowItem{{ID: m.ID}}, ColumnSizes: []uint32{12}},
	}}
	dash := &models.DashboardFile{
		ID: uuid.New(), Name: "d", FileName: "d.yml", Content: yml,
		OrganizationID: f.orgID, CreatedAt: now, UpdatedAt: now,
		VersionHistory:   assets.NewVersionHistory(yml, now),
		WorkspaceSharing: models.WorkspaceSharingNone,
	}
	require.NoError(t, f.mem.InsertDashboard(context.Background(), dash))
	require.NoError(t, f.mem.ReplaceMetricLinks(context.Background(), dash.ID, []uuid.UUID{m.ID}, u.ID))
	f.grant(t, dash.ID, models.AssetTypeDashboardFile, u.ID, models.IdentityTypeUser, models.RoleCanView)

	role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanView, role)
}

func TestChatInheritanceGrantsCanView(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleQuerier)
	now := time.Now().UTC()

	chat := &models.Chat{ID: uuid.New(), Title: "chat", OrganizationID: f.orgID,
		CreatedBy: u.ID, UpdatedBy: u.ID, CreatedAt: now, UpdatedAt: now,
		WorkspaceSharing: models.WorkspaceSharingNone}
	require.NoError(t, f.mem.InsertChat(context.Background(), chat))
	f.grant(t, chat.ID, models.AssetTypeChat, u.ID, models.IdentityTypeUser, models.RoleOwner)

	msg := &models.Message{ID: uuid.New(), ChatID: chat.ID, Title: "t",
		ResponseMessages: json.RawMessage(`[]`), Reasoning: json.RawMessage(`[]`),
		RawLLMMessages: json.RawMessage(`[]`), CreatedBy: u.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.mem.InsertMessage(context.Background(), msg))
	require.NoError(t, f.mem.InsertMessageToFile(context.Background(), &models.MessageToFile{
		ID: uuid.New(), MessageID: msg.ID, FileID: m.ID, VersionNumber: 1,
		CreatedAt: now, UpdatedAt: now,
	}))

	role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanView, role)
}

func TestWorkspaceSharing(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, func(m *models.MetricFile) {
		m.WorkspaceSharing = models.WorkspaceSharingCanEdit
	})
	member := f.user(models.OrgRoleQuerier)
	outsider := &models.AuthenticatedUser{User: models.User{ID: uuid.New()}}

	role, ok, err := f.resolver.EffectiveRole(context.Background(), member, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanEdit, role)

	_, ok, err = f.resolver.EffectiveRole(context.Background(), outsider, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// Workspace sharing is additive: it never lowers a stronger direct role.
func TestWorkspaceSharingNeverLowersDirectRole(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, func(m *models.MetricFile) {
		m.WorkspaceSharing = models.WorkspaceSharingCanView
	})
	u := f.user(models.OrgRoleQuerier)
	f.grant(t, m.ID, models.AssetTypeMetricFile, u.ID, models.IdentityTypeUser, models.RoleFullAccess)

	role, _, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.RoleFullAccess, role)
}

func TestPublicLink(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, func(m *models.MetricFile) {
		m.PubliclyAccessible = true
	})
	outsider := &models.AuthenticatedUser{User: models.User{ID: uuid.New()}}

	role, ok, err := f.resolver.EffectiveRole(context.Background(), outsider, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanView, role)
}

// S5: an expired public link grants nothing.
func TestPublicLinkExpired(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().UTC().Add(-time.Minute)
	m := f.addMetric(t, func(m *models.MetricFile) {
		m.PubliclyAccessible = true
		m.PublicExpiryDate = &expiry
	})
	outsider := &models.AuthenticatedUser{User: models.User{ID: uuid.New()}}

	_, ok, err := f.resolver.EffectiveRole(context.Background(), outsider, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublicLinkPassword(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, func(m *models.MetricFile) {
		m.PubliclyAccessible = true
		m.PublicPassword = strPtr("s3cret")
	})
	outsider := &models.AuthenticatedUser{User: models.User{ID: uuid.New()}}

	_, ok, err := f.resolver.EffectiveRole(context.Background(), outsider, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	assert.False(t, ok, "missing password should deny")

	_, ok, err = f.resolver.EffectiveRole(context.Background(), outsider, m.ID, models.AssetTypeMetricFile, Options{PublicPassword: strPtr("wrong")})
	require.NoError(t, err)
	assert.False(t, ok, "wrong password should deny")

	role, ok, err := f.resolver.EffectiveRole(context.Background(), outsider, m.ID, models.AssetTypeMetricFile, Options{PublicPassword: strPtr("s3cret")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanView, role)
}

// The effective role is the maximum over all sources.
func TestMaxAcrossSources(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, func(m *models.MetricFile) {
		m.WorkspaceSharing = models.WorkspaceSharingCanView
		m.PubliclyAccessible = true
	})
	u := f.user(models.OrgRoleQuerier)
	f.grant(t, m.ID, models.AssetTypeMetricFile, u.ID, models.IdentityTypeUser, models.RoleCanEdit)

	role, ok, err := f.resolver.EffectiveRole(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleCanEdit, role)
}

func TestCheckAccessAndRequireAtLeast(t *testing.T) {
	f := newFixture(t)
	m := f.addMetric(t, nil)
	u := f.user(models.OrgRoleQuerier)
	f.grant(t, m.ID, models.AssetTypeMetricFile, u.ID, models.IdentityTypeUser, models.RoleCanView)

	ok, err := f.resolver.CheckAccess(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{},
		models.RoleCanView, models.RoleCanEdit, models.RoleFullAccess, models.RoleOwner)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.resolver.RequireAtLeast(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{}, models.RoleCanEdit)
	require.Error(t, err)

	role, err := f.resolver.RequireAtLeast(context.Background(), u, m.ID, models.AssetTypeMetricFile, Options{}, models.RoleCanView)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCanView, role)
}
