package stores

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"tabular/internal/models"
)

// The per-domain store interfaces share method names (Insert, Get, Update),
// so Memory exposes each one through a thin view.

func (m *Memory) MetricFiles() MetricStore { return m }

func (m *Memory) DashboardFiles() DashboardStore { return memDashboards{m} }

func (m *Memory) Collections() CollectionStore { return memCollections{m} }

func (m *Memory) Chats() ChatStore { return memChats{m} }

func (m *Memory) Permissions() PermissionStore { return memPermissions{m} }

func (m *Memory) Datasets() DatasetStore { return memDatasets{m} }

func (m *Memory) Organizations() OrganizationStore { return memOrgs{m} }

type memDashboards struct{ *Memory }

func (v memDashboards) Insert(ctx context.Context, d *models.DashboardFile) error {
	return v.InsertDashboard(ctx, d)
}
func (v memDashboards) Get(ctx context.Context, id uuid.UUID) (*models.DashboardFile, error) {
	return v.GetDashboard(ctx, id)
}
func (v memDashboards) Update(ctx context.Context, d *models.DashboardFile) error {
	return v.UpdateDashboard(ctx, d)
}
func (v memDashboards) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return v.SoftDeleteDashboard(ctx, id, at)
}
func (v memDashboards) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.DashboardFile, error) {
	return v.ListAccessibleDashboards(ctx, userID, orgIDs, f)
}

type memCollections struct{ *Memory }

func (v memCollections) Insert(ctx context.Context, c *models.Collection) error {
	return v.InsertCollection(ctx, c)
}
func (v memCollections) Get(ctx context.Context, id uuid.UUID) (*models.Collection, error) {
	return v.GetCollection(ctx, id)
}
func (v memCollections) Update(ctx context.Context, c *models.Collection) error {
	return v.UpdateCollection(ctx, c)
}
func (v memCollections) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return v.SoftDeleteCollection(ctx, id, at)
}

type memChats struct{ *Memory }

func (v memChats) Insert(ctx context.Context, c *models.Chat) error { return v.InsertChat(ctx, c) }
func (v memChats) Get(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	return v.GetChat(ctx, id)
}
func (v memChats) Update(ctx context.Context, c *models.Chat) error { return v.UpdateChat(ctx, c) }
func (v memChats) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return v.SoftDeleteChat(ctx, id, at)
}

type memPermissions struct{ *Memory }

func (v memPermissions) Upsert(ctx context.Context, p *models.AssetPermission) error {
	return v.UpsertPermission(ctx, p)
}
func (v memPermissions) Remove(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityID uuid.UUID, identityType models.IdentityType, at time.Time) error {
	return v.RemovePermission(ctx, assetID, assetType, identityID, identityType, at)
}

type memDatasets struct{ *Memory }

func (v memDatasets) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	return v.GetDataset(ctx, id)
}
func (v memDatasets) GetMany(ctx context.Context, ids []uuid.UUID) ([]models.Dataset, error) {
	return v.GetManyDatasets(ctx, ids)
}
func (v memDatasets) ListForOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Dataset, error) {
	return v.ListDatasetsForOrganization(ctx, orgID)
}

type memOrgs struct{ *Memory }

func (v memOrgs) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return v.GetOrganization(ctx, id)
}

func sortByCreatedAsc(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID.String() < msgs[j].ID.String()
	})
}

func (v memChats) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Chat, error) {
	return v.ListAccessibleChats(ctx, userID, orgIDs, f)
}

func (v memCollections) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Collection, error) {
	return v.ListAccessibleCollections(ctx, userID, orgIDs, f)
}
