// Package stores provides row-level access to the persisted entities.
// Postgres implementations back production; the memory implementation backs
// tests and single-node development, mirroring the same contracts.
//
// Every read filters soft-deleted rows (deleted_at IS NULL); callers never
// see a deleted row.
package stores

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tabular/internal/models"
)

// ListFilter narrows and pages list queries. Results are ordered
// updated_at DESC with id ASC tie-break; de-duplicated by asset id.
type ListFilter struct {
	Page     int
	PageSize int
}

func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 250 {
		f.PageSize = 25
	}
	return f
}

type MetricStore interface {
	Insert(ctx context.Context, m *models.MetricFile) error
	Get(ctx context.Context, id uuid.UUID) (*models.MetricFile, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]models.MetricFile, error)
	Update(ctx context.Context, m *models.MetricFile) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListAccessible returns metrics in orgIDs that the user can reach via a
	// direct grant, a team grant, or workspace sharing.
	ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.MetricFile, error)
}

type DashboardStore interface {
	Insert(ctx context.Context, d *models.DashboardFile) error
	Get(ctx context.Context, id uuid.UUID) (*models.DashboardFile, error)
	Update(ctx context.Context, d *models.DashboardFile) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.DashboardFile, error)
	// ReplaceMetricLinks rewrites the metric_files_to_dashboard_files edges
	// for a dashboard in its own transaction; it is not atomic with the
	// dashboard row write.
	ReplaceMetricLinks(ctx context.Context, dashboardID uuid.UUID, metricIDs []uuid.UUID, by uuid.UUID) error
	// DashboardsForMetric returns non-deleted dashboards embedding the metric.
	DashboardsForMetric(ctx context.Context, metricID uuid.UUID) ([]models.DashboardFile, error)
}

type CollectionStore interface {
	Insert(ctx context.Context, c *models.Collection) error
	Get(ctx context.Context, id uuid.UUID) (*models.Collection, error)
	Update(ctx context.Context, c *models.Collection) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	AddAsset(ctx context.Context, link *models.CollectionToAsset) error
	RemoveAsset(ctx context.Context, collectionID, assetID uuid.UUID, assetType models.AssetType, at time.Time) error
	// CollectionsForAsset returns the non-deleted collections containing the
	// asset.
	CollectionsForAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]models.Collection, error)
	ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Collection, error)
}

type ChatStore interface {
	Insert(ctx context.Context, c *models.Chat) error
	Get(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	Update(ctx context.Context, c *models.Chat) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	InsertMessage(ctx context.Context, m *models.Message) error
	UpdateMessage(ctx context.Context, m *models.Message) error
	// Messages returns the chat's messages ordered created_at ASC.
	Messages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error)
	// LastMessage returns the most recent message or nil.
	LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error)
	InsertMessageToFile(ctx context.Context, mtf *models.MessageToFile) error
	FilesForMessage(ctx context.Context, messageID uuid.UUID) ([]models.MessageToFile, error)
	// ChatsReferencingFile returns chat ids with a non-deleted message_to_file
	// row pointing at the file.
	ChatsReferencingFile(ctx context.Context, fileID uuid.UUID) ([]uuid.UUID, error)
	// AppendMessageWithFile inserts the message, its file link, and the
	// chat's most_recent_file_* update as one transaction.
	AppendMessageWithFile(ctx context.Context, msg *models.Message, mtf *models.MessageToFile, fileType models.AssetType) error
	ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Chat, error)
}

type PermissionStore interface {
	Upsert(ctx context.Context, p *models.AssetPermission) error
	Remove(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityID uuid.UUID, identityType models.IdentityType, at time.Time) error
	// ListForAsset returns the non-deleted grants on an asset.
	ListForAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]models.AssetPermission, error)
	// RolesForIdentities returns grant roles on the asset for any of the
	// given identity ids (a user id plus the user's team ids).
	RolesForIdentities(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityIDs []uuid.UUID) ([]models.AssetPermissionRole, error)
	TeamsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type DatasetStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]models.Dataset, error)
	ListForOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Dataset, error)
}

type OrganizationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}
