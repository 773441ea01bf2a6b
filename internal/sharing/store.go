package sharing

import (
	"context"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/stores"
)

// storeBacked implements Store over the row-level store interfaces, so the
// resolver runs unchanged against Postgres or memory backends.
type storeBacked struct {
	metrics     stores.MetricStore
	dashboards  stores.DashboardStore
	collections stores.CollectionStore
	chats       stores.ChatStore
	permissions stores.PermissionStore
}

// NewStore assembles the resolver's data access from the row stores.
func NewStore(
	metrics stores.MetricStore,
	dashboards stores.DashboardStore,
	collections stores.CollectionStore,
	chats stores.ChatStore,
	permissions stores.PermissionStore,
) Store {
	return &storeBacked{
		metrics:     metrics,
		dashboards:  dashboards,
		collections: collections,
		chats:       chats,
		permissions: permissions,
	}
}

func (s *storeBacked) AssetInfo(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*AssetInfo, error) {
	switch assetType {
	case models.AssetTypeMetricFile:
		m, err := s.metrics.Get(ctx, assetID)
		if err != nil {
			return nil, err
		}
		return &AssetInfo{
			OrganizationID:     m.OrganizationID,
			WorkspaceSharing:   m.WorkspaceSharing,
			PubliclyAccessible: m.PubliclyAccessible,
			PublicExpiryDate:   m.PublicExpiryDate,
			PublicPassword:     m.PublicPassword,
		}, nil
	case models.AssetTypeDashboardFile:
		d, err := s.dashboards.Get(ctx, assetID)
		if err != nil {
			return nil, err
		}
		return &AssetInfo{
			OrganizationID:     d.OrganizationID,
			WorkspaceSharing:   d.WorkspaceSharing,
			PubliclyAccessible: d.PubliclyAccessible,
			PublicExpiryDate:   d.PublicExpiryDate,
			PublicPassword:     d.PublicPassword,
		}, nil
	case models.AssetTypeChat:
		c, err := s.chats.Get(ctx, assetID)
		if err != nil {
			return nil, err
		}
		return &AssetInfo{
			OrganizationID:     c.OrganizationID,
			WorkspaceSharing:   c.WorkspaceSharing,
			PubliclyAccessible: c.PubliclyAccessible,
			PublicExpiryDate:   c.PublicExpiryDate,
		}, nil
	case models.AssetTypeCollection:
		c, err := s.collections.Get(ctx, assetID)
		if err != nil {
			return nil, err
		}
		return &AssetInfo{
			OrganizationID:   c.OrganizationID,
			WorkspaceSharing: c.WorkspaceSharing,
		}, nil
	default:
		return nil, errs.NotFound(string(assetType))
	}
}

func (s *storeBacked) RolesForIdentities(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityIDs []uuid.UUID) ([]models.AssetPermissionRole, error) {
	return s.permissions.RolesForIdentities(ctx, assetID, assetType, identityIDs)
}

func (s *storeBacked) TeamsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.permissions.TeamsForUser(ctx, userID)
}

func (s *storeBacked) CollectionsContaining(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]uuid.UUID, error) {
	collections, err := s.collections.CollectionsForAsset(ctx, assetID, assetType)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(collections))
	for _, c := range collections {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *storeBacked) DashboardsContaining(ctx context.Context, metricID uuid.UUID) ([]uuid.UUID, error) {
	dashboards, err := s.dashboards.DashboardsForMetric(ctx, metricID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(dashboards))
	for _, d := range dashboards {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *storeBacked) ChatsReferencingFile(ctx context.Context, fileID uuid.UUID) ([]uuid.UUID, error) {
	return s.chats.ChatsReferencingFile(ctx, fileID)
}
