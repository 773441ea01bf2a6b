package files

import (
	"context"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

// CollectionService owns collection CRUD and asset membership. Collections
// carry sharing weight: assets inherit the user's collection role.
type CollectionService struct {
	deps *Deps
}

func NewCollectionService(deps *Deps) *CollectionService {
	return &CollectionService{deps: deps}
}

func (s *CollectionService) Create(ctx context.Context, user *models.AuthenticatedUser, name string, description *string) (*models.Collection, error) {
	orgID, err := primaryOrg(user)
	if err != nil {
		return nil, err
	}
	if err := s.deps.checkPayment(ctx, orgID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errs.InvalidInput("name", "collection name is required")
	}

	now := s.deps.now()
	collection := &models.Collection{
		ID:               uuid.New(),
		Name:             name,
		Description:      description,
		OrganizationID:   orgID,
		CreatedBy:        user.ID,
		UpdatedBy:        user.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
		WorkspaceSharing: models.WorkspaceSharingNone,
	}
	if err := s.deps.Collections.Insert(ctx, collection); err != nil {
		return nil, err
	}
	if err := s.deps.Permissions.Upsert(ctx, &models.AssetPermission{
		AssetID:      collection.ID,
		AssetType:    models.AssetTypeCollection,
		IdentityID:   user.ID,
		IdentityType: models.IdentityTypeUser,
		Role:         models.RoleOwner,
		CreatedBy:    user.ID,
		UpdatedBy:    user.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return nil, err
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Upsert(ctx, collection.ID, models.AssetTypeCollection, collection.Name); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("collection_id", collection.ID.String()).Msg("search_index_update_failed")
		}
	}
	return collection, nil
}

func (s *CollectionService) Get(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID) (*models.Collection, models.AssetPermissionRole, error) {
	role, ok, err := s.deps.Resolver.EffectiveRole(ctx, user, id, models.AssetTypeCollection, sharing.Options{})
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", errs.Unauthorized()
	}
	collection, err := s.deps.Collections.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return collection, role, nil
}

func (s *CollectionService) Update(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, name *string, description *string) (*models.Collection, error) {
	if _, err := s.deps.Resolver.RequireAtLeast(ctx, user, id, models.AssetTypeCollection, sharing.Options{}, models.RoleCanEdit); err != nil {
		return nil, err
	}
	collection, err := s.deps.Collections.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		if *name == "" {
			return nil, errs.InvalidInput("name", "collection name is required")
		}
		collection.Name = *name
	}
	if description != nil {
		collection.Description = description
	}
	collection.UpdatedBy = user.ID
	collection.UpdatedAt = s.deps.now()
	if err := s.deps.Collections.Update(ctx, collection); err != nil {
		return nil, err
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Upsert(ctx, collection.ID, models.AssetTypeCollection, collection.Name); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("collection_id", collection.ID.String()).Msg("search_index_update_failed")
		}
	}
	return collection, nil
}

func (s *CollectionService) Delete(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID) error {
	ok, err := s.deps.Resolver.CheckAccess(ctx, user, id, models.AssetTypeCollection, sharing.Options{},
		models.RoleFullAccess, models.RoleOwner)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Unauthorized()
	}
	if err := s.deps.Collections.SoftDelete(ctx, id, s.deps.now()); err != nil {
		return err
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Remove(ctx, id, models.AssetTypeCollection); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("collection_id", id.String()).Msg("search_index_remove_failed")
		}
	}
	return nil
}

// AddAssets links assets into the collection; each asset must be visible to
// the user. Failures are collected per asset.
func (s *CollectionService) AddAssets(ctx context.Context, user *models.AuthenticatedUser, collectionID uuid.UUID, assets []models.CollectionToAsset) BulkDeleteResult {
	var result BulkDeleteResult
	if _, err := s.deps.Resolver.RequireAtLeast(ctx, user, collectionID, models.AssetTypeCollection, sharing.Options{}, models.RoleCanEdit); err != nil {
		for _, a := range assets {
			result.FailedIDs = append(result.FailedIDs, BulkFailedItem{ID: a.AssetID, Error: err.Error()})
		}
		return result
	}
	now := s.deps.now()
	for _, a := range assets {
		ok, err := s.deps.Resolver.CheckAccess(ctx, user, a.AssetID, a.AssetType, sharing.Options{}, viewRoles()...)
		if err == nil && !ok {
			err = errs.Unauthorized()
		}
		if err != nil {
			result.FailedIDs = append(result.FailedIDs, BulkFailedItem{ID: a.AssetID, Error: err.Error()})
			continue
		}
		link := a
		link.CollectionID = collectionID
		link.CreatedBy = user.ID
		link.UpdatedBy = user.ID
		link.CreatedAt = now
		link.UpdatedAt = now
		if err := s.deps.Collections.AddAsset(ctx, &link); err != nil {
			result.FailedIDs = append(result.FailedIDs, BulkFailedItem{ID: a.AssetID, Error: err.Error()})
			continue
		}
		result.SuccessfulIDs = append(result.SuccessfulIDs, a.AssetID)
	}
	return result
}

func (s *CollectionService) RemoveAsset(ctx context.Context, user *models.AuthenticatedUser, collectionID, assetID uuid.UUID, assetType models.AssetType) error {
	if _, err := s.deps.Resolver.RequireAtLeast(ctx, user, collectionID, models.AssetTypeCollection, sharing.Options{}, models.RoleCanEdit); err != nil {
		return err
	}
	return s.deps.Collections.RemoveAsset(ctx, collectionID, assetID, assetType, s.deps.now())
}

// List returns collections the user can reach.
func (s *CollectionService) List(ctx context.Context, user *models.AuthenticatedUser, f stores.ListFilter) ([]models.Collection, error) {
	return s.deps.Collections.ListAccessible(ctx, user.ID, orgIDs(user), f)
}
