// Package sharing computes the effective role a user holds on an asset by
// combining direct grants, team grants, collection/dashboard/chat
// inheritance, workspace-level sharing, public links, and org-admin
// elevation.
package sharing

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/observability"
)

// AssetInfo is the sharing-relevant slice of an asset row.
type AssetInfo struct {
	OrganizationID     uuid.UUID
	WorkspaceSharing   models.WorkspaceSharing
	PubliclyAccessible bool
	PublicExpiryDate   *time.Time
	PublicPassword     *string
}

// Store supplies the rows the resolver needs. Implemented over the store
// interfaces so Postgres and memory backends both satisfy it.
type Store interface {
	AssetInfo(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) (*AssetInfo, error)
	RolesForIdentities(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityIDs []uuid.UUID) ([]models.AssetPermissionRole, error)
	TeamsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// CollectionsContaining returns ids of non-deleted collections holding
	// the asset.
	CollectionsContaining(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]uuid.UUID, error)
	// DashboardsContaining returns ids of non-deleted dashboards embedding
	// the metric.
	DashboardsContaining(ctx context.Context, metricID uuid.UUID) ([]uuid.UUID, error)
	// ChatsReferencingFile returns ids of chats whose messages link the file.
	ChatsReferencingFile(ctx context.Context, fileID uuid.UUID) ([]uuid.UUID, error)
}

// Options carry per-request context for public-link checks.
type Options struct {
	// PublicPassword is the password supplied with the request, if any.
	PublicPassword *string
}

type Resolver struct {
	store Store
	now   func() time.Time
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// EffectiveRole returns the strongest role the user holds on the asset, or
// ok=false when the user has no access at all. Asset rows must exist; a
// missing asset surfaces as NotFound.
func (r *Resolver) EffectiveRole(ctx context.Context, user *models.AuthenticatedUser, assetID uuid.UUID, assetType models.AssetType, opts Options) (models.AssetPermissionRole, bool, error) {
	return r.resolve(ctx, user, assetID, assetType, opts, true)
}

// resolve runs the role computation. expandInheritance is cleared on the
// recursive calls so collection roles never expand further collections
// (cycle prevention) and dashboard/chat inheritance stays one level deep.
func (r *Resolver) resolve(ctx context.Context, user *models.AuthenticatedUser, assetID uuid.UUID, assetType models.AssetType, opts Options, expandInheritance bool) (models.AssetPermissionRole, bool, error) {
	info, err := r.store.AssetInfo(ctx, assetID, assetType)
	if err != nil {
		return "", false, err
	}

	// Org admins own everything in their organization.
	if user.IsAdminOf(info.OrganizationID) {
		return models.RoleOwner, true, nil
	}

	var best models.AssetPermissionRole
	found := false
	add := func(role models.AssetPermissionRole) {
		if !found {
			best = role
			found = true
			return
		}
		best = best.Max(role)
	}

	// Direct and team grants.
	teams, err := r.store.TeamsForUser(ctx, user.ID)
	if err != nil {
		return "", false, err
	}
	identities := append([]uuid.UUID{user.ID}, teams...)
	roles, err := r.store.RolesForIdentities(ctx, assetID, assetType, identities)
	if err != nil {
		return "", false, err
	}
	for _, role := range roles {
		add(role)
	}

	if expandInheritance {
		// Collection inheritance: the user's role on a containing collection
		// carries over to the asset.
		collections, err := r.store.CollectionsContaining(ctx, assetID, assetType)
		if err != nil {
			return "", false, err
		}
		for _, collectionID := range collections {
			role, ok, err := r.resolve(ctx, user, collectionID, models.AssetTypeCollection, Options{}, false)
			if err != nil {
				if errs.IsKind(err, errs.KindNotFound) {
					continue
				}
				return "", false, err
			}
			if ok {
				add(role)
			}
		}

		// Dashboard inheritance applies to metrics only.
		if assetType == models.AssetTypeMetricFile {
			dashboards, err := r.store.DashboardsContaining(ctx, assetID)
			if err != nil {
				return "", false, err
			}
			for _, dashboardID := range dashboards {
				role, ok, err := r.resolve(ctx, user, dashboardID, models.AssetTypeDashboardFile, opts, false)
				if err != nil {
					if errs.IsKind(err, errs.KindNotFound) {
						continue
					}
					return "", false, err
				}
				if ok {
					add(role)
				}
			}
		}

		// Chat inheritance applies to files: viewing a chat that produced a
		// file grants CanView on the file.
		if assetType == models.AssetTypeMetricFile || assetType == models.AssetTypeDashboardFile {
			chats, err := r.store.ChatsReferencingFile(ctx, assetID)
			if err != nil {
				return "", false, err
			}
			for _, chatID := range chats {
				_, ok, err := r.resolve(ctx, user, chatID, models.AssetTypeChat, opts, false)
				if err != nil {
					if errs.IsKind(err, errs.KindNotFound) {
						continue
					}
					return "", false, err
				}
				if ok {
					add(models.RoleCanView)
				}
			}
		}
	}

	// Workspace sharing for members of the asset's organization.
	if user.MemberOf(info.OrganizationID) {
		if role, ok := info.WorkspaceSharing.Role(); ok {
			add(role)
		}
	}

	// Public links grant CanView while unexpired and, when a password is
	// set, only with the matching password.
	if info.PubliclyAccessible && r.publicLinkValid(info, opts) {
		add(models.RoleCanView)
	}

	if !found {
		observability.LoggerWithTrace(ctx).Debug().
			Str("asset_id", assetID.String()).
			Str("asset_type", string(assetType)).
			Str("user_id", user.ID.String()).
			Msg("effective_role_none")
		return "", false, nil
	}
	return best, true, nil
}

func (r *Resolver) publicLinkValid(info *AssetInfo, opts Options) bool {
	if info.PublicExpiryDate != nil && !info.PublicExpiryDate.After(r.now()) {
		return false
	}
	if info.PublicPassword == nil {
		return true
	}
	if opts.PublicPassword == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*info.PublicPassword), []byte(*opts.PublicPassword)) == 1
}

// CheckAccess reports whether the user's effective role is one of required.
// Admin elevation short-circuits to Owner before source collection.
func (r *Resolver) CheckAccess(ctx context.Context, user *models.AuthenticatedUser, assetID uuid.UUID, assetType models.AssetType, opts Options, required ...models.AssetPermissionRole) (bool, error) {
	role, ok, err := r.EffectiveRole(ctx, user, assetID, assetType, opts)
	if err != nil || !ok {
		return false, err
	}
	for _, req := range required {
		if role == req {
			return true, nil
		}
	}
	return false, nil
}

// RequireAtLeast returns the effective role when it grants at least min;
// otherwise an Unauthorized error.
func (r *Resolver) RequireAtLeast(ctx context.Context, user *models.AuthenticatedUser, assetID uuid.UUID, assetType models.AssetType, opts Options, min models.AssetPermissionRole) (models.AssetPermissionRole, error) {
	role, ok, err := r.EffectiveRole(ctx, user, assetID, assetType, opts)
	if err != nil {
		return "", err
	}
	if !ok || !role.AtLeast(min) {
		return "", errs.Unauthorized()
	}
	return role, nil
}
