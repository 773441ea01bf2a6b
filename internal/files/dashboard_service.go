package files

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tabular/internal/assets"
	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

// DashboardService owns dashboard file CRUD with version history and the
// dashboard→metric cohesion checks.
type DashboardService struct {
	deps *Deps
}

func NewDashboardService(deps *Deps) *DashboardService {
	return &DashboardService{deps: deps}
}

// DashboardView is the read model returned by Get.
type DashboardView struct {
	Dashboard     models.DashboardFile
	Yml           string
	VersionNumber int
	Permission    models.AssetPermissionRole
	Metrics       []models.MetricFile
	Collections   []models.Collection
}

type UpdateDashboardRequest struct {
	Name             *string
	YmlContent       *string
	RestoreToVersion *int
}

// Create parses, validates the row/column grid, verifies every referenced
// metric resolves in the user's organization, persists version 1, and links
// the metric edges.
func (s *DashboardService) Create(ctx context.Context, user *models.AuthenticatedUser, ymlContent string) (*models.DashboardFile, error) {
	orgID, err := primaryOrg(user)
	if err != nil {
		return nil, err
	}
	if err := s.deps.checkPayment(ctx, orgID); err != nil {
		return nil, err
	}

	yml, err := assets.ParseDashboardYml(ymlContent)
	if err != nil {
		return nil, err
	}
	if err := s.validateReferences(ctx, user, orgID, &yml); err != nil {
		return nil, err
	}

	now := s.deps.now()
	dashboard := &models.DashboardFile{
		ID:               uuid.New(),
		Name:             yml.Name,
		FileName:         yml.Name + ".yml",
		Content:          yml,
		OrganizationID:   orgID,
		CreatedBy:        user.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
		VersionHistory:   assets.NewVersionHistory(yml, now),
		WorkspaceSharing: models.WorkspaceSharingNone,
	}
	if err := s.deps.Dashboards.Insert(ctx, dashboard); err != nil {
		return nil, err
	}
	if err := s.deps.Permissions.Upsert(ctx, &models.AssetPermission{
		AssetID:      dashboard.ID,
		AssetType:    models.AssetTypeDashboardFile,
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
	if err := s.deps.Dashboards.ReplaceMetricLinks(ctx, dashboard.ID, yml.MetricIDs(), user.ID); err != nil {
		return nil, err
	}
	s.updateIndex(ctx, dashboard)
	return dashboard, nil
}

// Get authorizes at least CanView and returns the dashboard at the
// requested version with its metrics and collections fetched concurrently.
func (s *DashboardService) Get(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, version *int, opts sharing.Options) (*DashboardView, error) {
	role, ok, err := s.deps.Resolver.EffectiveRole(ctx, user, id, models.AssetTypeDashboardFile, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Unauthorized()
	}

	dashboard, err := s.deps.Dashboards.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	content := dashboard.Content
	versionNumber := dashboard.VersionHistory.LatestNumber()
	if version != nil {
		v, err := dashboard.VersionHistory.Version(*version)
		if err != nil {
			return nil, err
		}
		content = v.Content
		versionNumber = v.VersionNumber
	}
	yml, err := content.ToYaml()
	if err != nil {
		return nil, err
	}

	var (
		metrics     []models.MetricFile
		collections []models.Collection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		metrics, err = s.deps.Metrics.GetMany(gctx, content.MetricIDs())
		return err
	})
	g.Go(func() error {
		var err error
		collections, err = s.deps.Collections.CollectionsForAsset(gctx, id, models.AssetTypeDashboardFile)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &DashboardView{
		Dashboard:     *dashboard,
		Yml:           yml,
		VersionNumber: versionNumber,
		Permission:    role,
		Metrics:       metrics,
		Collections:   collections,
	}, nil
}

// Update authorizes at least CanEdit and applies the request; yml changes
// and restores append a new version and rewrite the metric edges.
func (s *DashboardService) Update(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, req UpdateDashboardRequest) (*models.DashboardFile, error) {
	if _, err := s.deps.Resolver.RequireAtLeast(ctx, user, id, models.AssetTypeDashboardFile, sharing.Options{}, models.RoleCanEdit); err != nil {
		return nil, err
	}
	dashboard, err := s.deps.Dashboards.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.deps.checkPayment(ctx, dashboard.OrganizationID); err != nil {
		return nil, err
	}

	now := s.deps.now()
	contentChanged := false
	switch {
	case req.RestoreToVersion != nil:
		v, err := dashboard.VersionHistory.Version(*req.RestoreToVersion)
		if err != nil {
			return nil, err
		}
		dashboard.Content = v.Content
		dashboard.Name = v.Content.Name
		dashboard.VersionHistory.AddVersion(v.Content, now)
		contentChanged = true
	case req.YmlContent != nil:
		yml, err := assets.ParseDashboardYml(*req.YmlContent)
		if err != nil {
			return nil, err
		}
		if err := s.validateReferences(ctx, user, dashboard.OrganizationID, &yml); err != nil {
			return nil, err
		}
		dashboard.Content = yml
		dashboard.Name = yml.Name
		dashboard.VersionHistory.AddVersion(yml, now)
		contentChanged = true
	}
	if req.Name != nil {
		dashboard.Name = *req.Name
	}
	dashboard.UpdatedAt = now

	if err := s.deps.Dashboards.Update(ctx, dashboard); err != nil {
		return nil, err
	}
	if contentChanged {
		if err := s.deps.Dashboards.ReplaceMetricLinks(ctx, dashboard.ID, dashboard.Content.MetricIDs(), user.ID); err != nil {
			return nil, err
		}
	}
	s.updateIndex(ctx, dashboard)
	return dashboard, nil
}

// Restore appends a new latest version whose content equals version n's.
func (s *DashboardService) Restore(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, version int) (*models.DashboardFile, error) {
	return s.Update(ctx, user, id, UpdateDashboardRequest{RestoreToVersion: &version})
}

// Delete authorizes FullAccess or Owner and soft-deletes.
func (s *DashboardService) Delete(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID) error {
	ok, err := s.deps.Resolver.CheckAccess(ctx, user, id, models.AssetTypeDashboardFile, sharing.Options{},
		models.RoleFullAccess, models.RoleOwner)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Unauthorized()
	}
	if err := s.deps.Dashboards.SoftDelete(ctx, id, s.deps.now()); err != nil {
		return err
	}
	if err := s.deps.Index.Remove(ctx, id, models.AssetTypeDashboardFile); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("dashboard_id", id.String()).Msg("search_index_remove_failed")
	}
	return nil
}

// List returns dashboards the user can reach.
func (s *DashboardService) List(ctx context.Context, user *models.AuthenticatedUser, f stores.ListFilter) ([]models.DashboardFile, error) {
	return s.deps.Dashboards.ListAccessible(ctx, user.ID, orgIDs(user), f)
}

// validateReferences requires every referenced metric to exist, be
// non-deleted, live in the dashboard's organization, and be visible to the
// user. Unknown ids are reported together.
func (s *DashboardService) validateReferences(ctx context.Context, user *models.AuthenticatedUser, orgID uuid.UUID, yml *assets.DashboardYml) error {
	wanted := yml.MetricIDs()
	if len(wanted) == 0 {
		return nil
	}
	found, err := s.deps.Metrics.GetMany(ctx, wanted)
	if err != nil {
		return err
	}
	visible := make(map[uuid.UUID]bool, len(found))
	for _, m := range found {
		if m.OrganizationID != orgID {
			continue
		}
		ok, err := s.deps.Resolver.CheckAccess(ctx, user, m.ID, models.AssetTypeMetricFile, sharing.Options{}, viewRoles()...)
		if err != nil {
			return err
		}
		if ok {
			visible[m.ID] = true
		}
	}
	var missing []uuid.UUID
	for _, id := range wanted {
		if !visible[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return errs.InvalidReferences(missing)
	}
	return nil
}

func (s *DashboardService) updateIndex(ctx context.Context, dashboard *models.DashboardFile) {
	if s.deps.Index == nil {
		return
	}
	if err := s.deps.Index.Upsert(ctx, dashboard.ID, models.AssetTypeDashboardFile, dashboard.Name); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("dashboard_id", dashboard.ID.String()).Msg("search_index_update_failed")
	}
}
