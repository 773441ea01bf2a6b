package files

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tabular/internal/assets"
	"tabular/internal/errs"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/queryengine"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

// MetricService owns metric file CRUD with version history.
type MetricService struct {
	deps *Deps
}

func NewMetricService(deps *Deps) *MetricService {
	return &MetricService{deps: deps}
}

// MetricView is the read model returned by Get.
type MetricView struct {
	Metric          models.MetricFile
	Yml             string
	VersionNumber   int
	Versions        []int
	EvaluationTier  *string
	Permission      models.AssetPermissionRole
	Dashboards      []models.DashboardFile
	Collections     []models.Collection
}

// UpdateMetricRequest mutates a metric. Exactly one of YmlContent and
// RestoreToVersion changes the content; Name alone renames.
type UpdateMetricRequest struct {
	Name             *string
	YmlContent       *string
	RestoreToVersion *int
	Verification     *models.Verification
}

// Create validates, persists version 1, grants Owner to the creator, and
// refreshes the search index.
func (s *MetricService) Create(ctx context.Context, user *models.AuthenticatedUser, ymlContent string) (*models.MetricFile, error) {
	orgID, err := primaryOrg(user)
	if err != nil {
		return nil, err
	}
	if err := s.deps.checkPayment(ctx, orgID); err != nil {
		return nil, err
	}

	yml, err := assets.ParseMetricYml(ymlContent)
	if err != nil {
		return nil, err
	}

	dataSourceID, err := s.resolveDataSource(ctx, yml.DatasetIDs)
	if err != nil {
		return nil, err
	}
	if err := s.validateSQL(ctx, dataSourceID, yml.SQL); err != nil {
		return nil, err
	}

	now := s.deps.now()
	metric := &models.MetricFile{
		ID:               uuid.New(),
		Name:             yml.Name,
		FileName:         yml.Name + ".yml",
		Content:          yml,
		Verification:     models.VerificationNotRequested,
		OrganizationID:   orgID,
		CreatedBy:        user.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
		VersionHistory:   assets.NewVersionHistory(yml, now),
		WorkspaceSharing: models.WorkspaceSharingNone,
		DataSourceID:     dataSourceID,
	}
	if err := s.deps.Metrics.Insert(ctx, metric); err != nil {
		return nil, err
	}
	if err := s.deps.Permissions.Upsert(ctx, &models.AssetPermission{
		AssetID:      metric.ID,
		AssetType:    models.AssetTypeMetricFile,
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
	s.updateIndex(ctx, metric)
	return metric, nil
}

// Get authorizes at least CanView and returns the metric at the requested
// version (latest by default), with associated dashboards and collections
// fetched concurrently.
func (s *MetricService) Get(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, version *int, opts sharing.Options) (*MetricView, error) {
	role, ok, err := s.deps.Resolver.EffectiveRole(ctx, user, id, models.AssetTypeMetricFile, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Unauthorized()
	}

	metric, err := s.deps.Metrics.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	content := metric.Content
	versionNumber := metric.VersionHistory.LatestNumber()
	if version != nil {
		v, err := metric.VersionHistory.Version(*version)
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
		dashboards  []models.DashboardFile
		collections []models.Collection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dashboards, err = s.deps.Dashboards.DashboardsForMetric(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		collections, err = s.deps.Collections.CollectionsForAsset(gctx, id, models.AssetTypeMetricFile)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(metric.VersionHistory))
	for n := range metric.VersionHistory {
		versions = append(versions, n)
	}
	sort.Ints(versions)

	return &MetricView{
		Metric:         *metric,
		Yml:            yml,
		VersionNumber:  versionNumber,
		Versions:       versions,
		EvaluationTier: evaluationTier(metric.EvaluationScore),
		Permission:     role,
		Dashboards:     dashboards,
		Collections:    collections,
	}, nil
}

// Update authorizes at least CanEdit and applies the request. Content
// changes (new yml or a version restore) append a new version numbered
// latest+1; prior versions are never mutated.
func (s *MetricService) Update(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, req UpdateMetricRequest) (*models.MetricFile, error) {
	if _, err := s.deps.Resolver.RequireAtLeast(ctx, user, id, models.AssetTypeMetricFile, sharing.Options{}, models.RoleCanEdit); err != nil {
		return nil, err
	}
	metric, err := s.deps.Metrics.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.deps.checkPayment(ctx, metric.OrganizationID); err != nil {
		return nil, err
	}

	now := s.deps.now()
	switch {
	case req.RestoreToVersion != nil:
		v, err := metric.VersionHistory.Version(*req.RestoreToVersion)
		if err != nil {
			return nil, err
		}
		metric.Content = v.Content
		metric.Name = v.Content.Name
		metric.VersionHistory.AddVersion(v.Content, now)
	case req.YmlContent != nil:
		yml, err := assets.ParseMetricYml(*req.YmlContent)
		if err != nil {
			return nil, err
		}
		dataSourceID, err := s.resolveDataSource(ctx, yml.DatasetIDs)
		if err != nil {
			return nil, err
		}
		if err := s.validateSQL(ctx, dataSourceID, yml.SQL); err != nil {
			return nil, err
		}
		metric.Content = yml
		metric.Name = yml.Name
		metric.DataSourceID = dataSourceID
		metric.VersionHistory.AddVersion(yml, now)
	}
	if req.Name != nil {
		metric.Name = *req.Name
	}
	if req.Verification != nil {
		metric.Verification = *req.Verification
	}
	metric.UpdatedAt = now

	if err := s.deps.Metrics.Update(ctx, metric); err != nil {
		return nil, err
	}
	s.updateIndex(ctx, metric)
	return metric, nil
}

// Restore appends a new latest version whose content equals version n's.
func (s *MetricService) Restore(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID, version int) (*models.MetricFile, error) {
	return s.Update(ctx, user, id, UpdateMetricRequest{RestoreToVersion: &version})
}

// Delete authorizes FullAccess or Owner and soft-deletes.
func (s *MetricService) Delete(ctx context.Context, user *models.AuthenticatedUser, id uuid.UUID) error {
	ok, err := s.deps.Resolver.CheckAccess(ctx, user, id, models.AssetTypeMetricFile, sharing.Options{},
		models.RoleFullAccess, models.RoleOwner)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Unauthorized()
	}
	if err := s.deps.Metrics.SoftDelete(ctx, id, s.deps.now()); err != nil {
		return err
	}
	if err := s.deps.Index.Remove(ctx, id, models.AssetTypeMetricFile); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("metric_id", id.String()).Msg("search_index_remove_failed")
	}
	return nil
}

// List returns metrics the user can reach, ordered updated_at DESC with id
// ASC tie-break, de-duplicated, paginated.
func (s *MetricService) List(ctx context.Context, user *models.AuthenticatedUser, f stores.ListFilter) ([]models.MetricFile, error) {
	return s.deps.Metrics.ListAccessible(ctx, user.ID, orgIDs(user), f)
}

// BulkDeleteResult is the 207-style partial-success payload.
type BulkDeleteResult struct {
	SuccessfulIDs []uuid.UUID      `json:"successful_ids"`
	FailedIDs     []BulkFailedItem `json:"failed_ids"`
}

type BulkFailedItem struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

// BulkDelete deletes each id independently and reports per-id outcomes.
func (s *MetricService) BulkDelete(ctx context.Context, user *models.AuthenticatedUser, ids []uuid.UUID) BulkDeleteResult {
	var result BulkDeleteResult
	for _, id := range ids {
		if err := s.Delete(ctx, user, id); err != nil {
			result.FailedIDs = append(result.FailedIDs, BulkFailedItem{ID: id, Error: err.Error()})
			continue
		}
		result.SuccessfulIDs = append(result.SuccessfulIDs, id)
	}
	return result
}

// resolveDataSource derives the metric's data source from its first dataset.
// Metrics without datasets carry no data source and skip SQL validation.
func (s *MetricService) resolveDataSource(ctx context.Context, datasetIDs []uuid.UUID) (uuid.UUID, error) {
	if len(datasetIDs) == 0 {
		return uuid.Nil, nil
	}
	ds, err := s.deps.Datasets.Get(ctx, datasetIDs[0])
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return uuid.Nil, errs.InvalidInput("dataset_ids", fmt.Sprintf("dataset %s not found", datasetIDs[0]))
		}
		return uuid.Nil, err
	}
	return ds.DataSourceID, nil
}

func (s *MetricService) validateSQL(ctx context.Context, dataSourceID uuid.UUID, sql string) error {
	if s.deps.Engine == nil || dataSourceID == uuid.Nil {
		return nil
	}
	return queryengine.ValidateSQL(ctx, s.deps.Engine, dataSourceID, sql)
}

func (s *MetricService) updateIndex(ctx context.Context, metric *models.MetricFile) {
	if s.deps.Index == nil {
		return
	}
	if err := s.deps.Index.Upsert(ctx, metric.ID, models.AssetTypeMetricFile, metric.Name); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("metric_id", metric.ID.String()).Msg("search_index_update_failed")
	}
}
