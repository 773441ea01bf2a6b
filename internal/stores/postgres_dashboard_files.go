package stores

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/errs"
	"tabular/internal/models"
)

const dashboardColumns = `
id, name, file_name, content, filter, organization_id, created_by, created_at,
updated_at, deleted_at, publicly_accessible, publicly_enabled_by,
public_expiry_date, public_password, version_history, workspace_sharing`

// NewPostgresDashboardStore returns a Postgres-backed dashboard file store.
func NewPostgresDashboardStore(pool *pgxpool.Pool) DashboardStore {
	return &pgDashboardStore{pool: pool}
}

type pgDashboardStore struct {
	pool *pgxpool.Pool
}

func scanDashboard(row pgx.Row) (*models.DashboardFile, error) {
	var d models.DashboardFile
	var content, history []byte
	if err := row.Scan(
		&d.ID, &d.Name, &d.FileName, &content, &d.Filter, &d.OrganizationID,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt,
		&d.PubliclyAccessible, &d.PubliclyEnabledBy, &d.PublicExpiryDate,
		&d.PublicPassword, &history, &d.WorkspaceSharing,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("dashboard file")
		}
		return nil, err
	}
	if err := json.Unmarshal(content, &d.Content); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &d.VersionHistory); err != nil {
		return nil, err
	}
	return &d, nil
}

func dashboardArgs(d *models.DashboardFile) ([]any, error) {
	content, err := json.Marshal(d.Content)
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(d.VersionHistory)
	if err != nil {
		return nil, err
	}
	return []any{
		d.ID, d.Name, d.FileName, content, d.Filter, d.OrganizationID,
		d.CreatedBy, d.CreatedAt, d.UpdatedAt, d.DeletedAt,
		d.PubliclyAccessible, d.PubliclyEnabledBy, d.PublicExpiryDate,
		d.PublicPassword, history, d.WorkspaceSharing,
	}, nil
}

func (s *pgDashboardStore) Insert(ctx context.Context, d *models.DashboardFile) error {
	args, err := dashboardArgs(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO dashboard_files (`+dashboardColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`, args...)
	return err
}

func (s *pgDashboardStore) Get(ctx context.Context, id uuid.UUID) (*models.DashboardFile, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+dashboardColumns+`
FROM dashboard_files
WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanDashboard(row)
}

func (s *pgDashboardStore) Update(ctx context.Context, d *models.DashboardFile) error {
	args, err := dashboardArgs(d)
	if err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM dashboard_files WHERE id = $1 FOR UPDATE`, d.ID); err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `
UPDATE dashboard_files SET
  name=$2, file_name=$3, content=$4, filter=$5, organization_id=$6,
  created_by=$7, created_at=$8, updated_at=$9, deleted_at=$10,
  publicly_accessible=$11, publicly_enabled_by=$12, public_expiry_date=$13,
  public_password=$14, version_history=$15, workspace_sharing=$16
WHERE id = $1 AND deleted_at IS NULL`, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("dashboard file")
	}
	return tx.Commit(ctx)
}

func (s *pgDashboardStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE dashboard_files SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("dashboard file")
	}
	return nil
}

func (s *pgDashboardStore) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.DashboardFile, error) {
	f = f.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (df.id) `+prefixColumns("df", dashboardColumns)+`
FROM dashboard_files df
LEFT JOIN asset_permissions ap
  ON ap.asset_id = df.id AND ap.asset_type = 'dashboard_file' AND ap.deleted_at IS NULL
 AND (
      (ap.identity_type = 'user' AND ap.identity_id = $1)
   OR (ap.identity_type = 'team' AND ap.identity_id IN (
         SELECT team_id FROM teams_to_users WHERE user_id = $1 AND deleted_at IS NULL))
 )
WHERE df.deleted_at IS NULL
  AND df.organization_id = ANY($2)
  AND (ap.identity_id IS NOT NULL OR df.workspace_sharing <> 'none')
ORDER BY df.id, df.updated_at DESC`, userID, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DashboardFile
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByUpdatedDesc(out, func(d models.DashboardFile) (time.Time, uuid.UUID) { return d.UpdatedAt, d.ID })
	return pageSlice(out, f), nil
}

func (s *pgDashboardStore) ReplaceMetricLinks(ctx context.Context, dashboardID uuid.UUID, metricIDs []uuid.UUID, by uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
UPDATE metric_files_to_dashboard_files SET deleted_at = $2, updated_at = $2
WHERE dashboard_file_id = $1 AND deleted_at IS NULL AND NOT (metric_file_id = ANY($3))`,
		dashboardID, now, metricIDs); err != nil {
		return err
	}
	for _, metricID := range metricIDs {
		if _, err := tx.Exec(ctx, `
INSERT INTO metric_files_to_dashboard_files (metric_file_id, dashboard_file_id, created_by, created_at, updated_at, deleted_at)
VALUES ($1, $2, $3, $4, $4, NULL)
ON CONFLICT (metric_file_id, dashboard_file_id)
DO UPDATE SET deleted_at = NULL, updated_at = EXCLUDED.updated_at`,
			metricID, dashboardID, by, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *pgDashboardStore) DashboardsForMetric(ctx context.Context, metricID uuid.UUID) ([]models.DashboardFile, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+prefixColumns("df", dashboardColumns)+`
FROM dashboard_files df
JOIN metric_files_to_dashboard_files link
  ON link.dashboard_file_id = df.id AND link.deleted_at IS NULL
WHERE link.metric_file_id = $1 AND df.deleted_at IS NULL
ORDER BY df.updated_at DESC, df.id ASC`, metricID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DashboardFile
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
