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

const metricColumns = `
id, name, file_name, content, verification, evaluation_score, evaluation_summary,
data_metadata, organization_id, created_by, created_at, updated_at, deleted_at,
publicly_accessible, publicly_enabled_by, public_expiry_date, public_password,
version_history, workspace_sharing, data_source_id`

// NewPostgresMetricStore returns a Postgres-backed metric file store.
func NewPostgresMetricStore(pool *pgxpool.Pool) MetricStore {
	return &pgMetricStore{pool: pool}
}

type pgMetricStore struct {
	pool *pgxpool.Pool
}

func scanMetric(row pgx.Row) (*models.MetricFile, error) {
	var m models.MetricFile
	var content, history []byte
	if err := row.Scan(
		&m.ID, &m.Name, &m.FileName, &content, &m.Verification, &m.EvaluationScore,
		&m.EvaluationSummary, &m.DataMetadata, &m.OrganizationID, &m.CreatedBy,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
		&m.PubliclyAccessible, &m.PubliclyEnabledBy, &m.PublicExpiryDate, &m.PublicPassword,
		&history, &m.WorkspaceSharing, &m.DataSourceID,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("metric file")
		}
		return nil, err
	}
	if err := json.Unmarshal(content, &m.Content); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &m.VersionHistory); err != nil {
		return nil, err
	}
	return &m, nil
}

func metricArgs(m *models.MetricFile) ([]any, error) {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(m.VersionHistory)
	if err != nil {
		return nil, err
	}
	return []any{
		m.ID, m.Name, m.FileName, content, m.Verification, m.EvaluationScore,
		m.EvaluationSummary, m.DataMetadata, m.OrganizationID, m.CreatedBy,
		m.CreatedAt, m.UpdatedAt, m.DeletedAt,
		m.PubliclyAccessible, m.PubliclyEnabledBy, m.PublicExpiryDate, m.PublicPassword,
		history, m.WorkspaceSharing, m.DataSourceID,
	}, nil
}

func (s *pgMetricStore) Insert(ctx context.Context, m *models.MetricFile) error {
	args, err := metricArgs(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO metric_files (`+metricColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`, args...)
	return err
}

func (s *pgMetricStore) Get(ctx context.Context, id uuid.UUID) (*models.MetricFile, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+metricColumns+`
FROM metric_files
WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanMetric(row)
}

func (s *pgMetricStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]models.MetricFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+metricColumns+`
FROM metric_files
WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MetricFile
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *pgMetricStore) Update(ctx context.Context, m *models.MetricFile) error {
	args, err := metricArgs(m)
	if err != nil {
		return err
	}
	// A row-level lock on the asset row serializes concurrent latest+1
	// version assignments.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM metric_files WHERE id = $1 FOR UPDATE`, m.ID); err != nil {
		return err
	}
	cmd, err := tx.Exec(ctx, `
UPDATE metric_files SET
  name=$2, file_name=$3, content=$4, verification=$5, evaluation_score=$6,
  evaluation_summary=$7, data_metadata=$8, organization_id=$9, created_by=$10,
  created_at=$11, updated_at=$12, deleted_at=$13, publicly_accessible=$14,
  publicly_enabled_by=$15, public_expiry_date=$16, public_password=$17,
  version_history=$18, workspace_sharing=$19, data_source_id=$20
WHERE id = $1 AND deleted_at IS NULL`, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("metric file")
	}
	return tx.Commit(ctx)
}

func (s *pgMetricStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE metric_files SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("metric file")
	}
	return nil
}

func (s *pgMetricStore) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.MetricFile, error) {
	f = f.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (mf.id) `+prefixColumns("mf", metricColumns)+`
FROM metric_files mf
LEFT JOIN asset_permissions ap
  ON ap.asset_id = mf.id AND ap.asset_type = 'metric_file' AND ap.deleted_at IS NULL
 AND (
      (ap.identity_type = 'user' AND ap.identity_id = $1)
   OR (ap.identity_type = 'team' AND ap.identity_id IN (
         SELECT team_id FROM teams_to_users WHERE user_id = $1 AND deleted_at IS NULL))
 )
WHERE mf.deleted_at IS NULL
  AND mf.organization_id = ANY($2)
  AND (ap.identity_id IS NOT NULL OR mf.workspace_sharing <> 'none')
ORDER BY mf.id, mf.updated_at DESC`, userID, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MetricFile
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByUpdatedDesc(out, func(m models.MetricFile) (time.Time, uuid.UUID) { return m.UpdatedAt, m.ID })
	return pageSlice(out, f), nil
}
