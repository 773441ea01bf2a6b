package stores

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/errs"
	"tabular/internal/models"
)

const datasetColumns = `
id, name, data_source_id, database_name, schema, definition, model, yml_file,
type, enabled, imported, database_identifier, organization_id, created_at,
updated_at, deleted_at`

// NewPostgresDatasetStore returns a Postgres-backed dataset store.
func NewPostgresDatasetStore(pool *pgxpool.Pool) DatasetStore {
	return &pgDatasetStore{pool: pool}
}

type pgDatasetStore struct {
	pool *pgxpool.Pool
}

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var d models.Dataset
	if err := row.Scan(
		&d.ID, &d.Name, &d.DataSourceID, &d.DatabaseName, &d.Schema, &d.Definition,
		&d.Model, &d.YmlFile, &d.Type, &d.Enabled, &d.Imported,
		&d.DatabaseIdentifier, &d.OrganizationID, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("dataset")
		}
		return nil, err
	}
	return &d, nil
}

func (s *pgDatasetStore) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+datasetColumns+`
FROM datasets
WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanDataset(row)
}

func (s *pgDatasetStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]models.Dataset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+datasetColumns+`
FROM datasets
WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *pgDatasetStore) ListForOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Dataset, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+datasetColumns+`
FROM datasets
WHERE organization_id = $1 AND enabled AND deleted_at IS NULL
ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// NewPostgresOrganizationStore returns a Postgres-backed organization reader.
func NewPostgresOrganizationStore(pool *pgxpool.Pool) OrganizationStore {
	return &pgOrganizationStore{pool: pool}
}

type pgOrganizationStore struct {
	pool *pgxpool.Pool
}

func (s *pgOrganizationStore) Get(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, domain, payment_required, created_at, updated_at, deleted_at
FROM organizations
WHERE id = $1 AND deleted_at IS NULL`, id)
	var o models.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Domain, &o.PaymentRequired, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("organization")
		}
		return nil, err
	}
	return &o, nil
}
