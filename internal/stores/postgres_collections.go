package stores

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/errs"
	"tabular/internal/models"
)

const collectionColumns = `
id, name, description, organization_id, created_by, updated_by, created_at,
updated_at, deleted_at, workspace_sharing`

// NewPostgresCollectionStore returns a Postgres-backed collection store.
func NewPostgresCollectionStore(pool *pgxpool.Pool) CollectionStore {
	return &pgCollectionStore{pool: pool}
}

type pgCollectionStore struct {
	pool *pgxpool.Pool
}

func scanCollection(row pgx.Row) (*models.Collection, error) {
	var c models.Collection
	if err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.OrganizationID, &c.CreatedBy,
		&c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt, &c.WorkspaceSharing,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("collection")
		}
		return nil, err
	}
	return &c, nil
}

func (s *pgCollectionStore) Insert(ctx context.Context, c *models.Collection) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO collections (`+collectionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.Name, c.Description, c.OrganizationID, c.CreatedBy,
		c.UpdatedBy, c.CreatedAt, c.UpdatedAt, c.DeletedAt, c.WorkspaceSharing)
	return err
}

func (s *pgCollectionStore) Get(ctx context.Context, id uuid.UUID) (*models.Collection, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+collectionColumns+`
FROM collections
WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanCollection(row)
}

func (s *pgCollectionStore) Update(ctx context.Context, c *models.Collection) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE collections SET
  name=$2, description=$3, organization_id=$4, created_by=$5, updated_by=$6,
  created_at=$7, updated_at=$8, deleted_at=$9, workspace_sharing=$10
WHERE id = $1 AND deleted_at IS NULL`,
		c.ID, c.Name, c.Description, c.OrganizationID, c.CreatedBy,
		c.UpdatedBy, c.CreatedAt, c.UpdatedAt, c.DeletedAt, c.WorkspaceSharing)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("collection")
	}
	return nil
}

func (s *pgCollectionStore) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE collections SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("collection")
	}
	return nil
}

func (s *pgCollectionStore) AddAsset(ctx context.Context, link *models.CollectionToAsset) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO collections_to_assets (collection_id, asset_id, asset_type, created_by, updated_by, created_at, updated_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULL)
ON CONFLICT (collection_id, asset_id, asset_type)
DO UPDATE SET deleted_at = NULL, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		link.CollectionID, link.AssetID, link.AssetType, link.CreatedBy,
		link.UpdatedBy, link.CreatedAt, link.UpdatedAt)
	return err
}

func (s *pgCollectionStore) RemoveAsset(ctx context.Context, collectionID, assetID uuid.UUID, assetType models.AssetType, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE collections_to_assets SET deleted_at = $4, updated_at = $4
WHERE collection_id = $1 AND asset_id = $2 AND asset_type = $3 AND deleted_at IS NULL`,
		collectionID, assetID, assetType, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("collection asset")
	}
	return nil
}

func (s *pgCollectionStore) CollectionsForAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]models.Collection, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+prefixColumns("c", collectionColumns)+`
FROM collections c
JOIN collections_to_assets cta
  ON cta.collection_id = c.id AND cta.deleted_at IS NULL
WHERE cta.asset_id = $1 AND cta.asset_type = $2 AND c.deleted_at IS NULL
ORDER BY c.updated_at DESC, c.id ASC`, assetID, assetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *pgCollectionStore) ListAccessible(ctx context.Context, userID uuid.UUID, orgIDs []uuid.UUID, f ListFilter) ([]models.Collection, error) {
	f = f.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (c.id) `+prefixColumns("c", collectionColumns)+`
FROM collections c
LEFT JOIN asset_permissions ap
  ON ap.asset_id = c.id AND ap.asset_type = 'collection' AND ap.deleted_at IS NULL
 AND (
      (ap.identity_type = 'user' AND ap.identity_id = $1)
   OR (ap.identity_type = 'team' AND ap.identity_id IN (
         SELECT team_id FROM teams_to_users WHERE user_id = $1 AND deleted_at IS NULL))
 )
WHERE c.deleted_at IS NULL
  AND c.organization_id = ANY($2)
  AND (ap.identity_id IS NOT NULL OR c.workspace_sharing <> 'none')
ORDER BY c.id, c.updated_at DESC`, userID, orgIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByUpdatedDesc(out, func(c models.Collection) (time.Time, uuid.UUID) { return c.UpdatedAt, c.ID })
	return pageSlice(out, f), nil
}
