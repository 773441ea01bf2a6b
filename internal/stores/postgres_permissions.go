package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/errs"
	"tabular/internal/models"
)

// NewPostgresPermissionStore returns a Postgres-backed asset permission store.
func NewPostgresPermissionStore(pool *pgxpool.Pool) PermissionStore {
	return &pgPermissionStore{pool: pool}
}

type pgPermissionStore struct {
	pool *pgxpool.Pool
}

func (s *pgPermissionStore) Upsert(ctx context.Context, p *models.AssetPermission) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO asset_permissions (asset_id, asset_type, identity_id, identity_type, role, created_by, updated_by, created_at, updated_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)
ON CONFLICT (asset_id, asset_type, identity_id, identity_type)
DO UPDATE SET role = EXCLUDED.role, updated_by = EXCLUDED.updated_by,
              updated_at = EXCLUDED.updated_at, deleted_at = NULL`,
		p.AssetID, p.AssetType, p.IdentityID, p.IdentityType, p.Role,
		p.CreatedBy, p.UpdatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *pgPermissionStore) Remove(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityID uuid.UUID, identityType models.IdentityType, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE asset_permissions SET deleted_at = $5, updated_at = $5
WHERE asset_id = $1 AND asset_type = $2 AND identity_id = $3 AND identity_type = $4
  AND deleted_at IS NULL`,
		assetID, assetType, identityID, identityType, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errs.NotFound("asset permission")
	}
	return nil
}

func (s *pgPermissionStore) ListForAsset(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) ([]models.AssetPermission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT asset_id, asset_type, identity_id, identity_type, role, created_by, updated_by, created_at, updated_at, deleted_at
FROM asset_permissions
WHERE asset_id = $1 AND asset_type = $2 AND deleted_at IS NULL
ORDER BY created_at ASC`, assetID, assetType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AssetPermission
	for rows.Next() {
		var p models.AssetPermission
		if err := rows.Scan(&p.AssetID, &p.AssetType, &p.IdentityID, &p.IdentityType,
			&p.Role, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgPermissionStore) RolesForIdentities(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, identityIDs []uuid.UUID) ([]models.AssetPermissionRole, error) {
	if len(identityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT role
FROM asset_permissions
WHERE asset_id = $1 AND asset_type = $2 AND identity_id = ANY($3) AND deleted_at IS NULL`,
		assetID, assetType, identityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AssetPermissionRole
	for rows.Next() {
		var r models.AssetPermissionRole
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgPermissionStore) TeamsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
SELECT team_id FROM teams_to_users
WHERE user_id = $1 AND deleted_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
