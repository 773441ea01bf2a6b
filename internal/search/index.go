// Package search maintains the asset_search full-text index. Every metric,
// dashboard, collection, and chat write path refreshes its entry so list and
// search stay consistent.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/models"
)

type Result struct {
	AssetID   uuid.UUID
	AssetType models.AssetType
	Content   string
	Rank      float64
}

// Index is the asset_search table contract.
type Index interface {
	Upsert(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, content string) error
	Remove(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) error
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// NewPostgres returns the tsvector-backed index over asset_search.
func NewPostgres(pool *pgxpool.Pool) Index {
	return &pgIndex{pool: pool}
}

type pgIndex struct{ pool *pgxpool.Pool }

func (p *pgIndex) Upsert(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, content string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO asset_search (asset_id, asset_type, content, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (asset_id, asset_type)
DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at, deleted_at = NULL`,
		assetID, assetType, content, time.Now().UTC())
	return err
}

func (p *pgIndex) Remove(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) error {
	_, err := p.pool.Exec(ctx, `
UPDATE asset_search SET deleted_at = $3
WHERE asset_id = $1 AND asset_type = $2 AND deleted_at IS NULL`,
		assetID, assetType, time.Now().UTC())
	return err
}

func (p *pgIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.pool.Query(ctx, `
SELECT asset_id, asset_type, content,
       ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', $1)) AS rank
FROM asset_search
WHERE deleted_at IS NULL
  AND to_tsvector('simple', content) @@ plainto_tsquery('simple', $1)
ORDER BY rank DESC
LIMIT $2`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.AssetID, &r.AssetType, &r.Content, &r.Rank); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NewMemory returns an in-memory index for tests and single-node use.
func NewMemory() Index {
	return &memIndex{entries: make(map[string]Result)}
}

type memIndex struct {
	mu      sync.RWMutex
	entries map[string]Result
}

func key(assetID uuid.UUID, assetType models.AssetType) string {
	return string(assetType) + ":" + assetID.String()
}

func (m *memIndex) Upsert(ctx context.Context, assetID uuid.UUID, assetType models.AssetType, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(assetID, assetType)] = Result{AssetID: assetID, AssetType: assetType, Content: content}
	return nil
}

func (m *memIndex) Remove(ctx context.Context, assetID uuid.UUID, assetType models.AssetType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(assetID, assetType))
	return nil
}

func (m *memIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Result
	for _, r := range m.entries {
		if q != "" && strings.Contains(strings.ToLower(r.Content), q) {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
