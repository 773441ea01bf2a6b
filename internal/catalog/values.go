// Package catalog implements search_data_catalog: datasets ordered by a
// reranker over their metadata, plus value-level vector search across synced
// column values, pruned into a YAML bundle for the agent. Dataset metadata
// itself is not searched by vector similarity.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabular/internal/observability"
)

// StoredValue is one row of a data source's searchable_column_values
// partition.
type StoredValue struct {
	ID           uuid.UUID
	Value        string
	DatabaseName string
	SchemaName   string
	TableName    string
	ColumnName   string
	SyncedAt     *time.Time
}

// ValueStore searches synced column values by embedding similarity.
type ValueStore interface {
	SearchValuesByEmbedding(ctx context.Context, dataSourceID uuid.UUID, embedding []float32, limit int) ([]StoredValue, error)
}

// NewPostgresValueStore searches the per-data-source partitioned
// searchable_column_values tables with pgvector distance.
func NewPostgresValueStore(pool *pgxpool.Pool) ValueStore {
	return &pgValueStore{pool: pool}
}

type pgValueStore struct{ pool *pgxpool.Pool }

func (s *pgValueStore) SearchValuesByEmbedding(ctx context.Context, dataSourceID uuid.UUID, embedding []float32, limit int) ([]StoredValue, error) {
	if len(embedding) == 0 {
		observability.LoggerWithTrace(ctx).Warn().
			Str("data_source_id", dataSourceID.String()).
			Msg("value_search_empty_embedding")
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	// Each data source syncs values into its own schema.
	schemaName := "ds_" + strings.ReplaceAll(dataSourceID.String(), "-", "_")
	query := fmt.Sprintf(`
SELECT id, value, database_name, schema_name, table_name, column_name, synced_at
FROM %q.searchable_column_values
ORDER BY embedding <=> $1::halfvec ASC
LIMIT $2`, schemaName)

	rows, err := s.pool.Query(ctx, query, toVectorLiteral(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredValue
	for rows.Next() {
		var v StoredValue
		if err := rows.Scan(&v.ID, &v.Value, &v.DatabaseName, &v.SchemaName,
			&v.TableName, &v.ColumnName, &v.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func toVectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
