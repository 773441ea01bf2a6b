package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"tabular/internal/llm"
	"tabular/internal/models"
	"tabular/internal/observability"
	"tabular/internal/stores"
)

// Embedder is the black-box text→vector dependency.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker reorders candidate documents by relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]llm.RerankResult, error)
}

// Searcher retrieves candidate datasets for the agent's queries.
type Searcher struct {
	datasets stores.DatasetStore
	values   ValueStore
	embedder Embedder
	reranker Reranker
	// MaxDatasets caps the pruned bundle.
	MaxDatasets int
}

func NewSearcher(datasets stores.DatasetStore, values ValueStore, embedder Embedder, reranker Reranker) *Searcher {
	return &Searcher{
		datasets:    datasets,
		values:      values,
		embedder:    embedder,
		reranker:    reranker,
		MaxDatasets: 10,
	}
}

// DatasetResult is one retrieved dataset with the column values that
// matched the query.
type DatasetResult struct {
	Dataset        models.Dataset
	RelevantValues []StoredValue
}

// SearchResult is the pruned bundle handed back to the agent.
type SearchResult struct {
	Datasets []DatasetResult
}

// Search embeds the queries, orders the organization's datasets with the
// reranker over each dataset's metadata document against the combined query
// text (catalog order when reranking fails), keeps the first MaxDatasets, and
// runs value-level search for each kept dataset's data source with the first
// query's embedding. Datasets are not retrieved by vector similarity over
// their metadata, and the results are not reranked again after value search.
func (s *Searcher) Search(ctx context.Context, orgID uuid.UUID, queries []string) (*SearchResult, error) {
	log := observability.LoggerWithTrace(ctx)
	if len(queries) == 0 {
		return &SearchResult{}, nil
	}

	datasets, err := s.datasets.ListForOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return &SearchResult{}, nil
	}

	query := strings.Join(queries, "\n")
	embeddings, err := s.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, err
	}

	// Rank datasets against the combined query text. The reranker sees each
	// dataset's searchable document (name, schema, definition).
	docs := make([]string, len(datasets))
	for i, d := range datasets {
		docs[i] = datasetDocument(&d)
	}
	ranked, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil {
		// Retrieval still works without the reranker; fall back to the
		// catalog order.
		log.Warn().Err(err).Msg("catalog_rerank_failed")
		ranked = nil
	}

	order := make([]int, 0, len(datasets))
	if len(ranked) > 0 {
		for _, r := range ranked {
			if r.Index >= 0 && r.Index < len(datasets) {
				order = append(order, r.Index)
			}
		}
	} else {
		for i := range datasets {
			order = append(order, i)
		}
	}
	if len(order) > s.MaxDatasets {
		order = order[:s.MaxDatasets]
	}

	// Value-level search runs concurrently per selected data source.
	selected := make([]DatasetResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range order {
		i, ds := i, datasets[idx]
		selected[i] = DatasetResult{Dataset: ds}
		if s.values == nil || len(embeddings) == 0 || len(embeddings[0]) == 0 {
			continue
		}
		g.Go(func() error {
			values, err := s.values.SearchValuesByEmbedding(gctx, ds.DataSourceID, embeddings[0], 10)
			if err != nil {
				// Value partitions may not exist for every source.
				observability.LoggerWithTrace(gctx).Debug().Err(err).
					Str("data_source_id", ds.DataSourceID.String()).
					Msg("value_search_failed")
				return nil
			}
			selected[i].RelevantValues = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Int("queries", len(queries)).Int("datasets", len(selected)).Msg("catalog_search_complete")
	return &SearchResult{Datasets: selected}, nil
}

// datasetDocument flattens a dataset's metadata for ranking.
func datasetDocument(d *models.Dataset) string {
	parts := []string{d.Name, d.DatabaseName, d.Schema, d.Definition}
	if d.YmlFile != nil {
		parts = append(parts, *d.YmlFile)
	}
	return strings.Join(parts, "\n")
}

// ToYamlBundle renders the result as the pruned YAML context handed to the
// agent prompt and tool output.
func (r *SearchResult) ToYamlBundle() (string, error) {
	type valueEntry struct {
		Table  string `yaml:"table"`
		Column string `yaml:"column"`
		Value  string `yaml:"value"`
	}
	type datasetEntry struct {
		ID             string       `yaml:"id"`
		Name           string       `yaml:"name"`
		Database       string       `yaml:"database"`
		Schema         string       `yaml:"schema"`
		Definition     string       `yaml:"definition,omitempty"`
		RelevantValues []valueEntry `yaml:"relevant_values,omitempty"`
	}

	entries := make([]datasetEntry, 0, len(r.Datasets))
	for _, dr := range r.Datasets {
		entry := datasetEntry{
			ID:         dr.Dataset.ID.String(),
			Name:       dr.Dataset.Name,
			Database:   dr.Dataset.DatabaseName,
			Schema:     dr.Dataset.Schema,
			Definition: dr.Dataset.Definition,
		}
		for _, v := range dr.RelevantValues {
			entry.RelevantValues = append(entry.RelevantValues, valueEntry{
				Table: v.TableName, Column: v.ColumnName, Value: v.Value,
			})
		}
		entries = append(entries, entry)
	}
	out, err := yaml.Marshal(map[string]any{"datasets": entries})
	if err != nil {
		return "", fmt.Errorf("failed to render dataset bundle: %w", err)
	}
	return string(out), nil
}
