package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"tabular/internal/errs"
)

// RerankRequest defines the payload to send to the reranker.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

// RerankResult represents one document's rerank score.
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
}

// Reranker reorders candidate documents by relevance to a query.
type Reranker struct {
	host   string
	apiKey string
	model  string
	client *http.Client
}

func NewReranker(host, apiKey, model string, httpClient *http.Client) *Reranker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Reranker{host: host, apiKey: apiKey, model: model, client: httpClient}
}

// Rerank returns candidate indices ordered most-relevant first.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(RerankRequest{
		Model:     r.model,
		Query:     query,
		TopN:      len(documents),
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.host, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errs.UpstreamError("rerank", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, errs.UpstreamError("rerank", fmt.Sprintf("status %d: %s", resp.StatusCode, string(b)))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.UpstreamError("rerank", err.Error())
	}
	results := parsed.Results
	sort.Slice(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })
	return results, nil
}
