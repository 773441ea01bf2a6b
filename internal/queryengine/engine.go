// Package queryengine wraps the external SQL execution service. The engine
// itself is a black box; this package only shapes requests and errors.
package queryengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"tabular/internal/errs"
)

// ColumnMeta describes one result column.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Result struct {
	Rows     []map[string]any `json:"rows"`
	Metadata []ColumnMeta     `json:"metadata"`
}

// Engine executes SQL against a customer data source.
type Engine interface {
	Execute(ctx context.Context, dataSourceID uuid.UUID, sql string, limit int) (*Result, error)
}

// ValidateSQL dispatches the statement with LIMIT 0 and maps engine
// rejections to InvalidSql. Nothing is persisted by callers on failure.
func ValidateSQL(ctx context.Context, engine Engine, dataSourceID uuid.UUID, sql string) error {
	if _, err := engine.Execute(ctx, dataSourceID, sql, 0); err != nil {
		var de *errs.Error
		if errors.As(err, &de) && (de.Kind == errs.KindUpstreamTimeout || de.Kind == errs.KindUpstreamError) {
			return err
		}
		return errs.InvalidSQL(err.Error())
	}
	return nil
}

// HTTPEngine talks to the query execution service over HTTP.
type HTTPEngine struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPEngine(baseURL, token string, httpClient *http.Client) *HTTPEngine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPEngine{baseURL: baseURL, token: token, client: httpClient}
}

type executeRequest struct {
	DataSourceID uuid.UUID `json:"data_source_id"`
	SQL          string    `json:"sql"`
	Limit        int       `json:"limit"`
}

func (e *HTTPEngine) Execute(ctx context.Context, dataSourceID uuid.UUID, sql string, limit int) (*Result, error) {
	body, err := json.Marshal(executeRequest{DataSourceID: dataSourceID, SQL: sql, Limit: limit})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.UpstreamTimeout("query engine")
		}
		return nil, errs.UpstreamError("query engine", err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("query rejected: %s", string(b))
	default:
		b, _ := io.ReadAll(resp.Body)
		return nil, errs.UpstreamError("query engine", fmt.Sprintf("status %d: %s", resp.StatusCode, string(b)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.UpstreamError("query engine", err.Error())
	}
	return &result, nil
}
