// Package vectordb is a minimal Qdrant HTTP client scoped to the operations
// the retrieval and ingestion paths need.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/circuitbreaker"
	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/tracing"
)

// Client talks to one Qdrant collection.
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a client. It does not touch the network; call
// EnsureCollection before the first upsert.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "rag_knowledge"
	}
	if cfg.HNSWM == 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEfConstruct == 0 {
		cfg.HNSWEfConstruct = 200
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	httpw := circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger)
	return &Client{cfg: cfg, httpw: httpw, log: logger}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

func (c *Client) do(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

// EnsureCollection creates the collection with a cosine HNSW index if it
// does not already exist. dim must match the embedding model's output.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	if c == nil {
		return fmt.Errorf("vectordb: client not initialized")
	}
	if dim <= 0 {
		return fmt.Errorf("vectordb: invalid dimension %d", dim)
	}
	url := fmt.Sprintf("%s/collections/%s", c.cfg.BaseURL, c.cfg.Collection)

	ctx, span := tracing.StartHTTPSpan(ctx, "GET", url)
	defer span.End()

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("vectordb: check collection: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("vectordb: check collection status %d", resp.StatusCode)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dim,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]interface{}{
			"m":            c.cfg.HNSWM,
			"ef_construct": c.cfg.HNSWEfConstruct,
		},
	}
	resp, err = c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("vectordb: create collection: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vectordb: create collection status %d", resp.StatusCode)
	}
	c.log.Info("Vector collection created",
		zap.String("collection", c.cfg.Collection),
		zap.Int("dimension", dim),
	)
	return nil
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query       []float32              `json:"query"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// searchEf widens the HNSW beam for small top_k values.
func searchEf(topK int) int {
	ef := 2 * topK
	if ef < 64 {
		ef = 64
	}
	return ef
}

// Search runs ANN search and returns up to topK hits with their chunk
// back-references. Prefers the modern /points/query endpoint and falls back
// to /points/search for older servers.
func (c *Client) Search(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if c == nil {
		return nil, fmt.Errorf("vectordb: client not initialized")
	}
	if topK <= 0 {
		topK = 10
	}
	start := time.Now()

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.cfg.BaseURL, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	reqBody := qdrantQueryRequest{
		Query:       vector,
		Limit:       topK,
		WithPayload: true,
		Params:      map[string]interface{}{"hnsw_ef": searchEf(topK)},
	}

	resp, err := c.do(ctx, http.MethodPost, urlQuery, reqBody)
	if err != nil {
		ometrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// fallback to /points/search
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.cfg.BaseURL, c.cfg.Collection)
		legacy := map[string]interface{}{
			"vector":       vector,
			"limit":        topK,
			"with_payload": true,
			"params":       map[string]interface{}{"hnsw_ef": searchEf(topK)},
		}
		resp2, err2 := c.do(ctx, http.MethodPost, urlSearch, legacy)
		if err2 != nil {
			ometrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			ometrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			ometrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		ometrics.RecordVectorSearch(c.cfg.Collection, "ok", time.Since(start).Seconds())
		return toHits(sr.Result), nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		ometrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	ometrics.RecordVectorSearch(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return toHits(qr.Result.Points), nil
}

func toHits(points []qdrantPoint) []Hit {
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		h := Hit{Score: p.Score}
		if p.ID != nil {
			h.VectorID = fmt.Sprintf("%v", p.ID)
		}
		if p.Payload != nil {
			if id, ok := p.Payload["data_id"].(string); ok {
				h.DataID = id
			}
		}
		hits = append(hits, h)
	}
	return hits
}

// Upsert inserts or updates a batch of points.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if c == nil {
		return fmt.Errorf("vectordb: client not initialized")
	}
	if len(points) == 0 {
		return nil
	}

	url := fmt.Sprintf("%s/collections/%s/points", c.cfg.BaseURL, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	resp, err := c.do(ctx, http.MethodPut, url, map[string]interface{}{"points": points})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	return nil
}

// Delete removes points by id.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if c == nil {
		return fmt.Errorf("vectordb: client not initialized")
	}
	if len(ids) == 0 {
		return nil
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete", c.cfg.BaseURL, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	resp, err := c.do(ctx, http.MethodPost, url, map[string]interface{}{"points": ids})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant delete status %d", resp.StatusCode)
	}
	return nil
}

// Healthy reports whether the collection responds.
func (c *Client) Healthy(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.cfg.BaseURL, c.cfg.Collection)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vectordb: status %d", resp.StatusCode)
	}
	return nil
}
