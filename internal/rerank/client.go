// Package rerank scores query/document pairs through a cross-encoder
// service speaking the BGE reranker HTTP protocol.
package rerank

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

// Config controls the rerank client.
type Config struct {
	BaseURL  string
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client calls the cross-encoder rerank backend.
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a rerank client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/v1/rerank"
	}
	if cfg.Model == "" {
		cfg.Model = "bge-reranker-base"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "rerank", "cross-encoder", logger),
		log:   logger,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankItem struct {
	Index          int      `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Score          *float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankItem `json:"results"`
	Data    []rerankItem `json:"data"`
}

// Score returns one relevance score per document, aligned by position.
// Documents the backend omits score 0.0.
func (c *Client) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	start := time.Now()

	url := c.cfg.BaseURL + c.cfg.Endpoint
	body, err := json.Marshal(rerankRequest{Model: c.cfg.Model, Query: query, Documents: documents})
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		ometrics.RecordRerank("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ometrics.RecordRerank("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("rerank status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		ometrics.RecordRerank("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("rerank decode: %w", err)
	}

	items := rr.Results
	if len(items) == 0 {
		items = rr.Data
	}

	scores := make([]float64, len(documents))
	for _, it := range items {
		if it.Index < 0 || it.Index >= len(documents) {
			continue
		}
		switch {
		case it.RelevanceScore != nil:
			scores[it.Index] = *it.RelevanceScore
		case it.Score != nil:
			scores[it.Index] = *it.Score
		}
	}
	ometrics.RecordRerank("ok", time.Since(start).Seconds())
	return scores, nil
}

// Healthy probes the backend with a one-document request.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.Score(ctx, "ping", []string{"ping"})
	return err
}
