// Package embeddings turns text into dense vectors through an
// Ollama-compatible embedding endpoint, with local and shared caching.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/circuitbreaker"
	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/tracing"
)

// Config controls the embedding client.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls the embedding backend. Optional cache short-circuits
// repeated inputs.
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	cache Cache
	log   *zap.Logger

	dimOnce sync.Once
	dim     int
	dimErr  error
}

// NewClient builds an embedding client. cache may be nil.
func NewClient(cfg Config, cache Cache, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "bge-m3:latest"
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
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "embedding", "ollama", logger),
		cache: cache,
		log:   logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *Client) call(ctx context.Context, text string) ([]float32, error) {
	url := c.cfg.BaseURL + "/api/embeddings"
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Prompt: text})
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
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding status %d", resp.StatusCode)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("embedding decode: %w", err)
	}
	if len(er.Embedding) == 0 {
		return nil, fmt.Errorf("embedding backend returned empty vector")
	}
	return er.Embedding, nil
}

// Embed returns the vector for text, consulting the cache first.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding: empty input")
	}
	key := MakeKey(c.cfg.Model, text)
	if c.cache != nil {
		if vec, ok := c.cache.Get(ctx, key); ok {
			return vec, nil
		}
	}

	start := time.Now()
	vec, err := c.call(ctx, text)
	if err != nil {
		ometrics.RecordEmbedding(c.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}
	ometrics.RecordEmbedding(c.cfg.Model, "ok", time.Since(start).Seconds())

	if c.cache != nil {
		c.cache.Set(ctx, key, vec)
	}
	return vec, nil
}

// EmbedBatch embeds texts sequentially, preserving order. One failure
// aborts the batch so ingestion never records partial chunk vectors.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch item %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimension probes the backend once and caches the model's output width.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	c.dimOnce.Do(func() {
		vec, err := c.call(ctx, "test")
		if err != nil {
			c.dimErr = fmt.Errorf("probe embedding dimension: %w", err)
			return
		}
		c.dim = len(vec)
		c.log.Info("Embedding dimension discovered",
			zap.String("model", c.cfg.Model),
			zap.Int("dimension", c.dim),
		)
	})
	return c.dim, c.dimErr
}

// Healthy reports whether the backend answers an embedding probe.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.Dimension(ctx)
	return err
}
