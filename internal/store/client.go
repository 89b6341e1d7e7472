// Package store persists datasets, collections, chunks and conversation
// turns in PostgreSQL. Chunk content carries a tsvector column so the same
// store doubles as the lexical search backend.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/circuitbreaker"
)

// Config holds metadata store configuration
type Config struct {
	URL             string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Client manages the PostgreSQL connection pool. Reads go through sqlx for
// struct scanning; writes and pings go through the circuit breaker wrapper.
type Client struct {
	db     *sqlx.DB
	cb     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewClient opens the connection pool and verifies connectivity.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}

	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	cb := circuitbreaker.NewDatabaseWrapper(db.DB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cb.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{db: db, cb: cb, logger: logger}

	logger.Info("Metadata store initialized",
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return client, nil
}

// Ping verifies connectivity through the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("store client not initialized")
	}
	return c.cb.PingContext(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// EnsureSchema creates tables and indexes if they do not exist. The
// content_tsv generated column plus its GIN index back the lexical search.
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			collection_count INT NOT NULL DEFAULT 0,
			data_count INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			name TEXT NOT NULL,
			source_file TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			data_count INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_collections_dataset ON collections (dataset_id)`,
		`CREATE TABLE IF NOT EXISTS data (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			content TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			vector_ids TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			sequence INT NOT NULL DEFAULT 0,
			tokens INT NOT NULL DEFAULT 0,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS idx_data_collection ON data (collection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_data_vector_ids ON data USING GIN (vector_ids)`,
		`CREATE INDEX IF NOT EXISTS idx_data_content_tsv ON data USING GIN (content_tsv)`,
		`CREATE INDEX IF NOT EXISTS idx_data_pending ON data (collection_id) WHERE NOT processed`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			retrieved_chunks TEXT[] NOT NULL DEFAULT '{}',
			tokens_used INT NOT NULL DEFAULT 0,
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations (session_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := c.cb.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Stats exposes pool statistics for health reporting.
func (c *Client) Stats() (open, idle int) {
	s := c.cb.Stats()
	return s.OpenConnections, s.Idle
}
