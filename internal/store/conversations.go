package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/echointellect/rag/internal/models"
)

type turnRow struct {
	ID              string         `db:"id"`
	SessionID       string         `db:"session_id"`
	Question        string         `db:"question"`
	Answer          string         `db:"answer"`
	RetrievedChunks pq.StringArray `db:"retrieved_chunks"`
	TokensUsed      int            `db:"tokens_used"`
	RelevanceScore  float64        `db:"relevance_score"`
	ResponseTime    float64        `db:"response_time"`
	Timestamp       time.Time      `db:"timestamp"`
}

func (r turnRow) toModel() models.ConversationTurn {
	return models.ConversationTurn{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Question:        r.Question,
		Answer:          r.Answer,
		RetrievedChunks: []string(r.RetrievedChunks),
		TokensUsed:      r.TokensUsed,
		RelevanceScore:  r.RelevanceScore,
		ResponseTime:    r.ResponseTime,
		Timestamp:       r.Timestamp,
	}
}

// InsertTurn appends a conversation turn. Turns are append-only.
func (c *Client) InsertTurn(ctx context.Context, t models.ConversationTurn) error {
	_, err := c.cb.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, question, answer, retrieved_chunks, tokens_used, relevance_score, response_time, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.SessionID, t.Question, t.Answer, pq.StringArray(t.RetrievedChunks),
		t.TokensUsed, t.RelevanceScore, t.ResponseTime, t.Timestamp)
	return wrapWriteErr("insert turn", err)
}

// TurnsBySession returns the most recent limit turns of a session in
// chronological order. limit <= 0 returns the full history.
func (c *Client) TurnsBySession(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	var rows []turnRow
	var err error
	if limit > 0 {
		err = c.db.SelectContext(ctx, &rows,
			`SELECT * FROM (
			     SELECT * FROM conversations WHERE session_id = $1 ORDER BY timestamp DESC LIMIT $2
			 ) recent ORDER BY timestamp ASC`,
			sessionID, limit)
	} else {
		err = c.db.SelectContext(ctx, &rows,
			`SELECT * FROM conversations WHERE session_id = $1 ORDER BY timestamp ASC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("turns by session: %w", err)
	}
	out := make([]models.ConversationTurn, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// LatestTurn returns the newest turn of a session.
func (c *Client) LatestTurn(ctx context.Context, sessionID string) (models.ConversationTurn, error) {
	var row turnRow
	err := c.db.GetContext(ctx, &row,
		`SELECT * FROM conversations WHERE session_id = $1 ORDER BY timestamp DESC LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationTurn{}, ErrNotFound
	}
	if err != nil {
		return models.ConversationTurn{}, fmt.Errorf("latest turn: %w", err)
	}
	return row.toModel(), nil
}

// SessionStats aggregates a session's history for reporting.
type SessionStats struct {
	TurnCount       int       `db:"turn_count"`
	TotalTokens     int       `db:"total_tokens"`
	AvgRelevance    float64   `db:"avg_relevance"`
	AvgResponseTime float64   `db:"avg_response_time"`
	FirstTurn       time.Time `db:"first_turn"`
	LastTurn        time.Time `db:"last_turn"`
}

// SessionSummary computes aggregate statistics for a session.
func (c *Client) SessionSummary(ctx context.Context, sessionID string) (SessionStats, error) {
	var s SessionStats
	err := c.db.GetContext(ctx, &s,
		`SELECT count(*) AS turn_count,
		        coalesce(sum(tokens_used), 0) AS total_tokens,
		        coalesce(avg(relevance_score), 0) AS avg_relevance,
		        coalesce(avg(response_time), 0) AS avg_response_time,
		        coalesce(min(timestamp), to_timestamp(0)) AS first_turn,
		        coalesce(max(timestamp), to_timestamp(0)) AS last_turn
		 FROM conversations WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return SessionStats{}, fmt.Errorf("session summary: %w", err)
	}
	return s, nil
}
