// Package memory keeps per-session conversation history: durable turns
// in the metadata store fronted by a bounded in-memory cache with TTL
// eviction.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
)

// TurnStore persists conversation turns.
type TurnStore interface {
	InsertTurn(ctx context.Context, t models.ConversationTurn) error
	TurnsBySession(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)
}

type session struct {
	mu    sync.Mutex
	turns []models.ConversationTurn
}

// Memory is the conversation history service. A session is live iff its
// newest turn is within the TTL; stale sessions are dropped from the
// cache on access and by the periodic sweep, never from the store.
type Memory struct {
	store    TurnStore
	maxTurns int
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds the memory service and starts the eviction sweep.
func New(store TurnStore, maxTurns int, ttl time.Duration, logger *zap.Logger) *Memory {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Memory{
		store:    store,
		maxTurns: maxTurns,
		ttl:      ttl,
		log:      logger,
		now:      time.Now,
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.sweepLoop(10 * time.Minute)
	return m
}

// Close stops the sweep goroutine.
func (m *Memory) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
}

func (m *Memory) sweepLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Info("Evicted stale sessions", zap.Int("count", n))
			}
		case <-m.stop:
			return
		}
	}
}

// Sweep evicts every cached session whose newest turn exceeded the TTL.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		stale := len(s.turns) > 0 && !m.live(s.turns[len(s.turns)-1].Timestamp)
		s.mu.Unlock()
		if stale {
			delete(m.sessions, id)
			evicted++
			ometrics.SessionEvictions.Inc()
		}
	}
	ometrics.SessionCacheSize.Set(float64(len(m.sessions)))
	return evicted
}

func (m *Memory) live(ts time.Time) bool {
	return m.now().Sub(ts) < m.ttl
}

func (m *Memory) session(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{}
		m.sessions[id] = s
		ometrics.SessionCacheSize.Set(float64(len(m.sessions)))
	}
	return s
}

func (m *Memory) evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		ometrics.SessionEvictions.Inc()
		ometrics.SessionCacheSize.Set(float64(len(m.sessions)))
	}
}

// AppendTurn persists a turn and updates the session cache. A missing id
// or timestamp is filled in. The durable write failing does not lose the
// cached turn.
func (m *Memory) AppendTurn(ctx context.Context, t models.ConversationTurn) string {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = m.now()
	}

	if err := m.store.InsertTurn(ctx, t); err != nil {
		m.log.Warn("Persisting conversation turn failed",
			zap.String("session_id", t.SessionID),
			zap.Error(err),
		)
	}

	s := m.session(t.SessionID)
	s.mu.Lock()
	s.turns = append(s.turns, t)
	if len(s.turns) > m.maxTurns {
		s.turns = s.turns[len(s.turns)-m.maxTurns:]
	}
	s.mu.Unlock()
	return t.ID
}

// History returns up to limit most recent turns in chronological order.
// Stale cached sessions are evicted and stale turns filtered from store
// reads.
func (m *Memory) History(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = m.maxTurns
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		s.mu.Lock()
		if len(s.turns) > 0 {
			if m.live(s.turns[len(s.turns)-1].Timestamp) {
				turns := s.turns
				if len(turns) > limit {
					turns = turns[len(turns)-limit:]
				}
				out := append([]models.ConversationTurn(nil), turns...)
				s.mu.Unlock()
				ometrics.SessionCacheHits.Inc()
				return out, nil
			}
			s.mu.Unlock()
			m.evict(sessionID)
		} else {
			s.mu.Unlock()
		}
	}
	ometrics.SessionCacheMisses.Inc()

	turns, err := m.store.TurnsBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	fresh := turns[:0:0]
	for _, t := range turns {
		if m.live(t.Timestamp) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) > 0 {
		s := m.session(sessionID)
		s.mu.Lock()
		s.turns = append([]models.ConversationTurn(nil), fresh...)
		s.mu.Unlock()
	}
	return fresh, nil
}

// RecentContext renders the most recent turns as a Q:/A: transcript
// fitting under maxTokens (chars/4 estimate). Turns are scanned newest
// first and emitted oldest first.
func (m *Memory) RecentContext(ctx context.Context, sessionID string, maxTurns, maxTokens int) string {
	history, err := m.History(ctx, sessionID, maxTurns)
	if err != nil {
		m.log.Warn("Recent context unavailable", zap.String("session_id", sessionID), zap.Error(err))
		return ""
	}
	if len(history) == 0 {
		return ""
	}

	parts := make([]string, 0, len(history))
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		text := fmt.Sprintf("Q: %s\nA: %s", history[i].Question, history[i].Answer)
		tokens := utf8.RuneCountInString(text) / 4
		if total+tokens > maxTokens {
			break
		}
		parts = append([]string{text}, parts...)
		total += tokens
	}
	return strings.Join(parts, "\n\n")
}

// ClearSession drops a session from the cache only.
func (m *Memory) ClearSession(sessionID string) {
	m.evict(sessionID)
}
