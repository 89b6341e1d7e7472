package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/echointellect/rag/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string][]models.ConversationTurn
	inserts int
	reads   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]models.ConversationTurn)}
}

func (f *fakeStore) InsertTurn(ctx context.Context, t models.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.rows[t.SessionID] = append(f.rows[t.SessionID], t)
	return nil
}

func (f *fakeStore) TurnsBySession(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	turns := f.rows[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]models.ConversationTurn(nil), turns...), nil
}

func newMemory(t *testing.T, store TurnStore, maxTurns int) *Memory {
	t.Helper()
	m := New(store, maxTurns, 24*time.Hour, zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	return m
}

func TestAppendAndHistoryChronological(t *testing.T) {
	store := newFakeStore()
	m := newMemory(t, store, 10)
	ctx := context.Background()

	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: "q1", Answer: "a1"})
	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: "q2", Answer: "a2"})

	got, err := m.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Question)
	assert.Equal(t, "q2", got[1].Question)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, 2, store.inserts)
	// Served from cache, no store read.
	assert.Equal(t, 0, store.reads)
}

func TestCacheTrimsToMaxTurns(t *testing.T) {
	m := newMemory(t, newFakeStore(), 3)
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: q, Answer: "a"})
	}
	got, err := m.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "q3", got[0].Question)
	assert.Equal(t, "q5", got[2].Question)
}

func TestStaleSessionEvictedOnAccess(t *testing.T) {
	store := newFakeStore()
	m := newMemory(t, store, 10)
	ctx := context.Background()

	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: "q", Answer: "a"})

	// Jump past the TTL; cached turns and durable rows are now stale.
	m.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	got, err := m.History(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	// The cache was bypassed and the store consulted.
	assert.Equal(t, 1, store.reads)
}

func TestHistoryLoadsFromStoreOnCacheMiss(t *testing.T) {
	store := newFakeStore()
	store.rows["s1"] = []models.ConversationTurn{
		{SessionID: "s1", Question: "q1", Answer: "a1", Timestamp: time.Now().Add(-time.Hour)},
	}
	m := newMemory(t, store, 10)

	got, err := m.History(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Second read hits the freshly populated cache.
	_, err = m.History(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)
}

func TestSweepEvictsOnlyStaleSessions(t *testing.T) {
	m := newMemory(t, newFakeStore(), 10)
	ctx := context.Background()

	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "old", Question: "q", Answer: "a", Timestamp: time.Now().Add(-30 * time.Hour)})
	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "fresh", Question: "q", Answer: "a"})

	assert.Equal(t, 1, m.Sweep())

	got, err := m.History(ctx, "fresh", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecentContextNewestFirstBudget(t *testing.T) {
	m := newMemory(t, newFakeStore(), 10)
	ctx := context.Background()

	long := strings.Repeat("x", 400)
	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: "oldest " + long, Answer: long})
	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: "middle", Answer: "short answer"})
	m.AppendTurn(ctx, models.ConversationTurn{SessionID: "s1", Question: "newest", Answer: "short answer"})

	// Budget fits the two short turns but not the long oldest one.
	got := m.RecentContext(ctx, "s1", 10, 50)
	require.NotEmpty(t, got)
	assert.NotContains(t, got, "oldest")
	// Oldest-first emission.
	assert.Less(t, strings.Index(got, "middle"), strings.Index(got, "newest"))
	assert.True(t, strings.HasPrefix(got, "Q: "))
}

func TestRecentContextEmptySession(t *testing.T) {
	m := newMemory(t, newFakeStore(), 10)
	assert.Empty(t, m.RecentContext(context.Background(), "none", 3, 1000))
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	m := newMemory(t, newFakeStore(), 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, sid := range []string{"a", "b", "c", "d"} {
		sid := sid
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				m.AppendTurn(ctx, models.ConversationTurn{SessionID: sid, Question: "q", Answer: "a"})
			}
		}()
	}
	wg.Wait()

	for _, sid := range []string{"a", "b", "c", "d"} {
		got, err := m.History(ctx, sid, 10)
		require.NoError(t, err)
		assert.Len(t, got, 10)
	}
}
