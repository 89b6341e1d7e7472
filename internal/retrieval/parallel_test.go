package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/echointellect/rag/internal/models"
)

type byQueryRetriever struct {
	mu      sync.Mutex
	byQuery map[string][]models.RetrievalResult
	errs    map[string]error
	active  int32
	peak    int32
}

func (f *byQueryRetriever) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	cur := atomic.AddInt32(&f.active, 1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, cur) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	return f.byQuery[query], nil
}

func TestParallelSingleSurvivorReturnedUnmodified(t *testing.T) {
	inner := &byQueryRetriever{
		byQuery: map[string][]models.RetrievalResult{
			"q1": {rr("A", 0.9), rr("B", 0.7)},
		},
		errs: map[string]error{"q2": errors.New("down")},
	}
	pool := NewPool(3)
	defer pool.Close()

	p := NewParallel(inner, pool, zaptest.NewLogger(t))
	out := p.Retrieve(context.Background(), []string{"q1", "q2", "q3"}, 10)
	require.Equal(t, []string{"A", "B"}, ids(out))
	// No fusion pass: original scores survive.
	assert.InDelta(t, 0.9, out[0].Score, 1e-12)
}

func TestParallelFusesSurvivingVariants(t *testing.T) {
	inner := &byQueryRetriever{
		byQuery: map[string][]models.RetrievalResult{
			"q1": {rr("A", 0.9), rr("B", 0.7)},
			"q2": {rr("B", 0.8), rr("C", 0.6)},
		},
	}
	pool := NewPool(3)
	defer pool.Close()

	p := NewParallel(inner, pool, zaptest.NewLogger(t))
	out := p.Retrieve(context.Background(), []string{"q1", "q2"}, 10)
	require.Equal(t, []string{"B", "A", "C"}, ids(out))
	assert.InDelta(t, 0.5/62+0.5/61, out[0].Score, 1e-12)
}

func TestParallelAllVariantsEmpty(t *testing.T) {
	inner := &byQueryRetriever{
		errs: map[string]error{"q1": errors.New("down"), "q2": errors.New("down")},
	}
	pool := NewPool(3)
	defer pool.Close()

	p := NewParallel(inner, pool, zaptest.NewLogger(t))
	assert.Empty(t, p.Retrieve(context.Background(), []string{"q1", "q2"}, 10))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &byQueryRetriever{
		byQuery: map[string][]models.RetrievalResult{},
	}
	pool := NewPool(2)
	defer pool.Close()

	p := NewParallel(inner, pool, zaptest.NewLogger(t))
	p.Retrieve(context.Background(), []string{"a", "b", "c", "d", "e", "f"}, 10)
	assert.LessOrEqual(t, atomic.LoadInt32(&inner.peak), int32(2))
}

func TestPoolCloseJoinsWorkers(t *testing.T) {
	pool := NewPool(2)
	var ran int32
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() {
			atomic.AddInt32(&ran, 1)
		}))
	}
	pool.Close()
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
	// Close is idempotent.
	pool.Close()
}
