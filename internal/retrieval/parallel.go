package retrieval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
)

// Pool is a bounded worker pool shared across requests. Submitted tasks
// queue when all workers are busy; Close drains workers and joins them.
type Pool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool starts workers goroutines consuming the task queue.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 3
	}
	p := &Pool{tasks: make(chan func())}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit queues a task. Returns the context error if the caller is
// cancelled before a worker picks the task up.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and joins the workers.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}

// Parallel fans a set of query variants out to the hybrid retriever on a
// shared bounded pool and fuses the surviving lists with equal weights.
type Parallel struct {
	inner       Retriever
	pool        *Pool
	taskTimeout time.Duration
	rrfK        int
	log         *zap.Logger
}

// NewParallel builds the multi-query retriever on a shared pool.
func NewParallel(inner Retriever, pool *Pool, logger *zap.Logger) *Parallel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parallel{
		inner:       inner,
		pool:        pool,
		taskTimeout: 30 * time.Second,
		rrfK:        DefaultRRFK,
		log:         logger,
	}
}

// Retrieve runs every query variant through the inner retriever. A failed
// or cancelled variant contributes an empty list. With a single surviving
// list it is returned unmodified; with several, RRF with weight 1/V each.
func (p *Parallel) Retrieve(ctx context.Context, queries []string, topK int) []models.RetrievalResult {
	if len(queries) == 0 {
		return nil
	}
	start := time.Now()

	perQuery := make([][]models.RetrievalResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		i, q := i, q
		wg.Add(1)
		err := p.pool.Submit(ctx, func() {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
			defer cancel()
			results, err := p.inner.Search(taskCtx, q, topK)
			if err != nil {
				p.log.Warn("Variant retrieval failed",
					zap.Int("variant", i),
					zap.Error(err),
				)
				return
			}
			perQuery[i] = results
		})
		if err != nil {
			// Cancelled before dispatch; the queued variant is discarded.
			wg.Done()
		}
	}
	wg.Wait()

	weight := 1.0 / float64(len(queries))
	lists := make([]RankedList, 0, len(queries))
	for i, results := range perQuery {
		if len(results) == 0 {
			continue
		}
		for j := range results {
			if results[j].Metadata == nil {
				results[j].Metadata = make(map[string]interface{}, 1)
			}
			results[j].Metadata["query_index"] = i
		}
		lists = append(lists, RankedList{Name: queries[i], Weight: weight, Results: results})
	}

	switch len(lists) {
	case 0:
		p.log.Info("All query variants returned empty",
			zap.Int("variants", len(queries)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	case 1:
		return lists[0].Results
	}

	fused := FuseRRF(lists, p.rrfK)
	ometrics.FusionMerges.WithLabelValues("multi_query").Inc()
	p.log.Info("Parallel retrieval complete",
		zap.Int("variants", len(queries)),
		zap.Int("lists", len(lists)),
		zap.Int("results", len(fused)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return fused
}
