package retrieval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
)

// Hybrid fans one query out to the dense and lexical backends
// concurrently, collapses duplicates per branch, and fuses the two
// ranked lists with weighted RRF.
type Hybrid struct {
	dense    Retriever
	lexical  Retriever
	wDense   float64
	wLexical float64
	timeout  time.Duration
	rrfK     int
	log      *zap.Logger
}

// HybridOption tunes a Hybrid retriever.
type HybridOption func(*Hybrid)

// WithWeights overrides the dense/lexical fusion weights.
func WithWeights(dense, lexical float64) HybridOption {
	return func(h *Hybrid) {
		h.wDense = dense
		h.wLexical = lexical
	}
}

// WithTimeout overrides the per-branch deadline.
func WithTimeout(d time.Duration) HybridOption {
	return func(h *Hybrid) { h.timeout = d }
}

// WithRRFK overrides the RRF smoothing constant.
func WithRRFK(k int) HybridOption {
	return func(h *Hybrid) { h.rrfK = k }
}

// NewHybrid builds a hybrid retriever over a dense and a lexical backend.
func NewHybrid(dense, lexical Retriever, logger *zap.Logger, opts ...HybridOption) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hybrid{
		dense:    dense,
		lexical:  lexical,
		wDense:   WeightDense,
		wLexical: WeightLexical,
		timeout:  30 * time.Second,
		rrfK:     DefaultRRFK,
		log:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type branchResult struct {
	results []models.RetrievalResult
	err     error
}

func (h *Hybrid) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	branches := []struct {
		name   string
		weight float64
		r      Retriever
	}{
		{"dense", h.wDense, h.dense},
		{"lexical", h.wLexical, h.lexical},
	}

	// Branch slots are fixed so fusion always sees dense before lexical
	// regardless of completion order; tie-breaking stays deterministic.
	settled := make([]branchResult, len(branches))
	var wg sync.WaitGroup
	for i, b := range branches {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := b.r.Search(ctx, query, topK)
			settled[i] = branchResult{results: Collapse(results), err: err}
		}()
	}
	wg.Wait()

	lists := make([]RankedList, 0, len(branches))
	for i, b := range branches {
		br := settled[i]
		if br.err != nil {
			h.log.Warn("Retrieval branch failed",
				zap.String("backend", b.name),
				zap.Error(br.err),
			)
			continue
		}
		if len(br.results) == 0 {
			continue
		}
		lists = append(lists, RankedList{Name: b.name, Weight: b.weight, Results: br.results})
	}

	if len(lists) == 0 {
		return nil, nil
	}
	// One surviving branch carries the full weight.
	if len(lists) == 1 {
		lists[0].Weight = 1.0
	}

	fused := FuseRRF(lists, h.rrfK)
	ometrics.FusionMerges.WithLabelValues("hybrid").Inc()
	return fused, nil
}
