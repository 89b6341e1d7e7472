package retrieval

import (
	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
	"github.com/echointellect/rag/internal/tokenizer"
)

// FilterConfig controls the token/relevance filter.
type FilterConfig struct {
	MaxTokens  int
	Threshold  float64
	MinResults int
	Diversity  bool
}

// Filter trims a reranked list to the token budget: a relevance gate, a
// token gate, and an optional diversity pass over collection ids.
type Filter struct {
	counter *tokenizer.Counter
	log     *zap.Logger
}

// NewFilter builds a filter. counter may be nil; missing token counts
// then fall back to the char/4 estimate.
func NewFilter(counter *tokenizer.Counter, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{counter: counter, log: logger}
}

func (f *Filter) tokens(r *models.RerankResult) int {
	if r.Tokens > 0 {
		return r.Tokens
	}
	if f.counter != nil {
		r.Tokens = f.counter.Count(r.Content)
	} else {
		r.Tokens = tokenizer.Estimate(r.Content)
	}
	return r.Tokens
}

// Apply runs the filter pipeline and preserves the incoming order.
func (f *Filter) Apply(results []models.RerankResult, cfg FilterConfig) []models.RerankResult {
	if len(results) == 0 {
		return nil
	}
	if cfg.MinResults <= 0 {
		cfg.MinResults = 1
	}

	kept := f.byRelevance(results, cfg.Threshold, cfg.MinResults)
	kept = f.byTokens(kept, cfg.MaxTokens, cfg.MinResults)
	if cfg.Diversity && len(kept) > cfg.MinResults {
		kept = f.byDiversity(kept, cfg.MaxTokens)
	}

	f.log.Debug("Filter complete",
		zap.Int("in", len(results)),
		zap.Int("out", len(kept)),
	)
	ometrics.FilteredResults.Observe(float64(len(kept)))
	return kept
}

// byRelevance keeps records at or above the threshold; when fewer than
// min survive, the top min of the original list stand regardless of score.
func (f *Filter) byRelevance(results []models.RerankResult, threshold float64, min int) []models.RerankResult {
	kept := make([]models.RerankResult, 0, len(results))
	for _, r := range results {
		if r.FinalScore >= threshold {
			kept = append(kept, r)
		}
	}
	if len(kept) < min {
		if min > len(results) {
			min = len(results)
		}
		return append(kept[:0:0], results[:min]...)
	}
	return kept
}

// byTokens accumulates records in order while the sum stays within the
// budget, then stops. Exceeding the budget is allowed only to reach min.
func (f *Filter) byTokens(results []models.RerankResult, maxTokens, min int) []models.RerankResult {
	kept := make([]models.RerankResult, 0, len(results))
	total := 0
	for i := range results {
		tok := f.tokens(&results[i])
		switch {
		case total+tok <= maxTokens:
			kept = append(kept, results[i])
			total += tok
		case len(kept) < min:
			f.log.Warn("Token budget exceeded to satisfy minimum result count",
				zap.Int("total_tokens", total+tok),
				zap.Int("max_tokens", maxTokens),
			)
			kept = append(kept, results[i])
			total += tok
		default:
			return kept
		}
	}
	return kept
}

// byDiversity makes two admission passes over collection ids: first at
// most one record per collection, then one more per collection already
// seen, both within the token budget. A collection never contributes
// more than two records. Incoming order is preserved.
func (f *Filter) byDiversity(results []models.RerankResult, maxTokens int) []models.RerankResult {
	admitted := make([]bool, len(results))
	counts := make(map[string]int)
	total := 0

	for i := range results {
		cid := results[i].CollectionID
		if counts[cid] > 0 {
			continue
		}
		if total+results[i].Tokens > maxTokens {
			break
		}
		admitted[i] = true
		counts[cid] = 1
		total += results[i].Tokens
	}

	for i := range results {
		if admitted[i] {
			continue
		}
		cid := results[i].CollectionID
		if counts[cid] == 0 || counts[cid] >= 2 {
			continue
		}
		if total+results[i].Tokens > maxTokens {
			continue
		}
		admitted[i] = true
		counts[cid]++
		total += results[i].Tokens
	}

	kept := make([]models.RerankResult, 0, len(results))
	for i := range results {
		if admitted[i] {
			kept = append(kept, results[i])
		}
	}
	return kept
}
