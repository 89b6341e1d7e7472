package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
)

// Reranker blends retrieval scores with cross-encoder scores:
// final = (1-alpha)*original + alpha*rerank. A failed batch degrades to
// identity records rather than failing the pipeline.
type Reranker struct {
	scorer    Scorer
	alpha     float64
	batchSize int
	log       *zap.Logger
}

// NewReranker builds a reranker with blend weight alpha in [0,1].
func NewReranker(scorer Scorer, alpha float64, logger *zap.Logger) *Reranker {
	if alpha < 0 || alpha > 1 {
		alpha = 0.7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{scorer: scorer, alpha: alpha, batchSize: 10, log: logger}
}

// Rerank scores results against the query in batches and re-sorts by the
// blended final score, ties keeping the incoming order.
func (rr *Reranker) Rerank(ctx context.Context, query string, results []models.RetrievalResult) []models.RerankResult {
	if len(results) == 0 {
		return nil
	}
	start := time.Now()

	out := make([]models.RerankResult, 0, len(results))
	for lo := 0; lo < len(results); lo += rr.batchSize {
		hi := lo + rr.batchSize
		if hi > len(results) {
			hi = len(results)
		}
		batch := results[lo:hi]

		docs := make([]string, len(batch))
		for i, r := range batch {
			docs[i] = r.Content
		}
		scores, err := rr.scorer.Score(ctx, query, docs)
		if err != nil || len(scores) != len(batch) {
			rr.log.Warn("Rerank batch failed, keeping retrieval order",
				zap.Int("offset", lo),
				zap.Int("size", len(batch)),
				zap.Error(err),
			)
			for _, r := range batch {
				out = append(out, models.IdentityRerank(r))
			}
			continue
		}
		for i, r := range batch {
			out = append(out, models.RerankResult{
				DataID:        r.DataID,
				CollectionID:  r.CollectionID,
				Content:       r.Content,
				Title:         r.Title,
				OriginalScore: r.Score,
				RerankScore:   scores[i],
				FinalScore:    (1-rr.alpha)*r.Score + rr.alpha*scores[i],
				Tokens:        r.Tokens,
				Metadata:      r.Metadata,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinalScore > out[j].FinalScore
	})
	ometrics.RerankDuration.Observe(time.Since(start).Seconds())
	return out
}

// IdentityRerank converts a ranked list without calling the cross-encoder.
func IdentityRerank(results []models.RetrievalResult) []models.RerankResult {
	out := make([]models.RerankResult, len(results))
	for i, r := range results {
		out[i] = models.IdentityRerank(r)
	}
	return out
}
