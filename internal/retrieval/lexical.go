package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
)

// Lexical retrieves chunks by full-text rank from the metadata store.
// Results have unique data ids by construction.
type Lexical struct {
	searcher LexicalSearcher
	log      *zap.Logger
}

// NewLexical builds a lexical retriever.
func NewLexical(searcher LexicalSearcher, logger *zap.Logger) *Lexical {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lexical{searcher: searcher, log: logger}
}

func (l *Lexical) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	start := time.Now()

	scored, err := l.searcher.SearchData(ctx, query, topK)
	if err != nil {
		ometrics.RecordRetrieval("lexical", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("lexical: %w", err)
	}

	results := make([]models.RetrievalResult, 0, len(scored))
	for _, s := range scored {
		meta := map[string]interface{}{"bm25_score": s.Score}
		for k, v := range s.Data.Metadata {
			meta[k] = v
		}
		results = append(results, models.RetrievalResult{
			DataID:       s.Data.ID,
			CollectionID: s.Data.CollectionID,
			Content:      s.Data.Content,
			Title:        s.Data.Title,
			Score:        s.Score,
			Source:       models.SourceBM25,
			Tokens:       s.Data.Tokens,
			Metadata:     meta,
		})
	}

	ometrics.RecordRetrieval("lexical", "ok", time.Since(start).Seconds(), len(results))
	return results, nil
}
