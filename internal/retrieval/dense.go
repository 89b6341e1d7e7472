package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
)

// Dense retrieves chunks by ANN search over their embeddings. A chunk may
// appear more than once in the output, once per matching vector; callers
// collapse duplicates with Collapse.
type Dense struct {
	embedder Embedder
	index    VectorIndex
	lookup   DataLookup
	log      *zap.Logger
}

// NewDense builds a dense retriever.
func NewDense(embedder Embedder, index VectorIndex, lookup DataLookup, logger *zap.Logger) *Dense {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dense{embedder: embedder, index: index, lookup: lookup, log: logger}
}

// Search embeds the query, runs ANN search, and resolves hits back to
// their chunk rows.
func (d *Dense) Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error) {
	start := time.Now()

	vector, err := d.embedder.Embed(ctx, query)
	if err != nil {
		ometrics.RecordRetrieval("dense", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("dense: embed query: %w", err)
	}

	hits, err := d.index.Search(ctx, vector, topK)
	if err != nil {
		ometrics.RecordRetrieval("dense", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("dense: vector search: %w", err)
	}
	if len(hits) == 0 {
		ometrics.RecordRetrieval("dense", "ok", time.Since(start).Seconds(), 0)
		return nil, nil
	}

	vectorIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.VectorID != "" {
			vectorIDs = append(vectorIDs, h.VectorID)
		}
	}
	rows, err := d.lookup.DataByVectorIDs(ctx, vectorIDs)
	if err != nil {
		ometrics.RecordRetrieval("dense", "error", time.Since(start).Seconds(), 0)
		return nil, fmt.Errorf("dense: resolve chunks: %w", err)
	}

	// Index each vector id back to its chunk row.
	byVectorID := make(map[string]*models.Data, len(rows))
	byDataID := make(map[string]*models.Data, len(rows))
	for i := range rows {
		byDataID[rows[i].ID] = &rows[i]
		for _, vid := range rows[i].VectorIDs {
			byVectorID[vid] = &rows[i]
		}
	}

	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		data := byVectorID[h.VectorID]
		if data == nil {
			data = byDataID[h.DataID]
		}
		if data == nil {
			d.log.Debug("Vector hit without chunk row", zap.String("vector_id", h.VectorID))
			continue
		}
		meta := map[string]interface{}{"vector_id": h.VectorID}
		for k, v := range data.Metadata {
			meta[k] = v
		}
		results = append(results, models.RetrievalResult{
			DataID:       data.ID,
			CollectionID: data.CollectionID,
			Content:      data.Content,
			Title:        data.Title,
			Score:        h.Score,
			Source:       models.SourceEmbedding,
			Tokens:       data.Tokens,
			Metadata:     meta,
		})
	}

	ometrics.RecordRetrieval("dense", "ok", time.Since(start).Seconds(), len(results))
	return results, nil
}
