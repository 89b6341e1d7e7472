// Package retrieval implements the hybrid retrieval pipeline: dense and
// lexical backends, multi-vector collapse, weighted RRF fusion, the
// multi-query fan-out pool, cross-encoder reranking, and the
// token-budgeted relevance filter.
package retrieval

import (
	"context"

	"github.com/echointellect/rag/internal/models"
	"github.com/echointellect/rag/internal/store"
	"github.com/echointellect/rag/internal/vectordb"
)

// Retriever is the capability shared by dense, lexical, and hybrid
// retrievers.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.RetrievalResult, error)
}

// Embedder produces a dense vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex runs ANN search over the vector store.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, topK int) ([]vectordb.Hit, error)
}

// DataLookup resolves chunk rows referenced by vector ids.
type DataLookup interface {
	DataByVectorIDs(ctx context.Context, vectorIDs []string) ([]models.Data, error)
}

// LexicalSearcher runs full-text search over chunk content.
type LexicalSearcher interface {
	SearchData(ctx context.Context, query string, limit int) ([]store.ScoredData, error)
}

// Scorer rates query/document pairs; one score per document.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}
