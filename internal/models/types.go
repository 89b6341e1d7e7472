package models

import "time"

// Dataset is a named group of collections ingested from one directory.
type Dataset struct {
	ID              string                 `json:"id" db:"id"`
	Name            string                 `json:"name" db:"name"`
	Description     string                 `json:"description" db:"description"`
	CollectionCount int                    `json:"collection_count" db:"collection_count"`
	DataCount       int                    `json:"data_count" db:"data_count"`
	TotalTokens     int                    `json:"total_tokens" db:"total_tokens"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// Collection holds the chunks produced from a single source file.
type Collection struct {
	ID          string                 `json:"id" db:"id"`
	DatasetID   string                 `json:"dataset_id" db:"dataset_id"`
	Name        string                 `json:"name" db:"name"`
	SourceFile  string                 `json:"source_file" db:"source_file"`
	FileType    string                 `json:"file_type" db:"file_type"`
	DataCount   int                    `json:"data_count" db:"data_count"`
	TotalTokens int                    `json:"total_tokens" db:"total_tokens"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// Data is one text chunk, the retrieval unit. A chunk may be represented by
// several vectors in the vector store (full content plus sub-chunk views);
// VectorIDs keeps the ordered references.
type Data struct {
	ID           string                 `json:"id" db:"id"`
	CollectionID string                 `json:"collection_id" db:"collection_id"`
	Content      string                 `json:"content" db:"content"`
	Title        string                 `json:"title" db:"title"`
	VectorIDs    []string               `json:"vector_ids"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Sequence     int                    `json:"sequence" db:"sequence"`
	Tokens       int                    `json:"tokens" db:"tokens"`
	Processed    bool                   `json:"processed" db:"processed"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}

// EmbeddingVector is one dense vector derived from a chunk or sub-chunk.
// ChunkIndex 0 is the full-content vector; >= 1 are sub-chunk vectors.
type EmbeddingVector struct {
	ID         string    `json:"id"`
	DataID     string    `json:"data_id"`
	Embedding  []float32 `json:"embedding"`
	Dimension  int       `json:"dimension"`
	Model      string    `json:"model"`
	ChunkText  string    `json:"chunk_text"`
	ChunkIndex int       `json:"chunk_index"`
}

// Query carries the per-request retrieval parameters.
type Query struct {
	Text               string  `json:"text"`
	TopK               int     `json:"top_k"`
	MaxTokens          int     `json:"max_tokens"`
	RelevanceThreshold float64 `json:"relevance_threshold"`
	MinResults         int     `json:"min_results"`
	EnableDiversity    bool    `json:"enable_diversity"`
}

// DefaultQuery returns a Query with process defaults applied.
func DefaultQuery(text string) Query {
	return Query{
		Text:               text,
		TopK:               10,
		MaxTokens:          4000,
		RelevanceThreshold: 0.6,
		MinResults:         1,
		EnableDiversity:    true,
	}
}

// Retrieval sources.
const (
	SourceEmbedding = "embedding"
	SourceBM25      = "bm25"
)

// RetrievalResult is one scored chunk from a single retrieval backend.
type RetrievalResult struct {
	DataID       string                 `json:"data_id"`
	CollectionID string                 `json:"collection_id"`
	Content      string                 `json:"content"`
	Title        string                 `json:"title"`
	Score        float64                `json:"score"`
	Source       string                 `json:"source"`
	Tokens       int                    `json:"tokens"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RerankResult is a retrieval result after cross-encoder blending.
type RerankResult struct {
	DataID        string                 `json:"data_id"`
	CollectionID  string                 `json:"collection_id"`
	Content       string                 `json:"content"`
	Title         string                 `json:"title"`
	OriginalScore float64                `json:"original_score"`
	RerankScore   float64                `json:"rerank_score"`
	FinalScore    float64                `json:"final_score"`
	Tokens        int                    `json:"tokens"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// IdentityRerank converts a retrieval result without a cross-encoder pass;
// the retrieval score stands in for the rerank score.
func IdentityRerank(r RetrievalResult) RerankResult {
	return RerankResult{
		DataID:        r.DataID,
		CollectionID:  r.CollectionID,
		Content:       r.Content,
		Title:         r.Title,
		OriginalScore: r.Score,
		RerankScore:   r.Score,
		FinalScore:    r.Score,
		Tokens:        r.Tokens,
		Metadata:      r.Metadata,
	}
}

// ConversationTurn is one question/answer exchange in a session.
type ConversationTurn struct {
	ID              string    `json:"id" db:"id"`
	SessionID       string    `json:"session_id" db:"session_id"`
	Question        string    `json:"question" db:"question"`
	Answer          string    `json:"answer" db:"answer"`
	RetrievedChunks []string  `json:"retrieved_chunks"`
	TokensUsed      int       `json:"tokens_used" db:"tokens_used"`
	RelevanceScore  float64   `json:"relevance_score" db:"relevance_score"`
	ResponseTime    float64   `json:"response_time" db:"response_time"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}
