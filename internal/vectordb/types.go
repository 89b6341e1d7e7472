package vectordb

import "time"

// Config controls the Qdrant client behavior
type Config struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
	// Index params
	HNSWM           int
	HNSWEfConstruct int
}

// Point is a single vector to insert.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// NewPoint builds a point carrying the back-reference to its chunk.
func NewPoint(id, dataID string, vector []float32) Point {
	return Point{
		ID:     id,
		Vector: vector,
		Payload: map[string]interface{}{
			"data_id": dataID,
		},
	}
}

// Hit is one ANN search result.
type Hit struct {
	VectorID string  `json:"vector_id"`
	DataID   string  `json:"data_id"`
	Score    float64 `json:"score"`
}
