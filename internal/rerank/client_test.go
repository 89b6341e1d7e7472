package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestScoreParsesResultsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/rerank", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "q", req.Query)
		require.Len(t, req.Documents, 3)

		w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.9},
			{"index":0,"relevance_score":0.4}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"}, zaptest.NewLogger(t))
	scores, err := c.Score(context.Background(), "q", []string{"d0", "d1", "d2"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.InDelta(t, 0.4, scores[0], 1e-9)
	// Omitted index keeps zero.
	assert.Zero(t, scores[1])
	assert.InDelta(t, 0.9, scores[2], 1e-9)
}

func TestScoreParsesDataFieldWithScoreKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"score":0.7},{"index":1,"score":0.2}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	scores, err := c.Score(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.2}, scores)
}

func TestScoreIgnoresOutOfRangeIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":5,"relevance_score":0.9},{"index":-1,"relevance_score":0.8}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	scores, err := c.Score(context.Background(), "q", []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, scores)
}

func TestScoreEmptyDocuments(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://localhost:1"}, zaptest.NewLogger(t))
	scores, err := c.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestScoreBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := c.Score(context.Background(), "q", []string{"d"})
	require.Error(t, err)
}
