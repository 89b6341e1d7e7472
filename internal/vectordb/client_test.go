package vectordb

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

func TestSearchEf(t *testing.T) {
	if got := searchEf(10); got != 64 {
		t.Errorf("searchEf(10) = %d, want 64", got)
	}
	if got := searchEf(50); got != 100 {
		t.Errorf("searchEf(50) = %d, want 100", got)
	}
}

func TestSearchParsesQueryResponse(t *testing.T) {
	var gotBody qdrantQueryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test/points/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		resp := map[string]interface{}{
			"status": "ok",
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{"id": "4A", "score": 0.92, "payload": map[string]interface{}{"data_id": "3A"}},
					{"id": "4B", "score": 0.81, "payload": map[string]interface{}{"data_id": "3B"}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Collection: "test"}, zaptest.NewLogger(t))
	hits, err := c.Search(context.Background(), []float32{0.1, 0.2}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "4A", hits[0].VectorID)
	assert.Equal(t, "3A", hits[0].DataID)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-9)

	assert.Equal(t, 2, gotBody.Limit)
	assert.Equal(t, float64(64), gotBody.Params["hnsw_ef"])
}

func TestSearchFallsBackToLegacyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/test/points/query":
			w.WriteHeader(http.StatusNotFound)
		case "/collections/test/points/search":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "ok",
				"result": []map[string]interface{}{
					{"id": "4A", "score": 0.5, "payload": map[string]interface{}{"data_id": "3A"}},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Collection: "test"}, zaptest.NewLogger(t))
	hits, err := c.Search(context.Background(), []float32{0.1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "3A", hits[0].DataID)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Collection: "test"}, zaptest.NewLogger(t))
	require.NoError(t, c.EnsureCollection(context.Background(), 1024))

	vectors := created["vectors"].(map[string]interface{})
	assert.Equal(t, float64(1024), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
	hnsw := created["hnsw_config"].(map[string]interface{})
	assert.Equal(t, float64(16), hnsw["m"])
	assert.Equal(t, float64(200), hnsw["ef_construct"])
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://localhost:1", Collection: "test"}, zaptest.NewLogger(t))
	require.NoError(t, c.Upsert(context.Background(), nil))
}
