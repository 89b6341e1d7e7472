package llm

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

func newChatServer(t *testing.T, reply string, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   "deepseek-chat",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
		})
	}))
}

func TestCompleteTrimsAndReturnsFirstChoice(t *testing.T) {
	var body map[string]interface{}
	srv := newChatServer(t, "  rewritten query \n", &body)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, zaptest.NewLogger(t))
	out, err := c.Complete(context.Background(), CompletionRequest{
		Purpose:     PurposeOptimize,
		System:      "sys",
		User:        "usr",
		Temperature: 0.1,
		MaxTokens:   512,
	})
	require.NoError(t, err)
	assert.Equal(t, "rewritten query", out)

	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "deepseek-chat", body["model"])
	assert.InDelta(t, 0.1, body["temperature"].(float64), 1e-6)
}

func TestCompleteOmitsEmptySystemMessage(t *testing.T) {
	var body map[string]interface{}
	srv := newChatServer(t, "answer", &body)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), CompletionRequest{User: "question"})
	require.NoError(t, err)

	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
}

func TestCompleteBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), CompletionRequest{User: "q"})
	require.Error(t, err)
}
