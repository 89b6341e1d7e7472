// Package httpapi exposes the query and ingestion surfaces over plain
// net/http handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/chain"
	"github.com/echointellect/rag/internal/prompts"
	"github.com/echointellect/rag/internal/tracing"
)

// Runner executes one question through the pipeline.
type Runner interface {
	Run(ctx context.Context, req chain.Request) (*chain.Response, error)
}

// QueryHandler serves POST /query/.
type QueryHandler struct {
	chain Runner
	log   *zap.Logger
}

func NewQueryHandler(runner Runner, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryHandler{chain: runner, log: logger}
}

func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/query/", h.handleQuery)
	mux.HandleFunc("/query", h.handleQuery)
}

// queryRequest is the wire shape of POST /query/. Pointer fields
// distinguish "absent" from zero so defaults apply only when omitted.
type queryRequest struct {
	Question           string   `json:"question"`
	SessionID          string   `json:"session_id"`
	MaxTokens          int      `json:"max_tokens"`
	RelevanceThreshold *float64 `json:"relevance_threshold"`
	TemplateName       string   `json:"template_name"`
	EnableRerank       *bool    `json:"enable_rerank"`
	EnableOptimization *bool    `json:"enable_optimization"`
	EnableExpansion    *bool    `json:"enable_expansion"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func boolOrTrue(p *bool) bool {
	if p == nil {
		return true
	}
	return *p
}

func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()

	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TemplateName == "" {
		req.TemplateName = prompts.TemplateBasic
	}
	if !prompts.Known(req.TemplateName) {
		writeError(w, http.StatusBadRequest, "unknown template: "+req.TemplateName)
		return
	}

	start := time.Now()
	resp, err := h.chain.Run(ctx, chain.Request{
		Question:           req.Question,
		SessionID:          req.SessionID,
		TemplateName:       req.TemplateName,
		MaxTokens:          req.MaxTokens,
		RelevanceThreshold: req.RelevanceThreshold,
		EnableRerank:       boolOrTrue(req.EnableRerank),
		EnableOptimization: boolOrTrue(req.EnableOptimization),
		EnableExpansion:    boolOrTrue(req.EnableExpansion),
	})
	if err != nil {
		if errors.Is(err, chain.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("Query failed",
			zap.String("session_id", req.SessionID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
