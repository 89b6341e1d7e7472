// Package chain orchestrates one question end to end: query rewriting
// and expansion, the parallel retrieval fan-out, reranking, filtering,
// prompt assembly, answer generation, and turn persistence.
package chain

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/llm"
	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
	"github.com/echointellect/rag/internal/prompts"
	"github.com/echointellect/rag/internal/queryproc"
	"github.com/echointellect/rag/internal/retrieval"
	"github.com/echointellect/rag/internal/tracing"
)

// Fixed user-facing answers.
const (
	NoResultsAnswer  = "抱歉，我没有找到与您问题相关的信息。请尝试换个方式提问或提供更多详细信息。"
	LLMFailureAnswer = "抱歉，在生成答案时遇到了问题，请稍后再试。"
	EmptyAnswerReply = "抱歉，我无法基于提供的信息回答您的问题。"
)

// ErrEmptyQuestion rejects requests without a question.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Collaborator capabilities, satisfied by the concrete components.
type (
	Fanout interface {
		Retrieve(ctx context.Context, queries []string, topK int) []models.RetrievalResult
	}
	Reranker interface {
		Rerank(ctx context.Context, query string, results []models.RetrievalResult) []models.RerankResult
	}
	Optimizer interface {
		Optimize(ctx context.Context, question string, history []models.ConversationTurn) string
	}
	Expander interface {
		Expand(ctx context.Context, original string) queryproc.Expansion
	}
	Conversations interface {
		AppendTurn(ctx context.Context, t models.ConversationTurn) string
		History(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)
		RecentContext(ctx context.Context, sessionID string, maxTurns, maxTokens int) string
	}
)

// Defaults are the process-wide fallbacks for per-request knobs.
type Defaults struct {
	MaxTokens    int
	Threshold    float64
	TopK         int
	HistoryTurns int
}

// Request carries one question through the chain.
type Request struct {
	Question           string
	SessionID          string
	TemplateName       string
	MaxTokens          int
	RelevanceThreshold *float64
	EnableRerank       bool
	EnableOptimization bool
	EnableExpansion    bool
}

// ProcessedQuery reports how the question was transformed.
type ProcessedQuery struct {
	ID                string   `json:"id"`
	Question          string   `json:"question"`
	OptimizedQuestion string   `json:"optimized_question"`
	ExpandedQueries   []string `json:"expanded_queries"`
	ConcatQuery       string   `json:"concat_query"`
}

// RetrievalStats counts results surviving each stage.
type RetrievalStats struct {
	InitialResults  int  `json:"initial_results"`
	RerankedResults int  `json:"reranked_results"`
	FilteredResults int  `json:"filtered_results"`
	RerankEnabled   bool `json:"rerank_enabled"`
}

// Metadata is the envelope's diagnostic block.
type Metadata struct {
	ProcessedQuery    ProcessedQuery  `json:"processed_query"`
	RetrievalStats    RetrievalStats  `json:"retrieval_stats"`
	TemplateUsed      string          `json:"template_used"`
	ProcessingEnabled map[string]bool `json:"processing_enabled"`
}

// Response is the envelope returned for every answered question.
type Response struct {
	Question             string   `json:"question"`
	Answer               string   `json:"answer"`
	QueryID              string   `json:"query_id"`
	SessionID            string   `json:"session_id,omitempty"`
	ProcessingTime       float64  `json:"processing_time"`
	TokensUsed           int      `json:"tokens_used"`
	RelevanceScore       float64  `json:"relevance_score"`
	RetrievedChunksCount int      `json:"retrieved_chunks_count"`
	NoResults            bool     `json:"no_results,omitempty"`
	Metadata             Metadata `json:"metadata"`
}

// Chain wires the pipeline stages together.
type Chain struct {
	optimizer Optimizer
	expander  Expander
	fanout    Fanout
	reranker  Reranker
	filter    *retrieval.Filter
	memory    Conversations
	llm       queryproc.Completer
	log       *zap.Logger

	mu       sync.RWMutex
	defaults Defaults
}

// New builds the chain. memory may be nil when sessions are disabled.
func New(
	optimizer Optimizer,
	expander Expander,
	fanout Fanout,
	reranker Reranker,
	filter *retrieval.Filter,
	memory Conversations,
	completer queryproc.Completer,
	defaults Defaults,
	logger *zap.Logger,
) *Chain {
	if defaults.MaxTokens <= 0 {
		defaults.MaxTokens = 4000
	}
	if defaults.Threshold == 0 {
		defaults.Threshold = 0.6
	}
	if defaults.TopK <= 0 {
		defaults.TopK = 10
	}
	if defaults.HistoryTurns <= 0 {
		defaults.HistoryTurns = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		optimizer: optimizer,
		expander:  expander,
		fanout:    fanout,
		reranker:  reranker,
		filter:    filter,
		memory:    memory,
		llm:       completer,
		defaults:  defaults,
		log:       logger,
	}
}

// SetDefaults replaces the process-wide fallbacks; used by config reload.
// Zero fields keep their current values.
func (c *Chain) SetDefaults(d Defaults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.MaxTokens > 0 {
		c.defaults.MaxTokens = d.MaxTokens
	}
	if d.Threshold > 0 {
		c.defaults.Threshold = d.Threshold
	}
	if d.TopK > 0 {
		c.defaults.TopK = d.TopK
	}
	if d.HistoryTurns > 0 {
		c.defaults.HistoryTurns = d.HistoryTurns
	}
}

func (c *Chain) currentDefaults() Defaults {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

// Run executes the full pipeline for one question.
func (c *Chain) Run(ctx context.Context, req Request) (*Response, error) {
	if req.Question == "" {
		return nil, ErrEmptyQuestion
	}
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "chain.run")
	defer span.End()

	defs := c.currentDefaults()
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defs.MaxTokens
	}
	threshold := defs.Threshold
	if req.RelevanceThreshold != nil {
		threshold = *req.RelevanceThreshold
	}
	template := req.TemplateName
	if template == "" {
		template = prompts.TemplateBasic
	}

	// Query transformation.
	optimized := req.Question
	if req.EnableOptimization && c.optimizer != nil {
		optimized = c.optimizer.Optimize(ctx, req.Question, c.history(ctx, req.SessionID, defs.HistoryTurns))
	}
	expansion := queryproc.Expansion{Original: optimized, ConcatQuery: optimized}
	if req.EnableExpansion && c.expander != nil {
		expansion = c.expander.Expand(ctx, optimized)
	}
	processed := ProcessedQuery{
		ID:                uuid.NewString(),
		Question:          req.Question,
		OptimizedQuestion: optimized,
		ExpandedQueries:   expansion.Variants,
		ConcatQuery:       expansion.ConcatQuery,
	}

	// Retrieval fan-out across the variant set.
	initial := c.fanout.Retrieve(ctx, expansion.Queries(), defs.TopK)
	if len(initial) == 0 {
		ometrics.RecordQuery(template, "no_results", time.Since(start).Seconds())
		return c.noResults(req, processed, template, start), nil
	}

	var reranked []models.RerankResult
	if req.EnableRerank && c.reranker != nil {
		reranked = c.reranker.Rerank(ctx, optimized, initial)
	} else {
		reranked = retrieval.IdentityRerank(initial)
	}

	filtered := c.filter.Apply(reranked, retrieval.FilterConfig{
		MaxTokens:  maxTokens,
		Threshold:  threshold,
		MinResults: 1,
		Diversity:  true,
	})
	if len(filtered) == 0 {
		ometrics.RecordQuery(template, "no_results", time.Since(start).Seconds())
		return c.noResults(req, processed, template, start), nil
	}

	var historyText string
	if template == prompts.TemplateConversational && req.SessionID != "" && c.memory != nil {
		historyText = c.memory.RecentContext(ctx, req.SessionID, defs.HistoryTurns, 800)
	}

	answer := c.generateAnswer(ctx, req.Question, template, filtered, historyText)

	tokensUsed := 0
	scoreSum := 0.0
	chunkIDs := make([]string, len(filtered))
	for i, r := range filtered {
		tokensUsed += r.Tokens
		scoreSum += r.FinalScore
		chunkIDs[i] = r.DataID
	}
	avgRelevance := scoreSum / float64(len(filtered))
	elapsed := time.Since(start)

	if req.SessionID != "" && c.memory != nil {
		c.memory.AppendTurn(ctx, models.ConversationTurn{
			SessionID:       req.SessionID,
			Question:        req.Question,
			Answer:          answer,
			RetrievedChunks: chunkIDs,
			TokensUsed:      tokensUsed,
			RelevanceScore:  avgRelevance,
			ResponseTime:    elapsed.Seconds(),
		})
	}

	ometrics.RecordQuery(template, "ok", elapsed.Seconds())
	ometrics.QueryTokensUsed.Observe(float64(tokensUsed))

	return &Response{
		Question:             req.Question,
		Answer:               answer,
		QueryID:              processed.ID,
		SessionID:            req.SessionID,
		ProcessingTime:       round3(elapsed.Seconds()),
		TokensUsed:           tokensUsed,
		RelevanceScore:       round3(avgRelevance),
		RetrievedChunksCount: len(filtered),
		Metadata: Metadata{
			ProcessedQuery: processed,
			RetrievalStats: RetrievalStats{
				InitialResults:  len(initial),
				RerankedResults: len(reranked),
				FilteredResults: len(filtered),
				RerankEnabled:   req.EnableRerank,
			},
			TemplateUsed:      template,
			ProcessingEnabled: processingFlags(req),
		},
	}, nil
}

func (c *Chain) history(ctx context.Context, sessionID string, limit int) []models.ConversationTurn {
	if sessionID == "" || c.memory == nil {
		return nil
	}
	history, err := c.memory.History(ctx, sessionID, limit)
	if err != nil {
		c.log.Warn("Conversation history unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil
	}
	return history
}

func (c *Chain) generateAnswer(ctx context.Context, question, template string, filtered []models.RerankResult, history string) string {
	prompt := prompts.Build(template, question, filtered, history)
	answer, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Purpose:     llm.PurposeAnswer,
		System:      prompt.System,
		User:        prompt.User,
		Temperature: 0.7,
		MaxTokens:   2048,
	})
	if err != nil {
		c.log.Error("Answer generation failed", zap.Error(err))
		return LLMFailureAnswer
	}
	if answer == "" {
		c.log.Warn("Answer generation returned empty content")
		return EmptyAnswerReply
	}
	return answer
}

func (c *Chain) noResults(req Request, processed ProcessedQuery, template string, start time.Time) *Response {
	return &Response{
		Question:       req.Question,
		Answer:         NoResultsAnswer,
		QueryID:        processed.ID,
		SessionID:      req.SessionID,
		ProcessingTime: round3(time.Since(start).Seconds()),
		NoResults:      true,
		Metadata: Metadata{
			ProcessedQuery:    processed,
			RetrievalStats:    RetrievalStats{RerankEnabled: req.EnableRerank},
			TemplateUsed:      template,
			ProcessingEnabled: processingFlags(req),
		},
	}
}

func processingFlags(req Request) map[string]bool {
	return map[string]bool{
		"optimization": req.EnableOptimization,
		"expansion":    req.EnableExpansion,
		"rerank":       req.EnableRerank,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
