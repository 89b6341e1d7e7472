// Package llm wraps an OpenAI-compatible chat completion backend for
// query rewriting, query expansion, and answer generation.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/tracing"
)

// Purposes label completions for metrics and logs.
const (
	PurposeAnswer    = "answer"
	PurposeOptimize  = "optimize"
	PurposeExpand    = "expand"
	PurposeSummarize = "summarize"
)

// Config controls the chat completion client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	Purpose     string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Client is a thin wrapper over the OpenAI-compatible API.
type Client struct {
	api   *openai.Client
	model string
	log   *zap.Logger
}

// NewClient builds a chat completion client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:   openai.NewClientWithConfig(oc),
		model: cfg.Model,
		log:   logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete runs one chat completion and returns the trimmed first choice.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = PurposeAnswer
	}
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "llm.complete")
	defer span.End()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		ometrics.RecordLLM(purpose, "error", time.Since(start).Seconds())
		return "", fmt.Errorf("chat completion (%s): %w", purpose, err)
	}
	if len(resp.Choices) == 0 {
		ometrics.RecordLLM(purpose, "error", time.Since(start).Seconds())
		return "", fmt.Errorf("chat completion (%s): no choices", purpose)
	}
	ometrics.RecordLLM(purpose, "ok", time.Since(start).Seconds())

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
