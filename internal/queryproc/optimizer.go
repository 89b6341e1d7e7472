// Package queryproc rewrites and expands user questions before
// retrieval: coreference resolution against conversation history, and
// multi-variant expansion for the parallel fan-out.
package queryproc

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/llm"
	"github.com/echointellect/rag/internal/models"
)

// Completer runs one chat completion.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

const optimizerSystemPrompt = `你是一个专业的查询优化助手。你的任务是根据对话历史，优化当前的用户问题，使其更加清晰、完整和独立。

优化原则：
1. 指代消除：将"它"、"这个"、"那个"等指代词替换为具体的实体名称
2. 上下文补全：根据对话历史补充缺失的关键信息
3. 保持原意：确保优化后的问题与原问题意图完全一致
4. 独立理解：优化后的问题应该能够独立理解，不依赖对话历史

注意事项：
- 只输出优化后的问题，不要添加任何解释
- 如果原问题已经很清晰完整，可以直接返回原问题
- 不要改变问题的核心意图和要求`

// Optimizer rewrites a question against recent history so it stands on
// its own. Every failure path returns the original question.
type Optimizer struct {
	llm        Completer
	maxHistory int
	log        *zap.Logger
}

// NewOptimizer builds an optimizer consulting the most recent maxHistory
// turns (default 3).
func NewOptimizer(completer Completer, maxHistory int, logger *zap.Logger) *Optimizer {
	if maxHistory <= 0 {
		maxHistory = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{llm: completer, maxHistory: maxHistory, log: logger}
}

// Optimize rewrites question using history. Without history, or when the
// rewrite is empty or shorter than 80% of the original, the original is
// returned unchanged.
func (o *Optimizer) Optimize(ctx context.Context, question string, history []models.ConversationTurn) string {
	if len(history) == 0 {
		return question
	}

	rewritten, err := o.llm.Complete(ctx, llm.CompletionRequest{
		Purpose:     llm.PurposeOptimize,
		System:      optimizerSystemPrompt,
		User:        o.userPrompt(question, o.historyContext(history)),
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		o.log.Warn("Query optimization failed, keeping original", zap.Error(err))
		return question
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" || len([]rune(rewritten)) < len([]rune(question))*8/10 {
		o.log.Debug("Rewrite rejected, keeping original",
			zap.String("rewrite", rewritten),
		)
		return question
	}
	o.log.Info("Query optimized",
		zap.String("original", question),
		zap.String("optimized", rewritten),
	)
	return rewritten
}

func (o *Optimizer) historyContext(history []models.ConversationTurn) string {
	recent := history
	if len(recent) > o.maxHistory {
		recent = recent[len(recent)-o.maxHistory:]
	}
	var b strings.Builder
	for i, turn := range recent {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", i+1, turn.Question, i+1, turn.Answer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Optimizer) userPrompt(question, context string) string {
	if context == "" {
		return fmt.Sprintf("请优化以下问题：\n\n%s", question)
	}
	return fmt.Sprintf("对话历史：\n%s\n\n当前问题：\n%s\n\n请根据对话历史优化当前问题，使其更加清晰、完整和独立：", context, question)
}
