package queryproc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/echointellect/rag/internal/llm"
	"github.com/echointellect/rag/internal/models"
)

type scriptedLLM struct {
	replies []string
	err     error
	calls   []llm.CompletionRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return strings.TrimSpace(reply), nil
}

func turn(q, a string) models.ConversationTurn {
	return models.ConversationTurn{Question: q, Answer: a, Timestamp: time.Now()}
}

func TestOptimizeWithoutHistoryReturnsOriginal(t *testing.T) {
	mock := &scriptedLLM{}
	o := NewOptimizer(mock, 3, zaptest.NewLogger(t))
	got := o.Optimize(context.Background(), "它的作者是谁", nil)
	assert.Equal(t, "它的作者是谁", got)
	assert.Empty(t, mock.calls)
}

func TestOptimizeRewritesWithHistory(t *testing.T) {
	mock := &scriptedLLM{replies: []string{"《三体》这本书的作者是谁"}}
	o := NewOptimizer(mock, 3, zaptest.NewLogger(t))

	got := o.Optimize(context.Background(), "它的作者是谁", []models.ConversationTurn{
		turn("介绍一下《三体》", "《三体》是一部科幻小说。"),
	})
	assert.Equal(t, "《三体》这本书的作者是谁", got)

	require.Len(t, mock.calls, 1)
	assert.Contains(t, mock.calls[0].User, "Q1: 介绍一下《三体》")
	assert.InDelta(t, 0.1, mock.calls[0].Temperature, 1e-6)
}

func TestOptimizeRejectsShortRewrite(t *testing.T) {
	mock := &scriptedLLM{replies: []string{"谁"}}
	o := NewOptimizer(mock, 3, zaptest.NewLogger(t))
	got := o.Optimize(context.Background(), "这本书的核心思想是什么", []models.ConversationTurn{turn("q", "a")})
	assert.Equal(t, "这本书的核心思想是什么", got)
}

func TestOptimizeFallsBackOnError(t *testing.T) {
	mock := &scriptedLLM{err: errors.New("llm down")}
	o := NewOptimizer(mock, 3, zaptest.NewLogger(t))
	got := o.Optimize(context.Background(), "原始问题内容", []models.ConversationTurn{turn("q", "a")})
	assert.Equal(t, "原始问题内容", got)
}

func TestOptimizeUsesMostRecentHistoryOnly(t *testing.T) {
	mock := &scriptedLLM{replies: []string{"一个足够长的改写问题内容"}}
	o := NewOptimizer(mock, 2, zaptest.NewLogger(t))
	o.Optimize(context.Background(), "当前问题是什么呢", []models.ConversationTurn{
		turn("old question", "old answer"),
		turn("q2", "a2"),
		turn("q3", "a3"),
	})
	require.Len(t, mock.calls, 1)
	assert.NotContains(t, mock.calls[0].User, "old question")
	assert.Contains(t, mock.calls[0].User, "q3")
}

func TestExpandCollectsValidVariants(t *testing.T) {
	mock := &scriptedLLM{replies: []string{
		"怎样增强机器学习模型的效果",
		"如何提高机器学习的学习效率",
		"提升模型训练效果的方法有哪些",
		"如何提高机器学习模型效果 怎样增强 提升训练方法",
	}}
	e := NewExpander(mock, 3, zaptest.NewLogger(t))
	exp := e.Expand(context.Background(), "如何提高机器学习模型效果")

	assert.Equal(t, "如何提高机器学习模型效果", exp.Original)
	assert.Len(t, exp.Variants, 3)
	assert.Equal(t, "如何提高机器学习模型效果 怎样增强 提升训练方法", exp.ConcatQuery)
	require.Len(t, mock.calls, 4)
	assert.InDelta(t, 0.3, mock.calls[0].Temperature, 1e-6)
}

func TestExpandDropsInvalidVariants(t *testing.T) {
	original := "how to improve machine learning model quality"
	mock := &scriptedLLM{replies: []string{
		original,
		"img",
		"ways to boost model accuracy and training outcomes",
		"how to improve machine learning model quality and ways to boost accuracy",
	}}
	e := NewExpander(mock, 3, zaptest.NewLogger(t))
	exp := e.Expand(context.Background(), original)
	assert.Equal(t, []string{"ways to boost model accuracy and training outcomes"}, exp.Variants)
}

func TestExpandStripsListNumbering(t *testing.T) {
	mock := &scriptedLLM{replies: []string{
		"1. 怎样增强机器学习模型效果\n2. 另一个变体",
		"", "",
		"足够长的合并查询覆盖所有关键词内容",
	}}
	e := NewExpander(mock, 3, zaptest.NewLogger(t))
	exp := e.Expand(context.Background(), "如何提高模型效果")
	require.NotEmpty(t, exp.Variants)
	assert.Equal(t, "怎样增强机器学习模型效果", exp.Variants[0])
}

func TestExpandConcatFallsBackToWhitespaceJoin(t *testing.T) {
	mock := &scriptedLLM{replies: []string{
		"ways to boost model accuracy and training outcomes",
		"", "",
		"short",
	}}
	e := NewExpander(mock, 3, zaptest.NewLogger(t))
	exp := e.Expand(context.Background(), "how to improve machine learning models")
	assert.Equal(t,
		"how to improve machine learning models ways to boost model accuracy and training outcomes",
		exp.ConcatQuery)
}

func TestExpandAllFailuresYieldOriginal(t *testing.T) {
	mock := &scriptedLLM{err: errors.New("llm down")}
	e := NewExpander(mock, 3, zaptest.NewLogger(t))
	exp := e.Expand(context.Background(), "原始查询内容")
	assert.Equal(t, "原始查询内容", exp.Original)
	assert.Empty(t, exp.Variants)
	assert.Equal(t, "原始查询内容", exp.ConcatQuery)
}

func TestQueriesDeduplicatesPreservingOrder(t *testing.T) {
	exp := Expansion{
		Original:    "q",
		Variants:    []string{"v1", "q", "v2"},
		ConcatQuery: "v1",
	}
	assert.Equal(t, []string{"q", "v1", "v2"}, exp.Queries())
}
