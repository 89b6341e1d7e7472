// Package prompts assembles the {system, user} prompt pair sent to the
// chat LLM: template selection, context formatting, and history
// embedding.
package prompts

import (
	"fmt"
	"strings"

	"github.com/echointellect/rag/internal/models"
)

// Template names.
const (
	TemplateBasic          = "basic_rag"
	TemplateConversational = "conversational_rag"
)

// Sentinels rendered when context or history is missing.
const (
	NoContextSentinel    = "暂无相关信息。"
	HistoryStartSentinel = "这是对话的开始。"
)

const basicSystemTemplate = `你是一个专业的知识问答助手。请根据提供的上下文信息来回答用户的问题。

回答要求：
1. 优先使用提供的上下文信息
2. 如果上下文不包含相关信息，请说明无法从提供的信息中找到答案
3. 保持回答准确、简洁、有用
4. 可以进行合理的推理，但要基于提供的信息
5. 如果问题需要实时信息或个人意见，请说明这些限制

上下文信息：
%s

请基于以上信息回答用户的问题。`

const conversationalSystemTemplate = `你是一个智能对话助手。请根据提供的上下文信息和对话历史来回答用户的问题。

回答要求：
1. 考虑对话历史，保持对话的连贯性
2. 优先使用提供的上下文信息
3. 如果当前问题与之前的对话相关，要体现这种关联
4. 保持友好、自然的对话语调
5. 如果信息不足，可以询问用户更多细节

对话历史：
%s

当前上下文信息：
%s

请基于对话历史和上下文信息回答用户的当前问题。`

// Prompt is the assembled pair sent to the LLM.
type Prompt struct {
	System string
	User   string
}

// FormatContext renders reranked records as numbered context entries
// separated by blank lines. No records renders the fixed sentinel.
func FormatContext(results []models.RerankResult) string {
	if len(results) == 0 {
		return NoContextSentinel
	}
	entries := make([]string, 0, len(results))
	for i, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "[信息 %d]\n内容：%s", i+1, r.Content)
		if r.FinalScore > 0 {
			fmt.Fprintf(&b, "\n相关性：%.2f", r.FinalScore)
		}
		if src, ok := r.Metadata["source"].(string); ok && src != "" {
			fmt.Fprintf(&b, "\n来源：%s", src)
		}
		entries = append(entries, b.String())
	}
	return strings.Join(entries, "\n\n")
}

// Build assembles the prompt pair for a template. Unknown template names
// fall back to the basic template; an empty history renders the
// conversation-start sentinel.
func Build(templateName, question string, results []models.RerankResult, history string) Prompt {
	context := FormatContext(results)

	if templateName == TemplateConversational {
		if history == "" {
			history = HistoryStartSentinel
		}
		return Prompt{
			System: fmt.Sprintf(conversationalSystemTemplate, history, context),
			User:   fmt.Sprintf("当前问题：%s", question),
		}
	}
	return Prompt{
		System: fmt.Sprintf(basicSystemTemplate, context),
		User:   fmt.Sprintf("问题：%s", question),
	}
}

// Known reports whether the template name is recognized.
func Known(templateName string) bool {
	return templateName == TemplateBasic || templateName == TemplateConversational
}
