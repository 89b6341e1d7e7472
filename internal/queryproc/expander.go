package queryproc

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/llm"
)

const expanderSystemPrompt = `你是一个查询扩展专家。请为用户的查询生成一个语义相关但表达不同的变体查询。

要求：
1. 保持与原查询相同的核心意图
2. 使用不同的表达方式或关键词
3. 可以从不同角度表述同一问题
4. 确保变体查询有助于检索到更多相关信息
5. 只输出变体查询，不要添加解释

示例：
原查询：如何提高学习效率？
变体：怎样增强学习效果？`

const concatSystemPrompt = `你是一个查询合并专家。请将多个相关查询合并成一个综合查询。

要求：
1. 合并所有查询的关键信息
2. 去除重复的概念和词汇
3. 保持查询的可读性和逻辑性
4. 确保合并后的查询涵盖原始查询的核心意图
5. 只输出合并后的查询，不要添加解释`

var listNumberPrefix = regexp.MustCompile(`^\d+\.\s*`)

// Expansion is the output of query expansion: the original question, the
// valid variants, and one merged query covering all of them.
type Expansion struct {
	Original    string
	Variants    []string
	ConcatQuery string
}

// Queries returns the deduplicated fan-out set: original, variants,
// concat query, in that order.
func (e Expansion) Queries() []string {
	out := make([]string, 0, len(e.Variants)+2)
	seen := make(map[string]bool, len(e.Variants)+2)
	for _, q := range append(append([]string{e.Original}, e.Variants...), e.ConcatQuery) {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

// Expander generates semantically related query variants with
// independent LLM calls. Invalid variants are dropped silently; any
// failure degrades to {original, no variants, original}.
type Expander struct {
	llm      Completer
	variants int
	log      *zap.Logger
}

// NewExpander builds an expander producing up to variants variants
// (default 3).
func NewExpander(completer Completer, variants int, logger *zap.Logger) *Expander {
	if variants <= 0 {
		variants = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{llm: completer, variants: variants, log: logger}
}

// Expand generates variants for original and merges them into a concat
// query.
func (e *Expander) Expand(ctx context.Context, original string) Expansion {
	variants := make([]string, 0, e.variants)
	for i := 1; i <= e.variants; i++ {
		v, err := e.generateVariant(ctx, original, i)
		if err != nil {
			e.log.Warn("Variant generation failed", zap.Int("variant", i), zap.Error(err))
			continue
		}
		if v != "" {
			variants = append(variants, v)
		}
	}

	return Expansion{
		Original:    original,
		Variants:    variants,
		ConcatQuery: e.concatQuery(ctx, original, variants),
	}
}

func (e *Expander) generateVariant(ctx context.Context, original string, index int) (string, error) {
	raw, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Purpose:     llm.PurposeExpand,
		System:      expanderSystemPrompt,
		User:        fmt.Sprintf("原始查询：%s\n\n请生成变体查询%d：", original, index),
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", err
	}

	variant := firstUsableLine(raw)
	if !validVariant(original, variant) {
		e.log.Debug("Variant rejected", zap.String("variant", variant))
		return "", nil
	}
	return variant, nil
}

// firstUsableLine takes the first non-empty line of a possibly
// list-formatted completion and strips its numbering.
func firstUsableLine(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "\n") {
		return raw
	}
	for _, line := range strings.Split(raw, "\n") {
		line = listNumberPrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if len([]rune(line)) > 5 {
			return line
		}
	}
	return raw
}

// validVariant rejects empty, trivially short, identical, runaway-long,
// and high-overlap rewrites that add no vocabulary.
func validVariant(original, variant string) bool {
	if variant == "" || len([]rune(variant)) < 5 {
		return false
	}
	if strings.EqualFold(variant, original) {
		return false
	}
	if len([]rune(variant)) > 3*len([]rune(original)) {
		return false
	}

	originalWords := wordSet(original)
	variantWords := wordSet(variant)
	overlap := 0
	for w := range variantWords {
		if originalWords[w] {
			overlap++
		}
	}
	if len(originalWords) > 0 &&
		float64(overlap)/float64(len(originalWords)) > 0.8 &&
		len(variantWords) <= len(originalWords) {
		return false
	}
	return true
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

func (e *Expander) concatQuery(ctx context.Context, original string, variants []string) string {
	if len(variants) == 0 {
		return original
	}

	all := append([]string{original}, variants...)
	var listing strings.Builder
	for i, q := range all {
		fmt.Fprintf(&listing, "%d. %s\n", i+1, q)
	}

	merged, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Purpose:     llm.PurposeExpand,
		System:      concatSystemPrompt,
		User:        fmt.Sprintf("需要合并的查询：\n%s\n请生成一个合并查询：", listing.String()),
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil || len([]rune(strings.TrimSpace(merged))) <= len([]rune(original)) {
		return original + " " + strings.Join(variants, " ")
	}
	return strings.TrimSpace(merged)
}
