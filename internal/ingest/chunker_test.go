package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortContentSingleChunk(t *testing.T) {
	content := "  " + strings.Repeat("a", 500) + "\n"
	chunks := SplitText(content)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.Repeat("a", 500), chunks[0])
}

func TestSplitTextEmptyContent(t *testing.T) {
	assert.Empty(t, SplitText(""))
	assert.Empty(t, SplitText("   \n  "))
}

func TestSplitTextTwoParagraphDocument(t *testing.T) {
	p1 := strings.Repeat("a", 1100)
	p2 := strings.Repeat("b", 1098)
	content := p1 + "\n\n" + p2

	chunks := SplitText(content)
	require.Len(t, chunks, 3)

	// First chunk breaks at the paragraph boundary near the target.
	assert.Equal(t, p1, chunks[0])
	// Middle chunk stays within the size bounds.
	assert.GreaterOrEqual(t, len(chunks[1]), minChunkSize)
	assert.LessOrEqual(t, len(chunks[1]), maxChunkSize)
	// Overlap: the second chunk re-covers the tail of the first region.
	assert.True(t, strings.HasPrefix(chunks[1], "a"))
}

func TestSplitTextPrefersSentenceMarkers(t *testing.T) {
	// Sentences of 101 chars each ending in a Chinese full stop. The
	// splitter should cut at a sentence boundary, never mid-sentence.
	sentence := strings.Repeat("字", 100) + "。"
	content := strings.Repeat(sentence, 12)

	chunks := SplitText(content)
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		if i < len(chunks)-1 {
			assert.True(t, strings.HasSuffix(chunk, "。"), "chunk %d should end at a sentence boundary", i)
		}
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), maxChunkSize)
	}
}

func TestSplitTextCJKChunkSizesMeasureRunes(t *testing.T) {
	// Multi-byte text must chunk on character counts, not byte counts: a
	// 5400-character Chinese document yields chunks whose rune lengths sit
	// inside the size bounds, the same geometry ASCII text gets.
	sentence := strings.Repeat("汉", 107) + "。"
	content := strings.Repeat(sentence, 50) // 5400 runes, 3 bytes each

	chunks := SplitText(content)
	require.GreaterOrEqual(t, len(chunks), 2)
	for i, chunk := range chunks {
		n := utf8.RuneCountInString(chunk)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, n, minChunkSize, "chunk %d is %d runes", i, n)
		}
		assert.LessOrEqual(t, n, maxChunkSize, "chunk %d is %d runes", i, n)
	}
}

func TestSplitTextDeterministic(t *testing.T) {
	content := strings.Repeat("line of text\n", 300)
	first := SplitText(content)
	second := SplitText(content)
	assert.Equal(t, first, second)
}

func TestSplitTextHardCutWithoutMarkers(t *testing.T) {
	content := strings.Repeat("x", 2200)
	chunks := SplitText(content)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, targetChunkSize, len(chunks[0]))
}
