package ingest

import "strings"

// Chunking parameters in characters (runes, not bytes).
const (
	targetChunkSize = 1024
	minChunkSize    = 800
	maxChunkSize    = 1200
	overlapSize     = 100
	splitWindow     = 200
)

// splitMarkers in priority order. Paragraph breaks beat sentence
// terminators, Chinese full-width punctuation beats a bare newline.
var splitMarkers = [][]rune{
	[]rune("\n\n\n"),
	[]rune("\n\n"),
	[]rune("。\n"),
	[]rune("！\n"),
	[]rune("？\n"),
	[]rune("；\n"),
	[]rune("。"),
	[]rune("！"),
	[]rune("？"),
	[]rune("；"),
	[]rune("："),
	[]rune("\n"),
}

// SplitText cuts content into chunks of roughly targetChunkSize characters,
// preferring to break at a marker near the target so sentences stay whole.
// All geometry is measured in runes so CJK text chunks the same as ASCII.
// Consecutive chunks overlap by up to overlapSize characters. Deterministic:
// the same content always yields the same chunks.
func SplitText(content string) []string {
	runes := []rune(content)
	var chunks []string
	start := 0

	for start < len(runes) {
		if len(runes)-start <= minChunkSize {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		targetEnd := start + targetChunkSize
		if targetEnd >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		splitPos := findSplit(runes, start, targetEnd)

		if chunk := strings.TrimSpace(string(runes[start:splitPos])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		nextStart := splitPos - overlapSize
		if nextStart < start+minChunkSize {
			nextStart = start + minChunkSize
		}
		start = nextStart
	}

	return chunks
}

// findSplit looks for a marker inside [targetEnd-splitWindow, targetEnd+splitWindow].
// A forward match wins when the chunk stays within maxChunkSize; otherwise a
// backward match wins when the chunk stays above minChunkSize; otherwise the
// chunk is cut hard at the target.
func findSplit(runes []rune, start, targetEnd int) int {
	searchStart := targetEnd - splitWindow
	if searchStart < start+minChunkSize {
		searchStart = start + minChunkSize
	}
	searchEnd := targetEnd + splitWindow
	if searchEnd > len(runes) {
		searchEnd = len(runes)
	}

	for _, marker := range splitMarkers {
		if pos := indexRunes(runes[targetEnd:searchEnd], marker); pos != -1 {
			split := targetEnd + pos + len(marker)
			if split-start <= maxChunkSize {
				return split
			}
		}
		if pos := lastIndexRunes(runes[searchStart:targetEnd], marker); pos != -1 {
			split := searchStart + pos + len(marker)
			if split-start >= minChunkSize {
				return split
			}
		}
	}
	return targetEnd
}

func indexRunes(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if matchRunes(haystack[i:], needle) {
			return i
		}
	}
	return -1
}

func lastIndexRunes(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		if matchRunes(haystack[i:], needle) {
			return i
		}
	}
	return -1
}

func matchRunes(haystack, needle []rune) bool {
	for i, r := range needle {
		if haystack[i] != r {
			return false
		}
	}
	return true
}
