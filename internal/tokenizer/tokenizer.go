// Package tokenizer counts tokens for budget decisions. It uses the
// cl100k_base BPE when the encoding data is available and degrades to a
// chars/4 estimate when it is not.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const encodingName = "cl100k_base"

// Counter counts tokens in text. Safe for concurrent use after construction.
type Counter struct {
	enc      *tiktoken.Tiktoken
	logger   *zap.Logger
	warnOnce sync.Once
}

// New builds a Counter. A failed encoding load is not fatal; the counter
// falls back to estimation and logs the degradation once.
func New(logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		enc = nil
	}
	return &Counter{enc: enc, logger: logger}
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		c.warnOnce.Do(func() {
			if c.logger != nil {
				c.logger.Warn("Tokenizer unavailable, estimating tokens as chars/4")
			}
		})
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates a token count as ceil(len/4).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
