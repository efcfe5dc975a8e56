// Package token counts prompt tokens and validates prompts against
// model context windows. Counting is backed by tiktoken-go's
// cl100k_base encoding, lazily initialized on first use; when the
// encoding cannot be loaded (no cached vocabulary, no network) a
// character heuristic stands in.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens in text. The zero value is not usable, use
// NewEstimator.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates a token estimator. Encoding initialization is
// deferred to the first Count call.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the token count of text, exact when the encoding is
// available and heuristic otherwise.
func (e *Estimator) Count(text string) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns a heuristic token estimate: max(runes/4, words),
// at least 1 for non-empty text.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
