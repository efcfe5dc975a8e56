package token

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrContextOverflow means a prompt exceeds the model's context window
// and cannot be truncated further while retaining required messages.
var ErrContextOverflow = errors.New("context overflow")

// DefaultCompletionReserve is how many tokens of the context window are
// held back for the model's completion.
const DefaultCompletionReserve = 4096

// messageOverhead approximates the framing tokens each chat message
// adds beyond its content.
const messageOverhead = 4

// defaultContextLimit applies to models missing from the limits table.
const defaultContextLimit = 200000

// defaultModelLimits holds published context windows. Matching is by
// prefix so dated model ids resolve to their family.
var defaultModelLimits = map[string]int{
	"claude-3-5-haiku":  200000,
	"claude-3-7-sonnet": 200000,
	"claude-sonnet-4":   200000,
	"claude-opus-4":     200000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
}

// Validator checks prompts against a model's context window, keeping a
// completion reserve free.
type Validator struct {
	limits  map[string]int
	reserve int
	count   func(text string) int
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithModelLimit sets or overrides one model's context limit.
func WithModelLimit(model string, limit int) ValidatorOption {
	return func(v *Validator) {
		if limit > 0 {
			v.limits[model] = limit
		}
	}
}

// WithReserve overrides the default completion reserve.
func WithReserve(tokens int) ValidatorOption {
	return func(v *Validator) {
		if tokens > 0 {
			v.reserve = tokens
		}
	}
}

// WithCounter replaces the token counter, mainly for tests.
func WithCounter(count func(text string) int) ValidatorOption {
	return func(v *Validator) {
		if count != nil {
			v.count = count
		}
	}
}

// NewValidator creates a validator with the published model limits and
// the default completion reserve.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		limits:  make(map[string]int, len(defaultModelLimits)),
		reserve: DefaultCompletionReserve,
	}
	for model, limit := range defaultModelLimits {
		v.limits[model] = limit
	}
	est := NewEstimator()
	v.count = est.Count
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// LimitFor returns the context limit for a model, resolving dated ids
// by longest matching prefix and falling back to a conservative
// default for unknown models.
func (v *Validator) LimitFor(model string) int {
	if limit, ok := v.limits[model]; ok {
		return limit
	}
	bestLen, bestLimit := 0, 0
	for prefix, limit := range v.limits {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			bestLen, bestLimit = len(prefix), limit
		}
	}
	if bestLen > 0 {
		return bestLimit
	}
	return defaultContextLimit
}

// EstimateMessages returns the estimated prompt size of the messages,
// content plus per-message overhead.
func (v *Validator) EstimateMessages(msgs []models.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += v.count(m.Content) + messageOverhead
	}
	return total
}

// budget returns the usable prompt budget for a model. A positive
// reserveOverride replaces the configured completion reserve.
func (v *Validator) budget(model string, reserveOverride int) int {
	reserve := v.reserve
	if reserveOverride > 0 {
		reserve = reserveOverride
	}
	return v.LimitFor(model) - reserve
}

// Fits reports whether the messages fit the model's context window
// with the completion reserve held back.
func (v *Validator) Fits(model string, msgs []models.ChatMessage, reserveOverride int) bool {
	return v.EstimateMessages(msgs) <= v.budget(model, reserveOverride)
}

// Truncate drops the oldest messages until the prompt fits, returning
// the surviving messages in order. With keepSystem set, system
// messages are never dropped. Returns ErrContextOverflow when nothing
// droppable remains and the prompt still does not fit.
func (v *Validator) Truncate(model string, msgs []models.ChatMessage, reserveOverride int, keepSystem bool) ([]models.ChatMessage, error) {
	kept := make([]models.ChatMessage, len(msgs))
	copy(kept, msgs)

	for !v.Fits(model, kept, reserveOverride) {
		dropped := false
		for i, m := range kept {
			if keepSystem && m.IsSystem() {
				continue
			}
			kept = append(kept[:i], kept[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			return nil, fmt.Errorf("%w: %d tokens over a %d budget for %s",
				ErrContextOverflow, v.EstimateMessages(kept), v.budget(model, reserveOverride), model)
		}
	}
	return kept, nil
}
