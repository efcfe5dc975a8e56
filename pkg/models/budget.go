package models

// TokenUsage tracks prompt and completion token consumption.
type TokenUsage struct {
	// Prompt is the number of prompt tokens consumed.
	Prompt int64 `json:"prompt"`
	// Completion is the number of completion tokens consumed.
	Completion int64 `json:"completion"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.Prompt + u.Completion
}

// Add accumulates another usage sample into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
}

// Budget is a token cap with accumulated usage, held per agent and
// per project.
type Budget struct {
	// MaxPrompt caps prompt tokens.
	MaxPrompt int64 `json:"max_prompt"`
	// MaxCompletion caps completion tokens.
	MaxCompletion int64 `json:"max_completion"`
	// MaxTotal caps prompt plus completion tokens.
	MaxTotal int64 `json:"max_total"`
	// Used is the accumulated consumption.
	Used TokenUsage `json:"used"`
}

// Utilization returns used total over the total cap, in [0,1] for a
// budget within its cap. A zero cap reports 0.
func (b *Budget) Utilization() float64 {
	if b.MaxTotal <= 0 {
		return 0
	}
	return float64(b.Used.Total()) / float64(b.MaxTotal)
}

// Warning returns true once utilization reaches the given threshold.
func (b *Budget) Warning(threshold float64) bool {
	return b.Utilization() >= threshold
}

// Exceeded returns true once any cap is crossed.
func (b *Budget) Exceeded() bool {
	if b.MaxTotal > 0 && b.Used.Total() >= b.MaxTotal {
		return true
	}
	if b.MaxPrompt > 0 && b.Used.Prompt >= b.MaxPrompt {
		return true
	}
	if b.MaxCompletion > 0 && b.Used.Completion >= b.MaxCompletion {
		return true
	}
	return false
}
