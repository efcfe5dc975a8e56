package token

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

// charCounter makes token math deterministic: one token per character.
func charCounter(text string) int { return len(text) }

func msg(role, content string) models.ChatMessage {
	return models.ChatMessage{Role: role, Content: content}
}

func TestEstimateFast(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", "   \n\t", 0},
		{"short word floors at 1", "hi", 1},
		{"words dominate short text", "hello world", 2},
		{"runes dominate long text", "abcdefghijklmnopqrstuvwxyz", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateFast(tt.text); got != tt.want {
				t.Errorf("EstimateFast(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimator_CountGrowsWithText(t *testing.T) {
	e := NewEstimator()
	if got := e.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}
	short := e.Count("hello world")
	if short <= 0 {
		t.Fatalf("Count(short) = %d, want > 0", short)
	}
	long := e.Count("hello world hello world hello world hello world hello world")
	if long <= short {
		t.Errorf("longer text counted %d tokens, shorter %d", long, short)
	}
}

func TestLimitFor(t *testing.T) {
	v := NewValidator(WithModelLimit("tiny-model", 1000))

	if got := v.LimitFor("tiny-model"); got != 1000 {
		t.Errorf("LimitFor(tiny-model) = %d, want 1000", got)
	}
	// Dated ids resolve by family prefix.
	if got := v.LimitFor("claude-sonnet-4-20250514"); got != 200000 {
		t.Errorf("LimitFor(dated sonnet) = %d, want 200000", got)
	}
	if got := v.LimitFor("gpt-4o-2024-08-06"); got != 128000 {
		t.Errorf("LimitFor(dated gpt-4o) = %d, want 128000", got)
	}
	if got := v.LimitFor("unknown-model"); got != defaultContextLimit {
		t.Errorf("LimitFor(unknown) = %d, want %d", got, defaultContextLimit)
	}
}

func TestFits(t *testing.T) {
	v := NewValidator(
		WithModelLimit("m", 100),
		WithReserve(20),
		WithCounter(charCounter),
	)

	// 30 chars + 4 overhead = 34 per message; budget is 80.
	two := []models.ChatMessage{
		msg(models.ChatRoleSystem, "012345678901234567890123456789"),
		msg(models.ChatRoleUser, "012345678901234567890123456789"),
	}
	if !v.Fits("m", two, 0) {
		t.Error("two messages (68 tokens) should fit an 80-token budget")
	}

	three := append(two, msg(models.ChatRoleUser, "012345678901234567890123456789"))
	if v.Fits("m", three, 0) {
		t.Error("three messages (102 tokens) must not fit an 80-token budget")
	}

	// A larger override reserve shrinks the budget below two messages.
	if v.Fits("m", two, 40) {
		t.Error("68 tokens must not fit a 60-token budget")
	}
}

func TestTruncate_DropsOldestNonSystem(t *testing.T) {
	v := NewValidator(
		WithModelLimit("m", 100),
		WithReserve(20),
		WithCounter(charCounter),
	)
	msgs := []models.ChatMessage{
		msg(models.ChatRoleSystem, "012345678901234567890123456789"),
		msg(models.ChatRoleUser, "oldest oldest oldest oldest 30"),
		msg(models.ChatRoleUser, "newest newest newest newest 30"),
	}

	got, err := v.Truncate("m", msgs, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !got[0].IsSystem() {
		t.Error("system message was dropped despite keepSystem")
	}
	if got[1].Content != msgs[2].Content {
		t.Errorf("kept %q, want the newest message", got[1].Content)
	}

	// The input slice is not mutated.
	if len(msgs) != 3 {
		t.Errorf("input slice mutated to %d messages", len(msgs))
	}
}

func TestTruncate_WithoutKeepSystemDropsSystemFirst(t *testing.T) {
	v := NewValidator(
		WithModelLimit("m", 100),
		WithReserve(20),
		WithCounter(charCounter),
	)
	msgs := []models.ChatMessage{
		msg(models.ChatRoleSystem, "012345678901234567890123456789"),
		msg(models.ChatRoleUser, "012345678901234567890123456789"),
		msg(models.ChatRoleUser, "012345678901234567890123456789"),
	}

	got, err := v.Truncate("m", msgs, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].IsSystem() {
		t.Error("system message survived without keepSystem")
	}
}

func TestTruncate_OverflowWhenSystemAloneTooBig(t *testing.T) {
	v := NewValidator(
		WithModelLimit("m", 100),
		WithReserve(20),
		WithCounter(charCounter),
	)
	msgs := []models.ChatMessage{
		msg(models.ChatRoleSystem, string(make([]byte, 90))),
		msg(models.ChatRoleUser, "anything"),
	}

	_, err := v.Truncate("m", msgs, 0, true)
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected ErrContextOverflow, got %v", err)
	}
}

func TestTruncate_AlreadyFitting(t *testing.T) {
	v := NewValidator(
		WithModelLimit("m", 100),
		WithReserve(20),
		WithCounter(charCounter),
	)
	msgs := []models.ChatMessage{msg(models.ChatRoleUser, "short")}

	got, err := v.Truncate("m", msgs, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "short" {
		t.Errorf("fitting prompt changed: %+v", got)
	}
}
