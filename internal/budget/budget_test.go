package budget

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

type warning struct {
	scope string
	used  int64
}

// collectWarnings returns a WarningFunc that appends into dst.
func collectWarnings(dst *[]warning) WarningFunc {
	return func(scope string, b models.Budget) {
		*dst = append(*dst, warning{scope: scope, used: b.Used.Total()})
	}
}

func TestRecordUsage_AccumulatesPerAgentAndProject(t *testing.T) {
	m := New(WithAgentCap(1000), WithProjectCap(3000))

	if err := m.RecordUsage("a1", 100, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RecordUsage("a2", 200, 25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RecordUsage("a1", 10, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, ok := m.UsageFor("a1")
	if !ok {
		t.Fatal("expected budget for a1")
	}
	if b.Used.Prompt != 110 || b.Used.Completion != 50 {
		t.Errorf("a1 usage = %+v, want prompt 110 completion 50", b.Used)
	}
	if b.MaxTotal != 1000 || b.MaxPrompt != 700 || b.MaxCompletion != 300 {
		t.Errorf("a1 caps = %d/%d/%d, want 1000/700/300", b.MaxTotal, b.MaxPrompt, b.MaxCompletion)
	}

	if _, ok := m.UsageFor("ghost"); ok {
		t.Error("expected no budget for unknown agent")
	}

	total := m.TotalUsage()
	if total.Prompt != 310 || total.Completion != 75 {
		t.Errorf("project usage = %+v, want prompt 310 completion 75", total)
	}
	if got := m.ProjectUsage().MaxTotal; got != 3000 {
		t.Errorf("project cap = %d, want 3000", got)
	}
}

func TestDefaults(t *testing.T) {
	m := New()
	if err := m.RecordUsage("a1", 1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := m.UsageFor("a1")
	if b.MaxTotal != 500_000 {
		t.Errorf("agent cap = %d, want 500000", b.MaxTotal)
	}
	if b.MaxPrompt != 350_000 || b.MaxCompletion != 150_000 {
		t.Errorf("split = %d/%d, want 350000/150000", b.MaxPrompt, b.MaxCompletion)
	}
	if got := m.ProjectUsage().MaxTotal; got != 2_000_000 {
		t.Errorf("project cap = %d, want 2000000", got)
	}
}

func TestWarning_FiresOncePerScope(t *testing.T) {
	var warnings []warning
	m := New(WithAgentCap(1000), WithProjectCap(10_000), WithWarningFunc(collectWarnings(&warnings)))

	// 750 of 1000 stays under the 0.8 threshold.
	if err := m.RecordUsage("a1", 500, 250); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none below threshold", warnings)
	}

	// 800 of 1000 crosses it.
	if err := m.RecordUsage("a1", 50, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 || warnings[0].scope != "a1" || warnings[0].used != 800 {
		t.Fatalf("warnings = %v, want one for a1 at 800", warnings)
	}

	// Already warned: no duplicate.
	if err := m.RecordUsage("a1", 10, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one for a1", warnings)
	}
}

func TestRecordUsage_FailsClosedAtAgentCap(t *testing.T) {
	m := New(WithAgentCap(1000), WithProjectCap(10_000))

	if err := m.RecordUsage("a1", 500, 250); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := m.RecordUsage("a1", 200, 50)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("error = %v, want ErrBudgetExceeded", err)
	}

	// The usage that crossed the cap is still recorded.
	b, _ := m.UsageFor("a1")
	if b.Used.Total() != 1000 {
		t.Errorf("a1 used = %d, want 1000", b.Used.Total())
	}

	if m.CanProceed("a1") {
		t.Error("expected CanProceed false for exhausted agent")
	}
	if !m.CanProceed("a2") {
		t.Error("expected CanProceed true for fresh agent under project cap")
	}
}

func TestRecordUsage_PromptCapFailsClosed(t *testing.T) {
	m := New(WithAgentCap(1000), WithProjectCap(10_000))

	// Total is only 700 of 1000, but the 0.7 prompt share is spent.
	err := m.RecordUsage("a1", 700, 0)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("error = %v, want ErrBudgetExceeded", err)
	}
	if m.CanProceed("a1") {
		t.Error("expected CanProceed false once prompt cap is reached")
	}
}

func TestProjectCap_StopsAllAgents(t *testing.T) {
	var warnings []warning
	m := New(WithAgentCap(10_000), WithProjectCap(1000), WithWarningFunc(collectWarnings(&warnings)))

	if err := m.RecordUsage("a1", 400, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RecordUsage("a2", 350, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 || warnings[0].scope != ProjectScope || warnings[0].used != 800 {
		t.Fatalf("warnings = %v, want one project warning at 800", warnings)
	}

	err := m.RecordUsage("a3", 150, 50)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("error = %v, want ErrBudgetExceeded", err)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want no duplicate project warning", warnings)
	}

	// Project exhaustion blocks every agent, known or not.
	if m.CanProceed("a1") {
		t.Error("expected CanProceed false for a1 after project cap")
	}
	if m.CanProceed("never-seen") {
		t.Error("expected CanProceed false for unknown agent after project cap")
	}
}

func TestReset_ClearsUsageAndWarnings(t *testing.T) {
	var warnings []warning
	m := New(WithAgentCap(1000), WithProjectCap(10_000), WithWarningFunc(collectWarnings(&warnings)))

	if err := m.RecordUsage("a1", 550, 250); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one before reset", warnings)
	}

	m.Reset()

	if _, ok := m.UsageFor("a1"); ok {
		t.Error("expected no budget for a1 after reset")
	}
	if got := m.TotalUsage().Total(); got != 0 {
		t.Errorf("project usage after reset = %d, want 0", got)
	}

	// Warnings rearm after a reset.
	if err := m.RecordUsage("a1", 550, 250); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 2 {
		t.Errorf("warnings = %v, want a second one after reset", warnings)
	}
}

func TestCanProceed_FreshManager(t *testing.T) {
	m := New()
	if !m.CanProceed("anyone") {
		t.Error("expected CanProceed true with no usage")
	}
}
