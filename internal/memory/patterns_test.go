package memory

import (
	"context"
	"math"
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func retryPattern() *models.Pattern {
	return &models.Pattern{
		Category:     models.PatternErrorHandling,
		Name:         "Retry with backoff",
		Problem:      "transient network failures",
		Solution:     "wrap calls in exponential backoff retry",
		Languages:    []string{"go"},
		Frameworks:   []string{"gin"},
		ProjectTypes: []string{"service"},
	}
}

func retryTask() *models.Task {
	return &models.Task{
		Name:        "add retry",
		Description: "handle transient network failures in client",
	}
}

func TestRegister_AssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	pl := NewPatternLibrary(newTestKV(t))

	p := retryPattern()
	if err := pl.Register(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == "" {
		t.Error("register did not assign an id")
	}
	if p.CreatedAt.IsZero() {
		t.Error("register did not stamp creation time")
	}

	loaded, err := pl.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Name != p.Name {
		t.Errorf("loaded name = %q, want %q", loaded.Name, p.Name)
	}

	if err := pl.Register(ctx, &models.Pattern{Name: "x", Category: "bogus"}); err == nil {
		t.Error("expected error for unknown category")
	}
	if err := pl.Register(ctx, &models.Pattern{Category: models.PatternTesting}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestScorePattern_Formula(t *testing.T) {
	p := retryPattern()
	query := "add retry handle transient network failures in client"

	// Five of the eight query terms appear in the pattern body, no
	// outcomes recorded yet, so the track-record multiplier is 0.75.
	full := PatternFilters{Language: "go", Framework: "gin", ProjectType: "service"}
	want := (0.3*0.625 + 0.25 + 0.25 + 0.2) * 0.75
	if got := scorePattern(query, p, full); math.Abs(got-want) > 1e-9 {
		t.Errorf("full-match score = %v, want %v", got, want)
	}

	// Without applicability signals only term overlap contributes.
	bare := (0.3 * 0.625) * 0.75
	if got := scorePattern(query, p, PatternFilters{}); math.Abs(got-bare) > 1e-9 {
		t.Errorf("bare score = %v, want %v", got, bare)
	}

	// A mismatched language earns no credit.
	miss := PatternFilters{Language: "rust", Framework: "gin", ProjectType: "service"}
	want = (0.3*0.625 + 0.25 + 0.2) * 0.75
	if got := scorePattern(query, p, miss); math.Abs(got-want) > 1e-9 {
		t.Errorf("language-miss score = %v, want %v", got, want)
	}
}

func TestApplicable(t *testing.T) {
	tests := []struct {
		name string
		want string
		list []string
		ok   bool
	}{
		{"match", "go", []string{"go", "python"}, true},
		{"case fold", "Go", []string{"go"}, true},
		{"no match", "rust", []string{"go"}, false},
		{"empty list applies to any", "go", nil, true},
		{"no requested value", "", []string{"go"}, false},
		{"neither side", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applicable(tt.want, tt.list); got != tt.ok {
				t.Errorf("applicable(%q, %v) = %v, want %v", tt.want, tt.list, got, tt.ok)
			}
		})
	}
}

func TestFindSimilar_CutoffAndOrdering(t *testing.T) {
	ctx := context.Background()
	pl := NewPatternLibrary(newTestKV(t))

	strong := retryPattern()
	if err := pl.Register(ctx, strong); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	weak := &models.Pattern{
		Category: models.PatternDeployment,
		Name:     "Blue green deploy",
		Problem:  "zero downtime releases",
		Solution: "switch traffic between two environments",
	}
	if err := pl.Register(ctx, weak); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	filters := PatternFilters{Language: "go", Framework: "gin", ProjectType: "service"}
	matches, err := pl.FindSimilar(ctx, retryTask(), filters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Pattern.ID != strong.ID {
		t.Errorf("matched %q, want %q", matches[0].Pattern.Name, strong.Name)
	}
	if matches[0].Score < DefaultPatternCutoff {
		t.Errorf("match score %v below cutoff", matches[0].Score)
	}

	// Category filter excludes the only match.
	matches, err = pl.FindSimilar(ctx, retryTask(), PatternFilters{Category: models.PatternSecurity, Language: "go", Framework: "gin", ProjectType: "service"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("category filter leaked %d matches", len(matches))
	}
}

func TestRecordOutcome_RunningAverage(t *testing.T) {
	ctx := context.Background()
	pl := NewPatternLibrary(newTestKV(t))

	p := retryPattern()
	if err := pl.Register(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := pl.RecordOutcome(ctx, p.ID, true, 0.8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := pl.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Successes != 1 || loaded.Failures != 0 {
		t.Errorf("counters = %d/%d, want 1/0", loaded.Successes, loaded.Failures)
	}
	if math.Abs(loaded.AvgQuality-0.8) > 1e-9 {
		t.Errorf("avg quality = %v, want 0.8", loaded.AvgQuality)
	}

	if err := pl.RecordOutcome(ctx, p.ID, false, 0.2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err = pl.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Successes != 1 || loaded.Failures != 1 {
		t.Errorf("counters = %d/%d, want 1/1", loaded.Successes, loaded.Failures)
	}
	if math.Abs(loaded.AvgQuality-0.5) > 1e-9 {
		t.Errorf("avg quality = %v, want 0.5", loaded.AvgQuality)
	}
	if math.Abs(loaded.SuccessRate()-0.5) > 1e-9 {
		t.Errorf("success rate = %v, want 0.5", loaded.SuccessRate())
	}

	if err := pl.RecordOutcome(ctx, "missing", true, 1); err == nil {
		t.Error("expected error for unknown pattern id")
	}
}

func TestFindSimilar_FailuresSinkBelowCutoff(t *testing.T) {
	ctx := context.Background()
	pl := NewPatternLibrary(newTestKV(t))

	p := retryPattern()
	if err := pl.Register(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filters := PatternFilters{Language: "go", Framework: "gin", ProjectType: "service"}

	matches, err := pl.FindSimilar(ctx, retryTask(), filters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("fresh pattern should match, got %d", len(matches))
	}

	// Three straight failures halve the multiplier: 0.8875 * 0.5 < 0.6.
	for i := 0; i < 3; i++ {
		if err := pl.RecordOutcome(ctx, p.ID, false, 0.1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	matches, err = pl.FindSimilar(ctx, retryTask(), filters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("failing pattern still matches: %+v", matches)
	}
}
