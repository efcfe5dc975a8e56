package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultPatternCutoff is the minimum similarity score for a pattern
// to count as a match.
const DefaultPatternCutoff = 0.6

// Pattern match scoring weights. Term overlap carries the most signal;
// the three applicability matches split the rest.
const (
	patternWeightTerms       = 0.3
	patternWeightLanguage    = 0.25
	patternWeightFramework   = 0.25
	patternWeightProjectType = 0.2
)

const (
	patternKeyPrefix = "patterns:"
	patternSetKey    = "patterns:index"
)

// PatternFilters narrows a pattern search. Zero-value fields are not
// applied.
type PatternFilters struct {
	// Category restricts matches to one category.
	Category models.PatternCategory
	// Language credits patterns applicable to this language.
	Language string
	// Framework credits patterns applicable to this framework.
	Framework string
	// ProjectType credits patterns applicable to this project type.
	ProjectType string
	// MinScore overrides DefaultPatternCutoff when positive.
	MinScore float64
}

// PatternMatch pairs a pattern with its similarity score.
type PatternMatch struct {
	Pattern *models.Pattern
	Score   float64
}

// PatternLibrary stores reusable solutions learned across projects.
// Unlike memory items, patterns are global: one library serves every
// project on the same backend.
type PatternLibrary struct {
	kv store.KV

	mu       sync.Mutex
	now      func() time.Time // for testing
	debugLog func(format string, args ...interface{})
}

// NewPatternLibrary creates a pattern library on a KV backend.
func NewPatternLibrary(kv store.KV) *PatternLibrary {
	return &PatternLibrary{
		kv:       kv,
		now:      time.Now,
		debugLog: func(format string, args ...interface{}) {},
	}
}

// Register stores a pattern. A missing id is assigned, a zero
// creation time stamped.
func (pl *PatternLibrary) Register(ctx context.Context, p *models.Pattern) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("pattern must have a name")
	}
	if !p.Category.Valid() {
		return fmt.Errorf("unknown pattern category %q", p.Category)
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = pl.now().UTC()
	}
	if err := pl.persistLocked(ctx, p); err != nil {
		return err
	}
	if err := pl.kv.SAdd(ctx, patternSetKey, p.ID); err != nil {
		return fmt.Errorf("index pattern %s: %w", p.ID, err)
	}
	return nil
}

// Get returns one pattern by id.
func (pl *PatternLibrary) Get(ctx context.Context, id string) (*models.Pattern, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.loadLocked(ctx, id)
}

// List returns all registered patterns, oldest first.
func (pl *PatternLibrary) List(ctx context.Context) ([]*models.Pattern, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	ids, err := pl.kv.SMembers(ctx, patternSetKey)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	patterns := make([]*models.Pattern, 0, len(ids))
	for _, id := range ids {
		p, err := pl.loadLocked(ctx, id)
		if err != nil {
			pl.debugLog("patterns: load %s: %v", id, err)
			continue
		}
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if !patterns[i].CreatedAt.Equal(patterns[j].CreatedAt) {
			return patterns[i].CreatedAt.Before(patterns[j].CreatedAt)
		}
		return patterns[i].ID < patterns[j].ID
	})
	return patterns, nil
}

// FindSimilar scores every registered pattern against a task and
// returns those above the cutoff, best first.
//
// The base score combines term overlap between the task text and the
// pattern body with applicability credits for language, framework, and
// project type. The base is then weighted by the pattern's track
// record, 0.5 + 0.5*successRate, so patterns that keep failing sink
// below the cutoff on their own.
func (pl *PatternLibrary) FindSimilar(ctx context.Context, task *models.Task, filters PatternFilters) ([]PatternMatch, error) {
	if task == nil {
		return nil, fmt.Errorf("task must not be nil")
	}
	cutoff := filters.MinScore
	if cutoff <= 0 {
		cutoff = DefaultPatternCutoff
	}
	query := task.Name + " " + task.Description

	pl.mu.Lock()
	defer pl.mu.Unlock()

	ids, err := pl.kv.SMembers(ctx, patternSetKey)
	if err != nil {
		pl.debugLog("patterns: list: %v", err)
		return nil, nil
	}

	var matches []PatternMatch
	for _, id := range ids {
		p, err := pl.loadLocked(ctx, id)
		if err != nil {
			pl.debugLog("patterns: load %s: %v", id, err)
			continue
		}
		if filters.Category != "" && p.Category != filters.Category {
			continue
		}
		score := scorePattern(query, p, filters)
		if score >= cutoff {
			matches = append(matches, PatternMatch{Pattern: p, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// RecordOutcome records one application of a pattern, updating its
// success counters and running quality average.
func (pl *PatternLibrary) RecordOutcome(ctx context.Context, patternID string, success bool, quality float64) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, err := pl.loadLocked(ctx, patternID)
	if err != nil {
		return err
	}
	if success {
		p.Successes++
	} else {
		p.Failures++
	}
	total := p.Successes + p.Failures
	p.AvgQuality += (quality - p.AvgQuality) / float64(total)
	return pl.persistLocked(ctx, p)
}

// scorePattern computes the similarity score for one pattern.
func scorePattern(query string, p *models.Pattern, filters PatternFilters) float64 {
	body := p.Name + " " + p.Problem + " " + p.Solution
	score := patternWeightTerms * termOverlap(query, body)
	if applicable(filters.Language, p.Languages) {
		score += patternWeightLanguage
	}
	if applicable(filters.Framework, p.Frameworks) {
		score += patternWeightFramework
	}
	if applicable(filters.ProjectType, p.ProjectTypes) {
		score += patternWeightProjectType
	}
	return score * (0.5 + 0.5*p.SuccessRate())
}

// applicable reports whether a requested attribute matches a pattern's
// applicability list. No requested attribute means no credit; an empty
// list means the pattern applies to any requested value.
func applicable(want string, list []string) bool {
	if want == "" {
		return false
	}
	if len(list) == 0 {
		return true
	}
	for _, have := range list {
		if strings.EqualFold(want, have) {
			return true
		}
	}
	return false
}

func (pl *PatternLibrary) loadLocked(ctx context.Context, id string) (*models.Pattern, error) {
	raw, err := pl.kv.Get(ctx, patternKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", id, err)
	}
	var p models.Pattern
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pattern %s: %w", id, err)
	}
	return &p, nil
}

func (pl *PatternLibrary) persistLocked(ctx context.Context, p *models.Pattern) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pattern: %w", err)
	}
	if err := pl.kv.Set(ctx, patternKeyPrefix+p.ID, raw, 0); err != nil {
		return fmt.Errorf("persist pattern %s: %w", p.ID, err)
	}
	return nil
}
