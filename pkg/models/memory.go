package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// MemoryType selects the partition a memory item lives in.
type MemoryType string

const (
	// MemoryShortTerm is volatile session context with a TTL.
	MemoryShortTerm MemoryType = "short-term"
	// MemoryLongTerm holds decisions, patterns, and rules kept indefinitely.
	MemoryLongTerm MemoryType = "long-term"
	// MemoryEpisodic records past task attempts and reflections.
	MemoryEpisodic MemoryType = "episodic"
)

// Valid returns true if the memory type is a known value.
func (m MemoryType) Valid() bool {
	switch m {
	case MemoryShortTerm, MemoryLongTerm, MemoryEpisodic:
		return true
	default:
		return false
	}
}

// MemoryItem is one stored piece of knowledge.
type MemoryItem struct {
	// ID is the content-derived hash identifying this item.
	ID string `json:"id"`
	// Content is the stored text.
	Content string `json:"content"`
	// Type selects the partition.
	Type MemoryType `json:"type"`
	// CreatedAt is when the item was stored.
	CreatedAt time.Time `json:"created_at"`
	// Tags carries free-form labels used for filtering.
	Tags []string `json:"tags,omitempty"`
	// Metadata carries free-form attributes.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Relevance is the retrieval weight in [0,1]; new items start at 1.0.
	Relevance float64 `json:"relevance"`
	// AccessCount is the number of times the item was retrieved.
	AccessCount int `json:"access_count,omitempty"`
	// LastAccessed is when the item was last retrieved.
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	// TTLSeconds bounds short-term items; zero means no expiry.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// MemoryID derives the item id from content and creation time: the
// first 16 hex characters of SHA-256 over their concatenation.
func MemoryID(content string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(content + createdAt.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// PatternCategory groups cross-project patterns.
type PatternCategory string

const (
	// PatternArchitecture covers system-structure patterns.
	PatternArchitecture PatternCategory = "architecture"
	// PatternCodeStructure covers module and file layout patterns.
	PatternCodeStructure PatternCategory = "code-structure"
	// PatternErrorHandling covers failure-path patterns.
	PatternErrorHandling PatternCategory = "error-handling"
	// PatternTesting covers test-design patterns.
	PatternTesting PatternCategory = "testing"
	// PatternSecurity covers hardening patterns.
	PatternSecurity PatternCategory = "security"
	// PatternPerformance covers optimization patterns.
	PatternPerformance PatternCategory = "performance"
	// PatternDeployment covers release patterns.
	PatternDeployment PatternCategory = "deployment"
	// PatternWorkflow covers process patterns.
	PatternWorkflow PatternCategory = "workflow"
)

// Valid returns true if the category is a known value.
func (c PatternCategory) Valid() bool {
	switch c {
	case PatternArchitecture, PatternCodeStructure, PatternErrorHandling,
		PatternTesting, PatternSecurity, PatternPerformance,
		PatternDeployment, PatternWorkflow:
		return true
	default:
		return false
	}
}

// Pattern is a reusable solution learned in one project and offered
// to others.
type Pattern struct {
	// ID is the unique identifier for this pattern.
	ID string `json:"id"`
	// Category groups the pattern.
	Category PatternCategory `json:"category"`
	// Name is the short name of the pattern.
	Name string `json:"name"`
	// Problem describes the situation the pattern addresses.
	Problem string `json:"problem"`
	// Solution describes the approach.
	Solution string `json:"solution"`
	// Implementation carries concrete guidance or code sketches.
	Implementation string `json:"implementation,omitempty"`
	// Languages lists languages the pattern applies to.
	Languages []string `json:"languages,omitempty"`
	// Frameworks lists frameworks the pattern applies to.
	Frameworks []string `json:"frameworks,omitempty"`
	// ProjectTypes lists project types the pattern applies to.
	ProjectTypes []string `json:"project_types,omitempty"`
	// SourceProject is the project the pattern was learned in.
	SourceProject string `json:"source_project,omitempty"`
	// Successes counts applications that worked.
	Successes int `json:"successes"`
	// Failures counts applications that did not.
	Failures int `json:"failures"`
	// AvgQuality is the running average quality of successful uses.
	AvgQuality float64 `json:"avg_quality,omitempty"`
	// CreatedAt is when the pattern was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// SuccessRate returns successes/(successes+failures), or 0.5 when the
// pattern has no recorded outcomes yet.
func (p *Pattern) SuccessRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0.5
	}
	return float64(p.Successes) / float64(total)
}

// ADRStatus tracks the lifecycle of an architecture decision record.
type ADRStatus string

const (
	// ADRProposed means the decision is under discussion.
	ADRProposed ADRStatus = "proposed"
	// ADRAccepted means the decision is in force.
	ADRAccepted ADRStatus = "accepted"
	// ADRDeprecated means the decision no longer applies.
	ADRDeprecated ADRStatus = "deprecated"
	// ADRSuperseded means a later decision replaced this one.
	ADRSuperseded ADRStatus = "superseded"
)

// Valid returns true if the status is a known value.
func (s ADRStatus) Valid() bool {
	switch s {
	case ADRProposed, ADRAccepted, ADRDeprecated, ADRSuperseded:
		return true
	default:
		return false
	}
}

// ArchitectureDecisionRecord documents a significant design decision.
type ArchitectureDecisionRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`
	// Title is the short name of the decision.
	Title string `json:"title"`
	// Context describes the forces that led to the decision.
	Context string `json:"context"`
	// Decision is the decision text itself.
	Decision string `json:"decision"`
	// Rationale explains why this option won.
	Rationale string `json:"rationale,omitempty"`
	// Alternatives lists options that were considered and rejected.
	Alternatives []string `json:"alternatives,omitempty"`
	// Consequences lists downstream effects of the decision.
	Consequences []string `json:"consequences,omitempty"`
	// Tags carries free-form labels.
	Tags []string `json:"tags,omitempty"`
	// Status tracks the record's lifecycle.
	Status ADRStatus `json:"status"`
	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// Reflection is a post-mortem note produced after a failed attempt.
type Reflection struct {
	// ID is the unique identifier for this reflection.
	ID string `json:"id"`
	// TaskID is the task the attempt belonged to.
	TaskID string `json:"task_id"`
	// AgentID is the agent that made the attempt.
	AgentID string `json:"agent_id"`
	// Attempt is the attempt number being critiqued.
	Attempt int `json:"attempt"`
	// Critique describes what went wrong.
	Critique string `json:"critique"`
	// ImprovedApproach describes what to do differently.
	ImprovedApproach string `json:"improved_approach,omitempty"`
	// Lessons lists durable takeaways.
	Lessons []string `json:"lessons,omitempty"`
	// CreatedAt is when the reflection was written.
	CreatedAt time.Time `json:"created_at"`
}
