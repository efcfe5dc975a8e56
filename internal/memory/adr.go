package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

func (s *Store) adrKey(id string) string {
	return fmt.Sprintf("adr:%s:%s", s.project, id)
}

func (s *Store) adrSetKey() string {
	return fmt.Sprintf("adr:%s:index", s.project)
}

func (s *Store) reflectionKey(id string) string {
	return fmt.Sprintf("reflection:%s:%s", s.project, id)
}

func (s *Store) reflectionSetKey() string {
	return fmt.Sprintf("reflection:%s:index", s.project)
}

// RecordDecision stores an architecture decision record. The decision
// text is also saved as a long-term memory item so later retrievals
// can surface it; that side write is best-effort.
func (s *Store) RecordDecision(ctx context.Context, adr *models.ArchitectureDecisionRecord) error {
	if adr == nil || adr.Title == "" {
		return fmt.Errorf("decision record must have a title")
	}
	if adr.Status == "" {
		adr.Status = models.ADRProposed
	}
	if !adr.Status.Valid() {
		return fmt.Errorf("unknown decision status %q", adr.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if adr.ID == "" {
		adr.ID = uuid.NewString()
	}
	if adr.CreatedAt.IsZero() {
		adr.CreatedAt = s.now().UTC()
	}
	raw, err := json.Marshal(adr)
	if err != nil {
		return fmt.Errorf("encode decision record: %w", err)
	}
	if err := s.kv.Set(ctx, s.adrKey(adr.ID), raw, 0); err != nil {
		return fmt.Errorf("persist decision record %s: %w", adr.ID, err)
	}
	if err := s.kv.SAdd(ctx, s.adrSetKey(), adr.ID); err != nil {
		return fmt.Errorf("index decision record %s: %w", adr.ID, err)
	}

	content := fmt.Sprintf("Decision: %s. %s Rationale: %s", adr.Title, adr.Decision, adr.Rationale)
	meta := map[string]string{"adr_id": adr.ID, "kind": "decision"}
	if _, err := s.saveLocked(ctx, content, models.MemoryLongTerm, meta, adr.Tags); err != nil {
		s.debugLog("memory: mirror decision %s: %v", adr.ID, err)
	}
	return nil
}

// Decisions returns all decision records, oldest first.
func (s *Store) Decisions(ctx context.Context) ([]*models.ArchitectureDecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.kv.SMembers(ctx, s.adrSetKey())
	if err != nil {
		return nil, fmt.Errorf("list decision records: %w", err)
	}
	records := make([]*models.ArchitectureDecisionRecord, 0, len(ids))
	for _, id := range ids {
		raw, err := s.kv.Get(ctx, s.adrKey(id))
		if err != nil {
			s.debugLog("memory: load decision %s: %v", id, err)
			continue
		}
		var adr models.ArchitectureDecisionRecord
		if err := json.Unmarshal(raw, &adr); err != nil {
			s.debugLog("memory: decode decision %s: %v", id, err)
			continue
		}
		records = append(records, &adr)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// SetDecisionStatus moves a decision record through its lifecycle.
func (s *Store) SetDecisionStatus(ctx context.Context, id string, status models.ADRStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown decision status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.Get(ctx, s.adrKey(id))
	if err != nil {
		return fmt.Errorf("decision record %s: %w", id, err)
	}
	var adr models.ArchitectureDecisionRecord
	if err := json.Unmarshal(raw, &adr); err != nil {
		return fmt.Errorf("decode decision record %s: %w", id, err)
	}
	adr.Status = status
	updated, err := json.Marshal(&adr)
	if err != nil {
		return fmt.Errorf("encode decision record: %w", err)
	}
	if err := s.kv.Set(ctx, s.adrKey(id), updated, 0); err != nil {
		return fmt.Errorf("persist decision record %s: %w", id, err)
	}
	return nil
}

// RecordReflection stores a post-mortem note for a failed attempt and
// mirrors it into the episodic partition so future retrievals for
// similar tasks can surface the lesson. The mirror write is
// best-effort.
func (s *Store) RecordReflection(ctx context.Context, r *models.Reflection) error {
	if r == nil || r.TaskID == "" || r.Critique == "" {
		return fmt.Errorf("reflection must carry a task id and critique")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reflection: %w", err)
	}
	if err := s.kv.Set(ctx, s.reflectionKey(r.ID), raw, 0); err != nil {
		return fmt.Errorf("persist reflection %s: %w", r.ID, err)
	}
	if err := s.kv.SAdd(ctx, s.reflectionSetKey(), r.ID); err != nil {
		return fmt.Errorf("index reflection %s: %w", r.ID, err)
	}

	content := fmt.Sprintf("Attempt %d failed: %s", r.Attempt, r.Critique)
	if r.ImprovedApproach != "" {
		content += " Next: " + r.ImprovedApproach
	}
	if len(r.Lessons) > 0 {
		content += " Lessons: " + strings.Join(r.Lessons, "; ")
	}
	meta := map[string]string{"task_id": r.TaskID, "agent_id": r.AgentID, "kind": "reflection"}
	if _, err := s.saveLocked(ctx, content, models.MemoryEpisodic, meta, nil); err != nil {
		s.debugLog("memory: mirror reflection %s: %v", r.ID, err)
	}
	return nil
}

// ReflectionsForTask returns a task's reflections ordered by attempt.
func (s *Store) ReflectionsForTask(ctx context.Context, taskID string) ([]*models.Reflection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.kv.SMembers(ctx, s.reflectionSetKey())
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	var out []*models.Reflection
	for _, id := range ids {
		raw, err := s.kv.Get(ctx, s.reflectionKey(id))
		if err != nil {
			s.debugLog("memory: load reflection %s: %v", id, err)
			continue
		}
		var r models.Reflection
		if err := json.Unmarshal(raw, &r); err != nil {
			s.debugLog("memory: decode reflection %s: %v", id, err)
			continue
		}
		if r.TaskID == taskID {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempt != out[j].Attempt {
			return out[i].Attempt < out[j].Attempt
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
