package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	enrichTimeout   = 5 * time.Second
	enrichHintLimit = 3
)

// enrichTaskContext injects relevant memories and cross-project
// patterns into the task's context before its first dispatch, so the
// executing agent sees prior lessons. Enrichment is best-effort and
// runs once per task.
func (o *Orchestrator) enrichTaskContext(task *models.Task) {
	if o.memory == nil && o.patterns == nil {
		return
	}
	if task.Context == nil {
		task.Context = make(map[string]interface{})
	}
	if _, done := task.Context["hints_attached"]; done {
		return
	}
	task.Context["hints_attached"] = true

	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()
	query := task.Name + " " + task.Description

	if o.memory != nil {
		items, err := o.memory.Retrieve(ctx, query, "", enrichHintLimit, 0.2)
		if err != nil {
			o.logger.Log("[enrich] task %s memory retrieve: %v", task.ID, err)
		}
		var hints []string
		for _, item := range items {
			hints = append(hints, item.Content)
		}
		if len(hints) > 0 {
			task.Context["memory_hints"] = hints
		}
	}

	if o.patterns != nil {
		matches, err := o.patterns.FindSimilar(ctx, task, memory.PatternFilters{})
		if err != nil {
			o.logger.Log("[enrich] task %s pattern search: %v", task.ID, err)
		}
		var hints []map[string]string
		for i, m := range matches {
			if i >= enrichHintLimit {
				break
			}
			hints = append(hints, map[string]string{
				"name":     m.Pattern.Name,
				"problem":  m.Pattern.Problem,
				"solution": m.Pattern.Solution,
			})
		}
		if len(hints) > 0 {
			task.Context["pattern_hints"] = hints
		}
	}
}
