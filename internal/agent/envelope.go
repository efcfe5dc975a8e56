package agent

import (
	"fmt"

	"github.com/ShayCichocki/hive/pkg/models"
)

// decodeAssignEnvelope parses the task-assign payload back into a
// task. The envelope travels in-process as the original map, but the
// decoder also tolerates the generic shapes a JSON round trip
// produces.
func decodeAssignEnvelope(payload map[string]interface{}) (*models.Task, error) {
	raw, ok := payload["task"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("assign envelope missing task")
	}
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("assign envelope missing task id")
	}

	task := &models.Task{
		ID:             id,
		Status:         models.TaskStatusAssigned,
		TimeoutSeconds: intField(raw, "timeout_seconds"),
		Attempt:        intField(raw, "attempt_number"),
		MaxAttempts:    intField(raw, "max_attempts"),
		Complexity:     intField(raw, "complexity"),
		Priority:       models.TaskPriority(intField(raw, "priority")),
	}
	task.Name, _ = raw["name"].(string)
	task.Description, _ = raw["description"].(string)
	if s, ok := raw["type"].(string); ok {
		task.Type = models.TaskType(s)
	}
	if ctx, ok := raw["context"].(map[string]interface{}); ok {
		task.Context = ctx
	}

	switch reqs := raw["requirements"].(type) {
	case []string:
		task.Requirements = reqs
	case []interface{}:
		for _, r := range reqs {
			if s, ok := r.(string); ok {
				task.Requirements = append(task.Requirements, s)
			}
		}
	}
	return task, nil
}

// intField reads an integer that may arrive as int or, after a JSON
// round trip, float64.
func intField(raw map[string]interface{}, key string) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
