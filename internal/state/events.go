package state

import (
	"database/sql"
	"fmt"
	"time"
)

// Task event kinds recorded against a run.
const (
	EventQueued    = "queued"
	EventAssigned  = "assigned"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventRetried   = "retried"
)

// TaskEvent is one state transition of a task during a run.
type TaskEvent struct {
	// ID is the auto-assigned row id, in insertion order.
	ID int64
	// RunID is the owning run.
	RunID string
	// TaskID identifies the task.
	TaskID string
	// Event is the transition kind, e.g. EventAssigned.
	Event string
	// AgentID is the agent involved, if any.
	AgentID string
	// Detail carries extra context, e.g. a failure reason.
	Detail string
	// CreatedAt is when the event happened.
	CreatedAt time.Time
}

// AppendTaskEvent records one task transition. A zero CreatedAt is
// stamped with the current time.
func (db *DB) AppendTaskEvent(ev *TaskEvent) error {
	if ev.RunID == "" || ev.TaskID == "" || ev.Event == "" {
		return fmt.Errorf("task event requires run id, task id, and event")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	result, err := db.Exec(`
		INSERT INTO task_events (run_id, task_id, event, agent_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.TaskID, ev.Event, ev.AgentID, ev.Detail, formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	ev.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get event id: %w", err)
	}
	return nil
}

// TaskEvents returns all events for a run in insertion order. A task
// id narrows the result to one task when non-empty.
func (db *DB) TaskEvents(runID, taskID string) ([]*TaskEvent, error) {
	query := "SELECT id, task_id, event, agent_id, detail, created_at FROM task_events WHERE run_id = ?"
	args := []any{runID}
	if taskID != "" {
		query += " AND task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var events []*TaskEvent
	for rows.Next() {
		ev := &TaskEvent{RunID: runID}
		var agentID, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Event, &agentID, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.AgentID = agentID.String
		ev.Detail = detail.String
		ev.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	return events, nil
}
