package orchestrator

import (
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// EventType identifies the kind of orchestrator event.
type EventType string

const (
	// EventGoalDecomposed indicates a goal was broken into tasks.
	EventGoalDecomposed EventType = "goal_decomposed"
	// EventTaskQueued indicates a task became ready for dispatch.
	EventTaskQueued EventType = "task_queued"
	// EventTaskAssigned indicates a task was dispatched to an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates an agent began executing a task.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed terminally.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetried indicates a failed task re-entered the queue.
	EventTaskRetried EventType = "task_retried"
	// EventTaskBlocked indicates a task was blocked by a failed dependency.
	EventTaskBlocked EventType = "task_blocked"
	// EventMergeStarted indicates a branch merge began.
	EventMergeStarted EventType = "merge_started"
	// EventMergeCompleted indicates a branch merge finished.
	EventMergeCompleted EventType = "merge_completed"
	// EventBudgetWarning indicates a budget crossed its warn threshold.
	EventBudgetWarning EventType = "budget_warning"
	// EventAgentStuck indicates the health monitor flagged an agent.
	EventAgentStuck EventType = "agent_stuck"
	// EventAgentDead indicates an agent was declared dead.
	EventAgentDead EventType = "agent_dead"
	// EventRunDone indicates every task in the run reached a terminal state.
	EventRunDone EventType = "run_done"
)

// Event is emitted by the orchestrator for dashboards and the event
// stream. Consumers must not block; slow consumers miss events.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// TaskID is the related task, if any.
	TaskID string `json:"task_id,omitempty"`
	// TaskName is the human name of the related task.
	TaskName string `json:"task_name,omitempty"`
	// AgentID is the related agent, if any.
	AgentID string `json:"agent_id,omitempty"`
	// Message provides additional context.
	Message string `json:"message,omitempty"`
	// Error holds failure details for failure events.
	Error string `json:"error,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Tokens is the aggregate token usage at event time, when relevant.
	Tokens models.TokenUsage `json:"tokens,omitempty"`
}

// emit publishes an event to the orchestrator's event channel without
// blocking. Events nobody is reading are dropped.
func (o *Orchestrator) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Log("[events] dropped %s event for task %s", ev.Type, ev.TaskID)
	}
}

// Events returns the orchestrator's event stream. The channel is
// buffered; events overflowing the buffer are dropped, not queued.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}
