package models

import (
	"fmt"
	"time"
)

// TaskType categorizes the kind of work a task represents.
type TaskType string

const (
	// TaskTypeAnalyze is for requirement and codebase analysis.
	TaskTypeAnalyze TaskType = "analyze"
	// TaskTypeDesign is for architecture and interface design.
	TaskTypeDesign TaskType = "design"
	// TaskTypePlan is for breaking work into ordered steps.
	TaskTypePlan TaskType = "plan"
	// TaskTypeResearch is for investigating libraries, APIs, or prior art.
	TaskTypeResearch TaskType = "research"
	// TaskTypeImplement is for general implementation work.
	TaskTypeImplement TaskType = "implement"
	// TaskTypeWriteCode is for producing new source code.
	TaskTypeWriteCode TaskType = "write-code"
	// TaskTypeRefactor is for restructuring existing code.
	TaskTypeRefactor TaskType = "refactor"
	// TaskTypeFixBug is for defect fixes.
	TaskTypeFixBug TaskType = "fix-bug"
	// TaskTypeWriteTests is for authoring tests.
	TaskTypeWriteTests TaskType = "write-tests"
	// TaskTypeRunTests is for executing test suites.
	TaskTypeRunTests TaskType = "run-tests"
	// TaskTypeCodeReview is for reviewing produced changes.
	TaskTypeCodeReview TaskType = "code-review"
	// TaskTypeSecurityAudit is for security review of changes.
	TaskTypeSecurityAudit TaskType = "security-audit"
	// TaskTypeDeploy is for release and deployment steps.
	TaskTypeDeploy TaskType = "deploy"
	// TaskTypeDocument is for writing documentation.
	TaskTypeDocument TaskType = "document"
)

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeAnalyze, TaskTypeDesign, TaskTypePlan, TaskTypeResearch,
		TaskTypeImplement, TaskTypeWriteCode, TaskTypeRefactor, TaskTypeFixBug,
		TaskTypeWriteTests, TaskTypeRunTests, TaskTypeCodeReview,
		TaskTypeSecurityAudit, TaskTypeDeploy, TaskTypeDocument:
		return true
	default:
		return false
	}
}

// taskTypeRoles maps each task type to the agent role that handles it.
// Types without an entry fall through to RoleBackend.
var taskTypeRoles = map[TaskType]AgentRole{
	TaskTypeDesign:        RoleArchitect,
	TaskTypeAnalyze:       RoleProductAnalyst,
	TaskTypeResearch:      RoleResearch,
	TaskTypeWriteCode:     RoleBackend,
	TaskTypeImplement:     RoleBackend,
	TaskTypeFixBug:        RoleBackend,
	TaskTypeWriteTests:    RoleTestEngineer,
	TaskTypeRunTests:      RoleTestEngineer,
	TaskTypeCodeReview:    RoleCodeReviewer,
	TaskTypeSecurityAudit: RoleSecurityAuditor,
	TaskTypeDeploy:        RoleDevOps,
	TaskTypeDocument:      RoleDocumentation,
}

// Role returns the agent role responsible for this task type.
func (t TaskType) Role() AgentRole {
	if role, ok := taskTypeRoles[t]; ok {
		return role
	}
	return RoleBackend
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been picked up.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusQueued indicates the task is ready and waiting for dispatch.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusAssigned indicates the task has been handed to an agent.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusRunning indicates an agent is actively working the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusWaitingDependency indicates unmet dependencies hold the task.
	TaskStatusWaitingDependency TaskStatus = "waiting-dependency"
	// TaskStatusPaused indicates the task is temporarily suspended.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task finished unsuccessfully.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusBlocked indicates a dependency failed and the task cannot run.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusAssigned,
		TaskStatusRunning, TaskStatusWaitingDependency, TaskStatusPaused,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled,
		TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status ends the task's lifecycle.
// Failed is terminal but admits a retry edge back to running while
// the task has attempts left.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// taskTransitions lists the permitted status edges. The failed->running
// retry edge is gated separately on the attempt counter.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:           {TaskStatusQueued, TaskStatusAssigned, TaskStatusWaitingDependency, TaskStatusPaused, TaskStatusBlocked, TaskStatusCancelled},
	TaskStatusQueued:            {TaskStatusAssigned, TaskStatusPaused, TaskStatusBlocked, TaskStatusCancelled},
	TaskStatusAssigned:          {TaskStatusRunning, TaskStatusQueued, TaskStatusBlocked, TaskStatusCancelled},
	TaskStatusRunning:           {TaskStatusCompleted, TaskStatusFailed, TaskStatusPaused, TaskStatusCancelled},
	TaskStatusWaitingDependency: {TaskStatusPending, TaskStatusQueued, TaskStatusBlocked, TaskStatusCancelled},
	TaskStatusPaused:            {TaskStatusPending, TaskStatusQueued, TaskStatusRunning, TaskStatusCancelled},
	TaskStatusFailed:            {TaskStatusRunning},
	TaskStatusCompleted:         {},
	TaskStatusCancelled:         {},
	TaskStatusBlocked:           {TaskStatusQueued, TaskStatusCancelled},
}

// TaskPriority orders tasks for scheduling. Higher values run first.
type TaskPriority int

const (
	// PriorityLow is for background work.
	PriorityLow TaskPriority = 1
	// PriorityNormal is the default priority.
	PriorityNormal TaskPriority = 5
	// PriorityHigh is for work that should preempt normal tasks.
	PriorityHigh TaskPriority = 8
	// PriorityCritical is for work that must run as soon as it is ready.
	PriorityCritical TaskPriority = 10
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Name is the short human-readable name of the task.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type categorizes the work and selects the target agent role.
	Type TaskType `json:"type"`
	// TargetRole overrides the role derived from Type when set.
	TargetRole AgentRole `json:"target_role,omitempty"`
	// Priority orders this task against other ready tasks.
	Priority TaskPriority `json:"priority"`
	// Complexity estimates difficulty on a 1-10 scale.
	Complexity int `json:"complexity"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// ParentID is the ID of the parent task, if any.
	ParentID string `json:"parent_id,omitempty"`
	// ProjectID identifies the project this task belongs to.
	ProjectID string `json:"project_id,omitempty"`
	// Context carries free-form input for the executing agent.
	Context map[string]interface{} `json:"context,omitempty"`
	// Requirements lists acceptance requirements for the task.
	Requirements []string `json:"requirements,omitempty"`
	// TimeoutSeconds bounds a single execution attempt.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// MaxAttempts is the number of executions allowed before giving up.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// EstimatedTokens is the planner's token estimate for this task.
	EstimatedTokens int64 `json:"estimated_tokens,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Attempt is the number of executions started so far.
	Attempt int `json:"attempt,omitempty"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task first entered running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the outcome once the task terminates.
	Result *TaskResult `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// Tags carries free-form labels.
	Tags []string `json:"tags,omitempty"`
}

// Role returns the agent role that should execute this task,
// preferring the explicit TargetRole over the type-derived one.
func (t *Task) Role() AgentRole {
	if t.TargetRole != "" {
		return t.TargetRole
	}
	return t.Type.Role()
}

// CanRetry returns true if the task may run again after a failure.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed && t.Attempt < t.MaxAttempts
}

// TransitionTo moves the task to the given status, enforcing the
// permitted edges and maintaining the start/completion timestamps.
func (t *Task) TransitionTo(status TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown task status %q", status)
	}
	if t.Status == status {
		return nil
	}
	if t.Status == TaskStatusFailed && status == TaskStatusRunning {
		if t.Attempt >= t.MaxAttempts {
			return fmt.Errorf("task %s: retries exhausted (%d/%d)", t.ID, t.Attempt, t.MaxAttempts)
		}
	} else if !transitionAllowed(t.Status, status) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.Status, status)
	}

	now := time.Now()
	if status == TaskStatusRunning {
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		t.Attempt++
		t.CompletedAt = nil
	}
	if status.Terminal() {
		t.CompletedAt = &now
	}
	t.Status = status
	return nil
}

func transitionAllowed(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AttachResult records the task outcome. Results are immutable:
// attaching a second result to the same attempt is rejected.
func (t *Task) AttachResult(result *TaskResult) error {
	if t.Result != nil {
		return fmt.Errorf("task %s: result already attached", t.ID)
	}
	t.Result = result
	if !result.Success {
		t.Error = result.Error
	}
	return nil
}

// AssignEnvelope renders the task-assignment payload placed under the
// "task" key of a task-assign message.
func (t *Task) AssignEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"id":              t.ID,
		"name":            t.Name,
		"description":     t.Description,
		"type":            string(t.Type),
		"priority":        int(t.Priority),
		"complexity":      t.Complexity,
		"context":         t.Context,
		"requirements":    t.Requirements,
		"timeout_seconds": t.TimeoutSeconds,
		"attempt_number":  t.Attempt,
		"max_attempts":    t.MaxAttempts,
	}
}

// TaskResult holds the outcome of a task execution.
type TaskResult struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id"`
	// Success reports whether the execution met its requirements.
	Success bool `json:"success"`
	// Output is the free-form output produced by the agent.
	Output string `json:"output,omitempty"`
	// Artifacts lists paths produced or modified by the agent.
	Artifacts []string `json:"artifacts,omitempty"`
	// Error contains the failure reason when Success is false.
	Error string `json:"error,omitempty"`
	// DurationSeconds is the wall-clock execution time.
	DurationSeconds float64 `json:"duration_seconds"`
	// Metrics carries free-form measurement values.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Envelope renders the task-result payload published on completion.
func (r *TaskResult) Envelope() map[string]interface{} {
	env := map[string]interface{}{
		"task_id":          r.TaskID,
		"success":          r.Success,
		"output":           r.Output,
		"artifacts":        r.Artifacts,
		"duration_seconds": r.DurationSeconds,
	}
	if r.Error != "" {
		env["error"] = r.Error
	}
	return env
}
