package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/token"
	"github.com/ShayCichocki/hive/pkg/models"
)

// SubmitGoal decomposes a goal into the graph and opens a run record.
// It returns the tasks that were added.
func (o *Orchestrator) SubmitGoal(ctx context.Context, goal string, taskContext map[string]interface{}) ([]*models.Task, error) {
	o.ensureRun(goal)
	tasks, err := o.DecomposeGoal(ctx, goal, taskContext)
	if err != nil {
		return nil, err
	}
	o.updateRunProgress()
	return tasks, nil
}

// Run drives the orchestration loop until the context is cancelled or
// Shutdown is called: it polls the ready set, dispatches through the
// scheduler, applies budget and context gates, expires overdue tasks,
// and consumes worker results and progress from the broker.
func (o *Orchestrator) Run(ctx context.Context) error {
	resultSub, err := o.bus.Subscribe(ResultsChannel, func(msg *models.Message) {
		select {
		case o.results <- msg:
		default:
			o.logger.Log("[runLoop] result buffer full, dropping message %s", msg.ID)
		}
	})
	if err != nil {
		return fmt.Errorf("run: subscribe results: %w", err)
	}
	defer o.bus.Unsubscribe(resultSub)

	progressSub, err := o.bus.Subscribe(ProgressChannel, o.handleProgress)
	if err != nil {
		return fmt.Errorf("run: subscribe progress: %w", err)
	}
	defer o.bus.Unsubscribe(progressSub)

	o.ensureRun("")
	o.logger.Log("[runLoop] session %s started", o.sessionID)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.finishRun("cancelled")
			return ctx.Err()

		case <-o.stop:
			o.finishRun("stopped")
			o.logger.Log("[runLoop] session %s stopped", o.sessionID)
			return nil

		case msg := <-o.results:
			o.handleResultMessage(msg)
			o.updateRunProgress()

		case <-ticker.C:
			o.expireOverdue()
			if o.isPaused() {
				continue
			}
			o.DispatchCycle()
			o.maybeAnnounceIdle()
		}
	}
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// DispatchCycle runs one scheduling pass: reset the per-cycle caps,
// gate on the project budget, validate each ready task's prompt
// against the model context, and assign through the scheduler. Tasks
// that cannot be assigned this cycle stay eligible for the next.
func (o *Orchestrator) DispatchCycle() int {
	o.sched.ResetCycle()
	if o.metrics != nil {
		o.metrics.SetAgentsRegistered(o.registry.Count())
	}

	if o.budget != nil {
		usage := o.budget.ProjectUsage()
		if usage.Exceeded() {
			o.logger.Log("[dispatch] project budget exhausted (%d tokens), skipping cycle", usage.Used.Total())
			return 0
		}
	}

	dispatched := 0
	for _, task := range o.NextReady() {
		o.enrichTaskContext(task)
		if !o.validateContext(task) {
			continue
		}

		agentID, err := o.sched.Assign(task)
		if err != nil {
			switch {
			case errors.Is(err, scheduler.ErrNoAgentAvailable):
				o.logger.Log("[dispatch] task %s: %v", task.ID, err)
			case errors.Is(err, scheduler.ErrDeliveryFailed):
				o.logger.Log("[dispatch] task %s: delivery failed, will retry next cycle", task.ID)
			default:
				o.logger.Log("[dispatch] task %s: %v", task.ID, err)
			}
			continue
		}

		dispatched++
		o.trackDeadline(task)
		if o.metrics != nil {
			o.metrics.TaskStarted()
		}
		o.appendTaskEvent(task.ID, agentID, state.EventAssigned, "")
		o.emit(Event{Type: EventTaskAssigned, TaskID: task.ID, TaskName: task.Name, AgentID: agentID})
	}
	return dispatched
}

// validateContext rejects a task whose rendered prompt cannot fit the
// model window even after truncation. Such a task fails immediately
// with a context overflow error instead of burning an agent attempt.
func (o *Orchestrator) validateContext(task *models.Task) bool {
	if o.validator == nil {
		return true
	}
	msgs := promptMessages(task)
	if o.validator.Fits(o.modelName, msgs, 0) {
		return true
	}
	if _, err := o.validator.Truncate(o.modelName, msgs, 0, true); err == nil {
		// The worker prompt builder truncates the same way.
		return true
	}
	o.logger.Log("[dispatch] task %s: prompt exceeds %s context window", task.ID, o.modelName)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failTaskLocked(task, token.ErrContextOverflow.Error())
	return false
}

// promptMessages renders the chat view of a task the way the worker
// prompt builder does, for size validation only.
func promptMessages(task *models.Task) []models.ChatMessage {
	msgs := []models.ChatMessage{
		{Role: models.ChatRoleSystem, Content: "You are a " + string(task.Role()) + " agent."},
		{Role: models.ChatRoleUser, Content: task.Name + "\n\n" + task.Description},
	}
	for _, req := range task.Requirements {
		msgs = append(msgs, models.ChatMessage{Role: models.ChatRoleUser, Content: req})
	}
	for _, v := range task.Context {
		if s, ok := v.(string); ok {
			msgs = append(msgs, models.ChatMessage{Role: models.ChatRoleUser, Content: s})
		}
	}
	return msgs
}

// failTaskLocked force-fails a task that never reached an agent.
func (o *Orchestrator) failTaskLocked(task *models.Task, reason string) {
	result := &models.TaskResult{TaskID: task.ID, Success: false, Error: reason}
	// Walk the task through assignment so the failure transition is legal.
	if task.Status == models.TaskStatusPending || task.Status == models.TaskStatusQueued {
		if err := task.TransitionTo(models.TaskStatusAssigned); err != nil {
			o.logger.Log("[dispatch] task %s: %v", task.ID, err)
			return
		}
	}
	if err := o.markCompleteLocked(task.ID, result); err != nil {
		o.logger.Log("[dispatch] fail task %s: %v", task.ID, err)
	}
}

// trackDeadline records the execution deadline for a dispatched task.
func (o *Orchestrator) trackDeadline(task *models.Task) {
	if task.TimeoutSeconds <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deadlines[task.ID] = time.Now().Add(time.Duration(task.TimeoutSeconds) * time.Second)
}

// expireOverdue fails every task past its execution deadline with a
// "timeout" error and sends a cancellation to its worker.
func (o *Orchestrator) expireOverdue() {
	now := time.Now()

	o.mu.Lock()
	var overdue []*models.Task
	for id, deadline := range o.deadlines {
		if now.Before(deadline) {
			continue
		}
		if task := o.graph.Get(id); task != nil {
			overdue = append(overdue, task)
		}
		delete(o.deadlines, id)
	}

	for _, task := range overdue {
		agentID := task.AssignedTo
		if err := o.markCompleteLocked(task.ID, &models.TaskResult{
			TaskID: task.ID, Success: false, Error: "timeout",
		}); err != nil {
			o.logger.Log("[timeout] task %s: %v", task.ID, err)
			continue
		}
		o.logger.Log("[timeout] task %s timed out on agent %s", task.ID, agentID)
		if agentID != "" {
			o.cancelWorker(agentID, task.ID)
		}
	}
	o.mu.Unlock()
}

// cancelWorker tells an agent to abandon a task.
func (o *Orchestrator) cancelWorker(agentID, taskID string) {
	if _, err := o.bus.SendDirect(agentID, &models.Message{
		Type:     models.MessageSystem,
		Sender:   "orchestrator",
		Payload:  map[string]interface{}{"cancel_task_id": taskID},
		Priority: models.MessagePriorityUrgent,
	}); err != nil {
		o.logger.Log("[timeout] cancel to %s: %v", agentID, err)
	}
}

// handleResultMessage decodes a worker result envelope and applies it.
func (o *Orchestrator) handleResultMessage(msg *models.Message) {
	result, err := decodeResultEnvelope(msg.Payload)
	if err != nil {
		o.logger.Log("[runLoop] undecodable result from %s: %v", msg.Sender, err)
		return
	}
	if err := o.MarkComplete(result.TaskID, result); err != nil {
		o.logger.Log("[runLoop] result for %s: %v", result.TaskID, err)
		return
	}

	if result.Success && len(result.Artifacts) > 0 && o.merger != nil {
		o.mergeTaskBranch(result)
	}
}

// mergeTaskBranch lands an artifact-bearing result's branch into the
// target. Merge failures are logged and tracked; they do not stop the
// run loop.
func (o *Orchestrator) mergeTaskBranch(result *models.TaskResult) {
	task := o.graph.Get(result.TaskID)
	if task == nil {
		return
	}
	branch := taskBranch(task)
	if _, err := o.CoordinateMerge(branch, ""); err != nil {
		o.logger.Log("[merge] task %s branch %s: %v", result.TaskID, branch, err)
		return
	}
	o.cleanupTaskBranch(branch)
}

// cleanupTaskBranch removes the worktree and branch left behind by a
// merged task. Best-effort; stale worktrees are swept by `hive cleanup`.
func (o *Orchestrator) cleanupTaskBranch(branch string) {
	if o.worktrees != nil {
		path := o.worktrees.PathFor(branch)
		if err := o.worktrees.Remove(path, true); err != nil {
			o.logger.Log("[merge] remove worktree %s: %v", path, err)
		}
	}
	if err := o.merger.DeleteBranch(branch); err != nil {
		o.logger.Log("[merge] delete branch %s: %v", branch, err)
	}
}

// taskBranch is the branch naming convention workers use.
func taskBranch(task *models.Task) string {
	return "task/" + task.ID
}

// handleProgress applies task-progress and agent-status traffic:
// started notifications transition the task to running, and every
// progress message refreshes the agent's heartbeat.
func (o *Orchestrator) handleProgress(msg *models.Message) {
	taskID, _ := msg.Payload["task_id"].(string)
	agentID, _ := msg.Payload["agent_id"].(string)
	status, _ := msg.Payload["status"].(string)
	if agentID == "" {
		agentID = msg.Sender
	}

	if o.health != nil && agentID != "" {
		o.health.Beat(agentID, taskID, status)
	}

	if msg.Type != models.MessageTaskProgress || status != "started" || taskID == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	task := o.graph.Get(taskID)
	if task == nil || task.Status != models.TaskStatusAssigned {
		return
	}
	if err := task.TransitionTo(models.TaskStatusRunning); err != nil {
		o.logger.Log("[runLoop] task %s start: %v", taskID, err)
		return
	}
	o.emit(Event{Type: EventTaskStarted, TaskID: taskID, TaskName: task.Name, AgentID: agentID})
}

// maybeAnnounceIdle emits a run-done event once when every task in a
// non-empty graph is terminal or blocked.
func (o *Orchestrator) maybeAnnounceIdle() {
	o.mu.Lock()
	defer o.mu.Unlock()

	tasks := o.graph.Tasks()
	if len(tasks) == 0 {
		return
	}
	for _, task := range tasks {
		if !task.Status.Terminal() && task.Status != models.TaskStatusBlocked {
			return
		}
	}
	if o.runDone {
		return
	}
	o.runDone = true
	o.emit(Event{Type: EventRunDone, Message: fmt.Sprintf("%d tasks finished", len(tasks))})
	o.logger.Log("[runLoop] all %d tasks terminal", len(tasks))
}

// decodeResultEnvelope parses the §task-result payload shape.
func decodeResultEnvelope(payload map[string]interface{}) (*models.TaskResult, error) {
	taskID, _ := payload["task_id"].(string)
	if taskID == "" {
		return nil, fmt.Errorf("result envelope missing task_id")
	}
	success, _ := payload["success"].(bool)
	output, _ := payload["output"].(string)
	errStr, _ := payload["error"].(string)

	var artifacts []string
	switch v := payload["artifacts"].(type) {
	case []string:
		artifacts = v
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok {
				artifacts = append(artifacts, s)
			}
		}
	}

	duration, _ := payload["duration_seconds"].(float64)

	return &models.TaskResult{
		TaskID:          taskID,
		Success:         success,
		Output:          output,
		Artifacts:       artifacts,
		Error:           errStr,
		DurationSeconds: duration,
	}, nil
}
