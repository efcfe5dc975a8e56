package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/broker"
	"github.com/ShayCichocki/hive/internal/budget"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/health"
	"github.com/ShayCichocki/hive/internal/memory"
	"github.com/ShayCichocki/hive/internal/merge"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/token"
	"github.com/ShayCichocki/hive/internal/worktree"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ResultsChannel is the broker channel workers publish task results on.
const ResultsChannel = "results"

// ProgressChannel is the broker channel workers publish progress and
// heartbeat traffic on.
const ProgressChannel = "progress"

// ErrUnknownTask mirrors the graph sentinel for callers that only
// import this package.
var ErrUnknownTask = graph.ErrUnknownTask

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 3
	defaultTaskTimeout  = 900
	eventBuffer         = 256
)

// Orchestrator owns the task graph and coordinates decomposition,
// dispatch, completion handling, merging, and memory writes. All of
// its collaborators are explicit fields; there are no package-level
// singletons.
type Orchestrator struct {
	projectID string
	sessionID string

	graph    *graph.TaskGraph
	registry *registry.Registry
	sched    *scheduler.Scheduler
	bus      *broker.Broker

	planner   Planner
	budget    *budget.Manager
	validator *token.Validator
	modelName string
	memory    *memory.Store
	patterns  *memory.PatternLibrary
	worktrees *worktree.Manager
	merger    *merge.Handler
	health    *health.Monitor
	db        *state.DB
	metrics   *metrics.Metrics
	logger    *DebugLogger

	pollInterval       time.Duration
	defaultMaxAttempts int
	defaultTaskTimeout int

	// mu is the scheduling lock: it serializes graph mutations,
	// completion handling, and the failure bookkeeping below.
	mu        sync.Mutex
	failed    map[string]string    // task id -> error string
	deadlines map[string]time.Time // task id -> execution deadline
	paused    bool
	runDone   bool
	runOpen   atomic.Bool

	events  chan Event
	results chan *models.Message
	stop    chan struct{}
	stopped sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlanner sets the decomposition collaborator.
func WithPlanner(p Planner) Option {
	return func(o *Orchestrator) { o.planner = p }
}

// WithScheduler replaces the default scheduler.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *Orchestrator) { o.sched = s }
}

// WithBudget sets the token budget manager consulted before dispatch.
func WithBudget(m *budget.Manager) Option {
	return func(o *Orchestrator) { o.budget = m }
}

// WithValidator sets the context-window validator and the model name
// prompts are validated against.
func WithValidator(v *token.Validator, modelName string) Option {
	return func(o *Orchestrator) {
		o.validator = v
		o.modelName = modelName
	}
}

// WithMemory sets the hierarchical memory store for episodic records
// and reflections.
func WithMemory(s *memory.Store) Option {
	return func(o *Orchestrator) { o.memory = s }
}

// WithPatterns sets the cross-project pattern library.
func WithPatterns(pl *memory.PatternLibrary) Option {
	return func(o *Orchestrator) { o.patterns = pl }
}

// WithWorktrees sets the worktree manager for per-agent checkouts.
func WithWorktrees(m *worktree.Manager) Option {
	return func(o *Orchestrator) { o.worktrees = m }
}

// WithMergeHandler sets the merge handler for landing agent branches.
func WithMergeHandler(h *merge.Handler) Option {
	return func(o *Orchestrator) { o.merger = h }
}

// WithHealthMonitor wires heartbeat forwarding to the monitor.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(o *Orchestrator) { o.health = m }
}

// WithStateDB persists run history and task events.
func WithStateDB(db *state.DB) Option {
	return func(o *Orchestrator) { o.db = db }
}

// WithMetrics publishes counters and gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPollInterval overrides the run loop's scheduling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithTaskDefaults sets the timeout (seconds) and max attempts stamped
// onto decomposed tasks.
func WithTaskDefaults(timeoutSeconds, maxAttempts int) Option {
	return func(o *Orchestrator) {
		if timeoutSeconds > 0 {
			o.defaultTaskTimeout = timeoutSeconds
		}
		if maxAttempts > 0 {
			o.defaultMaxAttempts = maxAttempts
		}
	}
}

// New creates an orchestrator for one project over the given broker
// and registry.
func New(projectID string, bus *broker.Broker, reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		projectID:          projectID,
		sessionID:          uuid.New().String()[:8],
		graph:              graph.New(),
		registry:           reg,
		bus:                bus,
		logger:             NopLogger(),
		pollInterval:       defaultPollInterval,
		defaultMaxAttempts: defaultMaxAttempts,
		defaultTaskTimeout: defaultTaskTimeout,
		failed:             make(map[string]string),
		deadlines:          make(map[string]time.Time),
		events:             make(chan Event, eventBuffer),
		results:            make(chan *models.Message, eventBuffer),
		stop:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sched == nil {
		o.sched = scheduler.New(reg, bus, scheduler.WithDebugLog(o.logger.Log))
	}
	o.graph.SetDebugLog(o.logger.Log)
	return o
}

// SessionID returns the short id of this orchestrator session.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Graph exposes the task graph for read-mostly consumers (server,
// dashboard). Mutations stay inside this package.
func (o *Orchestrator) Graph() *graph.TaskGraph {
	return o.graph
}

// Registry returns the agent registry this orchestrator schedules from.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// DecomposeGoal calls the planner with a structured prompt, parses the
// reply, and adds every parsed task to the graph. Per-task parse
// errors skip the offending task; an add that would close a cycle is
// rejected without mutating the graph. A planner failure yields an
// empty task list and an error.
func (o *Orchestrator) DecomposeGoal(ctx context.Context, goal string, taskContext map[string]interface{}) ([]*models.Task, error) {
	if o.planner == nil {
		return nil, fmt.Errorf("decompose goal: no planner configured")
	}

	reply, err := o.planner.Plan(ctx, buildDecompositionPrompt(goal, taskContext))
	if err != nil {
		return nil, fmt.Errorf("decompose goal: %w", err)
	}

	tasks, err := o.parsePlannedTasks(reply)
	if err != nil {
		return nil, fmt.Errorf("decompose goal: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var added []*models.Task
	for _, task := range tasks {
		if err := o.graph.Add(task); err != nil {
			o.logger.Log("[decompose] rejected task %q: %v", task.Name, err)
			continue
		}
		added = append(added, task)
		o.appendTaskEvent(task.ID, "", "queued", task.Name)
	}
	if len(added) > 0 {
		o.emit(Event{
			Type:    EventGoalDecomposed,
			Message: fmt.Sprintf("%d tasks from goal: %s", len(added), firstLine(goal)),
		})
	}
	o.logger.Log("[decompose] goal produced %d tasks (%d parsed)", len(added), len(tasks))
	return added, nil
}

// AddTask inserts a manually constructed task into the graph.
func (o *Orchestrator) AddTask(task *models.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.MaxAttempts == 0 {
		task.MaxAttempts = o.defaultMaxAttempts
	}
	return o.graph.Add(task)
}

// NextReady returns the tasks whose dependencies are all complete,
// ordered by priority descending then creation time ascending.
func (o *Orchestrator) NextReady() []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.graph.Ready()
}

// MarkComplete transitions a task to its terminal state, records the
// result, and updates the per-agent scoring counters. Failed tasks
// with attempts left are re-queued; permanently failed tasks block
// their transitive dependents.
func (o *Orchestrator) MarkComplete(taskID string, result *models.TaskResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.markCompleteLocked(taskID, result)
}

func (o *Orchestrator) markCompleteLocked(taskID string, result *models.TaskResult) error {
	task := o.graph.Get(taskID)
	if task == nil {
		return fmt.Errorf("mark complete: %w: %s", ErrUnknownTask, taskID)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("mark complete: task %s already terminal (%s)", taskID, task.Status)
	}
	delete(o.deadlines, taskID)

	// Results can arrive before the worker's started notification.
	if task.Status == models.TaskStatusAssigned {
		if err := task.TransitionTo(models.TaskStatusRunning); err != nil {
			return fmt.Errorf("mark complete: %w", err)
		}
	}

	agentID := task.AssignedTo
	if result.Success {
		if err := task.TransitionTo(models.TaskStatusCompleted); err != nil {
			return fmt.Errorf("mark complete: %w", err)
		}
		if err := task.AttachResult(result); err != nil {
			o.logger.Log("[complete] task %s: %v", taskID, err)
		}
		o.graph.MarkComplete(taskID)
		delete(o.failed, taskID)
		o.sched.OnTaskTerminal(agentID, true)
		if o.metrics != nil {
			o.metrics.TaskCompleted()
		}
		o.appendTaskEvent(taskID, agentID, "completed", "")
		o.emit(Event{Type: EventTaskCompleted, TaskID: taskID, TaskName: task.Name, AgentID: agentID})
		o.recordOutcomeMemory(task, result)
		return nil
	}

	if err := task.TransitionTo(models.TaskStatusFailed); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	o.failed[taskID] = result.Error
	o.sched.OnTaskTerminal(agentID, false)
	if o.metrics != nil {
		o.metrics.TaskFailed()
	}
	o.appendTaskEvent(taskID, agentID, "failed", result.Error)
	o.recordOutcomeMemory(task, result)

	if task.CanRetry() {
		o.requeueLocked(task)
		o.appendTaskEvent(taskID, "", "retried", fmt.Sprintf("attempt %d of %d", task.Attempt+1, task.MaxAttempts))
		o.emit(Event{
			Type: EventTaskRetried, TaskID: taskID, TaskName: task.Name,
			Message: fmt.Sprintf("retrying, attempt %d of %d", task.Attempt+1, task.MaxAttempts),
			Error:   result.Error,
		})
		return nil
	}

	// Attach the final failure only; retried attempts keep the slot
	// free for the next result.
	if err := task.AttachResult(result); err != nil {
		o.logger.Log("[complete] task %s: %v", taskID, err)
	}
	o.emit(Event{Type: EventTaskFailed, TaskID: taskID, TaskName: task.Name, AgentID: agentID, Error: result.Error})
	o.blockDependentsLocked(taskID)
	return nil
}

// requeueLocked puts a retriable failed task back into the dispatch
// queue. The failed->running retry edge re-enters through assignment,
// so the terminal bookkeeping is cleared and the status is reset
// directly; the attempt counter advances on the next running
// transition.
func (o *Orchestrator) requeueLocked(task *models.Task) {
	task.Status = models.TaskStatusQueued
	task.CompletedAt = nil
	task.Result = nil
	task.Error = ""
	task.AssignedTo = ""
}

// blockDependentsLocked marks every transitive dependent of a
// permanently failed task as blocked.
func (o *Orchestrator) blockDependentsLocked(taskID string) {
	queue := o.graph.Dependents(taskID)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		dep := o.graph.Get(id)
		if dep == nil || dep.Status.Terminal() || dep.Status == models.TaskStatusBlocked {
			continue
		}
		if err := dep.TransitionTo(models.TaskStatusBlocked); err != nil {
			o.logger.Log("[block] task %s: %v", id, err)
			continue
		}
		o.appendTaskEvent(id, "", "blocked", fmt.Sprintf("dependency %s failed", taskID))
		o.emit(Event{Type: EventTaskBlocked, TaskID: id, TaskName: dep.Name,
			Message: fmt.Sprintf("dependency %s failed", taskID)})
		queue = append(queue, o.graph.Dependents(id)...)
	}
}

// recordOutcomeMemory stores an episodic record of the attempt and,
// for failures, a reflection seed. Memory writes are best-effort.
func (o *Orchestrator) recordOutcomeMemory(task *models.Task, result *models.TaskResult) {
	if o.memory == nil {
		return
	}
	outcome := "succeeded"
	if !result.Success {
		outcome = "failed: " + result.Error
	}
	content := fmt.Sprintf("task %q (%s) attempt %d %s", task.Name, task.Type, task.Attempt, outcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.memory.Save(ctx, content, models.MemoryEpisodic, map[string]string{
		"task_id":  task.ID,
		"agent_id": task.AssignedTo,
	}, []string{"task-outcome", string(task.Type)}); err != nil {
		o.logger.Log("[memory] episodic record for %s: %v", task.ID, err)
	}
	if !result.Success {
		if err := o.memory.RecordReflection(ctx, &models.Reflection{
			TaskID:   task.ID,
			AgentID:  task.AssignedTo,
			Attempt:  task.Attempt,
			Critique: result.Error,
		}); err != nil {
			o.logger.Log("[memory] reflection for %s: %v", task.ID, err)
		}
	}
}

// MergeReport summarizes one coordinated merge.
type MergeReport struct {
	// ConflictsFound counts files git reported as conflicted.
	ConflictsFound int `json:"conflicts_found"`
	// Resolved counts files whose conflicts were auto-resolved.
	Resolved int `json:"resolved"`
	// Unresolved lists files still conflicted; the merge was aborted.
	Unresolved []string `json:"unresolved,omitempty"`
	// Commit is the landed merge commit, empty when the merge failed.
	Commit string `json:"commit,omitempty"`
}

// CoordinateMerge merges sourceBranch into targetBranch through the
// merge handler, attempting automated resolution for every reported
// conflict. On failure the target branch is left untouched.
func (o *Orchestrator) CoordinateMerge(sourceBranch, targetBranch string) (*MergeReport, error) {
	if o.merger == nil {
		return nil, fmt.Errorf("coordinate merge: no merge handler configured")
	}
	handler := o.merger
	if targetBranch != "" && targetBranch != handler.TargetBranch() {
		return nil, fmt.Errorf("coordinate merge: handler targets %s, not %s", handler.TargetBranch(), targetBranch)
	}

	o.emit(Event{Type: EventMergeStarted, Message: fmt.Sprintf("%s -> %s", sourceBranch, handler.TargetBranch())})
	res, err := handler.Merge(sourceBranch)
	report := &MergeReport{}
	if res != nil {
		report.ConflictsFound = res.ConflictsFound
		report.Resolved = res.Resolved
		report.Unresolved = res.ConflictFiles
		report.Commit = res.Commit
	}
	if err != nil {
		var conflict *merge.ConflictError
		if errors.As(err, &conflict) {
			report.Unresolved = conflict.Files
		}
		o.emit(Event{Type: EventMergeCompleted, Error: err.Error(),
			Message: fmt.Sprintf("%s -> %s failed", sourceBranch, handler.TargetBranch())})
		return report, fmt.Errorf("coordinate merge: %w", err)
	}
	o.emit(Event{Type: EventMergeCompleted,
		Message: fmt.Sprintf("%s -> %s: %d conflicts, %d resolved", sourceBranch, handler.TargetBranch(), report.ConflictsFound, report.Resolved)})
	return report, nil
}

// ProjectStatus is the aggregate view of the run.
type ProjectStatus struct {
	ProjectID  string            `json:"project_id"`
	SessionID  string            `json:"session_id"`
	TotalTasks int               `json:"total_tasks"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	Pending    int               `json:"pending"`
	Queued     int               `json:"queued"`
	Assigned   int               `json:"assigned"`
	Running    int               `json:"running"`
	Blocked    int               `json:"blocked"`
	Cancelled  int               `json:"cancelled"`
	Agents     int               `json:"agents"`
	Paused     bool              `json:"paused"`
	Tokens     models.TokenUsage `json:"tokens"`
}

// Status returns aggregate counts by task status plus agent and token
// totals.
func (o *Orchestrator) Status() ProjectStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := ProjectStatus{
		ProjectID: o.projectID,
		SessionID: o.sessionID,
		Agents:    o.registry.Count(),
		Paused:    o.paused,
	}
	for _, task := range o.graph.Tasks() {
		st.TotalTasks++
		switch task.Status {
		case models.TaskStatusCompleted:
			st.Completed++
		case models.TaskStatusFailed:
			st.Failed++
		case models.TaskStatusPending, models.TaskStatusWaitingDependency, models.TaskStatusPaused:
			st.Pending++
		case models.TaskStatusQueued:
			st.Queued++
		case models.TaskStatusAssigned:
			st.Assigned++
		case models.TaskStatusRunning:
			st.Running++
		case models.TaskStatusBlocked:
			st.Blocked++
		case models.TaskStatusCancelled:
			st.Cancelled++
		}
	}
	if o.budget != nil {
		st.Tokens = o.budget.TotalUsage()
	}
	return st
}

// TaskSummary is the read-only task view served over the API.
type TaskSummary struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        models.TaskType     `json:"type"`
	Status      models.TaskStatus   `json:"status"`
	Priority    models.TaskPriority `json:"priority"`
	AssignedTo  string              `json:"assigned_to,omitempty"`
	Attempt     int                 `json:"attempt"`
	MaxAttempts int                 `json:"max_attempts"`
	DependsOn   []string            `json:"depends_on,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// TaskSummaries snapshots every task under the scheduling lock.
func (o *Orchestrator) TaskSummaries() []TaskSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	tasks := o.graph.Tasks()
	out := make([]TaskSummary, 0, len(tasks))
	for _, task := range tasks {
		s := TaskSummary{
			ID:          task.ID,
			Name:        task.Name,
			Type:        task.Type,
			Status:      task.Status,
			Priority:    task.Priority,
			AssignedTo:  task.AssignedTo,
			Attempt:     task.Attempt,
			MaxAttempts: task.MaxAttempts,
			DependsOn:   append([]string(nil), task.DependsOn...),
			CreatedAt:   task.CreatedAt,
			CompletedAt: task.CompletedAt,
		}
		if task.Result != nil {
			s.Error = task.Result.Error
		} else if err, ok := o.failed[task.ID]; ok {
			s.Error = err
		}
		out = append(out, s)
	}
	return out
}

// Pause suspends dispatch. In-flight tasks run to completion.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	o.logger.Log("[orchestrator] paused")
}

// Resume re-enables dispatch.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.logger.Log("[orchestrator] resumed")
}

// Shutdown stops the run loop after the current iteration. Safe to
// call more than once.
func (o *Orchestrator) Shutdown() {
	o.stopped.Do(func() { close(o.stop) })
}

// appendTaskEvent persists one task transition, best-effort.
func (o *Orchestrator) appendTaskEvent(taskID, agentID, event, detail string) {
	if o.db == nil || !o.runOpen.Load() {
		return
	}
	if err := o.db.AppendTaskEvent(&state.TaskEvent{
		RunID:   o.sessionID,
		TaskID:  taskID,
		AgentID: agentID,
		Event:   event,
		Detail:  detail,
	}); err != nil {
		o.logger.Log("[state] append %s event for %s: %v", event, taskID, err)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
