package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/broker"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/internal/worktree"
	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultMaxConcurrent     = 1
	inboxBuffer              = 32
)

// ErrWorkerBusy indicates the worker is at its concurrency cap; the
// assignment is refused with a failed result so the task re-queues.
var ErrWorkerBusy = errors.New("worker at concurrency cap")

// Worker is the agent-side half of the task protocol. It subscribes to
// its inbox, decodes assignments, allocates a worktree per task,
// delegates the work to an Executor, and publishes progress and result
// envelopes back to the orchestrator.
type Worker struct {
	id   string
	name string
	role models.AgentRole

	bus  *broker.Broker
	reg  *registry.Registry
	exec Executor

	worktrees  *worktree.Manager
	baseBranch string

	heartbeatInterval time.Duration
	maxConcurrent     int
	debugLog          func(format string, args ...interface{})

	mu      sync.Mutex
	running map[string]context.CancelFunc // task id -> execution cancel
	wg      sync.WaitGroup
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorktrees gives each task an isolated checkout branched from
// baseBranch. Without it tasks execute with an empty workdir.
func WithWorktrees(m *worktree.Manager, baseBranch string) WorkerOption {
	return func(w *Worker) {
		w.worktrees = m
		w.baseBranch = baseBranch
	}
}

// WithHeartbeatInterval overrides the heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.heartbeatInterval = d
		}
	}
}

// WithMaxConcurrent sets how many tasks may execute at once.
func WithMaxConcurrent(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxConcurrent = n
		}
	}
}

// WithWorkerName sets the human-readable name in the registry record.
func WithWorkerName(name string) WorkerOption {
	return func(w *Worker) { w.name = name }
}

// WithWorkerDebugLog sets the debug sink.
func WithWorkerDebugLog(fn func(format string, args ...interface{})) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.debugLog = fn
		}
	}
}

// NewWorker creates a worker for one role. An empty id gets a
// generated one.
func NewWorker(id string, role models.AgentRole, bus *broker.Broker, reg *registry.Registry, exec Executor, opts ...WorkerOption) *Worker {
	if id == "" {
		id = fmt.Sprintf("%s-%s", role, uuid.New().String()[:8])
	}
	w := &Worker{
		id:                id,
		name:              id,
		role:              role,
		bus:               bus,
		reg:               reg,
		exec:              exec,
		heartbeatInterval: defaultHeartbeatInterval,
		maxConcurrent:     defaultMaxConcurrent,
		debugLog:          func(string, ...interface{}) {},
		running:           make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's agent id.
func (w *Worker) ID() string {
	return w.id
}

// Run registers the worker, consumes its inbox, and blocks until the
// context is cancelled. In-flight executions are cancelled and waited
// for on the way out.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.reg.Register(&models.AgentRecord{
		ID:        w.id,
		Role:      w.role,
		Name:      w.name,
		Available: true,
	}); err != nil {
		return fmt.Errorf("worker %s: %w", w.id, err)
	}
	defer w.reg.Unregister(w.id)

	inbox := make(chan *models.Message, inboxBuffer)
	subID, err := w.bus.Subscribe(models.AgentChannel(w.id), func(msg *models.Message) {
		select {
		case inbox <- msg:
		default:
			w.debugLog("[worker %s] inbox full, dropping message %s", w.id, msg.ID)
		}
	})
	if err != nil {
		return fmt.Errorf("worker %s: subscribe inbox: %w", w.id, err)
	}
	defer w.bus.Unsubscribe(subID)

	heartbeat := time.NewTicker(w.heartbeatInterval)
	defer heartbeat.Stop()
	w.debugLog("[worker %s] running as %s", w.id, w.role)

	for {
		select {
		case <-ctx.Done():
			w.cancelAll()
			w.wg.Wait()
			return ctx.Err()
		case <-heartbeat.C:
			w.publishHeartbeat()
		case msg := <-inbox:
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *models.Message) {
	switch msg.Type {
	case models.MessageTaskAssign:
		task, err := decodeAssignEnvelope(msg.Payload)
		if err != nil {
			w.debugLog("[worker %s] bad assignment from %s: %v", w.id, msg.Sender, err)
			return
		}
		w.startTask(ctx, task)
	case models.MessageSystem:
		if taskID, _ := msg.Payload["cancel_task_id"].(string); taskID != "" {
			w.cancelTask(taskID)
		}
	default:
		w.debugLog("[worker %s] ignoring %s message from %s", w.id, msg.Type, msg.Sender)
	}
}

// startTask launches one execution. Assignments beyond the concurrency
// cap are refused with a failed result so the orchestrator re-queues.
func (w *Worker) startTask(ctx context.Context, task *models.Task) {
	w.mu.Lock()
	if len(w.running) >= w.maxConcurrent {
		w.mu.Unlock()
		w.debugLog("[worker %s] refusing task %s: %v", w.id, task.ID, ErrWorkerBusy)
		w.publishResult(&models.TaskResult{TaskID: task.ID, Success: false, Error: ErrWorkerBusy.Error()})
		return
	}

	execCtx, cancel := context.WithCancel(ctx)
	if task.TimeoutSeconds > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSeconds)*time.Second)
	}
	w.running[task.ID] = cancel
	atCap := len(w.running) >= w.maxConcurrent
	w.mu.Unlock()

	if atCap {
		w.reg.SetAvailable(w.id, false)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		w.publishProgress(task.ID, "started")
		result := w.execute(execCtx, task)

		w.mu.Lock()
		delete(w.running, task.ID)
		belowCap := len(w.running) < w.maxConcurrent
		w.mu.Unlock()
		if belowCap {
			w.reg.SetAvailable(w.id, true)
		}
		w.publishResult(result)
	}()
}

// execute allocates the checkout, runs the executor, and categorizes
// failures. Timeouts and cancellations become failed results rather
// than dropped tasks.
func (w *Worker) execute(ctx context.Context, task *models.Task) *models.TaskResult {
	start := time.Now()
	fail := func(reason string) *models.TaskResult {
		return &models.TaskResult{
			TaskID:          task.ID,
			Success:         false,
			Error:           reason,
			DurationSeconds: time.Since(start).Seconds(),
		}
	}

	var workdir string
	if w.worktrees != nil {
		wt, err := w.worktrees.Create("task/"+task.ID, w.id, w.baseBranch)
		if err != nil {
			return fail(fmt.Sprintf("worktree: %v", err))
		}
		workdir = wt.Path
	}

	result, err := w.exec.Execute(ctx, task, workdir)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fail("timeout")
		case errors.Is(err, context.Canceled):
			return fail("cancelled")
		default:
			return fail(err.Error())
		}
	}
	if result == nil {
		return fail("executor returned no result")
	}
	result.TaskID = task.ID
	if result.DurationSeconds == 0 {
		result.DurationSeconds = time.Since(start).Seconds()
	}
	return result
}

func (w *Worker) cancelTask(taskID string) {
	w.mu.Lock()
	cancel, ok := w.running[taskID]
	w.mu.Unlock()
	if ok {
		w.debugLog("[worker %s] cancelling task %s", w.id, taskID)
		cancel()
	}
}

func (w *Worker) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cancel := range w.running {
		cancel()
	}
}

func (w *Worker) publishProgress(taskID, status string) {
	if _, err := w.bus.Publish(&models.Message{
		Type:    models.MessageTaskProgress,
		Sender:  w.id,
		Channel: orchestrator.ProgressChannel,
		Payload: map[string]interface{}{
			"task_id":  taskID,
			"agent_id": w.id,
			"status":   status,
		},
		Priority: models.MessagePriorityNormal,
	}); err != nil {
		w.debugLog("[worker %s] progress publish: %v", w.id, err)
	}
}

func (w *Worker) publishHeartbeat() {
	w.mu.Lock()
	status := "idle"
	taskID := ""
	for id := range w.running {
		status = "working"
		taskID = id
		break
	}
	w.mu.Unlock()

	if _, err := w.bus.Publish(&models.Message{
		Type:    models.MessageAgentStatus,
		Sender:  w.id,
		Channel: orchestrator.ProgressChannel,
		Payload: map[string]interface{}{
			"agent_id": w.id,
			"task_id":  taskID,
			"status":   status,
		},
		Priority: models.MessagePriorityLow,
	}); err != nil {
		w.debugLog("[worker %s] heartbeat publish: %v", w.id, err)
	}
}

func (w *Worker) publishResult(result *models.TaskResult) {
	if _, err := w.bus.Publish(&models.Message{
		Type:     models.MessageTaskResult,
		Sender:   w.id,
		Channel:  orchestrator.ResultsChannel,
		Payload:  result.Envelope(),
		Priority: models.MessagePriorityHigh,
	}); err != nil {
		w.debugLog("[worker %s] result publish: %v", w.id, err)
	}
}
