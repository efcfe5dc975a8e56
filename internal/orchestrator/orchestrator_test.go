package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/broker"
	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/pkg/models"
)

// stubPlanner returns a canned decomposition reply.
type stubPlanner struct {
	reply string
	err   error
}

func (s *stubPlanner) Plan(_ context.Context, _ string) (string, error) {
	return s.reply, s.err
}

const plannedPair = `Here is the breakdown:
[
  {"name": "Design schema", "description": "Design the data model", "type": "design", "priority": 8, "complexity": 3, "depends_on": [], "requirements": ["ER diagram"]},
  {"name": "Implement API", "description": "Build the endpoints", "type": "write-code", "priority": 5, "complexity": 5, "depends_on": ["Design schema"], "requirements": []}
]`

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *broker.Broker, *registry.Registry) {
	t.Helper()
	bus := broker.New()
	t.Cleanup(bus.Stop)
	reg := registry.New()
	o := New("proj-1", bus, reg, opts...)
	return o, bus, reg
}

// registerWorker registers an available agent and subscribes its inbox
// so scheduler deliveries count. Assignment messages land on the
// returned channel.
func registerWorker(t *testing.T, bus *broker.Broker, reg *registry.Registry, id string, role models.AgentRole) <-chan *models.Message {
	t.Helper()
	inbox := make(chan *models.Message, 8)
	if _, err := bus.Subscribe(models.AgentChannel(id), func(msg *models.Message) {
		inbox <- msg
	}); err != nil {
		t.Fatalf("subscribe inbox: %v", err)
	}
	if err := reg.Register(&models.AgentRecord{ID: id, Role: role, Available: true}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	return inbox
}

func queuedTask(id string, deps ...string) *models.Task {
	return &models.Task{
		ID:          id,
		Name:        id,
		Type:        models.TaskTypeWriteCode,
		Status:      models.TaskStatusQueued,
		Priority:    models.PriorityNormal,
		MaxAttempts: 1,
		DependsOn:   deps,
		CreatedAt:   time.Now(),
	}
}

func TestDecomposeGoal_BuildsDependencyGraph(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, WithPlanner(&stubPlanner{reply: plannedPair}))

	tasks, err := o.DecomposeGoal(context.Background(), "ship the service", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	design, impl := tasks[0], tasks[1]
	if design.Type != models.TaskTypeDesign || impl.Type != models.TaskTypeWriteCode {
		t.Fatalf("unexpected task types: %s, %s", design.Type, impl.Type)
	}
	if len(impl.DependsOn) != 1 || impl.DependsOn[0] != design.ID {
		t.Fatalf("dependency not resolved to id: %v", impl.DependsOn)
	}

	ready := o.NextReady()
	if len(ready) != 1 || ready[0].ID != design.ID {
		t.Fatalf("expected only the design task ready, got %d", len(ready))
	}
}

func TestDecomposeGoal_SkipsUnparseableTasks(t *testing.T) {
	reply := `[
  {"name": "Good", "description": "ok", "type": "implement"},
  {"name": "Bad type", "description": "nope", "type": "daydream"},
  {"name": "Orphan", "description": "nope", "type": "implement", "depends_on": ["Missing"]}
]`
	o, _, _ := newTestOrchestrator(t, WithPlanner(&stubPlanner{reply: reply}))

	tasks, err := o.DecomposeGoal(context.Background(), "goal", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != "Good" {
		t.Fatalf("expected only the valid task, got %d", len(tasks))
	}
}

func TestDecomposeGoal_PlannerError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, WithPlanner(&stubPlanner{err: errors.New("api down")}))

	if _, err := o.DecomposeGoal(context.Background(), "goal", nil); err == nil {
		t.Fatal("expected planner error")
	}
	if o.Graph().Size() != 0 {
		t.Fatalf("graph should be empty, has %d", o.Graph().Size())
	}
}

func TestDispatchCycle_AssignsAndDelivers(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	inbox := registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	task := queuedTask("t1")
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}

	if n := o.DispatchCycle(); n != 1 {
		t.Fatalf("expected 1 dispatch, got %d", n)
	}
	if task.Status != models.TaskStatusAssigned || task.AssignedTo != "agent-a" {
		t.Fatalf("task not assigned: %s to %q", task.Status, task.AssignedTo)
	}

	select {
	case msg := <-inbox:
		if msg.Type != models.MessageTaskAssign {
			t.Fatalf("expected task-assign message, got %s", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("assignment never delivered")
	}

	// Nothing left ready, second cycle is a no-op.
	if n := o.DispatchCycle(); n != 0 {
		t.Fatalf("expected 0 dispatches, got %d", n)
	}
}

func TestDispatchCycle_NoAgentLeavesTaskQueued(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	task := queuedTask("t1")
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}

	if n := o.DispatchCycle(); n != 0 {
		t.Fatalf("expected 0 dispatches, got %d", n)
	}
	if task.Status != models.TaskStatusQueued {
		t.Fatalf("task should stay queued, got %s", task.Status)
	}
}

func TestMarkComplete_SuccessUnlocksDependents(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	first := queuedTask("t1")
	second := queuedTask("t2", "t1")
	if err := o.AddTask(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := o.AddTask(second); err != nil {
		t.Fatalf("add second: %v", err)
	}

	o.DispatchCycle()
	err := o.MarkComplete("t1", &models.TaskResult{TaskID: "t1", Success: true, Output: "done"})
	if err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if first.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", first.Status)
	}
	if first.Result == nil || first.Result.Output != "done" {
		t.Fatal("result not attached")
	}

	ready := o.NextReady()
	if len(ready) != 1 || ready[0].ID != "t2" {
		t.Fatalf("dependent not unlocked: %v", ready)
	}
}

func TestMarkComplete_RetriesThenBlocksDependents(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	task := queuedTask("t1")
	task.MaxAttempts = 2
	dependent := queuedTask("t2", "t1")
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	if err := o.AddTask(dependent); err != nil {
		t.Fatalf("add dependent: %v", err)
	}

	// First failure re-queues.
	o.DispatchCycle()
	if err := o.MarkComplete("t1", &models.TaskResult{TaskID: "t1", Success: false, Error: "boom"}); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if task.Status != models.TaskStatusQueued {
		t.Fatalf("expected requeue, got %s", task.Status)
	}
	if task.AssignedTo != "" || task.Result != nil {
		t.Fatal("requeue did not clear assignment state")
	}

	// Second failure exhausts attempts and blocks the dependent.
	o.DispatchCycle()
	if err := o.MarkComplete("t1", &models.TaskResult{TaskID: "t1", Success: false, Error: "boom again"}); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if dependent.Status != models.TaskStatusBlocked {
		t.Fatalf("expected blocked dependent, got %s", dependent.Status)
	}
	if len(o.NextReady()) != 0 {
		t.Fatal("nothing should be ready")
	}
}

func TestMarkComplete_UnknownTask(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	err := o.MarkComplete("nope", &models.TaskResult{TaskID: "nope", Success: true})
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestMarkComplete_DoubleResultRejected(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	task := queuedTask("t1")
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	o.DispatchCycle()
	if err := o.MarkComplete("t1", &models.TaskResult{TaskID: "t1", Success: true}); err != nil {
		t.Fatalf("first result: %v", err)
	}
	if err := o.MarkComplete("t1", &models.TaskResult{TaskID: "t1", Success: true}); err == nil {
		t.Fatal("expected error for result on terminal task")
	}
}

func TestExpireOverdue_FailsWithTimeout(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	task := queuedTask("t1")
	task.TimeoutSeconds = 600
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	o.DispatchCycle()

	o.mu.Lock()
	o.deadlines["t1"] = time.Now().Add(-time.Second)
	o.mu.Unlock()

	o.expireOverdue()
	if task.Status != models.TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	if task.Result == nil || task.Result.Error != "timeout" {
		t.Fatalf("expected timeout result, got %+v", task.Result)
	}
}

func TestHandleResultMessage_CompletesTask(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	task := queuedTask("t1")
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	o.DispatchCycle()

	o.handleResultMessage(&models.Message{
		Type:   models.MessageTaskResult,
		Sender: "agent-a",
		Payload: map[string]interface{}{
			"task_id":          "t1",
			"success":          true,
			"output":           "all green",
			"artifacts":        []interface{}{"main.go"},
			"duration_seconds": 12.5,
		},
	})

	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if task.Result == nil || len(task.Result.Artifacts) != 1 || task.Result.Artifacts[0] != "main.go" {
		t.Fatalf("artifacts not decoded: %+v", task.Result)
	}
}

func TestDecodeResultEnvelope_MissingTaskID(t *testing.T) {
	if _, err := decodeResultEnvelope(map[string]interface{}{"success": true}); err == nil {
		t.Fatal("expected error for missing task_id")
	}
}

func TestHandleProgress_StartsAssignedTask(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	task := queuedTask("t1")
	if err := o.AddTask(task); err != nil {
		t.Fatalf("add task: %v", err)
	}
	o.DispatchCycle()

	o.handleProgress(&models.Message{
		Type:   models.MessageTaskProgress,
		Sender: "agent-a",
		Payload: map[string]interface{}{
			"task_id": "t1",
			"status":  "started",
		},
	})
	if task.Status != models.TaskStatusRunning {
		t.Fatalf("expected running, got %s", task.Status)
	}
	if task.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", task.Attempt)
	}
}

func TestPause_SuspendsDispatch(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	if err := o.AddTask(queuedTask("t1")); err != nil {
		t.Fatalf("add task: %v", err)
	}

	o.Pause()
	if !o.isPaused() {
		t.Fatal("expected paused")
	}
	o.Resume()
	if o.isPaused() {
		t.Fatal("expected resumed")
	}
	if n := o.DispatchCycle(); n != 1 {
		t.Fatalf("expected dispatch after resume, got %d", n)
	}
}

func TestStatus_Counts(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	if err := o.AddTask(queuedTask("t1")); err != nil {
		t.Fatalf("add t1: %v", err)
	}
	if err := o.AddTask(queuedTask("t2", "t1")); err != nil {
		t.Fatalf("add t2: %v", err)
	}
	o.DispatchCycle()

	st := o.Status()
	if st.TotalTasks != 2 || st.Assigned != 1 || st.Pending != 1 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.Agents != 1 {
		t.Fatalf("expected 1 agent, got %d", st.Agents)
	}
}

func TestRunLoop_DispatchesAndStops(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t, WithPollInterval(10*time.Millisecond))
	inbox := registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	if err := o.AddTask(queuedTask("t1")); err != nil {
		t.Fatalf("add task: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	select {
	case <-inbox:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop never dispatched")
	}

	o.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestEvents_EmittedOnLifecycle(t *testing.T) {
	o, bus, reg := newTestOrchestrator(t)
	registerWorker(t, bus, reg, "agent-a", models.RoleBackend)

	if err := o.AddTask(queuedTask("t1")); err != nil {
		t.Fatalf("add task: %v", err)
	}
	o.DispatchCycle()
	if err := o.MarkComplete("t1", &models.TaskResult{TaskID: "t1", Success: true}); err != nil {
		t.Fatalf("mark complete: %v", err)
	}

	var types []EventType
	for {
		select {
		case ev := <-o.Events():
			types = append(types, ev.Type)
			continue
		default:
		}
		break
	}
	want := map[EventType]bool{EventTaskAssigned: false, EventTaskCompleted: false}
	for _, typ := range types {
		if _, ok := want[typ]; ok {
			want[typ] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("event %s never emitted (got %v)", typ, types)
		}
	}
}
