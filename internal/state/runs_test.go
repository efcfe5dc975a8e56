package state

import (
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	run := &Run{ID: "abc12345", Goal: "build the payment service", StartedAt: started}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("status = %s, want default %s", run.Status, RunStatusRunning)
	}

	got, err := db.GetRun("abc12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Goal != "build the payment service" || !got.StartedAt.Equal(started) {
		t.Errorf("run = %+v, want goal and started_at round-tripped", got)
	}
	if got.EndedAt != nil {
		t.Errorf("ended_at = %v, want nil while running", got.EndedAt)
	}

	usage := models.TokenUsage{Prompt: 1200, Completion: 400}
	if err := db.UpdateRunProgress("abc12345", 5, 3, 1, usage); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ended := started.Add(10 * time.Minute)
	if err := db.FinishRun("abc12345", RunStatusCompleted, ended); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err = db.GetRun("abc12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalTasks != 5 || got.CompletedTasks != 3 || got.FailedTasks != 1 {
		t.Errorf("counts = %d/%d/%d, want 5/3/1", got.TotalTasks, got.CompletedTasks, got.FailedTasks)
	}
	if got.Tokens != usage {
		t.Errorf("tokens = %+v, want %+v", got.Tokens, usage)
	}
	if got.Status != RunStatusCompleted || got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("run = %+v, want completed at %v", got, ended)
	}
}

func TestCreateRun_Validation(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateRun(&Run{Goal: "missing id"}); err == nil {
		t.Error("expected error for missing id")
	}

	run := &Run{ID: "dup", Goal: "first"}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.CreateRun(&Run{ID: "dup", Goal: "second"}); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := db.UpdateRunProgress("missing", 1, 0, 0, models.TokenUsage{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := db.FinishRun("missing", RunStatusFailed, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := db.LatestRun(); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound on empty table", err)
	}
}

func TestLatestRunAndList(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &Run{ID: id, Goal: "goal " + id, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.CreateRun(run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	latest, err := db.LatestRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != "run-c" {
		t.Errorf("latest = %s, want run-c", latest.ID)
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("runs = %v, want [run-c run-b]", runIDs(runs))
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestTaskEvents(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "run-1", Goal: "goal"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := []*TaskEvent{
		{RunID: "run-1", TaskID: "t1", Event: EventQueued},
		{RunID: "run-1", TaskID: "t1", Event: EventAssigned, AgentID: "a1"},
		{RunID: "run-1", TaskID: "t2", Event: EventQueued},
		{RunID: "run-1", TaskID: "t1", Event: EventCompleted, AgentID: "a1", Detail: "ok"},
	}
	for _, ev := range events {
		if err := db.AppendTaskEvent(ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ev.ID == 0 {
			t.Error("expected assigned event id")
		}
		if ev.CreatedAt.IsZero() {
			t.Error("expected stamped created_at")
		}
	}

	all, err := db.TaskEvents("run-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d events, want 4", len(all))
	}
	if all[0].Event != EventQueued || all[3].Event != EventCompleted {
		t.Errorf("events out of insertion order: %v", all)
	}

	t1, err := db.TaskEvents("run-1", "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(t1) != 3 {
		t.Errorf("got %d events for t1, want 3", len(t1))
	}
	if t1[1].AgentID != "a1" {
		t.Errorf("agent id = %q, want a1", t1[1].AgentID)
	}
}

func TestAppendTaskEvent_Validation(t *testing.T) {
	db := setupTestDB(t)

	if err := db.AppendTaskEvent(&TaskEvent{TaskID: "t1", Event: EventQueued}); err == nil {
		t.Error("expected error for missing run id")
	}

	// The run must exist: task_events carries a foreign key.
	err := db.AppendTaskEvent(&TaskEvent{RunID: "no-such-run", TaskID: "t1", Event: EventQueued})
	if err == nil {
		t.Error("expected foreign key error for unknown run")
	}
}

func TestPurgeOldRuns_CascadesEvents(t *testing.T) {
	db := setupTestDB(t)

	old := &Run{ID: "old-run", Goal: "old", StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Run{ID: "fresh-run", Goal: "fresh", StartedAt: time.Now()}
	for _, run := range []*Run{old, fresh} {
		if err := db.CreateRun(run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ev := &TaskEvent{RunID: run.ID, TaskID: "t1", Event: EventQueued}
		if err := db.AppendTaskEvent(ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d runs, want 1", n)
	}

	if _, err := db.GetRun("old-run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound for purged run", err)
	}
	events, err := db.TaskEvents("old-run", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events for purged run, want 0 via cascade", len(events))
	}
	if _, err := db.GetRun("fresh-run"); err != nil {
		t.Errorf("fresh run should survive: %v", err)
	}
}
