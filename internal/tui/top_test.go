package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/pkg/models"
)

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"project_id":"proj-1","session_id":"abc12345","total_tasks":2,"completed":1,"running":1,"agents":3,"tokens":{"prompt":100,"completion":50}}`))
	})
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tasks":[
			{"id":"t1","name":"Design","type":"design","status":"completed","attempt":1,"max_attempts":3,"created_at":"2026-01-01T10:00:00Z"},
			{"id":"t2","name":"Build","type":"write-code","status":"running","assigned_to":"backend-1","attempt":1,"max_attempts":3,"created_at":"2026-01-01T10:01:00Z"}
		]}`))
	})
	mux.HandleFunc("/api/v1/agents", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"agents":[{"id":"backend-1","role":"backend","available":false}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Fetch(t *testing.T) {
	srv := fakeDaemon(t)
	client := NewClient(srv.URL)

	snap, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status.SessionID != "abc12345" || snap.Status.TotalTasks != 2 {
		t.Fatalf("unexpected status: %+v", snap.Status)
	}
	if len(snap.Tasks) != 2 || snap.Tasks[1].AssignedTo != "backend-1" {
		t.Fatalf("unexpected tasks: %+v", snap.Tasks)
	}
	if len(snap.Agents) != 1 || snap.Agents[0].Role != models.RoleBackend {
		t.Fatalf("unexpected agents: %+v", snap.Agents)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	if _, err := NewClient(srv.URL).Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestTaskRows_RunningFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := taskRows([]orchestrator.TaskSummary{
		{Name: "queued", Status: models.TaskStatusQueued, CreatedAt: base},
		{Name: "failed", Status: models.TaskStatusFailed, CreatedAt: base},
		{Name: "running", Status: models.TaskStatusRunning, CreatedAt: base.Add(time.Minute)},
		{Name: "done", Status: models.TaskStatusCompleted, CreatedAt: base},
	})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	order := []string{rows[0][0], rows[1][0], rows[2][0], rows[3][0]}
	want := []string{"running", "queued", "failed", "done"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestTopModel_ViewAfterSnapshot(t *testing.T) {
	srv := fakeDaemon(t)
	m := NewTop(NewClient(srv.URL))

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = updated.(TopModel)

	snap, err := NewClient(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	updated, _ = m.Update(snapshotMsg{snap: snap})
	m = updated.(TopModel)

	view := m.View()
	for _, want := range []string{"hive top", "abc12345", "Build", "backend-1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestTopModel_QuitKey(t *testing.T) {
	m := NewTop(NewClient("http://127.0.0.1:0"))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg == nil {
		t.Fatal("expected quit message")
	} else if _, ok := msg.(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg, got %T", msg)
	}
}
