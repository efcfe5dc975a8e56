package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Client fetches dashboard data from a running hive daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient points at the daemon's HTTP API, e.g. http://127.0.0.1:7420.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Snapshot is one poll of the daemon.
type Snapshot struct {
	Status orchestrator.ProjectStatus
	Tasks  []orchestrator.TaskSummary
	Agents []models.AgentRecord
	At     time.Time
}

// Fetch pulls status, tasks, and agents in one pass.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{At: time.Now()}
	if err := c.get(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, err
	}
	var tasks struct {
		Tasks []orchestrator.TaskSummary `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/tasks", &tasks); err != nil {
		return nil, err
	}
	snap.Tasks = tasks.Tasks
	var agents struct {
		Agents []models.AgentRecord `json:"agents"`
	}
	if err := c.get(ctx, "/api/v1/agents", &agents); err != nil {
		return nil, err
	}
	snap.Agents = agents.Agents
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
