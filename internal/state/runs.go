package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrNotFound means no record matched the query.
var ErrNotFound = errors.New("not found")

// Run lifecycle status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusStopped   = "stopped"
)

// Run summarizes one orchestration session.
type Run struct {
	// ID is the short session id.
	ID string
	// Goal is the high-level goal the run decomposed.
	Goal string
	// Status is the lifecycle state.
	Status string
	// StartedAt is when the run began.
	StartedAt time.Time
	// EndedAt is when the run finished, nil while running.
	EndedAt *time.Time
	// TotalTasks counts all tasks in the run's graph.
	TotalTasks int
	// CompletedTasks counts tasks that finished successfully.
	CompletedTasks int
	// FailedTasks counts tasks that terminally failed.
	FailedTasks int
	// Tokens is the run's accumulated token usage.
	Tokens models.TokenUsage
}

// CreateRun inserts a new run record. An empty status defaults to
// running.
func (db *DB) CreateRun(run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO runs (id, goal, status, started_at, total_tasks, completed_tasks, failed_tasks, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Goal, run.Status, formatTime(run.StartedAt),
		run.TotalTasks, run.CompletedTasks, run.FailedTasks,
		run.Tokens.Prompt, run.Tokens.Completion)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunProgress replaces a run's task counts and token totals.
func (db *DB) UpdateRunProgress(id string, total, completed, failed int, tokens models.TokenUsage) error {
	result, err := db.Exec(`
		UPDATE runs
		SET total_tasks = ?, completed_tasks = ?, failed_tasks = ?, prompt_tokens = ?, completion_tokens = ?
		WHERE id = ?
	`, total, completed, failed, tokens.Prompt, tokens.Completion, id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// FinishRun marks a run terminal with the given status.
func (db *DB) FinishRun(id, status string, endedAt time.Time) error {
	result, err := db.Exec(`
		UPDATE runs SET status = ?, ended_at = ? WHERE id = ?
	`, status, formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

func requireRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = "id, goal, status, started_at, ended_at, total_tasks, completed_tasks, failed_tasks, prompt_tokens, completion_tokens"

// scanRun reads one run row; works for sql.Row and sql.Rows.
func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		run       Run
		startedAt string
		endedAt   sql.NullString
	)
	err := row.Scan(&run.ID, &run.Goal, &run.Status, &startedAt, &endedAt,
		&run.TotalTasks, &run.CompletedTasks, &run.FailedTasks,
		&run.Tokens.Prompt, &run.Tokens.Completion)
	if err != nil {
		return nil, err
	}
	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	run.EndedAt = parseNullableTime(endedAt)
	return &run, nil
}

// GetRun loads one run by id.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// LatestRun loads the most recently started run.
func (db *DB) LatestRun() (*Run, error) {
	row := db.QueryRow("SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id DESC LIMIT 1")
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query("SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
