package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b")
	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestMigrate_CreatesTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"schema_version", "runs", "task_events"} {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("migrate iteration %d: %v", i, err)
		}
	}

	var version int
	row := db.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)

	err := db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO runs (id, goal, status, started_at) VALUES (?, ?, ?, ?)",
			"tx-fail", "goal", "running", "2025-01-01T00:00:00Z")
		if err != nil {
			return err
		}
		return fmt.Errorf("simulated error")
	})
	if err == nil {
		t.Fatal("expected error from Transaction")
	}

	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM runs WHERE id = ?", "tx-fail")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if count != 0 {
		t.Error("transaction was not rolled back")
	}
}

func TestProjectDBPath(t *testing.T) {
	if got := ProjectDBPath("/my/project"); got != "/my/project/.hive/state.db" {
		t.Errorf("ProjectDBPath() = %q, want /my/project/.hive/state.db", got)
	}
}

func TestGlobalDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := GlobalDBPath(); got != "/custom/data/hive/hive.db" {
		t.Errorf("GlobalDBPath() = %q, want /custom/data/hive/hive.db", got)
	}
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	parsed, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip = %v, want %v", parsed, now)
	}
}

func TestParseNullableTime(t *testing.T) {
	valid := sql.NullString{String: "2025-01-01T12:00:00Z", Valid: true}
	if parseNullableTime(valid) == nil {
		t.Error("expected non-nil time for valid input")
	}
	if parseNullableTime(sql.NullString{}) != nil {
		t.Error("expected nil time for null input")
	}
	bad := sql.NullString{String: "not a time", Valid: true}
	if parseNullableTime(bad) != nil {
		t.Error("expected nil time for unparseable input")
	}
}
