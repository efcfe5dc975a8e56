package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a file-backed KV store for single-node deployments that
// need persistence without a Redis server.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS kv_sets (
			key TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (key, member)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Get returns the value stored under key. Expired rows are deleted on
// read.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key)

	var value []byte
	var expiresAt sql.NullTime
	err := row.Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", key, err)
	}

	if expiresAt.Valid && !expiresAt.Time.After(time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores value under key with an optional ttl.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from both the value and set tables.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_sets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete set %s: %w", key, err)
	}
	return nil
}

// Keys returns all live keys with the given prefix.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv WHERE key LIKE ? || '%' AND (expires_at IS NULL OR expires_at > ?)
		UNION
		SELECT DISTINCT key FROM kv_sets WHERE key LIKE ? || '%'
	`, prefix, time.Now(), prefix)
	if err != nil {
		return nil, fmt.Errorf("keys %s*: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SAdd adds members to the set stored under key.
func (s *SQLite) SAdd(ctx context.Context, key string, members ...string) error {
	for _, member := range members {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO kv_sets (key, member) VALUES (?, ?)`, key, member)
		if err != nil {
			return fmt.Errorf("sadd %s: %w", key, err)
		}
	}
	return nil
}

// SMembers returns all members of the set stored under key.
func (s *SQLite) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_sets WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// SRem removes members from the set stored under key.
func (s *SQLite) SRem(ctx context.Context, key string, members ...string) error {
	for _, member := range members {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM kv_sets WHERE key = ? AND member = ?`, key, member)
		if err != nil {
			return fmt.Errorf("srem %s: %w", key, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Verify SQLite implements KV at compile time.
var _ KV = (*SQLite)(nil)
