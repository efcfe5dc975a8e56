// Package store provides the key-value persistence layer behind
// memory, agent state, and run bookkeeping. Backends share one
// interface so deployments can choose between in-process, Redis, and
// SQLite storage.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// KV is the persistence surface. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A positive ttl sets an expiry;
	// zero or negative keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// SAdd adds members to the set stored under key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SMembers returns all members of the set stored under key.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SRem removes members from the set stored under key.
	SRem(ctx context.Context, key string, members ...string) error
	// Close releases the backend's resources.
	Close() error
}
