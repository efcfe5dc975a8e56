package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// janitorInterval is how often the in-memory store sweeps expired keys.
const janitorInterval = time.Minute

// Mem is an in-process KV backend. Expired keys are dropped lazily on
// read and swept periodically by a janitor goroutine.
type Mem struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	sets    map[string]map[string]struct{}
	done    chan struct{}
	once    sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// NewMem creates an in-memory store.
func NewMem() *Mem {
	m := &Mem{
		entries: make(map[string]memEntry),
		sets:    make(map[string]map[string]struct{}),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Mem) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, e := range m.entries {
				if e.expired(now) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get returns the value stored under key.
func (m *Mem) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key with an optional ttl.
func (m *Mem) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes a key.
func (m *Mem) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	delete(m.sets, key)
	m.mu.Unlock()
	return nil
}

// Keys returns all live keys with the given prefix.
func (m *Mem) Keys(ctx context.Context, prefix string) ([]string, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, e := range m.entries {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for key := range m.sets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// SAdd adds members to the set stored under key.
func (m *Mem) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// SMembers returns all members of the set stored under key.
func (m *Mem) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

// SRem removes members from the set stored under key.
func (m *Mem) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

// Close stops the janitor. The store remains usable for reads.
func (m *Mem) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// Verify Mem implements KV at compile time.
var _ KV = (*Mem)(nil)
