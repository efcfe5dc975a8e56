// Package health watches agent heartbeats and flags workers that stop
// reporting progress. A worker that stays silent past the stuck
// threshold while marked working triggers recovery callbacks; after
// enough consecutive strikes it is declared dead and left alone.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	// DefaultPollInterval is how often the monitor sweeps heartbeats.
	DefaultPollInterval = 30 * time.Second
	// DefaultStuckThreshold is the silence duration after which a
	// working agent counts as stuck.
	DefaultStuckThreshold = 15 * time.Minute
	// DefaultMaxStuck is the number of consecutive stuck detections
	// before an agent is declared dead.
	DefaultMaxStuck = 3
)

// Heartbeat status values reported by agents or assigned by the monitor.
const (
	StatusWorking = "working"
	StatusIdle    = "idle"
	StatusDead    = "dead"
)

// RecoveryFunc is called when a working agent goes silent, so the
// caller can try to restart it or nudge it along.
type RecoveryFunc func(agentID, taskID string)

// DeadFunc is called once when an agent exhausts its stuck strikes, so
// the caller can reassign its task.
type DeadFunc func(agentID, taskID string)

// Monitor tracks heartbeats for all agents of one project.
type Monitor struct {
	mu    sync.Mutex
	beats map[string]*models.Heartbeat

	pollInterval   time.Duration
	stuckThreshold time.Duration
	maxStuck       int
	onStuck        RecoveryFunc
	onDead         DeadFunc

	stopOnce sync.Once
	stopCh   chan struct{}

	now      func() time.Time // for testing
	debugLog func(format string, args ...interface{})
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval overrides the sweep interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithStuckThreshold overrides the silence duration that counts as stuck.
func WithStuckThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.stuckThreshold = d
		}
	}
}

// WithMaxStuck overrides the strike count before an agent is declared dead.
func WithMaxStuck(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxStuck = n
		}
	}
}

// WithOnStuck registers the recovery callback.
func WithOnStuck(fn RecoveryFunc) Option {
	return func(m *Monitor) { m.onStuck = fn }
}

// WithOnDead registers the dead-agent callback.
func WithOnDead(fn DeadFunc) Option {
	return func(m *Monitor) { m.onDead = fn }
}

// WithDebugLog sets a logger for monitor events.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.debugLog = fn
		}
	}
}

// NewMonitor creates a heartbeat monitor with the default thresholds.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		beats:          make(map[string]*models.Heartbeat),
		pollInterval:   DefaultPollInterval,
		stuckThreshold: DefaultStuckThreshold,
		maxStuck:       DefaultMaxStuck,
		stopCh:         make(chan struct{}),
		now:            time.Now,
		debugLog:       func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Beat records a liveness report. A beat always counts as proof of
// life: it clears accumulated strikes, and an agent the monitor had
// given up on comes back under watch.
func (m *Monitor) Beat(agentID, taskID, status string) {
	if agentID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	hb, ok := m.beats[agentID]
	if !ok {
		hb = &models.Heartbeat{AgentID: agentID}
		m.beats[agentID] = hb
	}
	hb.TaskID = taskID
	hb.Status = status
	hb.LastBeat = m.now()
	hb.StuckCount = 0
}

// MarkRecovered clears an agent's strikes after the caller restarted
// it, putting it back under watch as idle until it beats again.
func (m *Monitor) MarkRecovered(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hb, ok := m.beats[agentID]
	if !ok {
		return
	}
	hb.Status = StatusIdle
	hb.TaskID = ""
	hb.LastBeat = m.now()
	hb.StuckCount = 0
}

// Remove forgets an agent, typically on deregistration.
func (m *Monitor) Remove(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.beats, agentID)
}

// IsDead reports whether the monitor has given up on an agent.
func (m *Monitor) IsDead(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	hb, ok := m.beats[agentID]
	return ok && hb.Status == StatusDead
}

// Snapshot returns a copy of all tracked heartbeats, ordered by agent id.
func (m *Monitor) Snapshot() []models.Heartbeat {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Heartbeat, 0, len(m.beats))
	for _, hb := range m.beats {
		out = append(out, *hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Run sweeps heartbeats at the poll interval until the context is
// cancelled or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Stop ends the Run loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// sweep checks every working agent's last beat against the stuck
// threshold. Each silent check adds a strike and triggers recovery;
// the final strike declares the agent dead instead, after which the
// agent is skipped until it beats again.
func (m *Monitor) sweep() {
	type hit struct {
		agentID string
		taskID  string
		dead    bool
	}

	m.mu.Lock()
	now := m.now()
	var hits []hit
	for id, hb := range m.beats {
		if hb.Status != StatusWorking {
			continue
		}
		if now.Sub(hb.LastBeat) <= m.stuckThreshold {
			continue
		}
		hb.StuckCount++
		if hb.StuckCount >= m.maxStuck {
			hb.Status = StatusDead
			m.debugLog("health: agent %s dead after %d silent checks", id, hb.StuckCount)
			hits = append(hits, hit{agentID: id, taskID: hb.TaskID, dead: true})
			continue
		}
		m.debugLog("health: agent %s stuck (strike %d of %d)", id, hb.StuckCount, m.maxStuck)
		hits = append(hits, hit{agentID: id, taskID: hb.TaskID})
	}
	m.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the
	// monitor.
	for _, h := range hits {
		switch {
		case h.dead:
			if m.onDead != nil {
				m.onDead(h.agentID, h.taskID)
			}
		default:
			if m.onStuck != nil {
				m.onStuck(h.agentID, h.taskID)
			}
		}
	}
}
