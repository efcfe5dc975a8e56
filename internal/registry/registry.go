// Package registry tracks worker agents and the per-agent counters
// the scheduler scores with.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Metrics holds one agent's scheduling counters.
type Metrics struct {
	// Assigned counts tasks ever dispatched to the agent.
	Assigned int
	// Completed counts tasks the agent finished successfully.
	Completed int
	// Failed counts tasks the agent finished unsuccessfully.
	Failed int
	// CycleAssigned counts dispatches in the current scheduling cycle.
	CycleAssigned int
}

// Active estimates the tasks currently held by the agent, clamped at
// zero so transient races cannot go negative.
func (m Metrics) Active() int {
	active := m.Assigned - m.Completed - m.Failed
	if active < 0 {
		return 0
	}
	return active
}

// SuccessRate returns completed/(completed+failed), or 0.5 when the
// agent has no outcomes yet.
func (m Metrics) SuccessRate() float64 {
	total := m.Completed + m.Failed
	if total == 0 {
		return 0.5
	}
	return float64(m.Completed) / float64(total)
}

// Candidate pairs an agent record with a snapshot of its metrics.
type Candidate struct {
	Record  *models.AgentRecord
	Metrics Metrics
}

type entry struct {
	record  *models.AgentRecord
	metrics Metrics
	order   int
}

// Registry is the authoritative store of agent records. All reads are
// snapshot-based so the scheduler scores a consistent view.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextOrd int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an agent. The id must be unused.
func (r *Registry) Register(record *models.AgentRecord) error {
	if record.ID == "" {
		return fmt.Errorf("register: empty agent id")
	}
	if !record.Role.Valid() {
		return fmt.Errorf("register agent %s: unknown role %q", record.ID, record.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[record.ID]; exists {
		return fmt.Errorf("register: agent %s already registered", record.ID)
	}
	if record.InboxChannel == "" {
		record.InboxChannel = models.AgentChannel(record.ID)
	}
	if record.RegisteredAt.IsZero() {
		record.RegisteredAt = time.Now()
	}
	r.entries[record.ID] = &entry{record: record, order: r.nextOrd}
	r.nextOrd++
	return nil
}

// Unregister removes an agent and its counters.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[agentID]; !exists {
		return fmt.Errorf("unregister: unknown agent %s", agentID)
	}
	delete(r.entries, agentID)
	return nil
}

// Get returns the record for an agent id.
func (r *Registry) Get(agentID string) (*models.AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	if !ok {
		return nil, false
	}
	return e.record, true
}

// SetAvailable flips an agent's availability.
func (r *Registry) SetAvailable(agentID string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return fmt.Errorf("set available: unknown agent %s", agentID)
	}
	e.record.Available = available
	return nil
}

// Candidates returns the available agents with the given role in
// registration order, each with a metrics snapshot.
func (r *Registry) Candidates(role models.AgentRole) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Candidate, 0, len(r.entries))
	for _, e := range r.sortedLocked() {
		if e.record.Role == role && e.record.Available {
			out = append(out, Candidate{Record: e.record, Metrics: e.metrics})
		}
	}
	return out
}

// List returns all records in registration order.
func (r *Registry) List() []*models.AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AgentRecord, 0, len(r.entries))
	for _, e := range r.sortedLocked() {
		out = append(out, e.record)
	}
	return out
}

// sortedLocked returns entries in registration order. Assumes a lock
// is held.
func (r *Registry) sortedLocked() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].order > out[j].order; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MetricsFor returns the counters snapshot for one agent.
func (r *Registry) MetricsFor(agentID string) (Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	if !ok {
		return Metrics{}, false
	}
	return e.metrics, true
}

// RecordAssigned bumps the assignment counters after a dispatch.
func (r *Registry) RecordAssigned(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[agentID]; ok {
		e.metrics.Assigned++
		e.metrics.CycleAssigned++
	}
}

// RecordOutcome bumps the terminal counters when a task finishes.
func (r *Registry) RecordOutcome(agentID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agentID]
	if !ok {
		return
	}
	if success {
		e.metrics.Completed++
	} else {
		e.metrics.Failed++
	}
}

// ResetCycle zeroes every agent's per-cycle assignment counter.
func (r *Registry) ResetCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.metrics.CycleAssigned = 0
	}
}

// MaxAssigned returns the highest assignment count across all agents.
func (r *Registry) MaxAssigned() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0
	for _, e := range r.entries {
		if e.metrics.Assigned > max {
			max = e.metrics.Assigned
		}
	}
	return max
}
