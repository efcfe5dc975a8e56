// Package scheduler selects the best worker for each ready task and
// dispatches it over the broker.
package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/hive/internal/registry"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrNoAgentAvailable indicates no available agent holds the target role.
var ErrNoAgentAvailable = errors.New("no agent available")

// ErrDeliveryFailed indicates the broker delivered the assignment to
// zero inboxes; the task stays eligible for the next cycle.
var ErrDeliveryFailed = errors.New("assignment delivery failed")

// DefaultMaxPerCycle caps assignments per agent within one scheduling
// cycle.
const DefaultMaxPerCycle = 5

// Scoring weights for candidate selection.
const (
	weightSpecialization = 0.35
	weightLoad           = 0.25
	weightSuccess        = 0.20
	weightRecency        = 0.10
	weightRotation       = 0.10
)

// offRoleSpecScore is the specialization score for a candidate whose
// role differs from the target.
const offRoleSpecScore = 0.3

// offRotationScore is the rotation score for candidates not at the
// round-robin cursor.
const offRotationScore = 0.3

// Publisher is the broker surface the scheduler dispatches through.
type Publisher interface {
	SendDirect(recipientID string, msg *models.Message) (int, error)
}

// Scheduler assigns ready tasks to agents using a composite score of
// specialization, load, success history, assignment spread, and a
// round-robin rotation bonus. A whole assign runs under one lock, so
// every call sees a consistent candidate snapshot and cursor.
type Scheduler struct {
	registry *registry.Registry
	bus      Publisher

	mu      sync.Mutex
	cursors map[models.AgentRole]int

	maxPerCycle int
	sender      string
	debugLog    func(format string, args ...interface{})
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxPerCycle overrides the per-cycle assignment cap.
func WithMaxPerCycle(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxPerCycle = n
		}
	}
}

// WithSender overrides the sender id stamped on assignment messages.
func WithSender(id string) Option {
	return func(s *Scheduler) {
		if id != "" {
			s.sender = id
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.debugLog = fn
		}
	}
}

// New creates a scheduler over the given registry and broker.
func New(reg *registry.Registry, bus Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:    reg,
		bus:         bus,
		cursors:     make(map[models.AgentRole]int),
		maxPerCycle: DefaultMaxPerCycle,
		sender:      "orchestrator",
		debugLog:    func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assign picks the best available agent for the task and publishes a
// task-assign message to its inbox. On success the task is moved to
// assigned, the winner's counters are bumped, and the role's
// round-robin cursor advances. On delivery failure the task is left
// untouched and stays eligible for the next cycle.
func (s *Scheduler) Assign(task *models.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusQueued {
		return "", fmt.Errorf("assign task %s: status %s is not assignable", task.ID, task.Status)
	}

	role := task.Role()
	cands := s.registry.Candidates(role)
	if len(cands) == 0 {
		return "", fmt.Errorf("assign task %s: role %s: %w", task.ID, role, ErrNoAgentAvailable)
	}

	cursor := s.cursors[role]
	maxAssigned := s.registry.MaxAssigned()

	bestIdx := -1
	bestScore := 0.0
	for i, cand := range cands {
		if cand.Metrics.CycleAssigned >= s.maxPerCycle {
			s.debugLog("[scheduler.Assign] %s at cycle cap (%d), skipping", cand.Record.ID, cand.Metrics.CycleAssigned)
			continue
		}
		score := s.score(cand, role, i, cursor, len(cands), maxAssigned)
		s.debugLog("[scheduler.Assign] task=%s candidate=%s score=%.3f", task.ID, cand.Record.ID, score)
		if bestIdx == -1 || score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	if bestIdx == -1 {
		return "", fmt.Errorf("assign task %s: all %s agents at cycle cap: %w", task.ID, role, ErrNoAgentAvailable)
	}
	winner := cands[bestIdx].Record

	msg := &models.Message{
		Type:     models.MessageTaskAssign,
		Sender:   s.sender,
		Payload:  map[string]interface{}{"task": task.AssignEnvelope()},
		Priority: messagePriorityFor(task.Priority),
	}
	count, err := s.bus.SendDirect(winner.ID, msg)
	if err != nil {
		return "", fmt.Errorf("assign task %s to %s: %w", task.ID, winner.ID, err)
	}
	if count == 0 {
		return "", fmt.Errorf("assign task %s to %s: %w", task.ID, winner.ID, ErrDeliveryFailed)
	}

	if err := task.TransitionTo(models.TaskStatusAssigned); err != nil {
		// The send already happened; surface the inconsistent state.
		return "", fmt.Errorf("assign task %s: %w", task.ID, err)
	}
	task.AssignedTo = winner.ID
	s.registry.RecordAssigned(winner.ID)
	s.cursors[role] = cursor + 1

	s.debugLog("[scheduler.Assign] task %s -> agent %s (score %.3f)", task.ID, winner.ID, bestScore)
	return winner.ID, nil
}

// score computes the composite candidate score in [0,1].
func (s *Scheduler) score(cand registry.Candidate, role models.AgentRole, idx, cursor, n, maxAssigned int) float64 {
	spec := 1.0
	if cand.Record.Role != role {
		spec = offRoleSpecScore
	}

	load := 1.0 / float64(1+cand.Metrics.Active())

	success := cand.Metrics.SuccessRate()

	recency := 1.0
	if maxAssigned > 0 {
		recency = 1.0 - float64(cand.Metrics.Assigned)/float64(maxAssigned)
	}

	rotation := offRotationScore
	if idx == cursor%n {
		rotation = 1.0
	}

	return weightSpecialization*spec +
		weightLoad*load +
		weightSuccess*success +
		weightRecency*recency +
		weightRotation*rotation
}

// messagePriorityFor maps a task priority onto the message scale.
func messagePriorityFor(p models.TaskPriority) models.MessagePriority {
	switch p {
	case models.PriorityCritical:
		return models.MessagePriorityUrgent
	case models.PriorityHigh:
		return models.MessagePriorityHigh
	case models.PriorityLow:
		return models.MessagePriorityLow
	default:
		return models.MessagePriorityNormal
	}
}

// OnTaskTerminal records a task outcome against the agent that held it.
func (s *Scheduler) OnTaskTerminal(agentID string, success bool) {
	s.registry.RecordOutcome(agentID, success)
}

// ResetCycle starts a fresh scheduling cycle: every agent's per-cycle
// assignment count returns to zero.
func (s *Scheduler) ResetCycle() {
	s.registry.ResetCycle()
}

// Cursor returns the current round-robin cursor for a role.
func (s *Scheduler) Cursor(role models.AgentRole) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[role]
}
