// Package budget enforces token spending caps per agent and per
// project. The manager accumulates reported usage, warns once when a
// budget crosses its warning threshold, and fails closed when a cap is
// reached.
package budget

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrBudgetExceeded means a per-agent or project token cap was reached.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ProjectScope is the warning scope for the project-level budget.
const ProjectScope = "project"

const (
	// DefaultAgentCap is the per-agent total token cap.
	DefaultAgentCap int64 = 500_000
	// DefaultProjectCap is the project-wide total token cap.
	DefaultProjectCap int64 = 2_000_000
	// DefaultWarnThreshold is the utilization at which a warning fires.
	DefaultWarnThreshold = 0.80
	// DefaultPromptShare is the fraction of an agent's cap reserved for
	// prompt tokens; the remainder caps completion tokens.
	DefaultPromptShare = 0.70
)

// WarningFunc receives one warning per scope when utilization crosses
// the threshold. Scope is an agent id or ProjectScope.
type WarningFunc func(scope string, b models.Budget)

// Manager tracks token budgets for all agents of one project.
type Manager struct {
	mu      sync.Mutex
	agents  map[string]*models.Budget
	project models.Budget
	warned  map[string]bool

	agentCap      int64
	warnThreshold float64
	promptShare   float64
	onWarning     WarningFunc
	debugLog      func(format string, args ...interface{})
}

// Option configures a Manager.
type Option func(*Manager)

// WithAgentCap overrides the per-agent total cap.
func WithAgentCap(limit int64) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.agentCap = limit
		}
	}
}

// WithProjectCap overrides the project total cap.
func WithProjectCap(limit int64) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.project.MaxTotal = limit
		}
	}
}

// WithWarnThreshold overrides the warning threshold, clamped to [0,1].
func WithWarnThreshold(threshold float64) Option {
	return func(m *Manager) {
		if threshold < 0 {
			threshold = 0
		}
		if threshold > 1 {
			threshold = 1
		}
		m.warnThreshold = threshold
	}
}

// WithPromptShare overrides the prompt fraction of each agent cap.
func WithPromptShare(share float64) Option {
	return func(m *Manager) {
		if share > 0 && share < 1 {
			m.promptShare = share
		}
	}
}

// WithWarningFunc registers the warning callback.
func WithWarningFunc(fn WarningFunc) Option {
	return func(m *Manager) { m.onWarning = fn }
}

// WithDebugLog sets a logger for budget events.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(m *Manager) {
		if fn != nil {
			m.debugLog = fn
		}
	}
}

// New creates a budget manager with the default caps.
func New(opts ...Option) *Manager {
	m := &Manager{
		agents:        make(map[string]*models.Budget),
		warned:        make(map[string]bool),
		agentCap:      DefaultAgentCap,
		warnThreshold: DefaultWarnThreshold,
		promptShare:   DefaultPromptShare,
		debugLog:      func(format string, args ...interface{}) {},
	}
	m.project.MaxTotal = DefaultProjectCap
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// budgetForLocked returns the agent's budget, creating it with the
// configured caps on first use. The completion cap is the remainder of
// the total after the prompt share so the two always partition the cap.
func (m *Manager) budgetForLocked(agentID string) *models.Budget {
	if b, ok := m.agents[agentID]; ok {
		return b
	}
	maxPrompt := int64(math.Round(float64(m.agentCap) * m.promptShare))
	b := &models.Budget{
		MaxTotal:      m.agentCap,
		MaxPrompt:     maxPrompt,
		MaxCompletion: m.agentCap - maxPrompt,
	}
	m.agents[agentID] = b
	return b
}

// RecordUsage accumulates an agent's token consumption and rolls it
// into the project total. The usage is always recorded; when it
// crosses a warning threshold the callback fires once per scope, and
// when it reaches a cap RecordUsage reports ErrBudgetExceeded so the
// caller stops scheduling work for that scope.
func (m *Manager) RecordUsage(agentID string, prompt, completion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := models.TokenUsage{Prompt: prompt, Completion: completion}
	b := m.budgetForLocked(agentID)
	b.Used.Add(usage)
	m.project.Used.Add(usage)

	m.maybeWarnLocked(agentID, *b)
	m.maybeWarnLocked(ProjectScope, m.project)

	if b.Exceeded() {
		m.debugLog("budget: agent %s exceeded (%d used)", agentID, b.Used.Total())
		return fmt.Errorf("agent %s: %w", agentID, ErrBudgetExceeded)
	}
	if m.project.Exceeded() {
		m.debugLog("budget: project exceeded (%d used)", m.project.Used.Total())
		return fmt.Errorf("%s: %w", ProjectScope, ErrBudgetExceeded)
	}
	return nil
}

// maybeWarnLocked fires the warning callback once per scope when the
// budget crosses the threshold.
func (m *Manager) maybeWarnLocked(scope string, b models.Budget) {
	if m.warned[scope] || !b.Warning(m.warnThreshold) {
		return
	}
	m.warned[scope] = true
	if m.onWarning != nil {
		m.onWarning(scope, b)
	}
}

// CanProceed reports whether new work may start for an agent: false
// once the agent's own budget or the project budget is exhausted.
func (m *Manager) CanProceed(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.project.Exceeded() {
		return false
	}
	if b, ok := m.agents[agentID]; ok {
		return !b.Exceeded()
	}
	return true
}

// UsageFor returns a snapshot of one agent's budget.
func (m *Manager) UsageFor(agentID string) (models.Budget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.agents[agentID]
	if !ok {
		return models.Budget{}, false
	}
	return *b, true
}

// ProjectUsage returns a snapshot of the project budget.
func (m *Manager) ProjectUsage() models.Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.project
}

// TotalUsage returns the aggregate token consumption across all agents.
func (m *Manager) TotalUsage() models.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.project.Used
}

// Reset clears all usage and warning state, keeping the configured
// caps.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agents = make(map[string]*models.Budget)
	m.warned = make(map[string]bool)
	m.project.Used = models.TokenUsage{}
}
