package models

import "time"

// AgentRole identifies the specialization of a worker agent.
type AgentRole string

const (
	// RoleMaestro is the coordinating agent that owns decomposition.
	RoleMaestro AgentRole = "maestro"
	// RoleArchitect handles design and architecture tasks.
	RoleArchitect AgentRole = "architect"
	// RoleBackend handles implementation and bug-fix tasks.
	RoleBackend AgentRole = "backend"
	// RoleFrontend handles user-interface implementation tasks.
	RoleFrontend AgentRole = "frontend"
	// RoleDatabase handles schema and query work.
	RoleDatabase AgentRole = "database"
	// RoleTestEngineer writes and runs tests.
	RoleTestEngineer AgentRole = "test-engineer"
	// RoleSecurityAuditor reviews changes for security issues.
	RoleSecurityAuditor AgentRole = "security-auditor"
	// RoleCodeReviewer reviews produced changes.
	RoleCodeReviewer AgentRole = "code-reviewer"
	// RoleDevOps handles deployment and release steps.
	RoleDevOps AgentRole = "devops"
	// RoleDocumentation writes documentation.
	RoleDocumentation AgentRole = "documentation"
	// RoleResearch investigates libraries, APIs, and prior art.
	RoleResearch AgentRole = "research"
	// RoleProductAnalyst analyzes requirements.
	RoleProductAnalyst AgentRole = "product-analyst"
	// RoleMemoryCoordinator curates the shared memory layer.
	RoleMemoryCoordinator AgentRole = "memory-coordinator"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleMaestro, RoleArchitect, RoleBackend, RoleFrontend, RoleDatabase,
		RoleTestEngineer, RoleSecurityAuditor, RoleCodeReviewer, RoleDevOps,
		RoleDocumentation, RoleResearch, RoleProductAnalyst,
		RoleMemoryCoordinator:
		return true
	default:
		return false
	}
}

// AgentRecord is the registry's view of a worker agent.
type AgentRecord struct {
	// ID is the stable identifier for this agent.
	ID string `json:"id"`
	// Role is the agent's specialization.
	Role AgentRole `json:"role"`
	// Name is the display name of the agent.
	Name string `json:"name,omitempty"`
	// Available reports whether the agent accepts new assignments.
	Available bool `json:"available"`
	// InboxChannel is the broker channel the agent listens on.
	InboxChannel string `json:"inbox_channel"`
	// RegisteredAt is when the agent joined the registry.
	RegisteredAt time.Time `json:"registered_at"`
}

// Heartbeat is a liveness report emitted by a worker agent.
type Heartbeat struct {
	// AgentID identifies the reporting agent.
	AgentID string `json:"agent_id"`
	// TaskID is the task currently held by the agent, if any.
	TaskID string `json:"task_id,omitempty"`
	// Status is the agent's self-reported state, e.g. "working" or "idle".
	Status string `json:"status"`
	// LastBeat is when the heartbeat was emitted.
	LastBeat time.Time `json:"last_beat"`
	// StuckCount is the number of consecutive stuck detections.
	StuckCount int `json:"stuck_count,omitempty"`
}
