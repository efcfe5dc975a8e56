package models

import "time"

// Worktree is an independent checkout of the repository at a distinct
// filesystem path, owned by at most one agent at a time.
type Worktree struct {
	// Path is the absolute path of the checkout.
	Path string `json:"path"`
	// Branch is the branch checked out in this worktree.
	Branch string `json:"branch"`
	// AgentID is the owning agent, if any.
	AgentID string `json:"agent_id,omitempty"`
	// IsMain marks the primary checkout, which is never removed.
	IsMain bool `json:"is_main"`
	// CreatedAt is when the worktree was allocated.
	CreatedAt time.Time `json:"created_at"`
}
