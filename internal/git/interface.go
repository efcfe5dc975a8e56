// Package git wraps the git CLI for branch, worktree, and merge
// operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranch creates a new branch forked from base. An empty
	// base forks from HEAD.
	CreateBranch(name, base string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
	// RevParse resolves a ref to a commit hash.
	RevParse(ref string) (string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at the given path for an
	// existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeRemove removes the worktree at the given path,
	// optionally forcing removal of dirty trees.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain listing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFF merges the branch with --no-ff and a custom message.
	MergeNoFF(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// MergeBase returns the common ancestor of two branches.
	MergeBase(branch1, branch2 string) (string, error)
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// CheckoutOurs checks out the "ours" side of a conflicted file.
	CheckoutOurs(path string) error
	// CheckoutTheirs checks out the "theirs" side of a conflicted file.
	CheckoutTheirs(path string) error
}

// FileOperations defines the interface for git file and staging
// operations.
type FileOperations interface {
	// ShowFile returns the contents of a file at a specific ref.
	ShowFile(ref, path string) (string, error)
	// ChangedFilesRelative returns files changed on a branch relative
	// to another, using the triple-dot diff (relativeTo...branch).
	ChangedFilesRelative(branch, relativeTo string) ([]string, error)
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// Add stages the specified files for commit.
	Add(paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(message string) error
}

// Runner defines the complete interface for git operations. Consumers
// should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	WorktreeOperations
	MergeOperations
	FileOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
