package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/hive/internal/git"
)

// ConflictError reports conflicted files that could not be resolved
// automatically. The merge was aborted and the target branch is
// untouched.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict in %d file(s): %s", len(e.Files), strings.Join(e.Files, ", "))
}

// Result represents the outcome of a merge operation.
type Result struct {
	// Success indicates whether the merge landed on the target branch.
	Success bool
	// Source is the branch that was merged in.
	Source string
	// Target is the branch merged into.
	Target string
	// Strategy is the resolution strategy that was applied.
	Strategy Strategy
	// ConflictsFound counts files git reported as conflicted.
	ConflictsFound int
	// Resolved counts files whose conflicts were auto-resolved.
	Resolved int
	// ConflictFiles lists files still conflicted after resolution.
	ConflictFiles []string
	// ChangedFiles lists files the merge commit touched.
	ChangedFiles []string
	// Commit is the resulting merge commit hash.
	Commit string
	// Error carries the failure, if any.
	Error error
}

// Handler merges agent branches into a target branch, resolving
// conflicts with a per-handler strategy.
type Handler struct {
	targetBranch    string
	repoPath        string
	git             git.Runner
	strategy        Strategy
	combinedAllowed bool
	protected       *ProtectedPaths
	checkpoints     *checkpointLog
	debugLog        func(format string, args ...interface{})
}

// Option configures a Handler.
type Option func(*Handler)

// WithStrategy sets the resolution strategy. The combined strategy
// must be enabled explicitly via WithCombinedAllowed; a combined
// request without it falls back to theirs.
func WithStrategy(s Strategy) Option {
	return func(h *Handler) {
		if s.Valid() {
			h.strategy = s
		}
	}
}

// WithCombinedAllowed opts in to the combined strategy. Without it a
// configured combined strategy degrades to theirs.
func WithCombinedAllowed() Option {
	return func(h *Handler) {
		h.combinedAllowed = true
	}
}

// WithProtectedPaths overrides the protected path patterns.
func WithProtectedPaths(patterns []string) Option {
	return func(h *Handler) {
		h.protected = NewProtectedPaths(patterns)
	}
}

// WithCheckpoints tags the target branch before every merge so a bad
// run can be rolled back to the last merge that landed cleanly.
func WithCheckpoints() Option {
	return func(h *Handler) {
		h.checkpoints = newCheckpointLog(h.git)
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(h *Handler) {
		if fn != nil {
			h.debugLog = fn
		}
	}
}

// New creates a Handler for the repository at repoPath that merges
// into targetBranch.
func New(targetBranch, repoPath string, opts ...Option) *Handler {
	return NewWithRunner(targetBranch, repoPath, git.NewRunner(repoPath), opts...)
}

// NewWithRunner creates a Handler with a custom git runner (for testing).
func NewWithRunner(targetBranch, repoPath string, runner git.Runner, opts ...Option) *Handler {
	h := &Handler{
		targetBranch: targetBranch,
		repoPath:     repoPath,
		git:          runner,
		strategy:     StrategyTheirs,
		protected:    NewProtectedPaths(DefaultProtectedPatterns),
		debugLog:     func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.strategy == StrategyCombined && !h.combinedAllowed {
		h.debugLog("[merge] combined strategy not enabled, falling back to theirs")
		h.strategy = StrategyTheirs
	}
	return h
}

// TargetBranch returns the branch this handler merges into.
func (h *Handler) TargetBranch() string {
	return h.targetBranch
}

// Merge merges sourceBranch into the target branch with --no-ff. On
// conflicts it attempts per-file auto-resolution; if any file cannot
// be resolved the merge is aborted and the target branch is left
// untouched.
func (h *Handler) Merge(sourceBranch string) (*Result, error) {
	res := &Result{
		Source:   sourceBranch,
		Target:   h.targetBranch,
		Strategy: h.strategy,
	}

	if err := h.git.CheckoutBranch(h.targetBranch); err != nil {
		res.Error = fmt.Errorf("checkout target branch: %w", err)
		return res, res.Error
	}

	var cp *Checkpoint
	if h.checkpoints != nil {
		var err error
		if cp, err = h.checkpoints.create(sourceBranch); err != nil {
			h.debugLog("[merge] checkpoint before %s: %v", sourceBranch, err)
		}
	}

	message := fmt.Sprintf("Merge branch '%s' into %s", sourceBranch, h.targetBranch)
	if err := h.git.MergeNoFF(sourceBranch, message); err == nil {
		res.Success = true
		res.Commit, _ = h.git.RevParse("HEAD")
		res.ChangedFiles, _ = h.git.ChangedFilesRelative("HEAD", "HEAD^")
		if cp != nil {
			h.checkpoints.markGood(cp)
		}
		return res, nil
	}

	conflictFiles, _ := h.git.ConflictedFiles()
	res.ConflictsFound = len(conflictFiles)
	h.debugLog("[merge] %s -> %s: %d conflicted files", sourceBranch, h.targetBranch, len(conflictFiles))

	if blocked := h.protected.Filter(conflictFiles); len(blocked) > 0 {
		h.debugLog("[merge] protected files conflicted: %v", blocked)
		_ = h.git.MergeAbort()
		res.ConflictFiles = conflictFiles
		res.Error = &ConflictError{Files: blocked}
		return res, res.Error
	}

	resolved, failed := h.resolveConflicts(conflictFiles)
	if len(failed) > 0 {
		_ = h.git.MergeAbort()
		res.ConflictFiles = failed
		res.Error = &ConflictError{Files: failed}
		return res, res.Error
	}

	commitMsg := fmt.Sprintf("%s (auto-resolved %d conflicts, strategy %s)", message, resolved, h.strategy)
	if err := h.git.Commit(commitMsg); err != nil {
		_ = h.git.MergeAbort()
		res.ConflictFiles = conflictFiles
		res.Error = fmt.Errorf("commit resolved merge: %w", err)
		return res, res.Error
	}

	res.Success = true
	res.Resolved = resolved
	res.Commit, _ = h.git.RevParse("HEAD")
	res.ChangedFiles, _ = h.git.ChangedFilesRelative("HEAD", "HEAD^")
	if cp != nil {
		h.checkpoints.markGood(cp)
	}
	return res, nil
}

// resolveConflicts rewrites each conflicted file per the handler
// strategy and stages it. Files without textual conflict markers fall
// back to a whole-file checkout of the chosen side.
func (h *Handler) resolveConflicts(files []string) (resolved int, failed []string) {
	for _, file := range files {
		fullPath := filepath.Join(h.repoPath, file)

		content, err := os.ReadFile(fullPath)
		if err != nil {
			h.debugLog("[merge] read %s: %v", file, err)
			failed = append(failed, file)
			continue
		}

		out, hunks, err := ResolveFile(content, h.strategy)
		if err != nil {
			h.debugLog("[merge] resolve %s: %v", file, err)
			failed = append(failed, file)
			continue
		}

		if hunks == 0 {
			// No textual markers (binary or tree-level conflict):
			// take the whole file from the chosen side.
			if err := h.checkoutSide(file); err != nil {
				h.debugLog("[merge] checkout side for %s: %v", file, err)
				failed = append(failed, file)
				continue
			}
		} else if err := os.WriteFile(fullPath, out, 0644); err != nil {
			h.debugLog("[merge] write %s: %v", file, err)
			failed = append(failed, file)
			continue
		}

		if err := h.git.Add(file); err != nil {
			h.debugLog("[merge] stage %s: %v", file, err)
			failed = append(failed, file)
			continue
		}
		resolved++
	}
	return resolved, failed
}

// checkoutSide resolves a markerless conflict by taking one whole side.
func (h *Handler) checkoutSide(file string) error {
	switch h.strategy {
	case StrategyOurs:
		return h.git.CheckoutOurs(file)
	case StrategyTheirs:
		return h.git.CheckoutTheirs(file)
	default:
		return fmt.Errorf("strategy %s cannot resolve a markerless conflict", h.strategy)
	}
}

// Abort aborts an in-progress merge.
func (h *Handler) Abort() error {
	return h.git.MergeAbort()
}

// DeleteBranch removes a merged source branch.
func (h *Handler) DeleteBranch(branch string) error {
	return h.git.DeleteBranch(branch)
}
