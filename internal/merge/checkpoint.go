package merge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/git"
)

// Checkpoint marks the target branch commit recorded just before a
// merge, as a lightweight git tag. Good checkpoints are safe points
// to reset back to when a later merge leaves the branch broken.
type Checkpoint struct {
	// Source is the branch whose merge this checkpoint precedes.
	Source string
	// Commit is the target branch HEAD at checkpoint time.
	Commit string
	// Tag is the git tag name marking the commit.
	Tag string
	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time
	// Good reports whether the merge after this checkpoint landed.
	Good bool
}

// checkpointLog tags the target branch before each merge and tracks
// which merges landed cleanly.
type checkpointLog struct {
	prefix string
	git    git.Runner

	mu      sync.Mutex
	seq     int
	entries []*Checkpoint
}

func newCheckpointLog(runner git.Runner) *checkpointLog {
	return &checkpointLog{
		prefix: "hive-ckpt-" + uuid.NewString()[:8],
		git:    runner,
	}
}

// create tags the current HEAD ahead of merging source.
func (cl *checkpointLog) create(source string) (*Checkpoint, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	commit, err := cl.git.RevParse("HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	cl.seq++
	cp := &Checkpoint{
		Source:    source,
		Commit:    commit,
		Tag:       fmt.Sprintf("%s-%d", cl.prefix, cl.seq),
		CreatedAt: time.Now(),
	}
	if _, err := cl.git.Run("tag", cp.Tag, cp.Commit); err != nil {
		return nil, fmt.Errorf("tag checkpoint: %w", err)
	}
	cl.entries = append(cl.entries, cp)
	return cp, nil
}

func (cl *checkpointLog) markGood(cp *Checkpoint) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cp.Good = true
}

// lastGood returns a copy of the newest good checkpoint, nil if none.
func (cl *checkpointLog) lastGood() *Checkpoint {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for i := len(cl.entries) - 1; i >= 0; i-- {
		if cl.entries[i].Good {
			cp := *cl.entries[i]
			return &cp
		}
	}
	return nil
}

func (cl *checkpointLog) list() []Checkpoint {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]Checkpoint, len(cl.entries))
	for i, cp := range cl.entries {
		out[i] = *cp
	}
	return out
}

// cleanup deletes all checkpoint tags.
func (cl *checkpointLog) cleanup() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs []string
	for _, cp := range cl.entries {
		if _, err := cl.git.Run("tag", "-d", cp.Tag); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", cp.Tag, err))
		}
	}
	cl.entries = nil
	if len(errs) > 0 {
		return fmt.Errorf("delete checkpoint tags: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Checkpoints returns the recorded checkpoints in creation order.
// Empty unless checkpointing was enabled.
func (h *Handler) Checkpoints() []Checkpoint {
	if h.checkpoints == nil {
		return nil
	}
	return h.checkpoints.list()
}

// RollbackToLastGood hard-resets the target branch to the most recent
// checkpoint whose merge landed cleanly. Uncommitted changes on the
// branch are discarded.
func (h *Handler) RollbackToLastGood() (*Checkpoint, error) {
	if h.checkpoints == nil {
		return nil, fmt.Errorf("checkpointing is not enabled")
	}
	cp := h.checkpoints.lastGood()
	if cp == nil {
		return nil, fmt.Errorf("no good checkpoints to roll back to")
	}
	if err := h.git.CheckoutBranch(h.targetBranch); err != nil {
		return nil, fmt.Errorf("checkout target branch: %w", err)
	}
	if _, err := h.git.Run("reset", "--hard", cp.Commit); err != nil {
		return nil, fmt.Errorf("reset to checkpoint %s: %w", cp.Tag, err)
	}
	return cp, nil
}

// CleanupCheckpoints deletes the checkpoint tags, typically on clean
// shutdown.
func (h *Handler) CleanupCheckpoints() error {
	if h.checkpoints == nil {
		return nil
	}
	return h.checkpoints.cleanup()
}
