// Package worktree manages per-agent git worktrees so that many
// workers can mutate the repository concurrently without file-level
// contention.
package worktree

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/hive/internal/git"
	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrCreate indicates the worktree could not be allocated.
var ErrCreate = errors.New("worktree create failed")

// ErrRemove indicates the worktree could not be removed.
var ErrRemove = errors.New("worktree remove failed")

// worktreesDir is the directory under the repository root that holds
// all managed worktrees.
const worktreesDir = ".worktrees"

// DefaultBaseBranch is the branch new agent branches fork from when
// none is given.
const DefaultBaseBranch = "main"

// gitOps is the slice of git behavior the manager needs.
type gitOps interface {
	git.BranchOperations
	git.WorktreeOperations
}

// Manager allocates and tracks git worktrees. Each agent owns at most
// one worktree, and each worktree has at most one owning agent.
type Manager struct {
	repoPath string
	baseDir  string
	git      gitOps

	mu      sync.Mutex
	byAgent map[string]string // agent id -> worktree path
	owner   map[string]string // worktree path -> agent id
}

// New creates a Manager for the repository at repoPath.
func New(repoPath string) (*Manager, error) {
	return NewWithRunner(repoPath, git.NewRunner(repoPath))
}

// NewWithRunner creates a Manager with a custom git runner (for testing).
func NewWithRunner(repoPath string, runner gitOps) (*Manager, error) {
	baseDir := filepath.Join(repoPath, worktreesDir)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	return &Manager{
		repoPath: repoPath,
		baseDir:  baseDir,
		git:      runner,
		byAgent:  make(map[string]string),
		owner:    make(map[string]string),
	}, nil
}

// SanitizeBranch turns a branch name into a directory name by
// replacing `/` and spaces with `-`.
func SanitizeBranch(branch string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(branch)
}

// PathFor returns the sanitized worktree path a branch maps to.
func (m *Manager) PathFor(branch string) string {
	return filepath.Join(m.baseDir, SanitizeBranch(branch))
}

// Create allocates a worktree for branchName owned by agentID. A
// missing branch is forked from baseBranch (default main). An existing
// directory is reused and re-associated with the agent.
func (m *Manager) Create(branchName, agentID, baseBranch string) (*models.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if branchName == "" {
		return nil, fmt.Errorf("%w: empty branch name", ErrCreate)
	}
	if baseBranch == "" {
		baseBranch = DefaultBaseBranch
	}
	path := m.PathFor(branchName)

	if _, err := os.Stat(path); err == nil {
		// Directory already allocated: reuse and re-associate.
		m.associateLocked(agentID, path)
		return &models.Worktree{
			Path:      path,
			Branch:    branchName,
			AgentID:   agentID,
			CreatedAt: time.Now(),
		}, nil
	}

	exists, err := m.git.BranchExists(branchName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}
	if !exists {
		if err := m.git.CreateBranch(branchName, baseBranch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCreate, err)
		}
	}
	if err := m.git.WorktreeAdd(path, branchName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}

	m.associateLocked(agentID, path)
	return &models.Worktree{
		Path:      path,
		Branch:    branchName,
		AgentID:   agentID,
		CreatedAt: time.Now(),
	}, nil
}

// associateLocked records agentID as the owner of path, displacing any
// previous association on either side.
func (m *Manager) associateLocked(agentID, path string) {
	if agentID == "" {
		return
	}
	if old, ok := m.byAgent[agentID]; ok && old != path {
		delete(m.owner, old)
	}
	if prev, ok := m.owner[path]; ok && prev != agentID {
		delete(m.byAgent, prev)
	}
	m.byAgent[agentID] = path
	m.owner[path] = agentID
}

// AgentPath returns the worktree path owned by the agent, if any.
func (m *Manager) AgentPath(agentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.byAgent[agentID]
	return path, ok
}

// Remove detaches the worktree at path. If the detach fails and the
// directory is still present, the directory is force-removed and
// stale references are pruned.
func (m *Manager) Remove(path string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(path, force)
}

func (m *Manager) removeLocked(path string, force bool) error {
	gitErr := m.git.WorktreeRemove(path, force)
	if gitErr != nil {
		if _, err := os.Stat(path); err == nil {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("%w: %v", ErrRemove, err)
			}
			// The directory is gone but git still references it.
			_ = m.git.WorktreePrune()
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrRemove, gitErr)
		}
	}

	if agentID, ok := m.owner[path]; ok {
		delete(m.byAgent, agentID)
		delete(m.owner, path)
	}
	return nil
}

// List enumerates all worktrees known to git, annotated with owning
// agents and the main checkout flag.
func (m *Manager) List() ([]*models.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return m.parseWorktreeListLocked(output)
}

// parseWorktreeListLocked parses 'git worktree list --porcelain'
// output. The caller must hold mu.
func (m *Manager) parseWorktreeListLocked(output string) ([]*models.Worktree, error) {
	var worktrees []*models.Worktree
	var current *models.Worktree

	flush := func() {
		if current == nil {
			return
		}
		current.IsMain = filepath.Clean(current.Path) == filepath.Clean(m.repoPath)
		current.AgentID = m.owner[current.Path]
		worktrees = append(worktrees, current)
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "worktree ") {
			flush()
			current = &models.Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// CleanupAll removes every non-main worktree, prunes stale references,
// and returns the number of worktrees removed.
func (m *Manager) CleanupAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return 0, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees, err := m.parseWorktreeListLocked(output)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, wt := range worktrees {
		if wt.IsMain {
			continue
		}
		if err := m.removeLocked(wt.Path, true); err != nil {
			continue
		}
		removed++
	}
	_ = m.git.WorktreePrune()
	return removed, nil
}

// BaseDir returns the directory that holds managed worktrees.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RepoPath returns the path of the main repository checkout.
func (m *Manager) RepoPath() string {
	return m.repoPath
}
