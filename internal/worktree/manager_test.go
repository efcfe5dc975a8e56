package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// fakeGit implements the git surface the manager needs and records
// every call.
type fakeGit struct {
	branches       map[string]bool
	createdBranch  []string
	addedWorktrees []string
	removed        []string
	removeErr      error
	listOut        string
	pruneCalls     int
}

func newFakeGit() *fakeGit {
	return &fakeGit{branches: make(map[string]bool)}
}

func (f *fakeGit) CurrentBranch() (string, error) { return "main", nil }

func (f *fakeGit) CreateBranch(name, base string) error {
	f.createdBranch = append(f.createdBranch, name+"@"+base)
	f.branches[name] = true
	return nil
}

func (f *fakeGit) CheckoutBranch(name string) error { return nil }

func (f *fakeGit) BranchExists(name string) (bool, error) { return f.branches[name], nil }

func (f *fakeGit) DeleteBranch(name string) error {
	delete(f.branches, name)
	return nil
}

func (f *fakeGit) RevParse(ref string) (string, error) { return "deadbeef", nil }

func (f *fakeGit) WorktreeAdd(path, branch string) error {
	f.addedWorktrees = append(f.addedWorktrees, path)
	return os.MkdirAll(path, 0755)
}

func (f *fakeGit) WorktreeRemove(path string, force bool) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

func (f *fakeGit) WorktreeListPorcelain() (string, error) { return f.listOut, nil }

func (f *fakeGit) WorktreePrune() error {
	f.pruneCalls++
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeGit) {
	t.Helper()
	fake := newFakeGit()
	m, err := NewWithRunner(t.TempDir(), fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m, fake
}

func TestSanitizeBranch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"feat/login", "feat-login"},
		{"fix me now", "fix-me-now"},
		{"feat/add new thing", "feat-add-new-thing"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeBranch(tt.in); got != tt.want {
				t.Errorf("SanitizeBranch(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCreate_ForksMissingBranch(t *testing.T) {
	m, fake := newTestManager(t)

	wt, err := m.Create("feat/login", "agent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPath := filepath.Join(m.BaseDir(), "feat-login")
	if wt.Path != wantPath {
		t.Errorf("path = %q, want %q", wt.Path, wantPath)
	}
	if wt.Branch != "feat/login" {
		t.Errorf("branch = %q, want feat/login", wt.Branch)
	}
	if len(fake.createdBranch) != 1 || fake.createdBranch[0] != "feat/login@main" {
		t.Errorf("created branches = %v, want [feat/login@main]", fake.createdBranch)
	}
	if len(fake.addedWorktrees) != 1 || fake.addedWorktrees[0] != wantPath {
		t.Errorf("added worktrees = %v, want [%s]", fake.addedWorktrees, wantPath)
	}
	if path, ok := m.AgentPath("agent-1"); !ok || path != wantPath {
		t.Errorf("AgentPath = %q, %v; want %q, true", path, ok, wantPath)
	}
}

func TestCreate_ExistingBranchSkipsFork(t *testing.T) {
	m, fake := newTestManager(t)
	fake.branches["feat/login"] = true

	if _, err := m.Create("feat/login", "agent-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.createdBranch) != 0 {
		t.Errorf("created branches = %v, want none", fake.createdBranch)
	}
}

func TestCreate_ReusesExistingDirectory(t *testing.T) {
	m, fake := newTestManager(t)
	path := filepath.Join(m.BaseDir(), "feat-login")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wt, err := m.Create("feat/login", "agent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wt.Path != path {
		t.Errorf("path = %q, want %q", wt.Path, path)
	}
	if len(fake.addedWorktrees) != 0 {
		t.Errorf("added worktrees = %v, want none for reused directory", fake.addedWorktrees)
	}
	if got, ok := m.AgentPath("agent-1"); !ok || got != path {
		t.Errorf("AgentPath = %q, %v; want %q, true", got, ok, path)
	}
}

func TestCreate_OwnershipIsExclusive(t *testing.T) {
	m, _ := newTestManager(t)

	wt1, err := m.Create("feat/a", "agent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second agent claiming the same worktree displaces the first.
	if _, err := m.Create("feat/a", "agent-2", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.AgentPath("agent-1"); ok {
		t.Error("agent-1 should have lost the worktree")
	}
	if path, ok := m.AgentPath("agent-2"); !ok || path != wt1.Path {
		t.Errorf("AgentPath(agent-2) = %q, %v; want %q, true", path, ok, wt1.Path)
	}

	// An agent claiming a second worktree releases its first.
	if _, err := m.Create("feat/b", "agent-2", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path, ok := m.AgentPath("agent-2")
	if !ok || path == wt1.Path {
		t.Errorf("AgentPath(agent-2) = %q, want the feat/b worktree", path)
	}
}

func TestRemove_ForceFallback(t *testing.T) {
	m, fake := newTestManager(t)
	wt, err := m.Create("feat/a", "agent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fake.removeErr = fmt.Errorf("worktree is dirty")
	if err := m.Remove(wt.Path, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(wt.Path); !os.IsNotExist(err) {
		t.Error("worktree directory should have been force-removed")
	}
	if fake.pruneCalls == 0 {
		t.Error("expected a prune after force removal")
	}
	if _, ok := m.AgentPath("agent-1"); ok {
		t.Error("agent association should be cleared after removal")
	}
}

func TestList_AnnotatesMainAndOwners(t *testing.T) {
	m, fake := newTestManager(t)
	wt, err := m.Create("feat/a", "agent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fake.listOut = fmt.Sprintf(`worktree %s
branch refs/heads/main

worktree %s
branch refs/heads/feat/a
`, m.RepoPath(), wt.Path)

	worktrees, err := m.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(worktrees) != 2 {
		t.Fatalf("got %d worktrees, want 2", len(worktrees))
	}
	if !worktrees[0].IsMain {
		t.Error("first worktree should be marked main")
	}
	if worktrees[0].AgentID != "" {
		t.Errorf("main worktree agent = %q, want empty", worktrees[0].AgentID)
	}
	if worktrees[1].Branch != "feat/a" {
		t.Errorf("branch = %q, want feat/a", worktrees[1].Branch)
	}
	if worktrees[1].AgentID != "agent-1" {
		t.Errorf("agent = %q, want agent-1", worktrees[1].AgentID)
	}
}

func TestCleanupAll_RemovesNonMainOnly(t *testing.T) {
	m, fake := newTestManager(t)
	wtA, err := m.Create("feat/a", "agent-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wtB, err := m.Create("feat/b", "agent-2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fake.listOut = fmt.Sprintf(`worktree %s
branch refs/heads/main

worktree %s
branch refs/heads/feat/a

worktree %s
branch refs/heads/feat/b
`, m.RepoPath(), wtA.Path, wtB.Path)

	removed, err := m.CleanupAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for _, path := range fake.removed {
		if path == m.RepoPath() {
			t.Error("cleanup must not touch the main checkout")
		}
	}
	if fake.pruneCalls == 0 {
		t.Error("expected a prune after cleanup")
	}
}
