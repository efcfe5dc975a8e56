package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/control"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/worktree"
)

var (
	cleanupRuns      bool
	cleanupOlderThan time.Duration
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove leftover worktrees, signals, and old runs",
	Long: `Clean up after a crashed or interrupted session.

This command:
  - Removes all hive-managed git worktrees and prunes stale entries
  - Clears pending control signal files under .hive/signals

With --runs:
  - Purges run records older than --older-than from the state database

Use this after a crash to return the repository to a clean state.

Examples:
  hive cleanup                       # Remove worktrees and signals
  hive cleanup --runs                # Also purge runs older than a week
  hive cleanup --runs --older-than 720h`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupRuns, "runs", false, "Purge old run records from the state database")
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 7*24*time.Hour, "Age threshold for --runs")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	trees, err := worktree.New(repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}
	removed, err := trees.CleanupAll()
	if err != nil {
		return fmt.Errorf("cleanup worktrees: %w", err)
	}
	if removed > 0 {
		fmt.Printf("Removed %d worktree(s).\n", removed)
	} else {
		fmt.Println("No worktrees to remove.")
	}

	control.ClearSignals(repoPath)

	if cleanupRuns {
		if err := purgeOldRuns(repoPath); err != nil {
			return err
		}
	}
	return nil
}

func purgeOldRuns(repoPath string) error {
	if _, err := os.Stat(state.ProjectDBPath(repoPath)); os.IsNotExist(err) {
		fmt.Println("No state database found - no runs to purge.")
		return nil
	}

	db, err := state.OpenProject(repoPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	purged, err := db.PurgeOldRuns(cleanupOlderThan)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}
	if purged > 0 {
		fmt.Printf("Purged %d run(s) older than %s.\n", purged, cleanupOlderThan)
	} else {
		fmt.Printf("No runs older than %s found.\n", cleanupOlderThan)
	}
	return nil
}

// findGitRoot walks upward looking for a .git directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
