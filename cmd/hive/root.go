package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-agent software development orchestrator",
	Long: `Hive coordinates a team of specialized LLM agents on a shared
software project. A goal is decomposed into a dependency-ordered task
graph; agents claim tasks through a role-aware scheduler, work in
isolated git worktrees, and their branches are merged back with
automated conflict resolution.

Core capabilities:
- Decomposes goals into parallelizable task graphs
- Schedules tasks onto role-matched agents with load balancing
- Isolates every task in its own git worktree
- Accumulates episodic memory, reflections, and reusable patterns
- Enforces token budgets and context-window limits
- Detects stuck agents via heartbeat monitoring`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (overrides discovery)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
