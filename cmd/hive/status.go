package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current session state",
	Long: `Display the state of the hive session for this project.

Queries the running daemon first; if no daemon is listening, falls back
to the project's state database and shows the most recent runs.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// A running daemon has the freshest picture.
	client := tui.NewClient(apiBaseURL(cfg.Server.Addr))
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	if snap, err := client.Fetch(ctx); err == nil {
		displayLiveStatus(snap)
		return nil
	}

	return displayOfflineStatus()
}

func displayLiveStatus(snap *tui.Snapshot) {
	s := snap.Status
	color.Green("Session %s", s.SessionID)
	if s.Paused {
		color.Yellow("  Dispatch: PAUSED")
	}
	fmt.Printf("  Tasks: %d total, %d running, %d completed, %d failed, %d blocked\n",
		s.TotalTasks, s.Running, s.Completed, s.Failed, s.Blocked)
	fmt.Printf("  Agents: %d registered\n", s.Agents)
	fmt.Printf("  Tokens: %s\n", formatNumber(s.Tokens.Total()))

	if len(snap.Tasks) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Tasks:")
	for _, t := range snap.Tasks {
		line := fmt.Sprintf("  %-10s %-24s %s", t.Status, truncate(t.Name, 24), t.ID)
		if t.AssignedTo != "" {
			line += "  [" + t.AssignedTo + "]"
		}
		if t.Error != "" {
			line += "  error: " + t.Error
		}
		fmt.Println(line)
	}
}

func displayOfflineStatus() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if _, err := os.Stat(state.ProjectDBPath(cwd)); os.IsNotExist(err) {
		fmt.Println("No daemon running and no runs recorded. Start one with 'hive serve --goal <goal>'.")
		return nil
	}

	db, err := state.OpenProject(cwd)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	latest, err := db.LatestRun()
	if errors.Is(err, state.ErrNotFound) {
		fmt.Println("No runs recorded. Start one with 'hive serve --goal <goal>'.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest run: %w", err)
	}

	fmt.Println("No daemon running. Last recorded run:")
	displayRun(latest)

	runs, err := db.ListRuns(6)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	var recent []*state.Run
	for _, r := range runs {
		if r.ID != latest.ID {
			recent = append(recent, r)
		}
	}
	if len(recent) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println("Earlier runs:")
	for _, r := range recent {
		fmt.Printf("  %s: %s, %d/%d tasks (%s ago)\n",
			r.ID, r.Status, r.CompletedTasks, r.TotalTasks,
			formatDuration(time.Since(r.StartedAt)))
	}
	return nil
}

func displayRun(r *state.Run) {
	fmt.Printf("  Run: %s\n", r.ID)
	fmt.Printf("  Goal: %s\n", truncate(r.Goal, 72))
	fmt.Printf("  Status: %s\n", r.Status)
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(r.StartedAt)))
	if r.EndedAt != nil {
		fmt.Printf("  Duration: %s\n", formatDuration(r.EndedAt.Sub(r.StartedAt)))
	}
	fmt.Printf("  Tasks: %d total, %d completed, %d failed\n",
		r.TotalTasks, r.CompletedTasks, r.FailedTasks)
	fmt.Printf("  Tokens: %s\n", formatNumber(r.Tokens.Total()))
}

// apiBaseURL turns a listen address into a client base URL. Bare ports
// like ":8080" resolve against loopback.
func apiBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration renders a duration in coarse human units.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		b.WriteString(s[:offset])
		b.WriteString(",")
	}
	for i := offset; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteString(",")
		}
	}
	return b.String()
}
