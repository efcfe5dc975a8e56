package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/tui"
)

var topAddr string

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live dashboard for a running hive daemon",
	Long: `Attach a terminal dashboard to a running daemon.

Polls the daemon's HTTP API and shows tasks, agents, and token usage,
refreshing every couple of seconds. Quit with q or ctrl+c.`,
	RunE: runTop,
}

func init() {
	topCmd.Flags().StringVar(&topAddr, "addr", "", "Daemon address (defaults to the configured server address)")
}

func runTop(cmd *cobra.Command, args []string) error {
	addr := topAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}

	model := tui.NewTop(tui.NewClient(apiBaseURL(addr)))
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}
