package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/pkg/models"
)

const pollEvery = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Padding(0, 1)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Padding(0, 1)

	tableBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))
)

type snapshotMsg struct {
	snap *Snapshot
	err  error
}

type tickMsg time.Time

// TopModel is the `hive top` dashboard: a task table with a status
// summary, refreshed by polling the daemon's HTTP API.
type TopModel struct {
	client  *Client
	spinner spinner.Model
	table   table.Model

	snap    *Snapshot
	fetched bool
	err     error
	width   int
}

// NewTop builds the dashboard model over an API client.
func NewTop(client *Client) TopModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))

	tbl := table.New(
		table.WithColumns(taskColumns(80)),
		table.WithFocused(true),
		table.WithHeight(14),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("15"))
	styles.Selected = styles.Selected.
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("15")).
		Bold(true)
	tbl.SetStyles(styles)

	return TopModel{client: client, spinner: sp, table: tbl}
}

func taskColumns(width int) []table.Column {
	nameWidth := width - 52
	if nameWidth < 16 {
		nameWidth = 16
	}
	return []table.Column{
		{Title: "Task", Width: nameWidth},
		{Title: "Type", Width: 14},
		{Title: "Status", Width: 10},
		{Title: "Agent", Width: 16},
		{Title: "Try", Width: 5},
	}
}

// Init starts the spinner and the first poll.
func (m TopModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m TopModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		snap, err := m.client.Fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

// Update handles polls, resize, and key input.
func (m TopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetColumns(taskColumns(msg.Width))
		m.table.SetHeight(msg.Height - 8)

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())

	case snapshotMsg:
		m.fetched = true
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.table.SetRows(taskRows(msg.snap.Tasks))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// taskRows orders tasks running first, then by creation time, and
// renders them as table rows.
func taskRows(tasks []orchestrator.TaskSummary) []table.Row {
	sorted := append([]orchestrator.TaskSummary(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := statusRank(sorted[i].Status), statusRank(sorted[j].Status)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	rows := make([]table.Row, 0, len(sorted))
	for _, task := range sorted {
		rows = append(rows, table.Row{
			task.Name,
			string(task.Type),
			string(task.Status),
			task.AssignedTo,
			fmt.Sprintf("%d/%d", task.Attempt, task.MaxAttempts),
		})
	}
	return rows
}

func statusRank(status models.TaskStatus) int {
	switch status {
	case models.TaskStatusRunning:
		return 0
	case models.TaskStatusAssigned:
		return 1
	case models.TaskStatusQueued, models.TaskStatusPending:
		return 2
	case models.TaskStatusFailed, models.TaskStatusBlocked:
		return 3
	default:
		return 4
	}
}

// View renders the dashboard.
func (m TopModel) View() string {
	header := titleStyle.Render("hive top")
	if !m.fetched {
		return header + "\n" + summaryStyle.Render(m.spinner.View()+" connecting...")
	}
	if m.err != nil {
		return header + "\n" + errStyle.Render("daemon unreachable: "+m.err.Error()) +
			"\n" + footerStyle.Render("q: quit")
	}

	st := m.snap.Status
	summary := fmt.Sprintf(
		"session %s  tasks %d  running %d  completed %d  failed %d  blocked %d  agents %d  tokens %d",
		st.SessionID, st.TotalTasks, st.Running, st.Completed, st.Failed, st.Blocked,
		st.Agents, st.Tokens.Total(),
	)
	line := summaryStyle.Render(m.spinner.View() + " " + summary)
	if st.Paused {
		line += " " + pausedStyle.Render("PAUSED")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		line,
		tableBorder.Render(m.table.View()),
		footerStyle.Render("↑/↓: scroll  q: quit"),
	)
}
