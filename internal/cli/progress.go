package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const pollInterval = time.Second

// dashboardStyles colors the watch view. Colors are 256-palette hex codes
// that stay readable on dark and light terminals.
type dashboardStyles struct {
	info lipgloss.Style
	good lipgloss.Style
	bad  lipgloss.Style
	dim  lipgloss.Style
}

func newDashboardStyles() dashboardStyles {
	fg := func(hex string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
	}
	return dashboardStyles{
		info: fg("#5FAFD7"),
		good: fg("#00D787").Bold(true),
		bad:  fg("#FF005F").Bold(true),
		dim:  fg("#6C6C6C").Italic(true),
	}
}

// statsFetcher is the part of the daemon client the dashboard polls.
type statsFetcher interface {
	Stats(ctx context.Context) (*models.StatsSnapshot, error)
}

// tickMsg triggers polling the daemon.
type tickMsg time.Time

// statsMsg carries a fresh snapshot.
type statsMsg struct {
	snap *models.StatsSnapshot
	err  error
}

// dashboardModel is the bubbletea model for 'jobpilot watch'.
type dashboardModel struct {
	client   statsFetcher
	snap     *models.StatsSnapshot
	progress progress.Model
	style    dashboardStyles
	lastErr  error
	quitting bool
}

func newDashboardModel(c statsFetcher) dashboardModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return dashboardModel{
		client:   c,
		progress: prog,
		style:    newDashboardStyles(),
	}
}

// Init returns the initial command (poll right away).
func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStats(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStats()

	case statsMsg:
		// A restarting daemon is shown, not fatal.
		m.lastErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m dashboardModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m dashboardModel) renderContent() string {
	if m.quitting {
		return ""
	}
	if m.snap == nil {
		if m.lastErr != nil {
			return m.style.bad.Render(fmt.Sprintf("✗ daemon unreachable: %s", m.lastErr)) + "\n"
		}
		return "Connecting to daemon...\n"
	}

	var b strings.Builder
	s := m.snap

	state := m.style.info.Render("[stopped]")
	if s.IsRunning {
		state = m.style.good.Render("[running]")
	}
	done, total := processed(s), s.QueueSize
	var pct float64
	if total > 0 {
		pct = float64(done) / float64(total)
	}
	fmt.Fprintf(&b, "%s %s %d/%d jobs\n\n", state, m.progress.ViewAs(pct), done, total)

	fmt.Fprintf(&b, "  Found %d  Analyzed %d  Applying %d\n", s.TotalFound, s.Analyzed, s.Applying)
	fmt.Fprintf(&b, "  %s  %s  %s\n",
		m.style.good.Render(fmt.Sprintf("Completed %d", s.Completed)),
		m.style.dim.Render(fmt.Sprintf("Skipped %d", s.Skipped)),
		m.style.bad.Render(fmt.Sprintf("Failed %d", s.Failed)))

	if s.CurrentJob != nil {
		fmt.Fprintf(&b, "\n  %s %s\n",
			m.style.info.Render(fmt.Sprintf("[%s]", s.CurrentJob.Status)),
			shorten(s.CurrentJob.Title, 60))
		if s.CurrentJob.Message != "" {
			fmt.Fprintf(&b, "  %s\n", m.style.dim.Render(shorten(s.CurrentJob.Message, 70)))
		}
	}

	if m.lastErr != nil {
		b.WriteString("\n" + m.style.bad.Render(fmt.Sprintf("✗ %s", m.lastErr)) + "\n")
	}
	b.WriteString("\n" + m.style.dim.Render("Press q to quit; the daemon keeps running") + "\n")
	return b.String()
}

// processed counts jobs that left the pending state for good.
func processed(s *models.StatsSnapshot) int {
	n := 0
	for _, j := range s.JobQueue {
		if j.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// fetchStats polls the daemon in a command to keep Update non-blocking.
func (m dashboardModel) fetchStats() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := m.client.Stats(ctx)
		return statsMsg{snap: snap, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runDashboard runs the interactive dashboard until the user quits.
func runDashboard(c statsFetcher) error {
	p := tea.NewProgram(newDashboardModel(c))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard UI error: %w", err)
	}
	return nil
}
