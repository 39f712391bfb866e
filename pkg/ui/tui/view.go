package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"igcrawler/pkg/models"
)

const header = `
╔═══════════════════════════════════════════════╗
║   I G C R A W L E R   ·   frontier dashboard  ║
╚═══════════════════════════════════════════════╝`

// View renders the entire TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, headerStyle.Width(m.width).Render(header))

	width := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(width),
		m.renderTabsPanel(width),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderRecordsPanel(width),
		m.renderLogsPanel(width),
	)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" CRAWL ")
	crawled, failed, discovered, rate := m.Stats()

	state := string(m.status.State)
	if state == "" {
		state = "idle"
	}

	stats := []string{
		stat("State:", stateStyle(state).Render(strings.ToUpper(state))),
		stat("Session Time:", formatDuration(time.Since(m.sessionStart))),
		stat("Crawled:", fmt.Sprintf("%d profiles (%.1f/min)", crawled, rate)),
		stat("Discovered:", fmt.Sprintf("%d suggestions", discovered)),
		stat("Queued:", fmt.Sprintf("%d", m.status.Queued)),
		stat("Visited:", fmt.Sprintf("%d", m.status.Visited)),
	}
	if failed > 0 {
		stats = append(stats, errorStyle.Render(fmt.Sprintf("✗ %d failed", failed)))
	}
	if m.status.DevMode {
		stats = append(stats, warningStyle.Render("dev mode: stack traces on"))
	}
	if m.drained {
		stats = append(stats, successStyle.Render("✓ frontier drained"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

func (m *Model) renderTabsPanel(width int) string {
	title := titleStyle.Render(" OPEN TABS ")

	ratio := 0.0
	if m.status.Capacity > 0 {
		ratio = float64(m.status.OpenCount) / float64(m.status.Capacity)
	}
	gauge := m.tabGauge
	gauge.Width = width - 20
	if gauge.Width < 10 {
		gauge.Width = 10
	}

	lines := []string{
		fmt.Sprintf("%s %d/%d", statsLabelStyle.Render("Tabs:"), m.status.OpenCount, m.status.Capacity),
		gauge.ViewAs(ratio),
		"",
	}

	if len(m.status.Tasks) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(dimWhite).Render("No open tabs"))
	}
	for _, task := range m.status.Tasks {
		name := "@" + models.UsernameFromURL(task.URL)
		if task.ReadyAt.IsZero() {
			lines = append(lines, tabItemWaitingStyle.Render(fmt.Sprintf("%s %s loading", m.spinner.View(), name)))
			continue
		}
		age := time.Since(task.ReadyAt).Round(time.Second)
		lines = append(lines, tabItemStyle.Render(fmt.Sprintf("%s %s extracting %s", m.spinner.View(), name, age)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

func (m *Model) renderRecordsPanel(width int) string {
	title := titleStyle.Render(" RECENT PROFILES ")

	recent := m.RecentRecords(8)
	if len(recent) == 0 {
		content := lipgloss.NewStyle().Foreground(dimWhite).Render("No profiles yet...")
		return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
	}

	var items []string
	for _, rec := range recent {
		items = append(items, recordItemStyle.Render(truncate(recordLine(rec), width-8)))
	}
	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, items...)),
	)
}

func recordLine(rec models.ProfileRecord) string {
	if rec.Failed {
		return errorStyle.Render("✗ ") + "@" + rec.Username + " " + rec.ErrorType
	}
	line := successStyle.Render("✓ ") + "@" + rec.Username
	if rec.FollowerCount != "" {
		line += " " + statsValueStyle.Render(rec.FollowerCount)
	}
	if n := len(rec.Discovered); n > 0 {
		line += fmt.Sprintf(" +%d", n)
	}
	return line
}

func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		message := logMessageStyle.Render(truncate(log.Message, width-25))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, message))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = lipgloss.NewStyle().Foreground(dimWhite).Render("No logs yet...")
	}

	logsHeight := m.height - 30
	if logsHeight < 5 {
		logsHeight = 5
	}
	return panelStyle.Width(width).Height(logsHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

func (m *Model) renderHelp() string {
	help := `
  Keys:
    q/Q      - Quit the dashboard
    s/S      - Stop the crawl (open tabs finish)
    +/-      - Raise or lower the tab capacity
    ctrl+l   - Clear the log
    ?        - Toggle this help

  Status:
    ` + successStyle.Render("Green") + `    - Running / extracted
    ` + warningStyle.Render("Orange") + `   - Draining / warning
    ` + errorStyle.Render("Red") + `      - Failed extraction
`
	return panelStyle.Width(m.width).Render(help)
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration formats a duration as hh:mm:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
