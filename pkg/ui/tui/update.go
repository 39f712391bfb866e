package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
)

// StatusMsg carries a fresh scheduler snapshot
type StatusMsg struct {
	Status scheduler.Status
}

// RecordMsg is sent for every appended record
type RecordMsg struct {
	Record models.ProfileRecord
}

// DrainedMsg is sent when the crawl ran out of work
type DrainedMsg struct{}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to refresh the scheduler snapshot
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, m.pollStatus()

	case StatusMsg:
		m.ApplyStatus(msg.Status)
		return m, tickCmd()

	case RecordMsg:
		m.AddRecord(msg.Record)
		if msg.Record.Failed {
			m.AddLogMessage("WARN", fmt.Sprintf("@%s %s", msg.Record.Username, msg.Record.ErrorType))
		} else {
			m.AddLogMessage("SUCCESS", fmt.Sprintf("@%s, %d suggested", msg.Record.Username, len(msg.Record.Discovered)))
		}
		return m, nil

	case DrainedMsg:
		m.drained = true
		m.AddLogMessage("INFO", "Frontier drained, nothing left to crawl")
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "s", "S":
		if m.ctrl != nil {
			m.ctrl.Stop()
			m.AddLogMessage("WARN", "Crawl stopped, waiting for open tabs to finish")
		}
		return m, m.pollStatus()

	case "+", "=":
		return m, m.adjustCapacity(1)

	case "-", "_":
		return m, m.adjustCapacity(-1)

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logMessages = nil
		return m, nil
	}

	return m, nil
}

func (m *Model) adjustCapacity(delta int) tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	n := m.ctrl.UpdateCapacity(m.status.Capacity + delta)
	m.AddLogMessage("INFO", fmt.Sprintf("Tab capacity set to %d", n))
	return m.pollStatus()
}

// pollStatus reads the scheduler snapshot off the event loop
func (m *Model) pollStatus() tea.Cmd {
	ctrl := m.ctrl
	if ctrl == nil {
		return nil
	}
	return func() tea.Msg {
		return StatusMsg{Status: ctrl.State()}
	}
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
