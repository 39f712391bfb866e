package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
)

const (
	maxRecentRecords = 200
	maxLogMessages   = 50
	statusInterval   = 250 * time.Millisecond
)

// Controller is the part of the scheduler the dashboard drives
type Controller interface {
	State() scheduler.Status
	Stop()
	UpdateCapacity(n int) int
}

// Model is the dashboard state. It is only touched from the bubbletea
// event loop.
type Model struct {
	spinner  spinner.Model
	tabGauge progress.Model
	ctrl     Controller

	status       scheduler.Status
	records      []models.ProfileRecord
	crawled      int
	failed       int
	discovered   int
	drained      bool
	sessionStart time.Time

	width       int
	height      int
	showHelp    bool
	logMessages []LogMessage
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// NewModel creates a dashboard bound to ctrl
func NewModel(ctrl Controller) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	gauge := progress.New(progress.WithDefaultGradient())
	gauge.Width = 30

	return &Model{
		spinner:      s,
		tabGauge:     gauge,
		ctrl:         ctrl,
		sessionStart: time.Now(),
	}
}

// Init starts the spinner and the status poll
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.pollStatus())
}

// ApplyStatus replaces the scheduler snapshot
func (m *Model) ApplyStatus(st scheduler.Status) {
	m.status = st
}

// AddRecord appends rec to the recent list and updates the tallies
func (m *Model) AddRecord(rec models.ProfileRecord) {
	m.crawled++
	if rec.Failed {
		m.failed++
	}
	m.discovered += len(rec.Discovered)

	m.records = append(m.records, rec)
	if len(m.records) > maxRecentRecords {
		m.records = m.records[len(m.records)-maxRecentRecords:]
	}
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	color := dimWhite
	switch level {
	case "ERROR":
		color = alertRed
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})
	if len(m.logMessages) > maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-maxLogMessages:]
	}
}

// Stats returns the crawl tallies and the crawl rate per minute
func (m *Model) Stats() (crawled, failed, discovered int, perMinute float64) {
	elapsed := time.Since(m.sessionStart).Minutes()
	if elapsed > 0 {
		perMinute = float64(m.crawled) / elapsed
	}
	return m.crawled, m.failed, m.discovered, perMinute
}

// RecentRecords returns up to n of the newest records, newest first
func (m *Model) RecentRecords(n int) []models.ProfileRecord {
	if n > len(m.records) {
		n = len(m.records)
	}
	out := make([]models.ProfileRecord, 0, n)
	for i := len(m.records) - 1; i >= len(m.records)-n; i-- {
		out = append(out, m.records[i])
	}
	return out
}

// Drained reports whether the crawl has run out of work
func (m *Model) Drained() bool {
	return m.drained
}
