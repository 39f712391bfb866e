// Package tui is the full-screen crawl dashboard shown by `crawl --tui`.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"igcrawler/pkg/models"
)

// TUI represents the terminal user interface
type TUI struct {
	program *tea.Program
	model   *Model
}

// NewTUI creates a dashboard driving ctrl
func NewTUI(ctrl Controller, opts ...tea.ProgramOption) *TUI {
	model := NewModel(ctrl)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Start runs the dashboard until the user quits
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// RecordAppended forwards rec to the dashboard
func (t *TUI) RecordAppended(rec models.ProfileRecord) {
	t.Send(RecordMsg{Record: rec})
}

// Drained tells the dashboard the crawl has run out of work
func (t *TUI) Drained() {
	t.Send(DrainedMsg{})
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// LogInfo logs an info message
func (t *TUI) LogInfo(format string, args ...interface{}) {
	t.Log("INFO", format, args...)
}

// LogWarning logs a warning message
func (t *TUI) LogWarning(format string, args ...interface{}) {
	t.Log("WARN", format, args...)
}

// LogError logs an error message
func (t *TUI) LogError(format string, args ...interface{}) {
	t.Log("ERROR", format, args...)
}
