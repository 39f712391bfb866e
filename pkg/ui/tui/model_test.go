package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/models"
	"igcrawler/pkg/scheduler"
)

type fakeController struct {
	status   scheduler.Status
	stopped  int
	capacity []int
}

func (f *fakeController) State() scheduler.Status { return f.status }
func (f *fakeController) Stop()                   { f.stopped++ }
func (f *fakeController) UpdateCapacity(n int) int {
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	f.capacity = append(f.capacity, n)
	f.status.Capacity = n
	return n
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestAddRecordTallies(t *testing.T) {
	m := NewModel(nil)
	m.AddRecord(models.ProfileRecord{ProfileData: models.ProfileData{Username: "a"}, Discovered: []models.WorkItem{{ID: "x"}, {ID: "y"}}})
	m.AddRecord(models.ProfileRecord{ProfileData: models.ProfileData{Username: "b"}, Failed: true})

	crawled, failed, discovered, _ := m.Stats()
	assert.Equal(t, 2, crawled)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, discovered)

	recent := m.RecentRecords(5)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Username)
}

func TestRecentRecordsAreBounded(t *testing.T) {
	m := NewModel(nil)
	for i := 0; i < maxRecentRecords+20; i++ {
		m.AddRecord(models.ProfileRecord{})
	}
	assert.Len(t, m.records, maxRecentRecords)
	crawled, _, _, _ := m.Stats()
	assert.Equal(t, maxRecentRecords+20, crawled)
}

func TestLogMessagesAreBounded(t *testing.T) {
	m := NewModel(nil)
	for i := 0; i < maxLogMessages+5; i++ {
		m.AddLogMessage("INFO", "tick")
	}
	assert.Len(t, m.logMessages, maxLogMessages)
	assert.Equal(t, neonCyan, m.logMessages[0].Color)
}

func TestStopKey(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl)

	_, cmd := m.Update(key('s'))
	assert.Equal(t, 1, ctrl.stopped)
	require.NotNil(t, cmd)

	msg := cmd()
	_, ok := msg.(StatusMsg)
	assert.True(t, ok)
}

func TestCapacityKeys(t *testing.T) {
	ctrl := &fakeController{status: scheduler.Status{Capacity: 3}}
	m := NewModel(ctrl)
	m.ApplyStatus(ctrl.status)

	m.Update(key('+'))
	m.ApplyStatus(ctrl.status)
	m.Update(key('-'))
	m.ApplyStatus(ctrl.status)
	m.Update(key('-'))

	assert.Equal(t, []int{4, 3, 2}, ctrl.capacity)
}

func TestQuitKey(t *testing.T) {
	m := NewModel(nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestRecordAndDrainedMessages(t *testing.T) {
	m := NewModel(nil)
	m.Update(RecordMsg{Record: models.ProfileRecord{ProfileData: models.ProfileData{Username: "alice"}}})
	m.Update(DrainedMsg{})

	assert.True(t, m.Drained())
	require.Len(t, m.logMessages, 2)
	assert.Contains(t, m.logMessages[0].Message, "@alice")
}

func TestViewRendersState(t *testing.T) {
	m := NewModel(nil)
	assert.Equal(t, "Initializing...", m.View())

	m.Update(tea.WindowSizeMsg{Width: 160, Height: 50})
	m.ApplyStatus(scheduler.Status{
		State:     scheduler.StateRunning,
		Capacity:  2,
		OpenCount: 1,
		Tasks: []scheduler.TaskInfo{
			{URL: "https://www.instagram.com/carol/", StartedAt: time.Now(), ReadyAt: time.Now()},
		},
	})
	m.AddRecord(models.ProfileRecord{ProfileData: models.ProfileData{Username: "alice", FollowerCount: "12k"}})

	view := m.View()
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "@carol")
	assert.Contains(t, view, "@alice")
	assert.Contains(t, view, "1/2")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abc", truncate("abc", 2))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "01:05", formatDuration(65*time.Second))
	assert.Equal(t, "01:00:01", formatDuration(time.Hour+time.Second))
	assert.Equal(t, "00:00:00", formatDuration(-time.Second))
}
