package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/config"
	"igcrawler/pkg/models"
)

func newBufferLogger() (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	return NewWithWriter(&buf, zerolog.DebugLevel), &buf
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "console info", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "json debug", cfg: &config.LoggingConfig{Level: "debug", Format: "json"}},
		{name: "no color", cfg: &config.LoggingConfig{Level: "warn", NoColor: true}},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "crawl.log")}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
			if tt.cfg.File != "" {
				assert.FileExists(t, tt.cfg.File)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"off", zerolog.Disabled, false},
		{"", zerolog.InfoLevel, true},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestFieldsAreWritten(t *testing.T) {
	l, buf := newBufferLogger()

	l.WithField("profile", "https://www.instagram.com/p0/").
		WithFields(map[string]interface{}{"open": 2, "dev": true}).
		Info("task dispatched")

	out := buf.String()
	assert.Contains(t, out, "task dispatched")
	assert.Contains(t, out, `"profile":"https://www.instagram.com/p0/"`)
	assert.Contains(t, out, `"open":2`)
	assert.Contains(t, out, `"dev":true`)
	assert.Contains(t, out, `"app":"igcrawler"`)
}

func TestChildLoggerDoesNotLeakFields(t *testing.T) {
	l, buf := newBufferLogger()

	_ = l.WithField("child", "yes")
	l.Info("parent line")
	assert.NotContains(t, buf.String(), "child")
}

func TestWithError(t *testing.T) {
	l, buf := newBufferLogger()

	assert.Same(t, l, l.WithError(nil))

	l.WithError(errors.New("tab crashed")).Error("extraction aborted")
	assert.Contains(t, buf.String(), "tab crashed")
}

func TestStructuredFieldTypes(t *testing.T) {
	l, buf := newBufferLogger()

	l.InfoWithFields("typed", map[string]interface{}{
		"dur":   3 * time.Second,
		"ids":   []string{"a", "b"},
		"when":  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"count": int64(7),
		"other": struct{ N int }{N: 1},
	})

	out := buf.String()
	assert.Contains(t, out, `"ids":["a","b"]`)
	assert.Contains(t, out, `"count":7`)
}

func TestLogRecord(t *testing.T) {
	tl := NewTestLogger()
	start := time.Now()

	LogRecord(tl, models.ProfileRecord{
		ProfileID:   "https://www.instagram.com/p1/",
		ProfileData: models.ProfileData{Username: "p1"},
		StartedAt:   start,
		CompletedAt: start.Add(time.Second),
	})
	LogRecord(tl, models.ProfileRecord{
		ProfileID: "https://www.instagram.com/p2/",
		Failed:    true,
		ErrorType: "extraction_timeout",
		Error:     "timed out",
	})

	msgs := tl.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "INFO", msgs[0].Level)
	assert.Equal(t, "p1", msgs[0].Fields["username"])
	assert.Equal(t, "WARN", msgs[1].Level)
	assert.Equal(t, "extraction_timeout", msgs[1].Fields["error_type"])
}

func TestTestLoggerSharesCapture(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("component", "router").WithError(errors.New("bad envelope"))
	child.Warn("rejected message")

	require.True(t, tl.HasMessage("rejected"))
	msg := tl.GetMessagesByLevel("WARN")[0]
	assert.Equal(t, "router", msg.Fields["component"])
	assert.EqualError(t, msg.Error, "bad envelope")
	assert.Contains(t, tl.String(), "[WARN] rejected message")

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "debug", Format: "json"}))
	assert.NotNil(t, GetLogger())

	Debug("debug message")
	Info("info message")
	WithField("key", "value").Info("with field")
	WithError(errors.New("x")).Warn("with error")
}
