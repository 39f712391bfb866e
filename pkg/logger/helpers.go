package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"igcrawler/pkg/models"
)

// LogComponentStart logs when a long-lived component starts
func LogComponentStart(l Logger, component string, fields map[string]interface{}) {
	if l == nil {
		l = GetLogger()
	}
	l.WithField("component", component).InfoWithFields("Component started", fields)
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component, reason string) {
	if l == nil {
		l = GetLogger()
	}
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogRecord logs the outcome of one extraction task. Failures go to warn so
// a crawl that keeps going is not reported as broken.
func LogRecord(l Logger, rec models.ProfileRecord) {
	if l == nil {
		l = GetLogger()
	}
	fields := map[string]interface{}{
		"profile":    rec.ProfileID,
		"discovered": len(rec.Discovered),
		"duration":   rec.CompletedAt.Sub(rec.StartedAt),
	}
	if rec.Suggester != "" {
		fields["suggester"] = rec.Suggester
	}

	if rec.Failed {
		fields["error_type"] = rec.ErrorType
		l.WarnWithFields("Extraction failed: "+rec.Error, fields)
		return
	}
	fields["username"] = rec.Username
	l.InfoWithFields("Profile extracted", fields)
}

// LogRequest logs one served HTTP request
func LogRequest(l Logger, method, path string, status int, duration time.Duration) {
	if l == nil {
		l = GetLogger()
	}
	fields := map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   status,
		"duration": duration,
	}

	switch {
	case status >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	case status >= 400:
		l.WarnWithFields("HTTP request client error", fields)
	default:
		l.DebugWithFields("HTTP request completed", fields)
	}
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
