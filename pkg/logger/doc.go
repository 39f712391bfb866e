// Package logger is the structured logging layer shared by every crawler
// component.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger as a dependency and tests can swap in a TestLogger:
//
//	log := logger.GetLogger().WithField("component", "scheduler")
//	log.InfoWithFields("Task dispatched", map[string]interface{}{
//	    "profile": item.ID,
//	    "open":    openCount,
//	})
//
// Configuration comes from the logging section of the crawler config:
// level, format (console or json), an optional file that receives a JSON
// copy of every line, and no_color for plain console output.
package logger
