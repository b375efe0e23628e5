// Package util provides logging and stream statistics shared by the
// producer and consumer.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm.DefaultLogger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...any)   { logf(pterm.LogLevelDebug, nil, format, args...) }
func LogInfo(format string, args ...any)    { logf(pterm.LogLevelInfo, nil, format, args...) }
func LogSuccess(format string, args ...any) { logf(pterm.LogLevelInfo, nil, format, args...) }
func LogWarning(format string, args ...any) { logf(pterm.LogLevelWarn, nil, format, args...) }
func LogError(format string, args ...any)   { logf(pterm.LogLevelError, nil, format, args...) }

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SessionLog logs on behalf of one stream session. Every line carries the
// short session id as a "session" field.
type SessionLog struct {
	args []pterm.LoggerArgument
}

// ForSession returns a SessionLog for the session with the given id.
func ForSession(id string) SessionLog {
	return SessionLog{args: []pterm.LoggerArgument{{Key: "session", Value: ShortID(id)}}}
}

// ShortID is the first eight characters of a session id, or all of it if
// shorter.
func ShortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}

func (l SessionLog) Debug(format string, args ...any) {
	logf(pterm.LogLevelDebug, l.args, format, args...)
}

func (l SessionLog) Info(format string, args ...any) {
	logf(pterm.LogLevelInfo, l.args, format, args...)
}

func (l SessionLog) Success(format string, args ...any) {
	logf(pterm.LogLevelInfo, l.args, format, args...)
}

func (l SessionLog) Warning(format string, args ...any) {
	logf(pterm.LogLevelWarn, l.args, format, args...)
}

func (l SessionLog) Error(format string, args ...any) {
	logf(pterm.LogLevelError, l.args, format, args...)
}

func logf(level pterm.LogLevel, fields []pterm.LoggerArgument, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger := &pterm.DefaultLogger

	switch level {
	case pterm.LogLevelDebug:
		logger.Debug(msg, fields)
	case pterm.LogLevelWarn:
		logger.Warn(msg, fields)
	case pterm.LogLevelError:
		logger.Error(msg, fields)
	default:
		logger.Info(msg, fields)
	}
}
