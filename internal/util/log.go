package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "15:04:05.000"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Process-wide log lines that belong to no component, typically from cmd/.
// Output goes to stderr (pterm's default).

func LogDebug(format string, args ...interface{}) {
	logf(pterm.LogLevelDebug, nil, format, args)
}

func LogInfo(format string, args ...interface{}) {
	logf(pterm.LogLevelInfo, nil, format, args)
}

// LogSuccess is an info line tagged as a completed operation.
func LogSuccess(format string, args ...interface{}) {
	logf(pterm.LogLevelInfo, pterm.DefaultLogger.Args("result", "ok"), format, args)
}

func LogWarning(format string, args ...interface{}) {
	logf(pterm.LogLevelWarn, nil, format, args)
}

func LogError(format string, args ...interface{}) {
	logf(pterm.LogLevelError, nil, format, args)
}

// EnableDebug configures the logger to show debug messages, including every
// packet a transfer sends and discards.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Component is a log sink that tags every line with the component that
// produced it (server, client, errsim, ...).
type Component string

func (c Component) Debug(format string, args ...interface{}) {
	logf(pterm.LogLevelDebug, c.args(), format, args)
}

func (c Component) Info(format string, args ...interface{}) {
	logf(pterm.LogLevelInfo, c.args(), format, args)
}

func (c Component) Warn(format string, args ...interface{}) {
	logf(pterm.LogLevelWarn, c.args(), format, args)
}

func (c Component) Error(format string, args ...interface{}) {
	logf(pterm.LogLevelError, c.args(), format, args)
}

func (c Component) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("component", string(c))
}

func logf(level pterm.LogLevel, tags []pterm.LoggerArgument, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case pterm.LogLevelDebug:
		pterm.DefaultLogger.Debug(msg, tags)
	case pterm.LogLevelWarn:
		pterm.DefaultLogger.Warn(msg, tags)
	case pterm.LogLevelError:
		pterm.DefaultLogger.Error(msg, tags)
	default:
		pterm.DefaultLogger.Info(msg, tags)
	}
}
