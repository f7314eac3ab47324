package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Logger handles structured logging for the auth core. It wraps zerolog
// and tags every entry with the originating component and event name.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new logger. Format is "json" or "console";
// level is one of debug, info, warn, error (defaults to info).
func NewLogger(format, level string, output io.Writer) *Logger {
	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Useful as a default
// when a component is constructed without a logger.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// parseLevel converts a level string to a zerolog level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// log writes a log entry at the given level
func (l *Logger) log(ev *zerolog.Event, component, event string, fields map[string]interface{}) {
	ev.Str("component", component)
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(event)
}

// Debug logs at debug level
func (l *Logger) Debug(component, event string, fields map[string]interface{}) {
	l.log(l.zl.Debug(), component, event, fields)
}

// Info logs at info level
func (l *Logger) Info(component, event string, fields map[string]interface{}) {
	l.log(l.zl.Info(), component, event, fields)
}

// Warn logs at warn level
func (l *Logger) Warn(component, event string, fields map[string]interface{}) {
	l.log(l.zl.Warn(), component, event, fields)
}

// Error logs at error level
func (l *Logger) Error(component, event string, fields map[string]interface{}) {
	l.log(l.zl.Error(), component, event, fields)
}
