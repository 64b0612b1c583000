// Package logger is the logging facade shared by the xmodem engine and its
// command-line tools.
//
// Engine code depends on the Logger interface only, so applications can plug
// in their own logging framework. The default implementation is backed by
// log/slog.
//
// Levels, from the most verbose:
//
//   - DebugLevel: byte-level protocol tracing (probes, unexpected bytes, retransmissions).
//   - InfoLevel: transfer lifecycle.
//   - WarnLevel: recoverable protocol errors.
//   - ErrorLevel: fatal session errors.
//   - FatalLevel: logs and exits the process.
package logger

// Level indicates the logging severity level.
type Level = int8

const (
	// DebugLevel logs are voluminous and usually disabled outside of troubleshooting.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger defines the structured logging interface used throughout the module.
//
// keysAndValues are alternating attribute keys and values, as accepted by
// log/slog.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying the given attributes.
	// Attributes added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() Level
	// SetLevel sets the minimum enabled level. Child loggers share the level
	// with their parent.
	SetLevel(level Level)
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a
// Level. Unknown names map to InfoLevel and ok is false.
func ParseLevel(name string) (level Level, ok bool) {
	switch name {
	case "debug", "DEBUG":
		return DebugLevel, true
	case "info", "INFO", "":
		return InfoLevel, true
	case "warn", "warning", "WARN":
		return WarnLevel, true
	case "error", "ERROR":
		return ErrorLevel, true
	default:
		return InfoLevel, false
	}
}
