package logger

import (
	"os"
	"regexp"
	"strings"
)

// LogLevel defines the level of logging
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// EnvLogLevel is the environment variable read by GetLevelFromEnv.
const EnvLogLevel = "CLIENTELE_LOG_LEVEL"

// ParseLevel converts a level name into a LogLevel. Unknown names map to
// LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// GetLevelFromEnv will look at the environment var `CLIENTELE_LOG_LEVEL` and convert it into the appropriate LogLevel
func GetLevelFromEnv() LogLevel {
	return ParseLevel(os.Getenv(EnvLogLevel))
}

type Sink interface {
	Write(p []byte) (n int, err error)
}

// Logger is an interface for logging
type Logger interface {
	// With will return a new logger using metadata as the base context
	With(metadata map[string]interface{}) Logger
	// WithPrefix will return a new logger with a prefix prepended to the message
	WithPrefix(prefix string) Logger
	// Trace level logging
	Trace(msg string, args ...interface{})
	// Debug level logging
	Debug(msg string, args ...interface{})
	// Info level logging
	Info(msg string, args ...interface{})
	// Warning level logging
	Warn(msg string, args ...interface{})
	// Error level logging
	Error(msg string, args ...interface{})
	// IsLevelEnabled returns true if the given log level is enabled
	IsLevelEnabled(level LogLevel) bool
}

// WithKV returns a logger carrying a single extra metadata value.
func WithKV(logger Logger, key string, value interface{}) Logger {
	return logger.With(map[string]interface{}{key: value})
}

var ansiColorStripper = regexp.MustCompile("\x1b\\[[0-9;]*[mK]")
