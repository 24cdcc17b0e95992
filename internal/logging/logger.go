// Package logging provides the leveled logger used across the broker.
package logging

import (
	"fmt"
	logpkg "log"
	"os"
)

// Level defines severity for logger output.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger provides leveled logging on top of the standard library logger.
type Logger struct {
	level  Level
	logger *logpkg.Logger
}

// New creates a logger at the given level with the given line prefix.
func New(level Level, prefix string) *Logger {
	return &Logger{
		level:  level,
		logger: logpkg.New(os.Stderr, prefix, logpkg.LstdFlags|logpkg.Lmicroseconds),
	}
}

// SetLevel adjusts the current logging level.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level = level
}

func (l *Logger) logf(target Level, format string, args ...any) {
	if l == nil || target > l.level {
		return
	}
	l.logger.Output(3, fmt.Sprintf(format, args...))
}

// Debugf prints debug messages.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Infof prints info messages.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf prints warning messages.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf prints error messages.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

var defaultLogger = New(LevelInfo, "[tdm] ")

// Default returns the global logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the global logger, primarily for tests.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}

// ParseLevel maps a config string to a Level, defaulting to LevelInfo
// for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}
