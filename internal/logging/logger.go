// Package logging provides the level-aware logger used across the supercan
// host driver stack: USB transport, broker, channel state machine and the
// control/HTTP surfaces all log through this package rather than the
// stdlib log package directly.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds logger construction options.
type Config struct {
	Level  Level
	Output io.Writer
	// Component tags every line, e.g. "usbtransport", "broker", "channel".
	Component string
}

// DefaultConfig returns the default logging configuration: info level to
// stderr, no component tag.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger wraps *log.Logger with level filtering and an optional component
// tag. Safe for concurrent use.
type Logger struct {
	logger    *log.Logger
	level     Level
	component string
	mu        sync.Mutex
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// New creates a Logger from config. A nil config yields DefaultConfig().
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger:    log.New(output, "", log.LstdFlags|log.Lmicroseconds),
		level:     config.Level,
		component: config.Component,
	}
}

// With returns a copy of l scoped to component, sharing the same
// underlying writer and level.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		logger:    l.logger,
		level:     l.level,
		component: component,
	}
}

// Default returns the process-wide default logger, creating it on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func formatFields(fields []any) string {
	if len(fields) == 0 {
		return ""
	}
	var b []byte
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			break
		}
		if len(b) > 0 {
			b = append(b, ' ')
		}
		b = append(b, []byte(fmt.Sprintf("%v=%v", fields[i], fields[i+1]))...)
	}
	if len(b) == 0 {
		return ""
	}
	return " " + string(b)
}

func (l *Logger) log(level Level, msg string, fields ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.component != "" {
		l.logger.Printf("[%s] %s: %s%s", level, l.component, msg, formatFields(fields))
		return
	}
	l.logger.Printf("[%s] %s%s", level, msg, formatFields(fields))
}

func (l *Logger) Debug(msg string, fields ...any) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...any)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...any)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...any) { l.log(LevelError, msg, fields...) }

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// SetLevel adjusts the minimum level logged, guarded by the same mutex used
// for writes so it cannot race with an in-flight log call.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Debug logs to the default logger.
func Debug(msg string, fields ...any) { Default().Debug(msg, fields...) }

// Info logs to the default logger.
func Info(msg string, fields ...any) { Default().Info(msg, fields...) }

// Warn logs to the default logger.
func Warn(msg string, fields ...any) { Default().Warn(msg, fields...) }

// Error logs to the default logger.
func Error(msg string, fields ...any) { Default().Error(msg, fields...) }
