package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	level     Level
	redactPII bool
}

var defaultLogger = newLogger(os.Stderr)

func newLogger(w io.Writer) *Logger {
	return &Logger{
		zl:        zerolog.New(w).With().Timestamp().Logger(),
		level:     INFO,
		redactPII: true,
	}
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger. Writes are serialized.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.zl = zerolog.New(zerolog.SyncWriter(w)).With().Timestamp().Logger()
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	zl, min, redact := l.zl, l.level, l.redactPII
	l.mu.RUnlock()

	if level < min {
		return
	}

	ev := zl.WithLevel(zerologLevels[level])
	// Fields are key-value pairs; a trailing key without a value is dropped.
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		if err, ok := fields[i+1].(error); ok && err != nil {
			ev = ev.Str(key, redactIf(redact, key, err.Error()))
			continue
		}
		ev = ev.Str(key, redactIf(redact, key, fmt.Sprintf("%v", fields[i+1])))
	}
	ev.Msg(msg)
}

func redactIf(redact bool, key, val string) string {
	if !redact {
		return val
	}
	return redactPIIValue(key, val)
}
