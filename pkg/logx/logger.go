// Package logx provides the structured leveled logger shared by every
// gateway component. It wraps logrus so callers log with plain
// key/value pairs instead of building logrus.Fields by hand.
package logx

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	entry *logrus.Entry
	mu    sync.Mutex
	base  *logrus.Logger
}

// NewLogger creates a logger for the named component at the given level
// (debug|info|warn|warning|error|critical, case-insensitive; defaults
// to info on an unrecognized value).
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l := &Logger{base: base}
	l.SetLevel(level)
	l.entry = base.WithField("component", component)
	return l
}

// NewLoggerWithOutput is NewLogger with an explicit writer, used by tests
// that need to capture log output.
func NewLoggerWithOutput(level, component string, w io.Writer) *Logger {
	l := NewLogger(level, component)
	l.base.SetOutput(w)
	return l
}

// SetLevel changes the logger's minimum level at runtime.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		l.base.SetLevel(logrus.DebugLevel)
	case "INFO", "":
		l.base.SetLevel(logrus.InfoLevel)
	case "WARN", "WARNING":
		l.base.SetLevel(logrus.WarnLevel)
	case "ERROR":
		l.base.SetLevel(logrus.ErrorLevel)
	case "CRITICAL":
		l.base.SetLevel(logrus.FatalLevel)
	default:
		l.base.SetLevel(logrus.InfoLevel)
	}
}

// WithField returns a child logger carrying an additional field on every
// subsequent call, used when a component wants to scope a run of log
// lines (e.g. per-message id) without repeating the key every time.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), base: l.base}
}

func (l *Logger) fields(keyvals []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyvals[i+1]
	}
	return fields
}

// Debug logs msg at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(l.fields(keyvals)).Debug(msg)
}

// Info logs msg at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(l.fields(keyvals)).Info(msg)
}

// Warn logs msg at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.entry.WithFields(l.fields(keyvals)).Warn(msg)
}

// Error logs msg at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(l.fields(keyvals)).Error(msg)
}
