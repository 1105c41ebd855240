package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fadedpez/pointledger/internal/types"
	"github.com/sirupsen/logrus"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var logrusLevels = map[Level]logrus.Level{
	DEBUG: logrus.DebugLevel,
	INFO:  logrus.InfoLevel,
	WARN:  logrus.WarnLevel,
	ERROR: logrus.ErrorLevel,
}

// String returns the level name
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel converts a case-insensitive level name, defaulting to INFO
func ParseLevel(s string) Level {
	for lvl, name := range levelNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return lvl
		}
	}
	if strings.EqualFold(s, "warning") {
		return WARN
	}
	return INFO
}

// Logger wraps a logrus entry with printf-style helpers
type Logger struct {
	entry *logrus.Entry
	level Level
}

// NewLogger creates a text logger writing to stdout
func NewLogger(level Level) *Logger {
	return NewWithOutput(level, os.Stdout, false)
}

// NewWithOutput creates a logger on w, optionally emitting JSON lines
func NewWithOutput(level Level, w io.Writer, json bool) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(logrusLevels[level])
	if json {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}
	return &Logger{entry: logrus.NewEntry(base), level: level}
}

// Level returns the minimum level this logger emits
func (l *Logger) Level() Level {
	return l.level
}

// WithField returns a child logger carrying an extra field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), level: l.level}
}

// WithFields returns a child logger carrying extra fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields)), level: l.level}
}

// caller reports the file:line of the code that called into the logger
func caller() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	if l.level > level {
		return
	}
	e := l.entry.WithField("caller", caller())
	msg := fmt.Sprintf(format, v...)
	switch level {
	case DEBUG:
		e.Debug(msg)
	case INFO:
		e.Info(msg)
	case WARN:
		e.Warn(msg)
	default:
		e.Error(msg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, format, v...)
}

// LogError logs a LedgerError with its code and cause as fields
func (l *Logger) LogError(err error) {
	if err == nil {
		return
	}
	var ledgerErr *types.LedgerError
	if types.As(err, &ledgerErr) {
		fields := map[string]interface{}{"code": string(ledgerErr.Code)}
		if ledgerErr.Err != nil {
			fields["cause"] = ledgerErr.Err.Error()
		}
		l.WithFields(fields).log(ERROR, "ledger error: %s", ledgerErr.Message)
		return
	}
	l.log(ERROR, "unexpected error: %v", err)
}

// Default logger instance
var Default = NewLogger(INFO)

// SetDefault replaces the package-level logger
func SetDefault(l *Logger) {
	if l != nil {
		Default = l
	}
}
