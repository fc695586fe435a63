package lib

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger provides structured logging for the application
type Logger struct {
	level  LogLevel
	logger *log.Logger
}

// NewLogger creates a new logger instance writing to stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a logger that writes to a specific writer
// Useful for capturing log output in tests
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(w, "", log.LstdFlags),
	}
}

// DefaultLogger returns a logger with WARN level, the cron-friendly default
var DefaultLogger = NewLogger(LogLevelWarn)

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	if l.level <= LogLevelDebug {
		l.log("DEBUG", message, fields...)
	}
}

// Info logs an informational message
func (l *Logger) Info(message string, fields ...interface{}) {
	if l.level <= LogLevelInfo {
		l.log("INFO", message, fields...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	if l.level <= LogLevelWarn {
		l.log("WARN", message, fields...)
	}
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	if l.level <= LogLevelError {
		l.log("ERROR", message, fields...)
	}
}

// log formats and writes a log message with optional fields
func (l *Logger) log(level string, message string, fields ...interface{}) {
	var fieldsStr string
	if len(fields) > 0 {
		fieldsStr = fmt.Sprintf(" | %v", fields)
	}
	l.logger.Printf("[%s] %s%s", level, message, fieldsStr)
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// LogRunStarted logs the start of a pipeline run
func LogRunStarted(logger *Logger, pipeline string) {
	logger.Info("Run started", "pipeline", pipeline, "pid", os.Getpid())
}

// LogRunCompleted logs the end of a pipeline run with its record count
func LogRunCompleted(logger *Logger, pipeline string, records int, duration time.Duration) {
	logger.Info(
		"Run completed",
		"pipeline", pipeline,
		"records", records,
		"duration", duration,
	)
}

// LogTaskEmitted logs a task file written to the queue
func LogTaskEmitted(logger *Logger, taskID string, user string, path string) {
	logger.Info(
		"Task emitted",
		"task_id", taskID,
		"user", sanitize(user),
		"file", path,
	)
}

// LogTaskReconciled logs a completion file that was processed
func LogTaskReconciled(logger *Logger, taskID string, outcome string, destination string) {
	logger.Info(
		"Task reconciled",
		"task_id", taskID,
		"outcome", outcome,
		"moved_to", destination,
	)
}

// LogUsageSynced logs the usage values recorded for one allocation
func LogUsageSynced(logger *Logger, allocationID int64, projectID string, spaceGB float64, files int64) {
	logger.Debug(
		"Usage synced",
		"allocation_id", allocationID,
		"project_id", projectID,
		"space_gb", spaceGB,
		"files", files,
	)
}

// LogRetry logs retry attempts
func LogRetry(logger *Logger, operation string, attempt int, maxAttempts int, err error) {
	logger.Warn(
		fmt.Sprintf("Retry attempt %d/%d for: %s", attempt+1, maxAttempts, sanitize(operation)),
		"error", err,
	)
}

// sanitize removes line breaks from externally supplied values to prevent log spoofing
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, "\r", "")
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LevelFromVerbosity maps the 0..3 verbosity scale onto log levels
//
//	0 -> error, 1 -> warn, 2 -> info, 3 -> debug
func LevelFromVerbosity(verbosity int) LogLevel {
	switch {
	case verbosity <= 0:
		return LogLevelError
	case verbosity == 1:
		return LogLevelWarn
	case verbosity == 2:
		return LogLevelInfo
	default:
		return LogLevelDebug
	}
}
