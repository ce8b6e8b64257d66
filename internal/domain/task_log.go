package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of a task log entry
type LogLevel string

// Possible log levels
const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// TaskLogEntry is one line of the append-only audit trail attached to a
// task record. Entries are immutable once written and are only removed when
// the owning record is deleted by retention cleanup.
type TaskLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	TaskID    uuid.UUID      `json:"task_id"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTaskLogEntry creates a log entry for the given task record.
// Returns an error if validation fails.
func NewTaskLogEntry(
	taskID uuid.UUID,
	level LogLevel,
	message string,
	data map[string]any,
) (*TaskLogEntry, error) {
	entry := &TaskLogEntry{
		ID:        uuid.New(),
		TaskID:    taskID,
		Level:     level,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the TaskLogEntry has valid data.
func (e *TaskLogEntry) Validate() error {
	if e.ID == uuid.Nil {
		return ErrEmptyLogID
	}

	if e.TaskID == uuid.Nil {
		return ErrEmptyLogTaskID
	}

	if e.Message == "" {
		return ErrEmptyLogMessage
	}

	if !isValidLogLevel(e.Level) {
		return ErrInvalidLogLevel
	}

	return nil
}

// isValidLogLevel checks if the given level is a valid LogLevel.
func isValidLogLevel(level LogLevel) bool {
	switch level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning,
		LogLevelError, LogLevelCritical:
		return true
	default:
		return false
	}
}
