package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
)

// TaskRecordStore defines the interface for persisting task records.
type TaskRecordStore interface {
	// Create persists a new task record.
	// Returns ErrDuplicateTrackingID if the tracking ID is already taken.
	Create(ctx context.Context, record *domain.TaskRecord) error

	// GetByTrackingID retrieves a task record by its external tracking ID.
	// Returns ErrTaskNotFound if no record exists.
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.TaskRecord, error)

	// GetByTrackingIDForUpdate is GetByTrackingID with a row lock, for
	// read-modify-write sequences inside a transaction.
	GetByTrackingIDForUpdate(ctx context.Context, trackingID string) (*domain.TaskRecord, error)

	// Update persists the mutable fields of an existing task record.
	// Returns ErrTaskNotFound if the record does not exist.
	Update(ctx context.Context, record *domain.TaskRecord) error

	// List retrieves the most recent task records, optionally filtered by
	// state and module. A non-positive limit applies the store default.
	List(ctx context.Context, filter TaskFilter) ([]*domain.TaskRecord, error)

	// CountByState returns the number of task records per lifecycle state.
	CountByState(ctx context.Context) (map[domain.TaskState]int, error)

	// DeleteTerminalBefore deletes terminal task records whose completion
	// timestamp is older than the cutoff and returns the number deleted.
	// Log entries cascade at the schema level.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a new TaskRecordStore instance that uses the provided
	// transaction. The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) TaskRecordStore
}

// TaskFilter narrows a List query.
type TaskFilter struct {
	State  domain.TaskState
	Module string
	Limit  int
}

// TaskLogStore defines the interface for the append-only task audit trail.
type TaskLogStore interface {
	// Append persists a new log entry. Entries are immutable once written.
	Append(ctx context.Context, entry *domain.TaskLogEntry) error

	// ListByTask retrieves log entries for a task in insertion order,
	// paginated by offset and limit.
	ListByTask(ctx context.Context, taskID uuid.UUID, offset, limit int) ([]*domain.TaskLogEntry, error)

	// WithTx returns a new TaskLogStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) TaskLogStore
}
