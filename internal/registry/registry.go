// Package registry implements the task registry: the single write path for
// task records and their audit trail. Every lifecycle operation performs one
// atomic read-modify-write per record (record update plus log append in a
// single transaction) and emits one broadcast event mirroring the operation.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/store"
)

// Registry coordinates task record mutations, the audit trail and event
// broadcasting. Task records are never mutated outside of it.
type Registry struct {
	txRunner    store.TxRunner
	tasks       store.TaskRecordStore
	logs        store.TaskLogStore
	broadcaster events.Broadcaster
	logger      *slog.Logger
}

// New creates a Registry over the given stores and broadcaster.
func New(
	txRunner store.TxRunner,
	tasks store.TaskRecordStore,
	logs store.TaskLogStore,
	broadcaster events.Broadcaster,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		txRunner:    txRunner,
		tasks:       tasks,
		logs:        logs,
		broadcaster: broadcaster,
		logger:      logger.With("component", "task_registry"),
	}
}

// CreateParams describes a new task record.
type CreateParams struct {
	TrackingID  string
	Type        domain.TaskType
	Title       string
	Description string
	Module      string
	CreatedBy   uuid.UUID
	Priority    domain.TaskPriority
	InputData   map[string]any
	Metadata    map[string]any
	Tags        []string
}

// Create registers a new task record in the pending state, appends the
// creation log entry and broadcasts task_created.
// Returns store.ErrDuplicateTrackingID if the tracking ID is already taken.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*domain.TaskRecord, error) {
	rec, err := domain.NewTaskRecord(
		params.TrackingID,
		params.Type,
		params.Title,
		params.Module,
		params.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	rec.Description = params.Description
	if params.Priority != "" {
		rec.Priority = params.Priority
	}
	if params.InputData != nil {
		rec.InputData = params.InputData
	}
	if params.Metadata != nil {
		rec.Metadata = params.Metadata
	}
	rec.Tags = params.Tags

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	err = r.txRunner.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := r.tasks.WithTx(tx).Create(ctx, rec); err != nil {
			return err
		}
		return r.appendLog(ctx, tx, rec.ID, domain.LogLevelInfo,
			"task created", map[string]any{
				"task_type": string(rec.Type),
				"module":    rec.Module,
				"priority":  string(rec.Priority),
			})
	})
	if err != nil {
		return nil, err
	}

	r.broadcast(ctx, rec, events.EventTaskCreated, map[string]any{
		"task_type": string(rec.Type),
		"state":     string(rec.State),
	})

	return rec, nil
}

// MarkStarted transitions a task from pending to running and stamps its
// start timestamp.
func (r *Registry) MarkStarted(ctx context.Context, trackingID string) (*domain.TaskRecord, error) {
	return r.transition(ctx, trackingID, transitionSpec{
		event:    events.EventTaskStarted,
		logLevel: domain.LogLevelInfo,
		logMsg:   "task started",
		mutate: func(rec *domain.TaskRecord) error {
			return rec.Start()
		},
	})
}

// ProgressUpdate carries the optional fields of an UpdateProgress call.
// Nil fields are left untouched on the record.
type ProgressUpdate struct {
	Progress       *int
	ProcessedItems *int
	TotalItems     *int
	Message        string
}

// UpdateProgress updates the progress counters of a running (or pending)
// task without changing its state. Progress is clamped to [0,100] and
// recomputed from the counters when not given explicitly. A log entry is
// appended only when the update carries a message.
func (r *Registry) UpdateProgress(
	ctx context.Context,
	trackingID string,
	update ProgressUpdate,
) (*domain.TaskRecord, error) {
	spec := transitionSpec{
		event:    events.EventTaskProgress,
		logLevel: domain.LogLevelInfo,
		logMsg:   update.Message,
		skipLog:  update.Message == "",
		mutate: func(rec *domain.TaskRecord) error {
			// Terminal records are immutable; progress on them is as
			// illegal as a state change.
			if rec.IsTerminal() {
				return fmt.Errorf("%w: progress update on %s task",
					domain.ErrInvalidTransition, rec.State)
			}
			rec.ApplyProgress(update.Progress, update.ProcessedItems, update.TotalItems)
			return nil
		},
		payload: func(rec *domain.TaskRecord) map[string]any {
			return map[string]any{
				"progress":        rec.Progress,
				"processed_items": rec.ProcessedItems,
				"total_items":     rec.TotalItems,
			}
		},
	}
	return r.transition(ctx, trackingID, spec)
}

// MarkCompleted transitions a task from running to completed, forcing
// progress to 100 and recording the output data.
func (r *Registry) MarkCompleted(
	ctx context.Context,
	trackingID string,
	output map[string]any,
) (*domain.TaskRecord, error) {
	return r.transition(ctx, trackingID, transitionSpec{
		event:    events.EventTaskCompleted,
		logLevel: domain.LogLevelInfo,
		logMsg:   "task completed",
		mutate: func(rec *domain.TaskRecord) error {
			return rec.Complete(output)
		},
	})
}

// MarkFailed transitions a task from running to failed and records the
// error fields.
func (r *Registry) MarkFailed(
	ctx context.Context,
	trackingID string,
	message, trace string,
) (*domain.TaskRecord, error) {
	return r.transition(ctx, trackingID, transitionSpec{
		event:    events.EventTaskFailed,
		logLevel: domain.LogLevelError,
		logMsg:   "task failed: " + message,
		mutate: func(rec *domain.TaskRecord) error {
			return rec.Fail(message, trace)
		},
		payload: func(rec *domain.TaskRecord) map[string]any {
			return map[string]any{
				"state": string(rec.State),
				"error": rec.ErrorMessage,
			}
		},
	})
}

// MarkCancelled transitions a pending or running task to cancelled.
// Cancellation is cooperative: work already in flight is not interrupted.
func (r *Registry) MarkCancelled(
	ctx context.Context,
	trackingID string,
	reason string,
) (*domain.TaskRecord, error) {
	return r.transition(ctx, trackingID, transitionSpec{
		event:    events.EventTaskCancelled,
		logLevel: domain.LogLevelWarning,
		logMsg:   "task cancelled: " + reason,
		mutate: func(rec *domain.TaskRecord) error {
			return rec.Cancel(reason)
		},
	})
}

// Get retrieves a task record by tracking ID.
func (r *Registry) Get(ctx context.Context, trackingID string) (*domain.TaskRecord, error) {
	return r.tasks.GetByTrackingID(ctx, trackingID)
}

// List retrieves recent task records matching the filter.
func (r *Registry) List(ctx context.Context, filter store.TaskFilter) ([]*domain.TaskRecord, error) {
	return r.tasks.List(ctx, filter)
}

// ListLogs retrieves one page of a task's audit trail. Pages are 1-based.
func (r *Registry) ListLogs(
	ctx context.Context,
	trackingID string,
	page, pageSize int,
) ([]*domain.TaskLogEntry, error) {
	rec, err := r.tasks.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	return r.logs.ListByTask(ctx, rec.ID, (page-1)*pageSize, pageSize)
}

// CountByState returns the number of task records per lifecycle state.
func (r *Registry) CountByState(ctx context.Context) (map[domain.TaskState]int, error) {
	return r.tasks.CountByState(ctx)
}

// CleanupOldTasks deletes terminal task records older than the given age.
// Log entries cascade with their records. Returns the number deleted.
func (r *Registry) CleanupOldTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	deleted, err := r.tasks.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old tasks: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("cleaned up old task records",
			"deleted", deleted,
			"cutoff", cutoff)
	}

	return deleted, nil
}

// transitionSpec describes one lifecycle operation for transition.
type transitionSpec struct {
	event    events.EventType
	logLevel domain.LogLevel
	logMsg   string
	skipLog  bool
	mutate   func(rec *domain.TaskRecord) error
	payload  func(rec *domain.TaskRecord) map[string]any
}

// transition runs one atomic read-modify-write on a task record: load under
// lock, apply the mutation, persist, append the log entry — all in one
// transaction — then broadcast. A mutation rejected by the state machine
// rolls the transaction back, leaving the record untouched, but the
// rejection itself is still logged for observability.
func (r *Registry) transition(
	ctx context.Context,
	trackingID string,
	spec transitionSpec,
) (*domain.TaskRecord, error) {
	var rec *domain.TaskRecord

	err := r.txRunner.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		rec, err = r.tasks.WithTx(tx).GetByTrackingIDForUpdate(ctx, trackingID)
		if err != nil {
			return err
		}

		if err := spec.mutate(rec); err != nil {
			return err
		}

		if err := r.tasks.WithTx(tx).Update(ctx, rec); err != nil {
			return err
		}

		if spec.skipLog {
			return nil
		}
		return r.appendLog(ctx, tx, rec.ID, spec.logLevel, spec.logMsg, nil)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && rec != nil {
			r.logRejectedTransition(ctx, rec, spec.event, err)
		}
		return nil, err
	}

	payload := map[string]any{
		"state":    string(rec.State),
		"progress": rec.Progress,
	}
	if spec.payload != nil {
		payload = spec.payload(rec)
	}
	r.broadcast(ctx, rec, spec.event, payload)

	return rec, nil
}

// logRejectedTransition writes the audit entry for an operation the state
// machine refused. The record itself stays untouched.
func (r *Registry) logRejectedTransition(
	ctx context.Context,
	rec *domain.TaskRecord,
	event events.EventType,
	cause error,
) {
	entry, err := domain.NewTaskLogEntry(rec.ID, domain.LogLevelWarning,
		fmt.Sprintf("rejected %s: %v", event, cause),
		map[string]any{"state": string(rec.State)})
	if err != nil {
		return
	}

	if err := r.logs.Append(ctx, entry); err != nil {
		r.logger.Warn("failed to log rejected transition",
			"tracking_id", rec.TrackingID,
			"error", err)
	}
}

// appendLog builds and appends one audit entry inside the transaction.
func (r *Registry) appendLog(
	ctx context.Context,
	tx *sql.Tx,
	taskID uuid.UUID,
	level domain.LogLevel,
	message string,
	data map[string]any,
) error {
	entry, err := domain.NewTaskLogEntry(taskID, level, message, data)
	if err != nil {
		return err
	}
	return r.logs.WithTx(tx).Append(ctx, entry)
}

// broadcast emits the event for a registry operation. Failures inside the
// broadcaster never reach the caller.
func (r *Registry) broadcast(
	ctx context.Context,
	rec *domain.TaskRecord,
	eventType events.EventType,
	payload map[string]any,
) {
	event := events.NewTaskEvent(eventType, rec.TrackingID, payload)
	event.UserID = rec.CreatedBy.String()
	event.Module = rec.Module
	r.broadcaster.Broadcast(ctx, event)
}
