package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a task record
type TaskState string

// Possible task states. Pending and Running are the only non-terminal
// states; Completed, Failed and Cancelled accept no further transitions.
const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// TaskType classifies the kind of work a task record tracks
type TaskType string

// Known task types
const (
	TaskTypePayrollProcessing TaskType = "payroll_processing"
	TaskTypePayrollRerun      TaskType = "payroll_rerun"
	TaskTypeEmailDistribution TaskType = "email_distribution"
	TaskTypeVoucherGeneration TaskType = "voucher_generation"
	TaskTypeReportGeneration  TaskType = "report_generation"
	TaskTypeDataImport        TaskType = "data_import"
	TaskTypeDataExport        TaskType = "data_export"
	TaskTypeSystemBackup      TaskType = "system_backup"
	TaskTypeCacheClear        TaskType = "cache_clear"
	TaskTypeSystemMaintenance TaskType = "system_maintenance"
	TaskTypeCustom            TaskType = "custom"
)

// TaskPriority indicates scheduling priority for a task record
type TaskPriority string

// Possible task priorities
const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// TaskRecord represents one logical unit of work and its lifecycle state.
// It is the authoritative record of the work having happened; the result
// cache is only an optimization on top of it. Records are mutated only
// through the registry, never directly.
type TaskRecord struct {
	ID         uuid.UUID `json:"id"`
	TrackingID string    `json:"tracking_id"`

	Type     TaskType     `json:"type"`
	Title    string       `json:"title"`
	Module   string       `json:"module"`
	Priority TaskPriority `json:"priority"`

	State TaskState `json:"state"`

	Progress       int `json:"progress"`
	TotalItems     int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`

	CreatedBy  uuid.UUID  `json:"created_by"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Description  string         `json:"description,omitempty"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorTrace   string         `json:"error_trace,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
}

// NewTaskRecord creates a new TaskRecord in the pending state with the given
// tracking ID, classification and creator. It generates a new UUID for the
// surrogate ID and sets the creation timestamp.
// Returns an error if validation fails.
func NewTaskRecord(
	trackingID string,
	taskType TaskType,
	title string,
	module string,
	createdBy uuid.UUID,
) (*TaskRecord, error) {
	rec := &TaskRecord{
		ID:         uuid.New(),
		TrackingID: trackingID,
		Type:       taskType,
		Title:      title,
		Module:     module,
		Priority:   TaskPriorityNormal,
		State:      TaskStatePending,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC(),
		InputData:  map[string]any{},
		Metadata:   map[string]any{},
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	return rec, nil
}

// Validate checks if the TaskRecord has valid data.
// Returns an error if any field fails validation.
func (t *TaskRecord) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.TrackingID == "" {
		return ErrEmptyTrackingID
	}

	if t.CreatedBy == uuid.Nil {
		return ErrEmptyCreator
	}

	if !isValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskState(t.State) {
		return ErrInvalidTaskState
	}

	if !isValidTaskPriority(t.Priority) {
		return ErrInvalidTaskPriority
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the record is in a state that accepts no
// further transitions.
func (t *TaskRecord) IsTerminal() bool {
	switch t.State {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine permits moving from the
// record's current state to the target state. The only legal transitions are
// pending→running, running→completed, running→failed and
// pending|running→cancelled.
func (t *TaskRecord) CanTransitionTo(target TaskState) bool {
	switch t.State {
	case TaskStatePending:
		return target == TaskStateRunning || target == TaskStateCancelled
	case TaskStateRunning:
		return target == TaskStateCompleted ||
			target == TaskStateFailed ||
			target == TaskStateCancelled
	default:
		return false
	}
}

// transitionError builds the InvalidTransition error for a rejected move.
func (t *TaskRecord) transitionError(target TaskState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, target)
}

// Start transitions the record from pending to running and stamps StartedAt.
// StartedAt is set exactly once, on this transition.
func (t *TaskRecord) Start() error {
	if !t.CanTransitionTo(TaskStateRunning) {
		return t.transitionError(TaskStateRunning)
	}

	now := time.Now().UTC()
	t.State = TaskStateRunning
	t.StartedAt = &now
	return nil
}

// Complete transitions the record from running to completed, stamps
// CompletedAt, forces progress to 100 and records the output data.
func (t *TaskRecord) Complete(output map[string]any) error {
	if !t.CanTransitionTo(TaskStateCompleted) {
		return t.transitionError(TaskStateCompleted)
	}

	now := time.Now().UTC()
	t.State = TaskStateCompleted
	t.CompletedAt = &now
	t.Progress = 100
	if t.TotalItems > 0 {
		t.ProcessedItems = t.TotalItems
	}
	if output != nil {
		t.OutputData = output
	}
	return nil
}

// Fail transitions the record from running to failed, stamps CompletedAt and
// records the error fields.
func (t *TaskRecord) Fail(message, trace string) error {
	if !t.CanTransitionTo(TaskStateFailed) {
		return t.transitionError(TaskStateFailed)
	}

	now := time.Now().UTC()
	t.State = TaskStateFailed
	t.CompletedAt = &now
	t.ErrorMessage = message
	t.ErrorTrace = trace
	return nil
}

// Cancel transitions the record from pending or running to cancelled and
// stamps CompletedAt. Cancellation is cooperative: in-flight work is not
// interrupted by this transition.
func (t *TaskRecord) Cancel(reason string) error {
	if !t.CanTransitionTo(TaskStateCancelled) {
		return t.transitionError(TaskStateCancelled)
	}

	now := time.Now().UTC()
	t.State = TaskStateCancelled
	t.CompletedAt = &now
	t.ErrorMessage = reason
	return nil
}

// ApplyProgress updates the progress fields without changing state.
// An explicit progress value is clamped to [0,100]. When progress is nil and
// both counters are known, progress is recomputed from them. Progress never
// decreases under normal operation; a lower computed value is ignored.
func (t *TaskRecord) ApplyProgress(progress, processedItems, totalItems *int) {
	if totalItems != nil && *totalItems >= 0 {
		t.TotalItems = *totalItems
	}
	if processedItems != nil && *processedItems >= 0 {
		t.ProcessedItems = *processedItems
	}

	var next int
	switch {
	case progress != nil:
		next = clampProgress(*progress)
	case t.TotalItems > 0:
		next = clampProgress(t.ProcessedItems * 100 / t.TotalItems)
	default:
		return
	}

	if next > t.Progress {
		t.Progress = next
	}
}

// clampProgress bounds a progress percentage to [0,100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// isValidTaskState checks if the given state is a valid TaskState.
func isValidTaskState(state TaskState) bool {
	switch state {
	case TaskStatePending, TaskStateRunning, TaskStateCompleted,
		TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// isValidTaskType checks if the given type is a valid TaskType.
func isValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypePayrollProcessing, TaskTypePayrollRerun,
		TaskTypeEmailDistribution, TaskTypeVoucherGeneration,
		TaskTypeReportGeneration, TaskTypeDataImport, TaskTypeDataExport,
		TaskTypeSystemBackup, TaskTypeCacheClear, TaskTypeSystemMaintenance,
		TaskTypeCustom:
		return true
	default:
		return false
	}
}

// isValidTaskPriority checks if the given priority is a valid TaskPriority.
func isValidTaskPriority(priority TaskPriority) bool {
	switch priority {
	case TaskPriorityLow, TaskPriorityNormal, TaskPriorityHigh,
		TaskPriorityCritical:
		return true
	default:
		return false
	}
}
