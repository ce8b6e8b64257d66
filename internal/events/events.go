package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what lifecycle change an event describes.
type EventType string

// Event types mirror the registry operation names, plus the batch milestones.
const (
	EventTaskCreated   EventType = "task_created"
	EventTaskStarted   EventType = "task_started"
	EventTaskProgress  EventType = "task_progress"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"

	EventBatchProcessingStarted   EventType = "batch_processing_started"
	EventBatchProcessingCompleted EventType = "batch_processing_completed"
	EventBatchProcessingFailed    EventType = "batch_processing_failed"
)

// TaskEvent is the structured event delivered to subscribers.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates what happened
	Type EventType `json:"type"`

	// TaskID is the external tracking ID of the task the event concerns
	TaskID string `json:"task_id"`

	// Module is the namespace of the task, when known
	Module string `json:"module,omitempty"`

	// UserID is the submitting user, when known
	UserID string `json:"user_id,omitempty"`

	// Payload carries event-specific fields (progress, counts, error text, ...)
	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp is when the event was created
	Timestamp time.Time `json:"timestamp"`
}

// NewTaskEvent creates an event of the given type for a task.
func NewTaskEvent(eventType EventType, taskID string, payload map[string]any) *TaskEvent {
	return &TaskEvent{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal encodes the event as JSON for the wire.
func (e *TaskEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalTaskEvent decodes a wire payload back into a TaskEvent.
func UnmarshalTaskEvent(data []byte) (*TaskEvent, error) {
	var e TaskEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
