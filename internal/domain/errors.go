package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a lifecycle operation attempts a
	// state change the task state machine does not permit, including any
	// transition out of a terminal state. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrEmptyTaskID is returned when a task record has no surrogate ID.
	ErrEmptyTaskID = errors.New("task ID cannot be empty")

	// ErrEmptyTrackingID is returned when a task record has no external
	// tracking ID.
	ErrEmptyTrackingID = errors.New("task tracking ID cannot be empty")

	// ErrEmptyCreator is returned when a task record has no creator.
	ErrEmptyCreator = errors.New("task creator cannot be empty")

	// ErrInvalidTaskType is returned when a task type is not recognized.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskState is returned when a task state is not recognized.
	ErrInvalidTaskState = errors.New("invalid task state")

	// ErrInvalidTaskPriority is returned when a task priority is not recognized.
	ErrInvalidTaskPriority = errors.New("invalid task priority")

	// ErrInvalidProgress is returned when a progress value is outside [0,100].
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrEmptyLogID is returned when a log entry has no ID.
	ErrEmptyLogID = errors.New("log entry ID cannot be empty")

	// ErrEmptyLogTaskID is returned when a log entry is not attached to a task.
	ErrEmptyLogTaskID = errors.New("log entry task ID cannot be empty")

	// ErrEmptyLogMessage is returned when a log entry has no message.
	ErrEmptyLogMessage = errors.New("log entry message cannot be empty")

	// ErrInvalidLogLevel is returned when a log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
)
