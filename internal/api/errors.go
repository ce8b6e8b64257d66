package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/orchestrator"
	"github.com/phrazzld/taskforge/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicateTrackingID),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, orchestrator.ErrNoSubjects),
		errors.Is(err, orchestrator.ErrNoSubject),
		errors.Is(err, orchestrator.ErrUnknownTaskType),
		errors.Is(err, events.ErrInvalidScope):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for an error.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrDuplicateTrackingID):
		return "A task with this tracking ID already exists"

	case errors.Is(err, domain.ErrInvalidTransition):
		return "Task is not in a state that allows this operation"

	case errors.Is(err, orchestrator.ErrNoSubjects):
		return "Subject list must not be empty"

	case errors.Is(err, orchestrator.ErrNoSubject):
		return "Subject is required"

	case errors.Is(err, orchestrator.ErrUnknownTaskType):
		return "Unknown task type"

	case errors.Is(err, events.ErrInvalidScope):
		return "Invalid event scope"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"

	default:
		return "An unexpected error occurred"
	}
}
