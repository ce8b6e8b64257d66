// Package api provides the HTTP handlers of the task engine.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/api/shared"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/orchestrator"
	"github.com/phrazzld/taskforge/internal/platform/logger"
	"github.com/phrazzld/taskforge/internal/registry"
	"github.com/phrazzld/taskforge/internal/store"
)

// TaskResponse is the task record DTO returned by the read endpoints.
type TaskResponse struct {
	TaskID         string         `json:"task_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Module         string         `json:"module,omitempty"`
	Priority       string         `json:"priority"`
	State          string         `json:"state"`
	Progress       int            `json:"progress"`
	TotalItems     int            `json:"total_items"`
	ProcessedItems int            `json:"processed_items"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	InputData      map[string]any `json:"input_data,omitempty"`
	OutputData     map[string]any `json:"output_data,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// LogEntryResponse is the task log entry DTO.
type LogEntryResponse struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SubmissionResponse is the immediate response to a batch or job submission.
type SubmissionResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// BatchRequest is the request body for POST /tasks/batch.
type BatchRequest struct {
	TrackingID string         `json:"tracking_id"`
	Type       string         `json:"task_type"   validate:"required"`
	Title      string         `json:"title"       validate:"required"`
	Module     string         `json:"module"`
	Priority   string         `json:"priority"`
	SubjectIDs []string       `json:"subject_ids" validate:"required,min=1"`
	Context    map[string]any `json:"context"`
	Command    string         `json:"command"     validate:"required"`
	UserID     string         `json:"user_id"     validate:"required,uuid"`
}

// JobRequest is the request body for POST /tasks.
type JobRequest struct {
	TrackingID string         `json:"tracking_id"`
	Type       string         `json:"task_type"  validate:"required"`
	Title      string         `json:"title"      validate:"required"`
	Module     string         `json:"module"`
	Priority   string         `json:"priority"`
	SubjectID  string         `json:"subject_id" validate:"required"`
	Context    map[string]any `json:"context"`
	Command    string         `json:"command"    validate:"required"`
	UserID     string         `json:"user_id"    validate:"required,uuid"`
}

// CancelRequest is the request body for POST /tasks/{trackingID}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// TaskHandler handles task submission, polling and cancellation requests.
type TaskHandler struct {
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	logger       *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(
	orch *orchestrator.Orchestrator,
	reg *registry.Registry,
	log *slog.Logger,
) *TaskHandler {
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		orchestrator: orch,
		registry:     reg,
		logger:       log.With(slog.String("component", "task_handler")),
	}
}

// SubmitBatch handles POST /tasks/batch requests. The parent record is
// created synchronously; the units run in the background, so the response is
// 202 with the tracking ID to poll or subscribe on.
func (h *TaskHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req BatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	parent, err := h.orchestrator.SubmitBatch(r.Context(), orchestrator.BatchRequest{
		TrackingID: req.TrackingID,
		Type:       domain.TaskType(req.Type),
		Title:      req.Title,
		Module:     req.Module,
		Priority:   domain.TaskPriority(req.Priority),
		SubjectIDs: req.SubjectIDs,
		Context:    req.Context,
		Command:    req.Command,
		UserID:     userID,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	log.Info("batch submitted",
		slog.String("task_id", parent.TrackingID),
		slog.Int("subjects", len(req.SubjectIDs)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmissionResponse{
		TaskID: parent.TrackingID,
		Status: "processing",
	})
}

// SubmitJob handles POST /tasks requests: the single-subject submission.
func (h *TaskHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req JobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	rec, err := h.orchestrator.SubmitJob(r.Context(), orchestrator.JobRequest{
		TrackingID: req.TrackingID,
		Type:       domain.TaskType(req.Type),
		Title:      req.Title,
		Module:     req.Module,
		Priority:   domain.TaskPriority(req.Priority),
		SubjectID:  req.SubjectID,
		Context:    req.Context,
		Command:    req.Command,
		UserID:     userID,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	log.Info("job submitted", slog.String("task_id", rec.TrackingID))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmissionResponse{
		TaskID: rec.TrackingID,
		Status: "processing",
	})
}

// GetTask handles GET /tasks/{trackingID} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	if trackingID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	rec, err := h.registry.Get(r.Context(), trackingID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(rec))
}

// ListTasks handles GET /tasks requests for poll-style dashboards.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{
		State:  domain.TaskState(r.URL.Query().Get("state")),
		Module: r.URL.Query().Get("module"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	records, err := h.registry.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, taskToResponse(rec))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{"tasks": responses})
}

// GetTaskLogs handles GET /tasks/{trackingID}/logs requests.
func (h *TaskHandler) GetTaskLogs(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	if trackingID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	page, ok := parsePositiveQueryInt(w, r, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := parsePositiveQueryInt(w, r, "page_size", 50)
	if !ok {
		return
	}

	entries, err := h.registry.ListLogs(r.Context(), trackingID, page, pageSize)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]LogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, LogEntryResponse{
			ID:        entry.ID.String(),
			Level:     string(entry.Level),
			Message:   entry.Message,
			Data:      entry.Data,
			CreatedAt: entry.CreatedAt,
		})
	}
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{
		"logs":      responses,
		"page":      page,
		"page_size": pageSize,
	})
}

// CancelTask handles POST /tasks/{trackingID}/cancel requests. Cancelling a
// record already in a terminal state is a conflict.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	trackingID := chi.URLParam(r, "trackingID")
	if trackingID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled via API"
	}

	rec, err := h.registry.MarkCancelled(r.Context(), trackingID, reason)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	log.Info("task cancelled",
		slog.String("task_id", trackingID),
		slog.String("reason", reason))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(rec))
}

func taskToResponse(rec *domain.TaskRecord) TaskResponse {
	return TaskResponse{
		TaskID:         rec.TrackingID,
		Type:           string(rec.Type),
		Title:          rec.Title,
		Module:         rec.Module,
		Priority:       string(rec.Priority),
		State:          string(rec.State),
		Progress:       rec.Progress,
		TotalItems:     rec.TotalItems,
		ProcessedItems: rec.ProcessedItems,
		CreatedBy:      rec.CreatedBy.String(),
		CreatedAt:      rec.CreatedAt,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		InputData:      rec.InputData,
		OutputData:     rec.OutputData,
		ErrorMessage:   rec.ErrorMessage,
	}
}

func parsePositiveQueryInt(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	fallback int,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return value, true
}
