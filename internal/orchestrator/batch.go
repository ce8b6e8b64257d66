package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/registry"
)

// ErrNoSubjects is returned when a batch request carries an empty subject
// list.
var ErrNoSubjects = errors.New("batch request has no subjects")

// ErrNoSubject is returned when a single-job request carries no subject.
var ErrNoSubject = errors.New("job request has no subject")

// Orchestrator fans a batch out over a bounded worker pool and fans the unit
// outcomes back in through a single-fire barrier. The parent task record is
// the only record a batch owns; individual units report through events and
// the aggregated output data.
type Orchestrator struct {
	registry    *registry.Registry
	executor    *UnitExecutor
	dispatch    *Dispatch
	broadcaster events.Broadcaster
	workerCount int
	logger      *slog.Logger

	// inflight tracks background batch and job goroutines for shutdown.
	inflight sync.WaitGroup
}

// New creates an Orchestrator with the given worker pool size.
func New(
	reg *registry.Registry,
	executor *UnitExecutor,
	dispatch *Dispatch,
	broadcaster events.Broadcaster,
	workerCount int,
	logger *slog.Logger,
) *Orchestrator {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Orchestrator{
		registry:    reg,
		executor:    executor,
		dispatch:    dispatch,
		broadcaster: broadcaster,
		workerCount: workerCount,
		logger:      logger.With("component", "orchestrator"),
	}
}

// BatchRequest describes one fan-out submission: the same operation applied
// to every subject under a shared context.
type BatchRequest struct {
	TrackingID string
	Type       domain.TaskType
	Title      string
	Module     string
	Priority   domain.TaskPriority
	SubjectIDs []string
	Context    map[string]any
	Command    string
	UserID     uuid.UUID
}

// SubmitBatch validates the request, creates and starts the parent task
// record, then returns while the units run in the background. The caller
// polls or subscribes for progress using the returned record's tracking ID.
func (o *Orchestrator) SubmitBatch(
	ctx context.Context,
	req BatchRequest,
) (*domain.TaskRecord, error) {
	if len(req.SubjectIDs) == 0 {
		return nil, ErrNoSubjects
	}

	fn, err := o.dispatch.Resolve(req.Type)
	if err != nil {
		return nil, err
	}

	parent, err := o.createStarted(ctx, createSpec{
		trackingID: req.TrackingID,
		taskType:   req.Type,
		title:      req.Title,
		module:     req.Module,
		priority:   req.Priority,
		userID:     req.UserID,
		inputData: map[string]any{
			"subject_ids": req.SubjectIDs,
			"context":     req.Context,
			"command":     req.Command,
		},
	})
	if err != nil {
		return nil, err
	}

	o.broadcastBatch(ctx, parent, events.EventBatchProcessingStarted, map[string]any{
		"total": len(req.SubjectIDs),
	})

	o.inflight.Add(1)
	go o.runBatch(context.WithoutCancel(ctx), parent, req, fn)

	return parent, nil
}

// JobRequest describes a single-subject submission: one record, one unit,
// the executor drives the record's lifecycle itself.
type JobRequest struct {
	TrackingID string
	Type       domain.TaskType
	Title      string
	Module     string
	Priority   domain.TaskPriority
	SubjectID  string
	Context    map[string]any
	Command    string
	UserID     uuid.UUID
}

// SubmitJob validates the request, creates and starts the task record, then
// returns while the single unit runs in the background.
func (o *Orchestrator) SubmitJob(ctx context.Context, req JobRequest) (*domain.TaskRecord, error) {
	if req.SubjectID == "" {
		return nil, ErrNoSubject
	}

	fn, err := o.dispatch.Resolve(req.Type)
	if err != nil {
		return nil, err
	}

	rec, err := o.createStarted(ctx, createSpec{
		trackingID: req.TrackingID,
		taskType:   req.Type,
		title:      req.Title,
		module:     req.Module,
		priority:   req.Priority,
		userID:     req.UserID,
		inputData: map[string]any{
			"subject_id": req.SubjectID,
			"context":    req.Context,
			"command":    req.Command,
		},
	})
	if err != nil {
		return nil, err
	}

	o.inflight.Add(1)
	go o.runJob(context.WithoutCancel(ctx), rec, req, fn)

	return rec, nil
}

// Wait blocks until every in-flight batch and job goroutine has finished,
// for graceful shutdown.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// createSpec carries the shared create-and-start parameters of batch and job
// submissions.
type createSpec struct {
	trackingID string
	taskType   domain.TaskType
	title      string
	module     string
	priority   domain.TaskPriority
	userID     uuid.UUID
	inputData  map[string]any
}

func (o *Orchestrator) createStarted(
	ctx context.Context,
	spec createSpec,
) (*domain.TaskRecord, error) {
	trackingID := spec.trackingID
	if trackingID == "" {
		trackingID = uuid.NewString()
	}

	rec, err := o.registry.Create(ctx, registry.CreateParams{
		TrackingID: trackingID,
		Type:       spec.taskType,
		Title:      spec.title,
		Module:     spec.module,
		Priority:   spec.priority,
		CreatedBy:  spec.userID,
		InputData:  spec.inputData,
	})
	if err != nil {
		return nil, err
	}

	return o.registry.MarkStarted(ctx, rec.TrackingID)
}

// runBatch fans the subjects out over the worker pool, updates parent
// progress as units finish, waits at the barrier, and finalizes. It runs on
// its own goroutine; the barrier goroutine is the only one that observes all
// outcomes, so the finalizer fires exactly once.
func (o *Orchestrator) runBatch(
	ctx context.Context,
	parent *domain.TaskRecord,
	req BatchRequest,
	fn UnitFunc,
) {
	defer o.inflight.Done()

	total := len(req.SubjectIDs)
	outcomes := make([]UnitOutcome, total)
	var processed atomic.Int64

	sem := make(chan struct{}, o.workerCount)
	var barrier sync.WaitGroup

	for i, subjectID := range req.SubjectIDs {
		barrier.Add(1)
		sem <- struct{}{}

		go func(slot int, subjectID string) {
			defer barrier.Done()
			defer func() { <-sem }()

			// Cancellation is cooperative: units already in flight finish,
			// units not yet started are skipped.
			if o.batchCancelled(ctx, parent.TrackingID) {
				outcomes[slot] = UnitOutcome{
					SubjectID: subjectID,
					Kind:      FailureSkipped,
					Error:     "batch cancelled before unit started",
				}
				return
			}

			outcomes[slot] = o.executor.Execute(ctx, UnitContext{
				SubjectID:        subjectID,
				Context:          req.Context,
				Command:          req.Command,
				ParentTrackingID: parent.TrackingID,
			}, fn)

			done := int(processed.Add(1))
			if _, err := o.registry.UpdateProgress(ctx, parent.TrackingID,
				registry.ProgressUpdate{
					ProcessedItems: &done,
					TotalItems:     &total,
				}); err != nil {
				o.logger.Warn("failed to update batch progress",
					"tracking_id", parent.TrackingID,
					"error", err)
			}
		}(i, subjectID)
	}

	barrier.Wait()
	o.finalize(ctx, parent, outcomes)
}

// batchCancelled reports whether the parent record was cancelled. A read
// failure counts as not cancelled; the unit runs and the record stays
// authoritative.
func (o *Orchestrator) batchCancelled(ctx context.Context, trackingID string) bool {
	rec, err := o.registry.Get(ctx, trackingID)
	return err == nil && rec.State == domain.TaskStateCancelled
}

// runJob executes the single unit and drives the record to its terminal
// state directly.
func (o *Orchestrator) runJob(
	ctx context.Context,
	rec *domain.TaskRecord,
	req JobRequest,
	fn UnitFunc,
) {
	defer o.inflight.Done()

	outcome := o.executor.Execute(ctx, UnitContext{
		SubjectID:        req.SubjectID,
		Context:          req.Context,
		Command:          req.Command,
		ParentTrackingID: rec.TrackingID,
	}, fn)

	if outcome.OK {
		if _, err := o.registry.MarkCompleted(ctx, rec.TrackingID, outcome.Output); err != nil {
			o.logger.Error("failed to complete job record",
				"tracking_id", rec.TrackingID,
				"error", err)
		}
		return
	}

	if _, err := o.registry.MarkFailed(ctx, rec.TrackingID, outcome.Error, ""); err != nil {
		o.logger.Error("failed to fail job record",
			"tracking_id", rec.TrackingID,
			"error", err)
	}
}

func (o *Orchestrator) broadcastBatch(
	ctx context.Context,
	parent *domain.TaskRecord,
	eventType events.EventType,
	payload map[string]any,
) {
	event := events.NewTaskEvent(eventType, parent.TrackingID, payload)
	event.UserID = parent.CreatedBy.String()
	event.Module = parent.Module
	o.broadcaster.Broadcast(ctx, event)
}
