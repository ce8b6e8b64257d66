package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/mocks"
	"github.com/phrazzld/taskforge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	registry    *Registry
	tasks       *mocks.MockTaskRecordStore
	logs        *mocks.MockTaskLogStore
	broadcaster *mocks.MockBroadcaster
}

func newFixture() *fixture {
	tasks := mocks.NewMockTaskRecordStore()
	logs := mocks.NewMockTaskLogStore()
	broadcaster := mocks.NewMockBroadcaster()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		registry:    New(mocks.NewMockTxRunner(), tasks, logs, broadcaster, logger),
		tasks:       tasks,
		logs:        logs,
		broadcaster: broadcaster,
	}
}

func (f *fixture) create(t *testing.T) *domain.TaskRecord {
	t.Helper()

	rec, err := f.registry.Create(context.Background(), CreateParams{
		TrackingID: uuid.NewString(),
		Type:       domain.TaskTypePayrollProcessing,
		Title:      "January payroll",
		Module:     "hrm.payroll",
		CreatedBy:  uuid.New(),
	})
	require.NoError(t, err)
	return rec
}

func TestRegistry_Create(t *testing.T) {
	t.Parallel()

	t.Run("creates pending record with log and event", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)

		assert.Equal(t, domain.TaskStatePending, rec.State)

		entries := f.logs.EntriesFor(rec.ID)
		require.Len(t, entries, 1)
		assert.Equal(t, "task created", entries[0].Message)

		created := f.broadcaster.EventsOfType(events.EventTaskCreated)
		require.Len(t, created, 1)
		assert.Equal(t, rec.TrackingID, created[0].TaskID)
		assert.Equal(t, "hrm.payroll", created[0].Module)
		assert.Equal(t, rec.CreatedBy.String(), created[0].UserID)
	})

	t.Run("duplicate tracking ID rejected", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)

		_, err := f.registry.Create(context.Background(), CreateParams{
			TrackingID: rec.TrackingID,
			Type:       domain.TaskTypePayrollProcessing,
			Title:      "duplicate",
			Module:     "hrm.payroll",
			CreatedBy:  uuid.New(),
		})
		assert.ErrorIs(t, err, store.ErrDuplicateTrackingID)
	})

	t.Run("invalid params rejected before any write", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		_, err := f.registry.Create(context.Background(), CreateParams{
			TrackingID: "",
			Type:       domain.TaskTypeCustom,
			Title:      "no tracking id",
			CreatedBy:  uuid.New(),
		})
		require.Error(t, err)
		assert.Empty(t, f.logs.Entries())
		assert.Empty(t, f.broadcaster.Events())
	})
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("full success path", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)

		started, err := f.registry.MarkStarted(ctx, rec.TrackingID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateRunning, started.State)
		require.NotNil(t, started.StartedAt)

		completed, err := f.registry.MarkCompleted(ctx, rec.TrackingID,
			map[string]any{"succeeded": 3})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCompleted, completed.State)
		assert.Equal(t, 100, completed.Progress)

		// created + started + completed
		assert.Len(t, f.logs.EntriesFor(rec.ID), 3)
		assert.Len(t, f.broadcaster.EventsOfType(events.EventTaskStarted), 1)
		assert.Len(t, f.broadcaster.EventsOfType(events.EventTaskCompleted), 1)
	})

	t.Run("failure path records error fields", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)
		_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
		require.NoError(t, err)

		failed, err := f.registry.MarkFailed(ctx, rec.TrackingID, "ledger locked", "trace")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateFailed, failed.State)
		assert.Equal(t, "ledger locked", failed.ErrorMessage)

		failedEvents := f.broadcaster.EventsOfType(events.EventTaskFailed)
		require.Len(t, failedEvents, 1)
		assert.Equal(t, "ledger locked", failedEvents[0].Payload["error"])
	})

	t.Run("cancel pending record", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)

		cancelled, err := f.registry.MarkCancelled(ctx, rec.TrackingID, "superseded")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCancelled, cancelled.State)
		assert.Len(t, f.broadcaster.EventsOfType(events.EventTaskCancelled), 1)
	})

	t.Run("unknown tracking ID", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		_, err := f.registry.MarkStarted(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("complete before start is rejected", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)

		_, err := f.registry.MarkCompleted(ctx, rec.TrackingID, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := f.registry.Get(ctx, rec.TrackingID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatePending, got.State)
	})
}

func TestRegistry_TerminalImmutability(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	rec := f.create(t)

	_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
	require.NoError(t, err)
	_, err = f.registry.MarkCompleted(ctx, rec.TrackingID, map[string]any{"n": 1})
	require.NoError(t, err)

	before, err := f.registry.Get(ctx, rec.TrackingID)
	require.NoError(t, err)
	logCountBefore := len(f.logs.EntriesFor(rec.ID))

	_, err = f.registry.MarkCancelled(ctx, rec.TrackingID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.registry.MarkFailed(ctx, rec.TrackingID, "nope", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.registry.MarkStarted(ctx, rec.TrackingID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Record unchanged apart from the rejections being logged.
	after, err := f.registry.Get(ctx, rec.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.OutputData, after.OutputData)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)

	rejectionLogs := len(f.logs.EntriesFor(rec.ID)) - logCountBefore
	assert.Equal(t, 3, rejectionLogs)
}

func TestRegistry_UpdateProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	intPtr := func(v int) *int { return &v }

	t.Run("progress from counters, no log without message", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)
		_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
		require.NoError(t, err)
		logsBefore := len(f.logs.EntriesFor(rec.ID))

		updated, err := f.registry.UpdateProgress(ctx, rec.TrackingID, ProgressUpdate{
			ProcessedItems: intPtr(5),
			TotalItems:     intPtr(20),
		})
		require.NoError(t, err)
		assert.Equal(t, 25, updated.Progress)
		assert.Equal(t, domain.TaskStateRunning, updated.State)
		assert.Len(t, f.logs.EntriesFor(rec.ID), logsBefore)

		progressEvents := f.broadcaster.EventsOfType(events.EventTaskProgress)
		require.Len(t, progressEvents, 1)
		assert.Equal(t, 25, progressEvents[0].Payload["progress"])
	})

	t.Run("message produces a log entry", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)
		_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
		require.NoError(t, err)
		logsBefore := len(f.logs.EntriesFor(rec.ID))

		_, err = f.registry.UpdateProgress(ctx, rec.TrackingID, ProgressUpdate{
			Progress: intPtr(40),
			Message:  "half the cost centers posted",
		})
		require.NoError(t, err)
		assert.Len(t, f.logs.EntriesFor(rec.ID), logsBefore+1)
	})

	t.Run("monotonic across calls", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)
		_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
		require.NoError(t, err)

		last := 0
		for i := 1; i <= 10; i++ {
			updated, err := f.registry.UpdateProgress(ctx, rec.TrackingID, ProgressUpdate{
				ProcessedItems: intPtr(i),
				TotalItems:     intPtr(10),
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, updated.Progress, last)
			last = updated.Progress
		}
	})

	t.Run("rejected on terminal record", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		rec := f.create(t)
		_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
		require.NoError(t, err)
		_, err = f.registry.MarkCompleted(ctx, rec.TrackingID, nil)
		require.NoError(t, err)

		_, err = f.registry.UpdateProgress(ctx, rec.TrackingID, ProgressUpdate{
			Progress: intPtr(10),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestRegistry_ListLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	rec := f.create(t)

	_, err := f.registry.MarkStarted(ctx, rec.TrackingID)
	require.NoError(t, err)
	intPtr := func(v int) *int { return &v }
	for i := 1; i <= 3; i++ {
		_, err = f.registry.UpdateProgress(ctx, rec.TrackingID, ProgressUpdate{
			Progress: intPtr(i * 10),
			Message:  "checkpoint",
		})
		require.NoError(t, err)
	}

	page1, err := f.registry.ListLogs(ctx, rec.TrackingID, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page3, err := f.registry.ListLogs(ctx, rec.TrackingID, 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)

	_, err = f.registry.ListLogs(ctx, "unknown", 1, 10)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestRegistry_CleanupOldTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()

	oldDone := f.create(t)
	_, err := f.registry.MarkStarted(ctx, oldDone.TrackingID)
	require.NoError(t, err)
	_, err = f.registry.MarkCompleted(ctx, oldDone.TrackingID, nil)
	require.NoError(t, err)

	// Age the completed record past the retention window.
	stale, err := f.registry.Get(ctx, oldDone.TrackingID)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-48 * time.Hour)
	stale.CompletedAt = &past
	require.NoError(t, f.tasks.Update(ctx, stale))

	fresh := f.create(t)

	deleted, err := f.registry.CleanupOldTasks(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = f.registry.Get(ctx, oldDone.TrackingID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	_, err = f.registry.Get(ctx, fresh.TrackingID)
	assert.NoError(t, err)
}
