package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T) *TaskRecord {
	t.Helper()

	rec, err := NewTaskRecord(
		uuid.NewString(),
		TaskTypePayrollProcessing,
		"January payroll",
		"hrm.payroll",
		uuid.New(),
	)
	require.NoError(t, err)
	return rec
}

func TestNewTaskRecord(t *testing.T) {
	t.Parallel()

	t.Run("valid record starts pending", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)

		assert.Equal(t, TaskStatePending, rec.State)
		assert.Equal(t, TaskPriorityNormal, rec.Priority)
		assert.NotEqual(t, uuid.Nil, rec.ID)
		assert.Zero(t, rec.Progress)
		assert.Nil(t, rec.StartedAt)
		assert.Nil(t, rec.CompletedAt)
	})

	t.Run("empty tracking ID rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTaskRecord("", TaskTypeCustom, "t", "core", uuid.New())
		assert.ErrorIs(t, err, ErrEmptyTrackingID)
	})

	t.Run("missing creator rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTaskRecord(uuid.NewString(), TaskTypeCustom, "t", "core", uuid.Nil)
		assert.ErrorIs(t, err, ErrEmptyCreator)
	})

	t.Run("unknown task type rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTaskRecord(uuid.NewString(), TaskType("nonsense"), "t", "core", uuid.New())
		assert.ErrorIs(t, err, ErrInvalidTaskType)
	})
}

func TestTaskRecord_StateMachineClosure(t *testing.T) {
	t.Parallel()

	// Enumerate every (state, target) pair and assert only the five legal
	// transitions are permitted.
	allStates := []TaskState{
		TaskStatePending, TaskStateRunning, TaskStateCompleted,
		TaskStateFailed, TaskStateCancelled,
	}

	legal := map[TaskState]map[TaskState]bool{
		TaskStatePending: {TaskStateRunning: true, TaskStateCancelled: true},
		TaskStateRunning: {
			TaskStateCompleted: true,
			TaskStateFailed:    true,
			TaskStateCancelled: true,
		},
	}

	for _, from := range allStates {
		for _, to := range allStates {
			rec := newTestRecord(t)
			rec.State = from

			want := legal[from][to]
			assert.Equal(t, want, rec.CanTransitionTo(to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestTaskRecord_Start(t *testing.T) {
	t.Parallel()

	t.Run("pending to running stamps started_at", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Start())

		assert.Equal(t, TaskStateRunning, rec.State)
		require.NotNil(t, rec.StartedAt)
		assert.WithinDuration(t, time.Now().UTC(), *rec.StartedAt, time.Minute)
	})

	t.Run("running cannot start again", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Start())

		err := rec.Start()
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestTaskRecord_Complete(t *testing.T) {
	t.Parallel()

	t.Run("forces progress to 100", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Start())
		rec.TotalItems = 10
		rec.ProcessedItems = 7
		rec.Progress = 70

		require.NoError(t, rec.Complete(map[string]any{"succeeded": 10}))

		assert.Equal(t, TaskStateCompleted, rec.State)
		assert.Equal(t, 100, rec.Progress)
		assert.Equal(t, 10, rec.ProcessedItems)
		require.NotNil(t, rec.CompletedAt)
		assert.Equal(t, map[string]any{"succeeded": 10}, rec.OutputData)
	})

	t.Run("pending cannot complete", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		assert.ErrorIs(t, rec.Complete(nil), ErrInvalidTransition)
	})

	t.Run("started_at not after completed_at", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Complete(nil))

		require.NotNil(t, rec.StartedAt)
		require.NotNil(t, rec.CompletedAt)
		assert.False(t, rec.StartedAt.After(*rec.CompletedAt))
	})
}

func TestTaskRecord_Fail(t *testing.T) {
	t.Parallel()

	rec := newTestRecord(t)
	require.NoError(t, rec.Start())
	require.NoError(t, rec.Fail("boom", "stack trace here"))

	assert.Equal(t, TaskStateFailed, rec.State)
	assert.Equal(t, "boom", rec.ErrorMessage)
	assert.Equal(t, "stack trace here", rec.ErrorTrace)
	require.NotNil(t, rec.CompletedAt)
}

func TestTaskRecord_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("pending can cancel", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Cancel("superseded"))
		assert.Equal(t, TaskStateCancelled, rec.State)
		assert.Equal(t, "superseded", rec.ErrorMessage)
	})

	t.Run("running can cancel", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Cancel("operator request"))
		assert.Equal(t, TaskStateCancelled, rec.State)
	})

	t.Run("completed cannot cancel", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		require.NoError(t, rec.Start())
		require.NoError(t, rec.Complete(nil))

		err := rec.Cancel("too late")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, TaskStateCompleted, rec.State)
	})
}

func TestTaskRecord_TerminalImmutability(t *testing.T) {
	t.Parallel()

	terminalStates := []TaskState{
		TaskStateCompleted, TaskStateFailed, TaskStateCancelled,
	}

	for _, state := range terminalStates {
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()

			rec := newTestRecord(t)
			rec.State = state

			assert.ErrorIs(t, rec.Start(), ErrInvalidTransition)
			assert.ErrorIs(t, rec.Complete(nil), ErrInvalidTransition)
			assert.ErrorIs(t, rec.Fail("x", ""), ErrInvalidTransition)
			assert.ErrorIs(t, rec.Cancel("x"), ErrInvalidTransition)
			assert.Equal(t, state, rec.State)
		})
	}
}

func TestTaskRecord_ApplyProgress(t *testing.T) {
	t.Parallel()

	intPtr := func(v int) *int { return &v }

	t.Run("explicit progress is clamped", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		rec.ApplyProgress(intPtr(150), nil, nil)
		assert.Equal(t, 100, rec.Progress)
	})

	t.Run("computed from counters when omitted", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		rec.ApplyProgress(nil, intPtr(3), intPtr(12))
		assert.Equal(t, 25, rec.Progress)
		assert.Equal(t, 3, rec.ProcessedItems)
		assert.Equal(t, 12, rec.TotalItems)
	})

	t.Run("monotonic under increasing processed items", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		last := 0
		for i := 1; i <= 12; i++ {
			rec.ApplyProgress(nil, intPtr(i), intPtr(12))
			assert.GreaterOrEqual(t, rec.Progress, last)
			last = rec.Progress
		}
		assert.Equal(t, 100, rec.Progress)
	})

	t.Run("never decreases on stale update", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		rec.ApplyProgress(intPtr(60), nil, nil)
		rec.ApplyProgress(intPtr(40), nil, nil)
		assert.Equal(t, 60, rec.Progress)
	})

	t.Run("no counters and no value is a no-op", func(t *testing.T) {
		t.Parallel()

		rec := newTestRecord(t)
		rec.ApplyProgress(nil, nil, nil)
		assert.Zero(t, rec.Progress)
	})
}

func TestNewTaskLogEntry(t *testing.T) {
	t.Parallel()

	t.Run("valid entry", func(t *testing.T) {
		t.Parallel()

		entry, err := NewTaskLogEntry(uuid.New(), LogLevelInfo, "task started", nil)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, entry.ID)
		assert.Equal(t, LogLevelInfo, entry.Level)
	})

	t.Run("empty message rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTaskLogEntry(uuid.New(), LogLevelInfo, "", nil)
		assert.ErrorIs(t, err, ErrEmptyLogMessage)
	})

	t.Run("unknown level rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewTaskLogEntry(uuid.New(), LogLevel("loud"), "msg", nil)
		assert.ErrorIs(t, err, ErrInvalidLogLevel)
	})
}
