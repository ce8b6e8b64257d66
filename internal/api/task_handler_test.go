package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskforge/internal/api"
	"github.com/phrazzld/taskforge/internal/cache"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/mocks"
	"github.com/phrazzld/taskforge/internal/orchestrator"
	"github.com/phrazzld/taskforge/internal/registry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router       *chi.Mux
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	userID       uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broadcaster := mocks.NewMockBroadcaster()

	reg := registry.New(
		mocks.NewMockTxRunner(),
		mocks.NewMockTaskRecordStore(),
		mocks.NewMockTaskLogStore(),
		broadcaster,
		logger,
	)

	dispatch := orchestrator.NewDispatch()
	require.NoError(t, dispatch.Register(domain.TaskTypePayrollProcessing,
		func(ctx context.Context, unit orchestrator.UnitContext) orchestrator.Result {
			return orchestrator.Ok(map[string]any{"subject": unit.SubjectID})
		}))

	executor := orchestrator.NewUnitExecutor(
		cache.NewRedisResultCache(client), broadcaster, time.Hour, logger)
	orch := orchestrator.New(reg, executor, dispatch, broadcaster, 4, logger)

	handler := api.NewTaskHandler(orch, reg, logger)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Post("/tasks/batch", handler.SubmitBatch)
		r.Post("/tasks", handler.SubmitJob)
		r.Get("/tasks", handler.ListTasks)
		r.Get("/tasks/{trackingID}", handler.GetTask)
		r.Get("/tasks/{trackingID}/logs", handler.GetTaskLogs)
		r.Post("/tasks/{trackingID}/cancel", handler.CancelTask)
	})

	return &testEnv{
		router:       router,
		registry:     reg,
		orchestrator: orch,
		userID:       uuid.New(),
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (env *testEnv) createPending(t *testing.T) *domain.TaskRecord {
	t.Helper()

	rec, err := env.registry.Create(context.Background(), registry.CreateParams{
		TrackingID: uuid.NewString(),
		Type:       domain.TaskTypePayrollProcessing,
		Title:      "January payroll",
		Module:     "hrm.payroll",
		CreatedBy:  env.userID,
	})
	require.NoError(t, err)
	return rec
}

func TestSubmitBatchEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/tasks/batch", map[string]any{
			"task_type":   "payroll_processing",
			"title":       "January payroll",
			"module":      "hrm.payroll",
			"subject_ids": []string{"1", "2", "3"},
			"context":     map[string]any{"period": "2024-01"},
			"command":     "process",
			"user_id":     env.userID.String(),
		})

		require.Equal(t, http.StatusAccepted, rec.Code)
		resp := decodeBody[api.SubmissionResponse](t, rec)
		assert.Equal(t, "processing", resp.Status)
		assert.NotEmpty(t, resp.TaskID)

		env.orchestrator.Wait()

		final, err := env.registry.Get(context.Background(), resp.TaskID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStateCompleted, final.State)
	})

	t.Run("empty subject list rejected", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/tasks/batch", map[string]any{
			"task_type":   "payroll_processing",
			"title":       "empty",
			"subject_ids": []string{},
			"command":     "process",
			"user_id":     env.userID.String(),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown task type rejected", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/tasks/batch", map[string]any{
			"task_type":   "report_generation",
			"title":       "unregistered",
			"subject_ids": []string{"1"},
			"command":     "process",
			"user_id":     env.userID.String(),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/api/tasks/batch",
			bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmitJobEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"task_type":  "payroll_processing",
		"title":      "payroll for employee 7",
		"module":     "hrm.payroll",
		"subject_id": "employee-7",
		"command":    "process",
		"user_id":    env.userID.String(),
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[api.SubmissionResponse](t, rec)

	env.orchestrator.Wait()

	final, err := env.registry.Get(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateCompleted, final.State)
}

func TestGetTaskEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("known task", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		created := env.createPending(t)

		rec := env.do(t, http.MethodGet, "/api/tasks/"+created.TrackingID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[api.TaskResponse](t, rec)
		assert.Equal(t, created.TrackingID, resp.TaskID)
		assert.Equal(t, "pending", resp.State)
		assert.Equal(t, "payroll_processing", resp.Type)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListTasksEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.createPending(t)
	env.createPending(t)

	rec := env.do(t, http.MethodGet, "/api/tasks?state=pending&module=hrm.payroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string][]api.TaskResponse](t, rec)
	assert.Len(t, resp["tasks"], 2)

	rec = env.do(t, http.MethodGet, "/api/tasks?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskLogsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	created := env.createPending(t)

	rec := env.do(t, http.MethodGet, "/api/tasks/"+created.TrackingID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Logs     []api.LogEntryResponse `json:"logs"`
		Page     int                    `json:"page"`
		PageSize int                    `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "task created", resp.Logs[0].Message)
	assert.Equal(t, 1, resp.Page)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+created.TrackingID+"/logs?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString()+"/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTaskEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("cancels a pending task", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		created := env.createPending(t)

		rec := env.do(t, http.MethodPost, "/api/tasks/"+created.TrackingID+"/cancel",
			map[string]any{"reason": "duplicate submission"})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[api.TaskResponse](t, rec)
		assert.Equal(t, "cancelled", resp.State)
	})

	t.Run("conflict on completed task", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		created := env.createPending(t)

		ctx := context.Background()
		_, err := env.registry.MarkStarted(ctx, created.TrackingID)
		require.NoError(t, err)
		_, err = env.registry.MarkCompleted(ctx, created.TrackingID, nil)
		require.NoError(t, err)

		rec := env.do(t, http.MethodPost, "/api/tasks/"+created.TrackingID+"/cancel", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		rec := env.do(t, http.MethodPost, "/api/tasks/"+uuid.NewString()+"/cancel", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
