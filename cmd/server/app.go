package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskforge/internal/api"
	"github.com/phrazzld/taskforge/internal/api/middleware"
	"github.com/phrazzld/taskforge/internal/api/shared"
	"github.com/phrazzld/taskforge/internal/cache"
	"github.com/phrazzld/taskforge/internal/config"
	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/events"
	"github.com/phrazzld/taskforge/internal/housekeeping"
	"github.com/phrazzld/taskforge/internal/orchestrator"
	"github.com/phrazzld/taskforge/internal/platform/postgres"
	"github.com/phrazzld/taskforge/internal/registry"
	"github.com/phrazzld/taskforge/internal/store"
	"github.com/redis/go-redis/v9"
)

// shutdownTimeout bounds how long Run waits for the HTTP server to drain.
const shutdownTimeout = 15 * time.Second

// application holds the shared application dependencies so wiring and
// shutdown live in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	taskStore store.TaskRecordStore
	logStore  store.TaskLogStore

	broadcaster  events.Broadcaster
	registry     *registry.Registry
	dispatch     *orchestrator.Dispatch
	orchestrator *orchestrator.Orchestrator
	cleaner      *housekeeping.Cleaner
}

// newApplication creates an application with all dependencies initialized.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisAddr,
		DB:   cfg.Cache.RedisDB,
	})

	app.taskStore = postgres.NewPostgresTaskRecordStore(db)
	app.logStore = postgres.NewPostgresTaskLogStore(db)
	app.broadcaster = events.NewWatermillBroadcaster(logger)

	app.registry = registry.New(
		store.NewSQLTxRunner(db),
		app.taskStore,
		app.logStore,
		app.broadcaster,
		logger,
	)

	executor := orchestrator.NewUnitExecutor(
		cache.NewRedisResultCache(app.redis),
		app.broadcaster,
		cfg.Cache.ResultTTL(),
		logger,
	)

	app.dispatch = orchestrator.NewDispatch()
	app.orchestrator = orchestrator.New(
		app.registry,
		executor,
		app.dispatch,
		app.broadcaster,
		cfg.Orchestrator.WorkerCount,
		logger,
	)

	app.cleaner = housekeeping.NewCleaner(
		app.registry,
		cfg.Cleanup.Schedule,
		cfg.Cleanup.Retention(),
		logger,
	)

	if err := app.registerUnitCallbacks(); err != nil {
		return nil, fmt.Errorf("failed to register unit callbacks: %w", err)
	}
	logger.Info("unit callbacks registered",
		"task_types", app.dispatch.RegisteredTypes())

	return app, nil
}

// registerUnitCallbacks binds the built-in system units. Domain modules
// register their own callbacks through the dispatch table before the server
// starts accepting submissions.
func (app *application) registerUnitCallbacks() error {
	// cache_clear drops every cached unit result, forcing recomputation on
	// the next submissions.
	err := app.dispatch.Register(domain.TaskTypeCacheClear,
		func(ctx context.Context, unit orchestrator.UnitContext) orchestrator.Result {
			deleted, err := app.clearResultCache(ctx)
			if err != nil {
				return orchestrator.Fail(orchestrator.FailureDomain, err.Error())
			}
			return orchestrator.Ok(map[string]any{"deleted_keys": deleted})
		})
	if err != nil {
		return err
	}

	// system_maintenance runs the retention sweep on demand.
	return app.dispatch.Register(domain.TaskTypeSystemMaintenance,
		func(ctx context.Context, unit orchestrator.UnitContext) orchestrator.Result {
			deleted, err := app.cleaner.RunOnce(ctx)
			if err != nil {
				return orchestrator.Fail(orchestrator.FailureDomain, err.Error())
			}
			return orchestrator.Ok(map[string]any{"deleted_records": deleted})
		})
}

// clearResultCache deletes all idempotent-cache entries.
func (app *application) clearResultCache(ctx context.Context) (int64, error) {
	var deleted int64
	var cursor uint64

	for {
		keys, next, err := app.redis.Scan(ctx, cursor, "taskforge:result:*", 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan result cache: %w", err)
		}
		if len(keys) > 0 {
			n, err := app.redis.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete cache keys: %w", err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Run starts housekeeping and the HTTP server, then blocks until the context
// is cancelled and shutdown finishes.
func (app *application) Run(ctx context.Context) error {
	app.logStartupCensus(ctx)

	if err := app.cleaner.Start(); err != nil {
		return fmt.Errorf("failed to start housekeeping: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("HTTP server shutdown failed", "error", err)
	}

	// In-flight batches hold the authoritative record state; let them reach
	// their barriers before the process exits.
	app.orchestrator.Wait()
	app.cleaner.Stop()

	return nil
}

// setupRouter builds the HTTP route tree.
func (app *application) setupRouter() *chi.Mux {
	taskHandler := api.NewTaskHandler(app.orchestrator, app.registry, app.logger)
	eventsHandler := api.NewEventsHandler(app.broadcaster, app.logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.TraceMiddleware)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api", func(r chi.Router) {
		r.Post("/tasks/batch", taskHandler.SubmitBatch)
		r.Post("/tasks", taskHandler.SubmitJob)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{trackingID}", taskHandler.GetTask)
		r.Get("/tasks/{trackingID}/logs", taskHandler.GetTaskLogs)
		r.Post("/tasks/{trackingID}/cancel", taskHandler.CancelTask)
		r.Get("/events/ws", eventsHandler.Subscribe)
	})

	return router
}

// logStartupCensus reports records stranded in non-terminal states by a
// previous run. They are not requeued; duplicate submissions are absorbed by
// the idempotent cache instead.
func (app *application) logStartupCensus(ctx context.Context) {
	counts, err := app.registry.CountByState(ctx)
	if err != nil {
		app.logger.Warn("failed to count task records at startup", "error", err)
		return
	}

	app.logger.Info("task record census",
		"pending", counts[domain.TaskStatePending],
		"running", counts[domain.TaskStateRunning],
		"completed", counts[domain.TaskStateCompleted],
		"failed", counts[domain.TaskStateFailed],
		"cancelled", counts[domain.TaskStateCancelled])

	if stranded := counts[domain.TaskStatePending] + counts[domain.TaskStateRunning]; stranded > 0 {
		app.logger.Warn("found task records stranded by a previous run",
			"stranded", stranded)
	}
}

// cleanup releases application resources in reverse dependency order.
func (app *application) cleanup() {
	if app.broadcaster != nil {
		if err := app.broadcaster.Close(); err != nil {
			app.logger.Error("error closing broadcaster", "error", err)
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
