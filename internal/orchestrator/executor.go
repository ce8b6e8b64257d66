package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/phrazzld/taskforge/internal/cache"
	"github.com/phrazzld/taskforge/internal/events"
)

// UnitOutcome is the terminal outcome of one executed unit, as aggregated by
// the finalizer.
type UnitOutcome struct {
	SubjectID string         `json:"subject_id"`
	OK        bool           `json:"ok"`
	Output    map[string]any `json:"output,omitempty"`
	Kind      FailureKind    `json:"failure_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Cached    bool           `json:"cached,omitempty"`
}

// UnitExecutor runs one unit of work: consult the idempotent result cache,
// invoke the domain callback if needed, cache successes, and emit per-unit
// events. It never returns an error; every path ends in a UnitOutcome.
type UnitExecutor struct {
	cache       cache.ResultCache
	broadcaster events.Broadcaster
	resultTTL   time.Duration
	logger      *slog.Logger
}

// NewUnitExecutor creates a UnitExecutor writing cached results with the
// given TTL.
func NewUnitExecutor(
	resultCache cache.ResultCache,
	broadcaster events.Broadcaster,
	resultTTL time.Duration,
	logger *slog.Logger,
) *UnitExecutor {
	return &UnitExecutor{
		cache:       resultCache,
		broadcaster: broadcaster,
		resultTTL:   resultTTL,
		logger:      logger.With("component", "unit_executor"),
	}
}

// Execute runs one unit to a terminal outcome. Rerun-class commands skip the
// cache read but still refresh the entry on success; failures are never
// cached.
func (e *UnitExecutor) Execute(ctx context.Context, unit UnitContext, fn UnitFunc) UnitOutcome {
	fingerprint := cache.Fingerprint(unit.SubjectID, contextKey(unit.Context), unit.Command)

	if !isRerunCommand(unit.Command) {
		if cached, err := e.cache.Get(ctx, fingerprint); err == nil {
			e.emitUnitEvent(ctx, unit, events.EventTaskCompleted, map[string]any{
				"subject_id": unit.SubjectID,
				"cached":     true,
			})
			return UnitOutcome{
				SubjectID: unit.SubjectID,
				OK:        true,
				Output:    cached.Output,
				Cached:    true,
			}
		}
	}

	result := e.invoke(ctx, unit, fn)

	if !result.IsOk() {
		kind, message := result.Failure()
		e.emitUnitEvent(ctx, unit, events.EventTaskFailed, map[string]any{
			"subject_id": unit.SubjectID,
			"error":      message,
		})
		return UnitOutcome{
			SubjectID: unit.SubjectID,
			Kind:      kind,
			Error:     message,
		}
	}

	if err := e.cache.Set(ctx, fingerprint, &cache.CachedResult{
		SubjectID: unit.SubjectID,
		Output:    result.Output(),
		CachedAt:  time.Now().UTC(),
	}, e.resultTTL); err != nil {
		// The record is authoritative; a cache write failure only costs a
		// recomputation on the next duplicate submission.
		e.logger.Warn("failed to cache unit result",
			"subject_id", unit.SubjectID,
			"tracking_id", unit.ParentTrackingID,
			"error", err)
	}

	e.emitUnitEvent(ctx, unit, events.EventTaskCompleted, map[string]any{
		"subject_id": unit.SubjectID,
		"cached":     false,
	})

	return UnitOutcome{
		SubjectID: unit.SubjectID,
		OK:        true,
		Output:    result.Output(),
	}
}

// invoke calls the domain callback with a panic guard. A panicking callback
// becomes a failed result so sibling units keep running.
func (e *UnitExecutor) invoke(ctx context.Context, unit UnitContext, fn UnitFunc) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("unit callback panicked",
				"subject_id", unit.SubjectID,
				"tracking_id", unit.ParentTrackingID,
				"panic", r,
				"stack", string(debug.Stack()))
			result = Fail(FailurePanic, fmt.Sprintf("unit callback panicked: %v", r))
		}
	}()

	return fn(ctx, unit)
}

func (e *UnitExecutor) emitUnitEvent(
	ctx context.Context,
	unit UnitContext,
	eventType events.EventType,
	payload map[string]any,
) {
	e.broadcaster.Broadcast(ctx, events.NewTaskEvent(eventType, unit.ParentTrackingID, payload))
}

// contextKey derives the deterministic cache-key component from the shared
// batch context. encoding/json writes map keys in sorted order, so equal
// contexts always produce equal keys.
func contextKey(context map[string]any) string {
	if len(context) == 0 {
		return ""
	}
	data, err := json.Marshal(context)
	if err != nil {
		return fmt.Sprintf("%v", context)
	}
	return string(data)
}

// isRerunCommand reports whether a command forces recomputation. Rerun-class
// commands are named "rerun" or suffixed with it, e.g. "payroll:rerun".
func isRerunCommand(command string) bool {
	return command == "rerun" || strings.HasSuffix(command, ":rerun") ||
		strings.HasSuffix(command, "_rerun")
}
