package orchestrator

import (
	"context"
	"errors"

	"github.com/phrazzld/taskforge/internal/domain"
	"github.com/phrazzld/taskforge/internal/events"
)

// finalize aggregates the unit outcomes of a finished batch and drives the
// parent record to its terminal state. A batch that ran to completion is
// Completed regardless of how many units failed; the per-unit failures live
// in output_data. Only a bookkeeping error while completing the parent marks
// it Failed.
func (o *Orchestrator) finalize(
	ctx context.Context,
	parent *domain.TaskRecord,
	outcomes []UnitOutcome,
) {
	succeeded := 0
	results := make([]map[string]any, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.OK {
			succeeded++
		}
		entry := map[string]any{
			"subject_id": outcome.SubjectID,
			"ok":         outcome.OK,
		}
		if outcome.OK {
			entry["output"] = outcome.Output
			if outcome.Cached {
				entry["cached"] = true
			}
		} else {
			entry["error"] = outcome.Error
			entry["failure_kind"] = string(outcome.Kind)
		}
		results = append(results, entry)
	}

	total := len(outcomes)
	failed := total - succeeded
	output := map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    failed,
		"total":     total,
	}

	if _, err := o.registry.MarkCompleted(ctx, parent.TrackingID, output); err != nil {
		// A batch cancelled mid-flight keeps its cancelled state; the
		// aggregation result is dropped, not forced over it.
		if errors.Is(err, domain.ErrInvalidTransition) {
			o.logger.Info("batch reached fan-in after its record turned terminal",
				"tracking_id", parent.TrackingID,
				"succeeded", succeeded,
				"failed", failed)
			return
		}

		o.logger.Error("failed to finalize batch",
			"tracking_id", parent.TrackingID,
			"error", err)

		if _, failErr := o.registry.MarkFailed(ctx, parent.TrackingID,
			"batch finalization failed: "+err.Error(), ""); failErr != nil {
			o.logger.Error("failed to mark batch failed after finalization error",
				"tracking_id", parent.TrackingID,
				"error", failErr)
		}

		o.broadcastBatch(ctx, parent, events.EventBatchProcessingFailed, map[string]any{
			"error": err.Error(),
		})
		return
	}

	o.logger.Info("batch finalized",
		"tracking_id", parent.TrackingID,
		"succeeded", succeeded,
		"failed", failed,
		"total", total)

	o.broadcastBatch(ctx, parent, events.EventBatchProcessingCompleted, map[string]any{
		"succeeded": succeeded,
		"failed":    failed,
		"total":     total,
	})
}
