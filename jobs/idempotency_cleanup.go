package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/orderflow/internal/jobs"
)

const defaultRetention = 90 * 24 * time.Hour

// KeyPruner removes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewIdempotencyCleanupHandler builds the cleanup task handler.
func NewIdempotencyCleanupHandler(pruner KeyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger = logger.With(slog.String("job", TaskIdempotencyCleanup))
	return func(ctx context.Context, task *asynq.Task) error {
		if pruner == nil {
			return errors.New("idempotency cleanup: store not configured")
		}
		var payload IdempotencyCleanupPayload
		if len(task.Payload()) > 0 {
			if err := json.Unmarshal(task.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		retention := time.Duration(payload.RetentionHours) * time.Hour
		if retention <= 0 {
			retention = defaultRetention
		}
		tracker := metrics.Track(TaskIdempotencyCleanup)
		removed, err := pruner.Cleanup(ctx, retention)
		if err != nil {
			logger.Error("prune idempotency keys", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddItems(TaskIdempotencyCleanup, "removed", int(removed))
		logger.Info("pruned idempotency keys", slog.Int64("removed", removed), slog.Duration("retention", retention))
		return tracker.End(nil)
	}
}
