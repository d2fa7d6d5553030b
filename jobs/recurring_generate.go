package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/orderflow/internal/jobs"
	"github.com/odyssey-erp/orderflow/internal/recurring"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RecurringGenerator describes the scheduler behaviour the job drives.
type RecurringGenerator interface {
	GenerateDueOrders(ctx context.Context, now time.Time) (recurring.GenerationReport, error)
}

// RecurringGenerateJob runs one generation pass per task.
type RecurringGenerateJob struct {
	Generator RecurringGenerator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewRecurringGenerateJob constructs the job handler.
func NewRecurringGenerateJob(generator RecurringGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringGenerateJob {
	return &RecurringGenerateJob{
		Generator: generator,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the generation job.
func (j *RecurringGenerateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Generator == nil {
		return errors.New("recurring generate: dependencies not configured")
	}
	var payload RecurringGeneratePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("recurring generate: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, payload.AsOf)
		if err != nil {
			return fmt.Errorf("recurring generate: invalid as_of %q: %w", payload.AsOf, asynq.SkipRetry)
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskRecurringGenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	report, err := j.Generator.GenerateDueOrders(ctx, asOf)
	j.metrics().AddItems(TaskRecurringGenerate, "generated", len(report.Generated))
	j.metrics().AddItems(TaskRecurringGenerate, "skipped", report.Skipped)
	j.metrics().AddItems(TaskRecurringGenerate, "failed", report.Failed)
	if err != nil {
		resultErr = err
		j.log().Error("generate due orders", slog.String("as_of", asOf.Format(time.DateOnly)), slog.Any("error", err))
		return resultErr
	}
	j.log().Info("generated recurring orders",
		slog.String("as_of", asOf.Format(time.DateOnly)),
		slog.Int("generated", len(report.Generated)),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *RecurringGenerateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RecurringGenerateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRecurringGenerate))
	}
	return slog.Default().With(slog.String("job", TaskRecurringGenerate))
}

func (j *RecurringGenerateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RecurringGenerateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
