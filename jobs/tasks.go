package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecurringGenerate creates orders for due recurring subscriptions.
	TaskRecurringGenerate = "recurring:generate"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// RecurringGeneratePayload pins the civil date a run generates for. An empty
// AsOf means the current UTC date.
type RecurringGeneratePayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewRecurringGenerateTask constructs the generation task.
func NewRecurringGenerateTask(asOf time.Time) (*asynq.Task, error) {
	payload := RecurringGeneratePayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.UTC().Format(time.DateOnly)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringGenerate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
