package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecurringLeaseKey builds redis keys guarding one subscription occurrence.
func RecurringLeaseKey(subscriptionID uuid.UUID, due time.Time) string {
	return fmt.Sprintf("recurring:%s:%s:lock", subscriptionID, due.UTC().Format(time.DateOnly))
}

// RecurringIdempotencyKey identifies one generated occurrence in idempotency_keys.
func RecurringIdempotencyKey(subscriptionID uuid.UUID, due time.Time) string {
	return fmt.Sprintf("%s:%s", subscriptionID, due.UTC().Format(time.DateOnly))
}
