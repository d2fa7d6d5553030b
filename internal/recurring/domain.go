package recurring

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/orders"
)

// Schedule is the cadence of a subscription.
type Schedule string

const (
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// Status of a subscription. Cancelled is final.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Subscription generates a pending order from ItemTemplate on every
// NextOrderDate. Dates are civil dates held as UTC midnight.
type Subscription struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	CustomerID       uuid.UUID
	Schedule         Schedule
	BillingDay       int
	StartDate        time.Time
	ItemTemplate     []orders.Item
	ShippingAddress  string
	Notes            string
	NextOrderDate    time.Time
	Status           Status
	LastGeneratedFor *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SubscriptionInput carries the fields of a new subscription.
type SubscriptionInput struct {
	CustomerID      uuid.UUID
	Schedule        Schedule
	BillingDay      int
	StartDate       time.Time
	Items           []orders.Item
	ShippingAddress string
	Notes           string
}

// GeneratedOrder records one order created by a generation run.
type GeneratedOrder struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	OrderID        uuid.UUID `json:"orderId"`
	DueDate        string    `json:"dueDate"`
}

// GenerationReport summarises one GenerateDueOrders run.
type GenerationReport struct {
	Generated []GeneratedOrder `json:"generated"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
}
