package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/ledger"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether items of an order in this status are frozen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Item is one order line. TotalPrice is always Quantity x UnitPrice.
type Item struct {
	ProductID  uuid.UUID       `json:"productId"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

func (i Item) withTotal() Item {
	i.TotalPrice = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
	return i
}

// Order is a customer order with its ordered lines.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"-"`
	CustomerID     uuid.UUID       `json:"customerId"`
	Status         Status          `json:"status"`
	Items          []Item          `json:"items"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	VisitID        *uuid.UUID      `json:"visitId,omitempty"`
	CampaignID     *uuid.UUID      `json:"campaignId,omitempty"`
	SubscriptionID *uuid.UUID      `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CreateInput carries the fields of a new order.
type CreateInput struct {
	CustomerID     uuid.UUID
	Items          []Item
	VisitID        *uuid.UUID
	CampaignID     *uuid.UUID
	SubscriptionID *uuid.UUID
}

// TransitionInput requests a status move. From must equal the stored status.
type TransitionInput struct {
	OrderID uuid.UUID
	From    Status
	To      Status
	Action  string
	Notes   string
}

// ModifyAction names an item-level change.
type ModifyAction string

const (
	ActionAddItem        ModifyAction = "add_item"
	ActionRemoveItem     ModifyAction = "remove_item"
	ActionUpdateQuantity ModifyAction = "update_quantity"
	ActionUpdatePrice    ModifyAction = "update_price"
)

// ItemChange is the payload of a modification. Quantity and UnitPrice are
// only read by the actions that need them.
type ItemChange struct {
	ProductID uuid.UUID        `json:"productId"`
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

// ModifyInput requests an item change on an order.
type ModifyInput struct {
	OrderID     uuid.UUID
	Action      ModifyAction
	Item        ItemChange
	Reason      string
	Recalculate bool
}

// ModifyResult is the order after the change plus the audit row id.
type ModifyResult struct {
	Order          Order     `json:"order"`
	ModificationID uuid.UUID `json:"modificationId"`
}

// FinancialSummary joins an order with the state of its invoices.
type FinancialSummary struct {
	OrderTotal decimal.Decimal `json:"orderTotal"`
	ItemCount  int             `json:"itemCount"`
	ledger.OrderSummary
	Formatted map[string]string `json:"formatted"`
}

// SumItems returns the sum of line totals.
func SumItems(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.withTotal().TotalPrice)
	}
	return total
}
