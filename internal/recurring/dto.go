package recurring

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/orders"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

type itemRequest struct {
	ProductID uuid.UUID       `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createSubscriptionRequest struct {
	CustomerID      uuid.UUID     `json:"customerId" validate:"required"`
	Schedule        string        `json:"schedule" validate:"required,oneof=weekly monthly"`
	BillingDay      int           `json:"billingDay" validate:"gte=0,lte=31"`
	StartDate       string        `json:"startDate" validate:"required,datetime=2006-01-02"`
	Items           []itemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string        `json:"shippingAddress" validate:"max=500"`
	Notes           string        `json:"notes" validate:"max=2000"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused cancelled"`
}

type createdResponse struct {
	RecurringOrderID uuid.UUID `json:"recurringOrderId"`
	NextOrderDate    string    `json:"nextOrderDate"`
}

type subscriptionResponse struct {
	ID               uuid.UUID     `json:"id"`
	CustomerID       uuid.UUID     `json:"customerId"`
	Schedule         Schedule      `json:"schedule"`
	BillingDay       int           `json:"billingDay"`
	StartDate        string        `json:"startDate"`
	Items            []orders.Item `json:"items"`
	ShippingAddress  string        `json:"shippingAddress,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	NextOrderDate    string        `json:"nextOrderDate"`
	Status           Status        `json:"status"`
	LastGeneratedFor *string       `json:"lastGeneratedFor,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

type listResponse struct {
	Subscriptions []subscriptionResponse `json:"subscriptions"`
	Pagination    shared.Pagination      `json:"pagination"`
}

func toResponse(sub Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:              sub.ID,
		CustomerID:      sub.CustomerID,
		Schedule:        sub.Schedule,
		BillingDay:      sub.BillingDay,
		StartDate:       sub.StartDate.Format(time.DateOnly),
		Items:           sub.ItemTemplate,
		ShippingAddress: sub.ShippingAddress,
		Notes:           sub.Notes,
		NextOrderDate:   sub.NextOrderDate.Format(time.DateOnly),
		Status:          sub.Status,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
	if sub.LastGeneratedFor != nil {
		last := sub.LastGeneratedFor.Format(time.DateOnly)
		resp.LastGeneratedFor = &last
	}
	return resp
}
