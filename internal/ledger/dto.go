package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createInvoiceRequest struct {
	OrderID     *uuid.UUID      `json:"orderId"`
	CustomerID  uuid.UUID       `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type processPaymentRequest struct {
	CustomerID      uuid.UUID       `json:"customerId" validate:"required"`
	InvoiceID       uuid.UUID       `json:"invoiceId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"paymentMethod" validate:"required,max=64"`
	PaymentIntentID string          `json:"paymentIntentId" validate:"required,max=128"`
	Status          string          `json:"status" validate:"required"`
}

type refundRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"required,max=500"`
	Reference string          `json:"reference" validate:"max=128"`
}

type paymentResponse struct {
	Payment  Payment `json:"payment"`
	Invoice  Invoice `json:"invoice"`
	Replayed bool    `json:"replayed,omitempty"`
}

type refundResponse struct {
	Refund   Payment `json:"refund"`
	Invoice  Invoice `json:"invoice"`
	Replayed bool    `json:"replayed,omitempty"`
}
