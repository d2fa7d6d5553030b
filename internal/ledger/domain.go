package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice settlement states.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// PaymentStatus enumerates payment row states.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// PaymentKind separates incoming payments from refunds in the payments table.
type PaymentKind string

const (
	PaymentKindPayment PaymentKind = "payment"
	PaymentKindRefund  PaymentKind = "refund"
)

// Invoice carries the running balance for an order or customer charge.
type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"-"`
	OrderID     *uuid.UUID      `json:"orderId,omitempty"`
	CustomerID  uuid.UUID       `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	PaidAmount  decimal.Decimal `json:"paidAmount"`
	Balance     decimal.Decimal `json:"balance"`
	Status      InvoiceStatus   `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Position returns the ledger figures of the invoice.
func (inv Invoice) Position() Position {
	return Position{Total: inv.TotalAmount, Paid: inv.PaidAmount, Balance: inv.Balance, Status: inv.Status}
}

func (inv *Invoice) apply(p Position, at time.Time) {
	inv.PaidAmount = p.Paid
	inv.Balance = p.Balance
	inv.Status = p.Status
	inv.UpdatedAt = at
}

// Payment is either an applied payment or a refund against one.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"-"`
	InvoiceID uuid.UUID       `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
	Status    PaymentStatus   `json:"status"`
	Kind      PaymentKind     `json:"kind"`
	RefundOf  *uuid.UUID      `json:"refundOf,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PaymentInput applies money to an invoice.
type PaymentInput struct {
	InvoiceID  uuid.UUID
	CustomerID uuid.UUID
	Amount     decimal.Decimal
	Method     string
	Reference  string
}

// GatewayPaymentInput is a payment reported by the payment gateway callback.
type GatewayPaymentInput struct {
	PaymentInput
	IntentID string
	Status   string
}

// RefundInput reverses part or all of a completed payment.
type RefundInput struct {
	PaymentID uuid.UUID
	Amount    decimal.Decimal
	Reason    string
	Reference string
}

// CreateInvoiceInput opens an invoice; TotalAmount is taken from the order when OrderID is set.
type CreateInvoiceInput struct {
	OrderID     *uuid.UUID
	CustomerID  uuid.UUID
	TotalAmount decimal.Decimal
}

// PaymentResult bundles the stored payment row with the invoice after the change.
type PaymentResult struct {
	Payment Payment `json:"payment"`
	Invoice Invoice `json:"invoice"`
}

// InvoiceDetail is an invoice with its payment history.
type InvoiceDetail struct {
	Invoice  Invoice   `json:"invoice"`
	Payments []Payment `json:"payments"`
}

// OrderSummary aggregates every invoice raised for one order.
type OrderSummary struct {
	InvoiceCount   int             `json:"invoiceCount"`
	InvoicedAmount decimal.Decimal `json:"invoicedAmount"`
	PaidAmount     decimal.Decimal `json:"paidAmount"`
	Balance        decimal.Decimal `json:"balance"`
	RefundedAmount decimal.Decimal `json:"refundedAmount"`
	Status         string          `json:"invoiceStatus"`
}
