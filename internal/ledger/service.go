package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// refundNamespace seeds deterministic refund references.
var refundNamespace = uuid.MustParse("3b9f6f0e-5a57-4c43-9d0b-6f1f1d3c2a71")

// RepositoryPort describes persistence used by the ledger service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (Invoice, error)
	ListInvoicesForOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]Invoice, error)
	ListPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]Payment, error)
}

// OrderLookup resolves who owes what for an order.
type OrderLookup interface {
	BillableOrder(ctx context.Context, tenantID, orderID uuid.UUID) (customerID uuid.UUID, total decimal.Decimal, err error)
}

// Service applies payments and refunds against invoices.
type Service struct {
	repo    RepositoryPort
	orders  OrderLookup
	gateway Gateway
	metrics *observability.Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService constructs the ledger service. orders and gateway may be nil.
func NewService(repo RepositoryPort, orders OrderLookup, gateway Gateway, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		orders:  orders,
		gateway: gateway,
		metrics: metrics,
		logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.clock = clock
	}
}

// CreateInvoice opens an invoice for an order or an explicit customer charge.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Invoice{}, err
	}
	customerID, total := in.CustomerID, in.TotalAmount
	if in.OrderID != nil {
		if s.orders == nil {
			return Invoice{}, fmt.Errorf("%w: order invoicing not configured", shared.ErrValidation)
		}
		orderCustomer, orderTotal, err := s.orders.BillableOrder(ctx, principal.TenantID, *in.OrderID)
		if err != nil {
			return Invoice{}, err
		}
		if customerID != uuid.Nil && customerID != orderCustomer {
			return Invoice{}, fmt.Errorf("%w: customer does not match order", shared.ErrValidation)
		}
		customerID = orderCustomer
		if total.IsZero() {
			total = orderTotal
		}
	}
	if customerID == uuid.Nil {
		return Invoice{}, fmt.Errorf("%w: customerId is required", shared.ErrValidation)
	}
	if !total.IsPositive() {
		return Invoice{}, fmt.Errorf("%w: invoice total must be positive", shared.ErrValidation)
	}
	pos, err := NewPosition(total)
	if err != nil {
		return Invoice{}, err
	}
	now := s.clock()
	inv := Invoice{
		ID:          uuid.New(),
		TenantID:    principal.TenantID,
		OrderID:     in.OrderID,
		CustomerID:  customerID,
		TotalAmount: pos.Total,
		PaidAmount:  pos.Paid,
		Balance:     pos.Balance,
		Status:      pos.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertInvoice(ctx, inv)
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// GetInvoice returns an invoice with its payments.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (InvoiceDetail, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return InvoiceDetail{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, principal.TenantID, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, principal.TenantID, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	return InvoiceDetail{Invoice: inv, Payments: payments}, nil
}

// ApplyPayment records a completed payment and moves the invoice balance.
// A reference already applied to the invoice returns the earlier payment
// together with shared.ErrDuplicateReference.
func (s *Service) ApplyPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	result, err := s.applyPayment(ctx, in)
	s.observe("payment", err)
	return result, err
}

func (s *Service) applyPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return PaymentResult{}, err
	}
	reference := strings.TrimSpace(in.Reference)
	if in.InvoiceID == uuid.Nil || reference == "" {
		return PaymentResult{}, fmt.Errorf("%w: invoiceId and reference are required", shared.ErrValidation)
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = "manual"
	}

	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, principal.TenantID, in.InvoiceID)
		if err != nil {
			return err
		}
		if in.CustomerID != uuid.Nil && in.CustomerID != inv.CustomerID {
			return fmt.Errorf("%w: customer does not own invoice", shared.ErrValidation)
		}
		existing, found, err := tx.FindPaymentByReference(ctx, inv.ID, reference)
		if err != nil {
			return err
		}
		if found {
			result = PaymentResult{Payment: existing, Invoice: inv}
			return fmt.Errorf("reference %q: %w", reference, shared.ErrDuplicateReference)
		}
		next, err := ApplyPaymentAmount(inv.Position(), in.Amount)
		if err != nil {
			return err
		}
		now := s.clock()
		inv.apply(next, now)
		payment := Payment{
			ID:        uuid.New(),
			TenantID:  principal.TenantID,
			InvoiceID: inv.ID,
			Amount:    in.Amount,
			Method:    method,
			Reference: reference,
			Status:    PaymentStatusCompleted,
			Kind:      PaymentKindPayment,
			CreatedAt: now,
		}
		if err := tx.UpdateInvoicePosition(ctx, inv); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		result = PaymentResult{Payment: payment, Invoice: inv}
		return nil
	})
	if err != nil {
		return result, err
	}
	s.logger.Info("payment applied",
		slog.String("invoice_id", result.Invoice.ID.String()),
		slog.String("amount", result.Payment.Amount.StringFixed(2)),
		slog.String("status", string(result.Invoice.Status)))
	return result, nil
}

// ProcessGatewayPayment applies a payment reported by the payment gateway.
// When a Gateway is configured the intent is confirmed with the provider first.
func (s *Service) ProcessGatewayPayment(ctx context.Context, in GatewayPaymentInput) (PaymentResult, error) {
	switch strings.ToLower(strings.TrimSpace(in.Status)) {
	case "succeeded", "completed":
	default:
		return PaymentResult{}, fmt.Errorf("%w: payment status %q is not successful", shared.ErrValidation, in.Status)
	}
	intentID := strings.TrimSpace(in.IntentID)
	if intentID == "" {
		return PaymentResult{}, fmt.Errorf("%w: paymentIntentId is required", shared.ErrValidation)
	}
	if s.gateway != nil {
		intent, err := s.gateway.LookupIntent(ctx, intentID)
		if err != nil {
			s.observe("payment", shared.ErrGateway)
			return PaymentResult{}, fmt.Errorf("%w: lookup intent %s: %v", shared.ErrGateway, intentID, err)
		}
		if !intent.Captured {
			s.observe("payment", shared.ErrGateway)
			return PaymentResult{}, fmt.Errorf("%w: intent %s is %s", shared.ErrGateway, intentID, intent.Status)
		}
		if !intent.Amount.Equal(in.Amount) {
			return PaymentResult{}, fmt.Errorf("%w: intent amount %s differs from %s", shared.ErrValidation, intent.Amount.StringFixed(2), in.Amount.StringFixed(2))
		}
	}
	if in.Reference == "" {
		in.Reference = intentID
	}
	return s.ApplyPayment(ctx, in.PaymentInput)
}

// ApplyRefund reverses a completed payment in part or in full. A payment
// accepts several partial refunds until their sum reaches its amount; only
// then is it marked refunded.
func (s *Service) ApplyRefund(ctx context.Context, in RefundInput) (PaymentResult, error) {
	result, err := s.applyRefund(ctx, in)
	s.observe("refund", err)
	return result, err
}

func (s *Service) applyRefund(ctx context.Context, in RefundInput) (PaymentResult, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return PaymentResult{}, err
	}
	if in.PaymentID == uuid.Nil {
		return PaymentResult{}, fmt.Errorf("%w: payment id is required", shared.ErrValidation)
	}
	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = RefundReference(in.PaymentID)
	}

	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.LockPayment(ctx, principal.TenantID, in.PaymentID)
		if err != nil {
			return err
		}
		inv, err := tx.LockInvoice(ctx, principal.TenantID, original.InvoiceID)
		if err != nil {
			return err
		}
		existing, found, err := tx.FindPaymentByReference(ctx, inv.ID, reference)
		if err != nil {
			return err
		}
		if found {
			result = PaymentResult{Payment: existing, Invoice: inv}
			return fmt.Errorf("reference %q: %w", reference, shared.ErrDuplicateReference)
		}
		if original.Kind != PaymentKindPayment || original.Status != PaymentStatusCompleted {
			return fmt.Errorf("%w: payment %s is not a completed payment", shared.ErrValidation, original.ID)
		}
		refunded, err := tx.RefundedAmount(ctx, original.ID)
		if err != nil {
			return err
		}
		remaining := original.Amount.Sub(refunded)
		amount := in.Amount
		if amount.IsZero() {
			amount = remaining
		}
		if amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: refund %s exceeds refundable %s of payment %s", shared.ErrOverRefund, amount.StringFixed(2), remaining.StringFixed(2), original.Amount.StringFixed(2))
		}
		next, err := ApplyRefundAmount(inv.Position(), amount)
		if err != nil {
			return err
		}
		now := s.clock()
		inv.apply(next, now)
		refund := Payment{
			ID:        uuid.New(),
			TenantID:  principal.TenantID,
			InvoiceID: inv.ID,
			Amount:    amount,
			Method:    original.Method,
			Reference: reference,
			Status:    PaymentStatusRefunded,
			Kind:      PaymentKindRefund,
			RefundOf:  &original.ID,
			Reason:    strings.TrimSpace(in.Reason),
			CreatedAt: now,
		}
		if err := tx.UpdateInvoicePosition(ctx, inv); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, refund); err != nil {
			return err
		}
		if refunded.Add(amount).GreaterThanOrEqual(original.Amount) {
			if err := tx.MarkPaymentRefunded(ctx, original.ID); err != nil {
				return err
			}
		}
		result = PaymentResult{Payment: refund, Invoice: inv}
		return nil
	})
	if err != nil {
		return result, err
	}
	s.logger.Info("refund applied",
		slog.String("invoice_id", result.Invoice.ID.String()),
		slog.String("payment_id", in.PaymentID.String()),
		slog.String("amount", result.Payment.Amount.StringFixed(2)))
	return result, nil
}

// SummaryForOrder aggregates the invoices of an order.
func (s *Service) SummaryForOrder(ctx context.Context, tenantID, orderID uuid.UUID) (OrderSummary, error) {
	invoices, err := s.repo.ListInvoicesForOrder(ctx, tenantID, orderID)
	if err != nil {
		return OrderSummary{}, err
	}
	summary := OrderSummary{
		InvoiceCount:   len(invoices),
		InvoicedAmount: decimal.Zero,
		PaidAmount:     decimal.Zero,
		Balance:        decimal.Zero,
		RefundedAmount: decimal.Zero,
		Status:         "uninvoiced",
	}
	counts := make(map[InvoiceStatus]int)
	for _, inv := range invoices {
		summary.InvoicedAmount = summary.InvoicedAmount.Add(inv.TotalAmount)
		summary.PaidAmount = summary.PaidAmount.Add(inv.PaidAmount)
		summary.Balance = summary.Balance.Add(inv.Balance)
		counts[inv.Status]++
		payments, err := s.repo.ListPayments(ctx, tenantID, inv.ID)
		if err != nil {
			return OrderSummary{}, err
		}
		for _, p := range payments {
			if p.Kind == PaymentKindRefund {
				summary.RefundedAmount = summary.RefundedAmount.Add(p.Amount)
			}
		}
	}
	switch {
	case len(invoices) == 0:
	case counts[InvoiceStatusPaid] == len(invoices):
		summary.Status = string(InvoiceStatusPaid)
	case counts[InvoiceStatusPending] == len(invoices):
		summary.Status = string(InvoiceStatusPending)
	default:
		summary.Status = string(InvoiceStatusPartial)
	}
	return summary, nil
}

// RefundReference derives the default reference of a refund for payment id.
func RefundReference(paymentID uuid.UUID) string {
	return "refund-" + uuid.NewSHA1(refundNamespace, paymentID[:]).String()
}

func (s *Service) observe(op string, err error) {
	outcome := "applied"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrDuplicateReference):
		outcome = "duplicate"
	case errors.Is(err, shared.ErrOverRefund):
		outcome = "over_refund"
	case errors.Is(err, shared.ErrLedgerInvariant):
		outcome = "invariant_violation"
		s.logger.Error("ledger invariant violated", slog.String("op", op), slog.Any("error", err))
	case errors.Is(err, shared.ErrGateway):
		outcome = "gateway_error"
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.metrics.ObserveLedger(op, outcome)
}
