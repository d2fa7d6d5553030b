package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// settleTolerance is the balance at or below which an invoice counts as paid.
var settleTolerance = decimal.New(1, -2)

// Position is the arithmetic state of an invoice.
type Position struct {
	Total   decimal.Decimal
	Paid    decimal.Decimal
	Balance decimal.Decimal
	Status  InvoiceStatus
}

// NewPosition opens an unpaid position for total.
func NewPosition(total decimal.Decimal) (Position, error) {
	if err := checkMoney(total, true); err != nil {
		return Position{}, err
	}
	p := Position{Total: total, Paid: decimal.Zero, Balance: total}
	p.Status = DeriveStatus(p.Paid, p.Balance)
	return p, nil
}

// DeriveStatus classifies a position after a payment.
func DeriveStatus(paid, balance decimal.Decimal) InvoiceStatus {
	switch {
	case balance.LessThanOrEqual(settleTolerance):
		return InvoiceStatusPaid
	case paid.LessThanOrEqual(decimal.Zero):
		return InvoiceStatusPending
	default:
		return InvoiceStatusPartial
	}
}

// ApplyPaymentAmount adds amount to paid. Amounts above the open balance are rejected.
func ApplyPaymentAmount(cur Position, amount decimal.Decimal) (Position, error) {
	if err := checkMoney(amount, false); err != nil {
		return Position{}, err
	}
	if amount.GreaterThan(cur.Balance) {
		return Position{}, fmt.Errorf("%w: payment %s exceeds balance %s", shared.ErrValidation, amount.StringFixed(2), cur.Balance.StringFixed(2))
	}
	next := Position{Total: cur.Total, Paid: cur.Paid.Add(amount)}
	next.Balance = next.Total.Sub(next.Paid)
	next.Status = DeriveStatus(next.Paid, next.Balance)
	return next, CheckInvariant(next)
}

// ApplyRefundAmount removes amount from paid. A refunded position is never reported as paid.
func ApplyRefundAmount(cur Position, amount decimal.Decimal) (Position, error) {
	if err := checkMoney(amount, false); err != nil {
		return Position{}, err
	}
	if amount.GreaterThan(cur.Paid) {
		return Position{}, fmt.Errorf("%w: refund %s exceeds paid %s", shared.ErrOverRefund, amount.StringFixed(2), cur.Paid.StringFixed(2))
	}
	next := Position{Total: cur.Total, Paid: cur.Paid.Sub(amount)}
	next.Balance = next.Total.Sub(next.Paid)
	if next.Paid.LessThanOrEqual(decimal.Zero) {
		next.Status = InvoiceStatusPending
	} else {
		next.Status = InvoiceStatusPartial
	}
	return next, CheckInvariant(next)
}

// CheckInvariant verifies balance = total - paid with no negative figures.
func CheckInvariant(p Position) error {
	switch {
	case p.Paid.IsNegative():
		return fmt.Errorf("%w: paid amount %s is negative", shared.ErrLedgerInvariant, p.Paid)
	case p.Balance.IsNegative():
		return fmt.Errorf("%w: balance %s is negative", shared.ErrLedgerInvariant, p.Balance)
	case !p.Balance.Equal(p.Total.Sub(p.Paid)):
		return fmt.Errorf("%w: balance %s != total %s - paid %s", shared.ErrLedgerInvariant, p.Balance, p.Total, p.Paid)
	}
	return nil
}

func checkMoney(amount decimal.Decimal, allowZero bool) error {
	if amount.IsNegative() || (!allowZero && amount.IsZero()) {
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", shared.ErrValidation, amount)
	}
	return nil
}
