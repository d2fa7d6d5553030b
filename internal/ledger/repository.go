package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// TxRepository exposes the ledger writes that must share one transaction.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) error
	LockInvoice(ctx context.Context, tenantID, id uuid.UUID) (Invoice, error)
	UpdateInvoicePosition(ctx context.Context, inv Invoice) error
	LockPayment(ctx context.Context, tenantID, id uuid.UUID) (Payment, error)
	FindPaymentByReference(ctx context.Context, invoiceID uuid.UUID, reference string) (Payment, bool, error)
	InsertPayment(ctx context.Context, p Payment) error
	RefundedAmount(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	MarkPaymentRefunded(ctx context.Context, id uuid.UUID) error
}

// Repository provides PostgreSQL backed persistence for invoices and payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

// GetInvoice loads one invoice without locking.
func (r *Repository) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, selectInvoice+` WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

// ListInvoicesForOrder returns invoices raised for the order, oldest first.
func (r *Repository) ListInvoicesForOrder(ctx context.Context, tenantID, orderID uuid.UUID) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, selectInvoice+` WHERE tenant_id=$1 AND order_id=$2 ORDER BY created_at`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListPayments returns payments and refunds of one invoice in creation order.
func (r *Repository) ListPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, selectPayment+` WHERE tenant_id=$1 AND invoice_id=$2 ORDER BY created_at, id`, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type txRepo struct {
	q db.Querier
}

const selectInvoice = `SELECT id, tenant_id, order_id, customer_id, total_amount, paid_amount, balance, status, created_at, updated_at FROM invoices`

const selectPayment = `SELECT id, tenant_id, invoice_id, amount, method, reference, status, kind, refund_of, reason, created_at FROM payments`

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.q.Exec(ctx, `INSERT INTO invoices (id, tenant_id, order_id, customer_id, total_amount, paid_amount, balance, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		inv.ID, inv.TenantID, inv.OrderID, inv.CustomerID, inv.TotalAmount, inv.PaidAmount, inv.Balance, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert invoice: %w", err)
	}
	return nil
}

func (t *txRepo) LockInvoice(ctx context.Context, tenantID, id uuid.UUID) (Invoice, error) {
	return scanInvoice(t.q.QueryRow(ctx, selectInvoice+` WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (t *txRepo) UpdateInvoicePosition(ctx context.Context, inv Invoice) error {
	tag, err := t.q.Exec(ctx, `UPDATE invoices SET paid_amount=$2, balance=$3, status=$4, updated_at=$5 WHERE id=$1`,
		inv.ID, inv.PaidAmount, inv.Balance, inv.Status, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", inv.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) LockPayment(ctx context.Context, tenantID, id uuid.UUID) (Payment, error) {
	return scanPayment(t.q.QueryRow(ctx, selectPayment+` WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (t *txRepo) FindPaymentByReference(ctx context.Context, invoiceID uuid.UUID, reference string) (Payment, bool, error) {
	p, err := scanPayment(t.q.QueryRow(ctx, selectPayment+` WHERE invoice_id=$1 AND reference=$2`, invoiceID, reference))
	if errors.Is(err, shared.ErrNotFound) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	return p, true, nil
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.q.Exec(ctx, `INSERT INTO payments (id, tenant_id, invoice_id, amount, method, reference, status, kind, refund_of, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.TenantID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.Status, p.Kind, p.RefundOf, p.Reason, p.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("reference %q: %w", p.Reference, shared.ErrDuplicateReference)
		}
		return fmt.Errorf("ledger: insert payment: %w", err)
	}
	return nil
}

func (t *txRepo) RefundedAmount(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE refund_of=$1 AND kind=$2`, paymentID, PaymentKindRefund).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: refunded amount: %w", err)
	}
	return total, nil
}

func (t *txRepo) MarkPaymentRefunded(ctx context.Context, id uuid.UUID) error {
	_, err := t.q.Exec(ctx, `UPDATE payments SET status=$2 WHERE id=$1`, id, PaymentStatusRefunded)
	if err != nil {
		return fmt.Errorf("ledger: mark refunded: %w", err)
	}
	return nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.OrderID, &inv.CustomerID, &inv.TotalAmount, &inv.PaidAmount, &inv.Balance, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice: %w", shared.ErrNotFound)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("ledger: scan invoice: %w", err)
	}
	return inv, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.TenantID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.Status, &p.Kind, &p.RefundOf, &p.Reason, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("payment: %w", shared.ErrNotFound)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("ledger: scan payment: %w", err)
	}
	return p, nil
}
