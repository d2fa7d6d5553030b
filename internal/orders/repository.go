package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// TxRepository exposes order writes bound to one transaction together with
// the audit appender of that same transaction.
type TxRepository interface {
	InsertOrder(ctx context.Context, o Order) error
	LockOrder(ctx context.Context, tenantID, id uuid.UUID) (Order, error)
	UpdateStatus(ctx context.Context, o Order) error
	ReplaceItems(ctx context.Context, o Order) error
	Audit() audit.Appender
}

// Repository provides PostgreSQL backed persistence for orders.
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
		return fn(ctx, NewTxRepository(tx))
	})
}

// GetOrder loads an order and its items without locking.
func (r *Repository) GetOrder(ctx context.Context, tenantID, id uuid.UUID) (Order, error) {
	return loadOrder(ctx, r.pool, selectOrder+` WHERE tenant_id=$1 AND id=$2`, tenantID, id)
}

// NewTxRepository binds order writes to q. Other packages use it to create
// orders inside their own transactions.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepo{q: q, appender: audit.NewAppender(q)}
}

type txRepo struct {
	q        db.Querier
	appender *audit.PGAppender
}

const selectOrder = `SELECT id, tenant_id, customer_id, status, total_amount, visit_id, campaign_id, subscription_id, created_at, updated_at FROM orders`

func (t *txRepo) Audit() audit.Appender {
	return t.appender
}

func (t *txRepo) InsertOrder(ctx context.Context, o Order) error {
	_, err := t.q.Exec(ctx, `INSERT INTO orders (id, tenant_id, customer_id, status, total_amount, visit_id, campaign_id, subscription_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.TenantID, o.CustomerID, o.Status, o.TotalAmount, o.VisitID, o.CampaignID, o.SubscriptionID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orders: insert order: %w", err)
	}
	return t.insertItems(ctx, o)
}

func (t *txRepo) LockOrder(ctx context.Context, tenantID, id uuid.UUID) (Order, error) {
	return loadOrder(ctx, t.q, selectOrder+` WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id)
}

func (t *txRepo) UpdateStatus(ctx context.Context, o Order) error {
	tag, err := t.q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, o.ID, o.Status, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orders: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) ReplaceItems(ctx context.Context, o Order) error {
	tag, err := t.q.Exec(ctx, `UPDATE orders SET total_amount=$2, updated_at=$3 WHERE id=$1`, o.ID, o.TotalAmount, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orders: update total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ID, shared.ErrNotFound)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return fmt.Errorf("orders: clear items: %w", err)
	}
	return t.insertItems(ctx, o)
}

func (t *txRepo) insertItems(ctx context.Context, o Order) error {
	for i, it := range o.Items {
		_, err := t.q.Exec(ctx, `INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice, it.TotalPrice)
		if err != nil {
			return fmt.Errorf("orders: insert item %d: %w", i+1, err)
		}
	}
	return nil
}

func loadOrder(ctx context.Context, q db.Querier, query string, args ...any) (Order, error) {
	var o Order
	err := q.QueryRow(ctx, query, args...).Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &o.Status, &o.TotalAmount,
		&o.VisitID, &o.CampaignID, &o.SubscriptionID, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	rows, err := q.Query(ctx, `SELECT product_id, quantity, unit_price, total_price FROM order_items WHERE order_id=$1 ORDER BY line_no`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	o.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}
