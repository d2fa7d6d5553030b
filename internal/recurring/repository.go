package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/orderflow/internal/orders"
	"github.com/odyssey-erp/orderflow/internal/platform/db"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// idempotencyModule scopes occurrence keys in idempotency_keys.
const idempotencyModule = "recurring"

// TxRepository exposes subscription writes bound to one transaction, plus
// the order writes of that same transaction.
type TxRepository interface {
	InsertSubscription(ctx context.Context, sub Subscription) error
	LockSubscription(ctx context.Context, tenantID, id uuid.UUID) (Subscription, error)
	UpdateSubscription(ctx context.Context, sub Subscription) error
	// ClaimOccurrence returns shared.ErrIdempotencyConflict when key was
	// already claimed.
	ClaimOccurrence(ctx context.Context, key string) error
	Orders() orders.TxRepository
}

// Repository provides PostgreSQL backed persistence for subscriptions.
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
		return fn(ctx, &txRepo{
			q:      tx,
			orders: orders.NewTxRepository(tx),
			idemp:  shared.NewIdempotencyStore(tx),
		})
	})
}

// GetSubscription loads one subscription without locking.
func (r *Repository) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (Subscription, error) {
	return scanSubscription(r.pool.QueryRow(ctx, selectSubscription+` WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

// ListSubscriptions pages through a tenant's subscriptions, newest first.
func (r *Repository) ListSubscriptions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Subscription, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM recurring_subscriptions WHERE tenant_id=$1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	subs, err := r.collect(ctx, selectSubscription+` WHERE tenant_id=$1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	return subs, total, err
}

// ListDue returns active subscriptions of every tenant due on or before asOf.
func (r *Repository) ListDue(ctx context.Context, asOf time.Time) ([]Subscription, error) {
	return r.collect(ctx, selectSubscription+` WHERE status=$1 AND next_order_date <= $2 ORDER BY next_order_date, id`, StatusActive, asOf)
}

func (r *Repository) collect(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type txRepo struct {
	q      db.Querier
	orders orders.TxRepository
	idemp  *shared.IdempotencyStore
}

const selectSubscription = `SELECT id, tenant_id, customer_id, schedule, billing_day, start_date, item_template, shipping_address, notes, next_order_date, status, last_generated_for, created_at, updated_at FROM recurring_subscriptions`

func (t *txRepo) Orders() orders.TxRepository {
	return t.orders
}

func (t *txRepo) ClaimOccurrence(ctx context.Context, key string) error {
	return t.idemp.CheckAndInsert(ctx, key, idempotencyModule)
}

func (t *txRepo) InsertSubscription(ctx context.Context, sub Subscription) error {
	template, err := json.Marshal(sub.ItemTemplate)
	if err != nil {
		return fmt.Errorf("recurring: encode template: %w", err)
	}
	_, err = t.q.Exec(ctx, `INSERT INTO recurring_subscriptions (id, tenant_id, customer_id, schedule, billing_day, start_date, item_template, shipping_address, notes, next_order_date, status, last_generated_for, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		sub.ID, sub.TenantID, sub.CustomerID, sub.Schedule, sub.BillingDay, sub.StartDate, template,
		sub.ShippingAddress, sub.Notes, sub.NextOrderDate, sub.Status, sub.LastGeneratedFor, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recurring: insert subscription: %w", err)
	}
	return nil
}

func (t *txRepo) LockSubscription(ctx context.Context, tenantID, id uuid.UUID) (Subscription, error) {
	return scanSubscription(t.q.QueryRow(ctx, selectSubscription+` WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (t *txRepo) UpdateSubscription(ctx context.Context, sub Subscription) error {
	tag, err := t.q.Exec(ctx, `UPDATE recurring_subscriptions SET next_order_date=$2, status=$3, last_generated_for=$4, updated_at=$5 WHERE id=$1`,
		sub.ID, sub.NextOrderDate, sub.Status, sub.LastGeneratedFor, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recurring: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", sub.ID, shared.ErrNotFound)
	}
	return nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub      Subscription
		template []byte
	)
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.CustomerID, &sub.Schedule, &sub.BillingDay, &sub.StartDate,
		&template, &sub.ShippingAddress, &sub.Notes, &sub.NextOrderDate, &sub.Status, &sub.LastGeneratedFor,
		&sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, shared.ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	if err := json.Unmarshal(template, &sub.ItemTemplate); err != nil {
		return Subscription{}, fmt.Errorf("recurring: decode template: %w", err)
	}
	return sub, nil
}
