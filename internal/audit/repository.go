package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/orderflow/internal/platform/db"
)

// Appender menulis event audit; tidak ada operasi ubah atau hapus.
type Appender interface {
	AppendStatusChange(ctx context.Context, e StatusChange) error
	AppendNote(ctx context.Context, e Note) error
	AppendModification(ctx context.Context, e Modification) error
}

// PGAppender menulis event audit melalui Querier yang diberikan, biasanya pgx.Tx
// milik mutasi yang didokumentasikan.
type PGAppender struct {
	q db.Querier
}

// NewAppender membuat appender yang terikat ke q.
func NewAppender(q db.Querier) *PGAppender {
	return &PGAppender{q: q}
}

func (a *PGAppender) AppendStatusChange(ctx context.Context, e StatusChange) error {
	_, err := a.q.Exec(ctx, `INSERT INTO order_status_history (id, tenant_id, order_id, from_status, to_status, action, notes, actor, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TenantID, e.OrderID, e.FromStatus, e.ToStatus, e.Action, e.Notes, e.Actor, e.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: append status change: %w", err)
	}
	return nil
}

func (a *PGAppender) AppendNote(ctx context.Context, e Note) error {
	_, err := a.q.Exec(ctx, `INSERT INTO order_notes (id, tenant_id, order_id, note, visibility, actor, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.TenantID, e.OrderID, e.Note, e.Visibility, e.Actor, e.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: append note: %w", err)
	}
	return nil
}

func (a *PGAppender) AppendModification(ctx context.Context, e Modification) error {
	_, err := a.q.Exec(ctx, `INSERT INTO order_modifications (id, tenant_id, order_id, action, item, reason, recalculate, actor, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TenantID, e.OrderID, e.Action, []byte(e.Item), e.Reason, e.Recalculate, e.Actor, e.Timestamp)
	if err != nil {
		return fmt.Errorf("audit: append modification: %w", err)
	}
	return nil
}

// Repository membaca jejak audit dari PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx menjalankan fn dengan appender yang terikat pada satu transaksi.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Appender) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewAppender(tx))
	})
}

// OrderExists memeriksa keberadaan order milik tenant.
func (r *Repository) OrderExists(ctx context.Context, tenantID, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE tenant_id=$1 AND id=$2)`, tenantID, orderID).Scan(&exists)
	return exists, err
}

// ListStatusChanges mengembalikan riwayat status order secara kronologis.
func (r *Repository) ListStatusChanges(ctx context.Context, tenantID, orderID uuid.UUID) ([]StatusChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, order_id, from_status, to_status, action, notes, actor, created_at
FROM order_status_history WHERE tenant_id=$1 AND order_id=$2 ORDER BY created_at, id`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusChange, error) {
		var e StatusChange
		err := row.Scan(&e.ID, &e.TenantID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Action, &e.Notes, &e.Actor, &e.Timestamp)
		return e, err
	})
}

// ListNotes mengembalikan catatan order secara kronologis.
func (r *Repository) ListNotes(ctx context.Context, tenantID, orderID uuid.UUID) ([]Note, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, order_id, note, visibility, actor, created_at
FROM order_notes WHERE tenant_id=$1 AND order_id=$2 ORDER BY created_at, id`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Note, error) {
		var e Note
		err := row.Scan(&e.ID, &e.TenantID, &e.OrderID, &e.Note, &e.Visibility, &e.Actor, &e.Timestamp)
		return e, err
	})
}

// ListModifications mengembalikan modifikasi item order secara kronologis.
func (r *Repository) ListModifications(ctx context.Context, tenantID, orderID uuid.UUID) ([]Modification, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, order_id, action, item, reason, recalculate, actor, created_at
FROM order_modifications WHERE tenant_id=$1 AND order_id=$2 ORDER BY created_at, id`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Modification, error) {
		var e Modification
		var item []byte
		err := row.Scan(&e.ID, &e.TenantID, &e.OrderID, &e.Action, &item, &e.Reason, &e.Recalculate, &e.Actor, &e.Timestamp)
		e.Item = item
		return e, err
	})
}
