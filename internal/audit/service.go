package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// RepositoryPort menyediakan akses baca/tulis jejak audit.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Appender) error) error
	OrderExists(ctx context.Context, tenantID, orderID uuid.UUID) (bool, error)
	ListStatusChanges(ctx context.Context, tenantID, orderID uuid.UUID) ([]StatusChange, error)
	ListNotes(ctx context.Context, tenantID, orderID uuid.UUID) ([]Note, error)
	ListModifications(ctx context.Context, tenantID, orderID uuid.UUID) ([]Modification, error)
}

// NoteInput adalah permintaan menambah catatan order.
type NoteInput struct {
	OrderID    uuid.UUID
	Note       string
	Visibility Visibility
}

// Recorder mengoordinasikan pencatatan dan pembacaan jejak audit order.
type Recorder struct {
	repo  RepositoryPort
	clock func() time.Time
}

// NewRecorder membuat recorder audit baru.
func NewRecorder(repo RepositoryPort) *Recorder {
	return &Recorder{
		repo: repo,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (r *Recorder) WithClock(clock func() time.Time) {
	if r != nil && clock != nil {
		r.clock = clock
	}
}

// RecordNote menambahkan catatan ke order milik tenant.
func (r *Recorder) RecordNote(ctx context.Context, in NoteInput) (Note, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Note{}, err
	}
	text := strings.TrimSpace(in.Note)
	if text == "" {
		return Note{}, fmt.Errorf("%w: note must not be empty", shared.ErrValidation)
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = VisibilityInternal
	}
	if !visibility.Valid() {
		return Note{}, fmt.Errorf("%w: visibility must be internal or external", shared.ErrValidation)
	}
	if err := r.ensureOrder(ctx, principal.TenantID, in.OrderID); err != nil {
		return Note{}, err
	}
	note := Note{
		ID:         uuid.New(),
		TenantID:   principal.TenantID,
		OrderID:    in.OrderID,
		Note:       text,
		Visibility: visibility,
		Actor:      principal.Actor,
		Timestamp:  r.clock(),
	}
	err = r.repo.WithTx(ctx, func(ctx context.Context, app Appender) error {
		return app.AppendNote(ctx, note)
	})
	if err != nil {
		return Note{}, err
	}
	return note, nil
}

// History mengembalikan seluruh event order dalam urutan waktu.
func (r *Recorder) History(ctx context.Context, orderID uuid.UUID) ([]Event, error) {
	tenantID, err := r.scope(ctx, orderID)
	if err != nil {
		return nil, err
	}
	changes, err := r.repo.ListStatusChanges(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	notes, err := r.repo.ListNotes(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	mods, err := r.repo.ListModifications(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return MergeHistory(changes, notes, mods), nil
}

// StatusHistory mengembalikan hanya riwayat status.
func (r *Recorder) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusChange, error) {
	tenantID, err := r.scope(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := r.repo.ListStatusChanges(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return nonNil(items), nil
}

// Notes mengembalikan hanya catatan order.
func (r *Recorder) Notes(ctx context.Context, orderID uuid.UUID) ([]Note, error) {
	tenantID, err := r.scope(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := r.repo.ListNotes(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return nonNil(items), nil
}

// Modifications mengembalikan hanya modifikasi item.
func (r *Recorder) Modifications(ctx context.Context, orderID uuid.UUID) ([]Modification, error) {
	tenantID, err := r.scope(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := r.repo.ListModifications(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return nonNil(items), nil
}

func (r *Recorder) scope(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return principal.TenantID, r.ensureOrder(ctx, principal.TenantID, orderID)
}

func (r *Recorder) ensureOrder(ctx context.Context, tenantID, orderID uuid.UUID) error {
	ok, err := r.repo.OrderExists(ctx, tenantID, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, shared.ErrNotFound)
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
