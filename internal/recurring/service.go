package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/orders"
	"github.com/odyssey-erp/orderflow/internal/platform/cache"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// RepositoryPort describes persistence used by the scheduler.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Subscription, int, error)
	ListDue(ctx context.Context, asOf time.Time) ([]Subscription, error)
}

// OrderBuilder turns a template into a validated pending order.
type OrderBuilder interface {
	Build(tenantID uuid.UUID, in orders.CreateInput) (orders.Order, error)
}

// errNotDue marks an occurrence another worker already handled.
var errNotDue = errors.New("recurring: occurrence no longer due")

// Service manages subscriptions and generates their orders.
type Service struct {
	repo    RepositoryPort
	builder OrderBuilder
	leaser  *cache.Leaser
	metrics *observability.Metrics
	logger  *slog.Logger
	clock   func() time.Time
	group   singleflight.Group
}

// NewService constructs the scheduler. A nil leaser disables cross-replica
// leases; row locks and idempotency keys still apply.
func NewService(repo RepositoryPort, builder OrderBuilder, leaser *cache.Leaser, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if leaser == nil {
		leaser = cache.NewLeaser(nil, 0)
	}
	return &Service{
		repo:    repo,
		builder: builder,
		leaser:  leaser,
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

// CreateSubscription validates and stores an active subscription.
func (s *Service) CreateSubscription(ctx context.Context, in SubscriptionInput) (Subscription, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Subscription{}, err
	}
	if in.CustomerID == uuid.Nil {
		return Subscription{}, fmt.Errorf("%w: customerId is required", shared.ErrValidation)
	}
	if in.StartDate.IsZero() {
		return Subscription{}, fmt.Errorf("%w: startDate is required", shared.ErrValidation)
	}
	items, err := orders.ValidateItems(in.Items)
	if err != nil {
		return Subscription{}, err
	}
	start := Civil(in.StartDate)
	next, err := FirstOrderDate(in.Schedule, in.BillingDay, start)
	if err != nil {
		return Subscription{}, err
	}
	now := s.clock()
	sub := Subscription{
		ID:              uuid.New(),
		TenantID:        principal.TenantID,
		CustomerID:      in.CustomerID,
		Schedule:        in.Schedule,
		BillingDay:      in.BillingDay,
		StartDate:       start,
		ItemTemplate:    items,
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		Notes:           strings.TrimSpace(in.Notes),
		NextOrderDate:   next,
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSubscription(ctx, sub)
	})
	if err != nil {
		return Subscription{}, err
	}
	s.logger.Info("subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("next_order_date", sub.NextOrderDate.Format(time.DateOnly)))
	return sub, nil
}

// GetSubscription loads one subscription of the caller's tenant.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Subscription{}, err
	}
	sub, err := s.repo.GetSubscription(ctx, principal.TenantID, id)
	if err != nil {
		return Subscription{}, wrapNotFound(id, err)
	}
	return sub, nil
}

// ListSubscriptions pages through the caller's subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, page, perPage int) ([]Subscription, shared.Pagination, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, 0)
	subs, total, err := s.repo.ListSubscriptions(ctx, principal.TenantID, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if subs == nil {
		subs = []Subscription{}
	}
	return subs, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// SetStatus pauses, resumes or cancels a subscription. A resumed subscription
// whose next date has passed moves to the first occurrence from today on.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status) (Subscription, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Subscription{}, err
	}
	var updated Subscription
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sub, err := tx.LockSubscription(ctx, principal.TenantID, id)
		if err != nil {
			return wrapNotFound(id, err)
		}
		if !canMove(sub.Status, status) {
			return fmt.Errorf("%w: subscription cannot move from %s to %s", shared.ErrValidation, sub.Status, status)
		}
		now := s.clock()
		today := Civil(now)
		if status == StatusActive && sub.NextOrderDate.Before(today) {
			next, err := NextOrderDate(sub.Schedule, sub.BillingDay, today.AddDate(0, 0, -1))
			if err != nil {
				return err
			}
			sub.NextOrderDate = next
		}
		sub.Status = status
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		return Subscription{}, err
	}
	return updated, nil
}

func canMove(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusPaused || to == StatusCancelled
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled
	}
	return false
}

// generateFlight keys the single in-flight generation run of a Service.
const generateFlight = "generate"

// GenerateDueOrders creates one order for every active subscription due on
// or before now. Concurrent calls on one Service share a single run, even
// when they pass different dates; callers joining a run get its report.
func (s *Service) GenerateDueOrders(ctx context.Context, now time.Time) (GenerationReport, error) {
	asOf := Civil(now)
	ch := s.group.DoChan(generateFlight, func() (any, error) {
		return s.generate(context.WithoutCancel(ctx), asOf)
	})
	select {
	case <-ctx.Done():
		return GenerationReport{}, ctx.Err()
	case res := <-ch:
		report, _ := res.Val.(GenerationReport)
		return report, res.Err
	}
}

func (s *Service) generate(ctx context.Context, asOf time.Time) (GenerationReport, error) {
	report := GenerationReport{Generated: []GeneratedOrder{}}
	due, err := s.repo.ListDue(ctx, asOf)
	if err != nil {
		return report, fmt.Errorf("recurring: list due: %w", err)
	}
	var errs []error
	for _, sub := range due {
		generated, err := s.generateOne(ctx, sub, asOf)
		switch {
		case err == nil:
			report.Generated = append(report.Generated, generated)
		case errors.Is(err, cache.ErrLeaseHeld), errors.Is(err, errNotDue), errors.Is(err, shared.ErrIdempotencyConflict):
			report.Skipped++
		default:
			report.Failed++
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			s.logger.Error("recurring generation failed",
				slog.String("subscription_id", sub.ID.String()),
				slog.Any("error", err))
		}
	}
	s.metrics.ObserveRecurring("generated", len(report.Generated))
	s.metrics.ObserveRecurring("skipped", report.Skipped)
	s.metrics.ObserveRecurring("failed", report.Failed)
	s.logger.Info("recurring generation finished",
		slog.String("as_of", asOf.Format(time.DateOnly)),
		slog.Int("generated", len(report.Generated)),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return report, errors.Join(errs...)
}

func (s *Service) generateOne(ctx context.Context, sub Subscription, asOf time.Time) (GeneratedOrder, error) {
	lease, err := s.leaser.Acquire(ctx, shared.RecurringLeaseKey(sub.ID, sub.NextOrderDate))
	if err != nil {
		return GeneratedOrder{}, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger.Warn("release recurring lease", slog.Any("error", err))
		}
	}()

	var generated GeneratedOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockSubscription(ctx, sub.TenantID, sub.ID)
		if err != nil {
			return err
		}
		if locked.Status != StatusActive || locked.NextOrderDate.After(asOf) {
			return errNotDue
		}
		dueDate := locked.NextOrderDate
		if err := tx.ClaimOccurrence(ctx, shared.RecurringIdempotencyKey(locked.ID, dueDate)); err != nil {
			return err
		}
		order, err := s.builder.Build(locked.TenantID, orders.CreateInput{
			CustomerID:     locked.CustomerID,
			Items:          locked.ItemTemplate,
			SubscriptionID: &locked.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.Orders().InsertOrder(ctx, order); err != nil {
			return err
		}
		now := s.clock()
		err = tx.Orders().Audit().AppendNote(ctx, audit.Note{
			ID:         uuid.New(),
			TenantID:   locked.TenantID,
			OrderID:    order.ID,
			Note:       fmt.Sprintf("Generated from recurring subscription %s for %s", locked.ID, dueDate.Format(time.DateOnly)),
			Visibility: audit.VisibilityInternal,
			Actor:      shared.SystemActor,
			Timestamp:  now,
		})
		if err != nil {
			return err
		}
		next, err := Advance(locked)
		if err != nil {
			return err
		}
		locked.NextOrderDate = next
		locked.LastGeneratedFor = &dueDate
		locked.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, locked); err != nil {
			return err
		}
		generated = GeneratedOrder{SubscriptionID: locked.ID, OrderID: order.ID, DueDate: dueDate.Format(time.DateOnly)}
		return nil
	})
	return generated, err
}

func wrapNotFound(id uuid.UUID, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("subscription %s: %w", id, shared.ErrNotFound)
	}
	return err
}
