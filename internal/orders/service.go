package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/ledger"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// RepositoryPort describes persistence used by the order service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, tenantID, id uuid.UUID) (Order, error)
}

// LedgerPort summarises the invoices raised for an order.
type LedgerPort interface {
	SummaryForOrder(ctx context.Context, tenantID, orderID uuid.UUID) (ledger.OrderSummary, error)
}

// Service drives the order lifecycle and item modifications.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	metrics *observability.Metrics
	logger  *slog.Logger
	printer *message.Printer
	clock   func() time.Time
}

// NewService constructs the order service. ledger may be nil when financial
// summaries are not served.
func NewService(repo RepositoryPort, ledger LedgerPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
		printer: message.NewPrinter(language.English),
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

// Create stores a pending order whose total is the sum of its lines.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Order{}, err
	}
	order, err := s.Build(principal.TenantID, in)
	if err != nil {
		return Order{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	s.logger.Info("order created",
		slog.String("order_id", order.ID.String()),
		slog.String("total", order.TotalAmount.StringFixed(2)))
	return order, nil
}

// Build validates in and returns the pending order it describes without
// persisting it.
func (s *Service) Build(tenantID uuid.UUID, in CreateInput) (Order, error) {
	if in.CustomerID == uuid.Nil {
		return Order{}, fmt.Errorf("%w: customerId is required", shared.ErrValidation)
	}
	items, err := ValidateItems(in.Items)
	if err != nil {
		return Order{}, err
	}
	now := s.clock()
	return Order{
		ID:             uuid.New(),
		TenantID:       tenantID,
		CustomerID:     in.CustomerID,
		Status:         StatusPending,
		Items:          items,
		TotalAmount:    SumItems(items),
		VisitID:        in.VisitID,
		CampaignID:     in.CampaignID,
		SubscriptionID: in.SubscriptionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ValidateItems checks a non-empty item list and recomputes line totals.
func ValidateItems(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", shared.ErrValidation)
	}
	seen := make(map[uuid.UUID]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for i, it := range items {
		if err := checkItem(it); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		if _, dup := seen[it.ProductID]; dup {
			return nil, fmt.Errorf("%w: item %d: duplicate product %s", shared.ErrValidation, i+1, it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
		out = append(out, it.withTotal())
	}
	return out, nil
}

func checkItem(it Item) error {
	if it.ProductID == uuid.Nil {
		return fmt.Errorf("%w: productId is required", shared.ErrValidation)
	}
	if it.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", shared.ErrValidation)
	}
	if it.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unitPrice must not be negative", shared.ErrValidation)
	}
	return nil
}

// Get loads one order of the caller's tenant.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, principal.TenantID, id)
	if err != nil {
		return Order{}, wrapNotFound(id, err)
	}
	return order, nil
}

// Transition moves an order along the lifecycle graph and records the move
// in the status history within the same transaction.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (Order, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return Order{}, err
	}
	if !KnownStatus(in.From) || !KnownStatus(in.To) {
		return Order{}, fmt.Errorf("%w: unknown status %q -> %q", shared.ErrValidation, in.From, in.To)
	}
	var updated Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, principal.TenantID, in.OrderID)
		if err != nil {
			return wrapNotFound(in.OrderID, err)
		}
		if order.Status != in.From {
			return fmt.Errorf("%w: order is %s, not %s", shared.ErrInvalidTransition, order.Status, in.From)
		}
		if !CanTransition(in.From, in.To) {
			return fmt.Errorf("%w: Invalid status transition %s -> %s", shared.ErrInvalidTransition, in.From, in.To)
		}
		now := s.clock()
		order.Status = in.To
		order.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, order); err != nil {
			return err
		}
		action := strings.TrimSpace(in.Action)
		if action == "" {
			action = string(in.To)
		}
		err = tx.Audit().AppendStatusChange(ctx, audit.StatusChange{
			ID:         uuid.New(),
			TenantID:   principal.TenantID,
			OrderID:    order.ID,
			FromStatus: string(in.From),
			ToStatus:   string(in.To),
			Action:     action,
			Notes:      strings.TrimSpace(in.Notes),
			Actor:      principal.Actor,
			Timestamp:  now,
		})
		if err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.metrics.ObserveTransition(string(in.From), string(in.To))
	s.logger.Info("order transitioned",
		slog.String("order_id", updated.ID.String()),
		slog.String("from", string(in.From)),
		slog.String("to", string(in.To)))
	return updated, nil
}

// FinancialSummary combines the order with its invoice totals.
func (s *Service) FinancialSummary(ctx context.Context, id uuid.UUID) (Order, FinancialSummary, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, FinancialSummary{}, err
	}
	inv := ledger.OrderSummary{Status: "uninvoiced"}
	if s.ledger != nil {
		inv, err = s.ledger.SummaryForOrder(ctx, order.TenantID, order.ID)
		if err != nil {
			return Order{}, FinancialSummary{}, err
		}
	}
	summary := FinancialSummary{
		OrderTotal:   order.TotalAmount,
		ItemCount:    len(order.Items),
		OrderSummary: inv,
	}
	summary.Formatted = map[string]string{
		"orderTotal":     s.money(summary.OrderTotal),
		"invoicedAmount": s.money(inv.InvoicedAmount),
		"paidAmount":     s.money(inv.PaidAmount),
		"balance":        s.money(inv.Balance),
		"refundedAmount": s.money(inv.RefundedAmount),
	}
	return order, summary, nil
}

func (s *Service) money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return s.printer.Sprintf("%.2f", f)
}

func wrapNotFound(id uuid.UUID, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("order %s: %w", id, shared.ErrNotFound)
	}
	return err
}
