package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/ledger"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// BillingLookup lets the ledger open invoices for stored orders.
type BillingLookup struct {
	repo RepositoryPort
}

var _ ledger.OrderLookup = (*BillingLookup)(nil)

// NewBillingLookup wraps repo for the ledger.
func NewBillingLookup(repo RepositoryPort) *BillingLookup {
	return &BillingLookup{repo: repo}
}

// BillableOrder returns the customer and total of an order that may be invoiced.
func (b *BillingLookup) BillableOrder(ctx context.Context, tenantID, orderID uuid.UUID) (uuid.UUID, decimal.Decimal, error) {
	order, err := b.repo.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return uuid.Nil, decimal.Zero, wrapNotFound(orderID, err)
	}
	if order.Status == StatusCancelled || order.Status == StatusRefunded {
		return uuid.Nil, decimal.Zero, fmt.Errorf("%w: order %s is %s", shared.ErrValidation, orderID, order.Status)
	}
	return order.CustomerID, order.TotalAmount, nil
}
