package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Modify applies one item change to a non-terminal order and records it in
// the modification log within the same transaction.
func (s *Service) Modify(ctx context.Context, in ModifyInput) (ModifyResult, error) {
	principal, err := shared.RequirePrincipal(ctx)
	if err != nil {
		return ModifyResult{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return ModifyResult{}, fmt.Errorf("%w: reason is required", shared.ErrValidation)
	}
	if in.Item.ProductID == uuid.Nil {
		return ModifyResult{}, fmt.Errorf("%w: item.productId is required", shared.ErrValidation)
	}
	payload, err := json.Marshal(in.Item)
	if err != nil {
		return ModifyResult{}, fmt.Errorf("orders: encode modification: %w", err)
	}

	var result ModifyResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, principal.TenantID, in.OrderID)
		if err != nil {
			return wrapNotFound(in.OrderID, err)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order is %s", shared.ErrTerminalState, order.Status)
		}
		items, err := applyChange(order.Items, in.Action, in.Item)
		if err != nil {
			return err
		}
		now := s.clock()
		order.Items = items
		if in.Recalculate {
			order.TotalAmount = SumItems(items)
		}
		order.UpdatedAt = now
		if err := tx.ReplaceItems(ctx, order); err != nil {
			return err
		}
		mod := audit.Modification{
			ID:          uuid.New(),
			TenantID:    principal.TenantID,
			OrderID:     order.ID,
			Action:      string(in.Action),
			Item:        payload,
			Reason:      reason,
			Recalculate: in.Recalculate,
			Actor:       principal.Actor,
			Timestamp:   now,
		}
		if err := tx.Audit().AppendModification(ctx, mod); err != nil {
			return err
		}
		result = ModifyResult{Order: order, ModificationID: mod.ID}
		return nil
	})
	if err != nil {
		return ModifyResult{}, err
	}
	s.logger.Info("order modified",
		slog.String("order_id", result.Order.ID.String()),
		slog.String("action", string(in.Action)),
		slog.Bool("recalculate", in.Recalculate))
	return result, nil
}

// applyChange returns a new item slice; items is never mutated.
func applyChange(items []Item, action ModifyAction, change ItemChange) ([]Item, error) {
	out := slices.Clone(items)
	idx := slices.IndexFunc(out, func(it Item) bool { return it.ProductID == change.ProductID })

	switch action {
	case ActionAddItem:
		if idx >= 0 {
			return nil, fmt.Errorf("%w: product %s is already on the order", shared.ErrValidation, change.ProductID)
		}
		if change.Quantity == nil || change.UnitPrice == nil {
			return nil, fmt.Errorf("%w: add_item needs quantity and unitPrice", shared.ErrValidation)
		}
		item := Item{ProductID: change.ProductID, Quantity: *change.Quantity, UnitPrice: *change.UnitPrice}
		if err := checkItem(item); err != nil {
			return nil, err
		}
		return append(out, item.withTotal()), nil
	case ActionRemoveItem, ActionUpdateQuantity, ActionUpdatePrice:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", shared.ErrValidation, action)
	}

	if idx < 0 {
		return nil, fmt.Errorf("product %s: %w", change.ProductID, shared.ErrNotFound)
	}
	switch action {
	case ActionRemoveItem:
		return slices.Delete(out, idx, idx+1), nil
	case ActionUpdateQuantity:
		if change.Quantity == nil || *change.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be greater than zero", shared.ErrValidation)
		}
		out[idx].Quantity = *change.Quantity
	case ActionUpdatePrice:
		if change.UnitPrice == nil || change.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unitPrice must not be negative", shared.ErrValidation)
		}
		out[idx].UnitPrice = *change.UnitPrice
	}
	out[idx] = out[idx].withTotal()
	return out, nil
}
