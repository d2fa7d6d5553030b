package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type itemRequest struct {
	ProductID uuid.UUID       `json:"productId" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type createOrderRequest struct {
	CustomerID uuid.UUID     `json:"customerId" validate:"required"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
	VisitID    *uuid.UUID    `json:"visitId"`
	CampaignID *uuid.UUID    `json:"campaignId"`
}

type transitionRequest struct {
	FromStatus string `json:"from_status" validate:"required"`
	ToStatus   string `json:"to_status" validate:"required"`
	Action     string `json:"action" validate:"max=64"`
	Notes      string `json:"notes" validate:"max=2000"`
}

type modifyRequest struct {
	Action      string     `json:"action" validate:"required,oneof=add_item remove_item update_quantity update_price"`
	Item        ItemChange `json:"item"`
	Reason      string     `json:"reason" validate:"required,max=500"`
	Recalculate bool       `json:"recalculate"`
}

type summaryResponse struct {
	Order   Order            `json:"order"`
	Summary FinancialSummary `json:"summary"`
}

func toItems(reqs []itemRequest) []Item {
	items := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, Item{ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: r.UnitPrice})
	}
	return items
}
