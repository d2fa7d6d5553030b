package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=gateway.go -destination=gateway_mock.go -package=ledger

// Intent is the gateway's view of a payment intent.
type Intent struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Captured bool
}

// Gateway confirms payment intents with the external payment provider.
type Gateway interface {
	LookupIntent(ctx context.Context, intentID string) (Intent, error)
}
