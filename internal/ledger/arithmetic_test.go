package ledger

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, InvoiceStatusPending, DeriveStatus(dec("0"), dec("100")))
	require.Equal(t, InvoiceStatusPartial, DeriveStatus(dec("10"), dec("90")))
	require.Equal(t, InvoiceStatusPaid, DeriveStatus(dec("99.99"), dec("0.01")))
	require.Equal(t, InvoiceStatusPartial, DeriveStatus(dec("99.98"), dec("0.02")))
	require.Equal(t, InvoiceStatusPaid, DeriveStatus(dec("100"), dec("0")))
}

func TestApplyPaymentAmount(t *testing.T) {
	pos, err := NewPosition(dec("100.00"))
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPending, pos.Status)

	pos, err = ApplyPaymentAmount(pos, dec("60.00"))
	require.NoError(t, err)
	require.True(t, pos.Paid.Equal(dec("60")))
	require.True(t, pos.Balance.Equal(dec("40")))
	require.Equal(t, InvoiceStatusPartial, pos.Status)

	_, err = ApplyPaymentAmount(pos, dec("40.01"))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = ApplyPaymentAmount(pos, dec("0"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = ApplyPaymentAmount(pos, dec("-5"))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = ApplyPaymentAmount(pos, dec("1.005"))
	require.ErrorIs(t, err, shared.ErrValidation)

	pos, err = ApplyPaymentAmount(pos, dec("40.00"))
	require.NoError(t, err)
	require.True(t, pos.Balance.IsZero())
	require.Equal(t, InvoiceStatusPaid, pos.Status)
}

func TestApplyRefundAmount(t *testing.T) {
	paid := Position{Total: dec("495.00"), Paid: dec("495.00"), Balance: dec("0"), Status: InvoiceStatusPaid}

	_, err := ApplyRefundAmount(paid, dec("495.01"))
	require.ErrorIs(t, err, shared.ErrOverRefund)

	partial, err := ApplyRefundAmount(paid, dec("0.01"))
	require.NoError(t, err)
	require.True(t, partial.Balance.Equal(dec("0.01")))
	require.Equal(t, InvoiceStatusPartial, partial.Status, "refunds never re-derive paid")

	pending, err := ApplyRefundAmount(paid, dec("495.00"))
	require.NoError(t, err)
	require.True(t, pending.Paid.IsZero())
	require.True(t, pending.Balance.Equal(dec("495")))
	require.Equal(t, InvoiceStatusPending, pending.Status)
}

func TestCheckInvariant(t *testing.T) {
	require.NoError(t, CheckInvariant(Position{Total: dec("10"), Paid: dec("4"), Balance: dec("6")}))
	require.ErrorIs(t, CheckInvariant(Position{Total: dec("10"), Paid: dec("4"), Balance: dec("5")}), shared.ErrLedgerInvariant)
	require.ErrorIs(t, CheckInvariant(Position{Total: dec("10"), Paid: dec("11"), Balance: dec("-1")}), shared.ErrLedgerInvariant)
	require.ErrorIs(t, CheckInvariant(Position{Total: dec("10"), Paid: dec("-1"), Balance: dec("11")}), shared.ErrLedgerInvariant)
}

func TestRandomSequencesKeepBalanceInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		pos, err := NewPosition(decimal.New(int64(rng.Intn(100000)+1), -2))
		require.NoError(t, err)
		for step := 0; step < 30; step++ {
			amount := decimal.New(int64(rng.Intn(50000)+1), -2)
			var next Position
			if rng.Intn(3) == 0 {
				next, err = ApplyRefundAmount(pos, amount)
			} else {
				next, err = ApplyPaymentAmount(pos, amount)
			}
			if err != nil {
				require.NotErrorIs(t, err, shared.ErrLedgerInvariant)
				continue
			}
			pos = next
			require.NoError(t, CheckInvariant(pos))
			require.False(t, pos.Paid.IsNegative())
			require.True(t, pos.Balance.Equal(pos.Total.Sub(pos.Paid)))
		}
	}
}
