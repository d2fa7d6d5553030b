package perf

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/orderflow/internal/ledger"
	"github.com/odyssey-erp/orderflow/internal/recurring"
)

func TestScheduleLatencyTarget(t *testing.T) {
	after := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		start := time.Now()
		next, err := recurring.NextOrderDate(recurring.ScheduleMonthly, 31, after)
		samples = append(samples, time.Since(start))
		if err != nil {
			t.Fatalf("next order date: %v", err)
		}
		after = next
	}
	if p95 := percentile95(samples); p95 > 5*time.Millisecond {
		t.Fatalf("schedule latency regression: p95=%s", p95)
	}
}

func BenchmarkNextOrderDateMonthly(b *testing.B) {
	after := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	for i := 0; i < b.N; i++ {
		if _, err := recurring.NextOrderDate(recurring.ScheduleMonthly, 31, after); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPaymentRefundCycle(b *testing.B) {
	total := decimal.RequireFromString("1299.97")
	part := decimal.RequireFromString("433.33")
	for i := 0; i < b.N; i++ {
		pos, err := ledger.NewPosition(total)
		if err != nil {
			b.Fatal(err)
		}
		if pos, err = ledger.ApplyPaymentAmount(pos, part); err != nil {
			b.Fatal(err)
		}
		if _, err = ledger.ApplyRefundAmount(pos, part); err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
