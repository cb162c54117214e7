package finance

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestComputeTotalsKnownCart(t *testing.T) {
	totals := ComputeTotals([]Line{
		{UnitPrice: dec(t, "10.00"), Qty: 3},
		{UnitPrice: dec(t, "25.50"), Qty: 1},
	})

	if got := totals.Subtotal.StringFixed(2); got != "55.50" {
		t.Fatalf("subtotal = %s, want 55.50", got)
	}
	if got := totals.Tax.StringFixed(2); got != "8.88" {
		t.Fatalf("tax = %s, want 8.88", got)
	}
	if got := totals.Total.StringFixed(2); got != "64.38" {
		t.Fatalf("total = %s, want 64.38", got)
	}
}

func TestComputeTotalsRoundsSubtotalHalfUpBeforeTax(t *testing.T) {
	totals := ComputeTotals([]Line{{UnitPrice: dec(t, "3.335"), Qty: 1}})

	if got := totals.Subtotal.StringFixed(2); got != "3.34" {
		t.Fatalf("subtotal = %s, want 3.34 (half-up)", got)
	}
	// Tax derives from the rounded subtotal: 3.34 * 0.16 = 0.5344 -> 0.53.
	if got := totals.Tax.StringFixed(2); got != "0.53" {
		t.Fatalf("tax = %s, want 0.53", got)
	}
	if got := totals.Total.StringFixed(2); got != "3.87" {
		t.Fatalf("total = %s, want 3.87", got)
	}
}

func TestComputeTotalsEmptyCart(t *testing.T) {
	totals := ComputeTotals(nil)
	if !totals.Subtotal.IsZero() || !totals.Tax.IsZero() || !totals.Total.IsZero() {
		t.Fatalf("empty cart should yield zero totals, got %+v", totals)
	}
}

func TestComputeTotalsDeterministic(t *testing.T) {
	lines := []Line{
		{UnitPrice: dec(t, "12.99"), Qty: 2},
		{UnitPrice: dec(t, "0.05"), Qty: 7},
		{UnitPrice: dec(t, "199.995"), Qty: 1},
	}

	first := ComputeTotals(lines)
	for i := 0; i < 50; i++ {
		again := ComputeTotals(lines)
		if !again.Subtotal.Equal(first.Subtotal) || !again.Tax.Equal(first.Tax) || !again.Total.Equal(first.Total) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestComputeTotalsRoundTripLaw(t *testing.T) {
	cases := [][]Line{
		{{UnitPrice: dec(t, "10.00"), Qty: 3}},
		{{UnitPrice: dec(t, "3.335"), Qty: 1}},
		{{UnitPrice: dec(t, "0.01"), Qty: 1}},
		{{UnitPrice: dec(t, "7.77"), Qty: 13}, {UnitPrice: dec(t, "1.115"), Qty: 2}},
		{{UnitPrice: dec(t, "99999.99"), Qty: 9}},
	}
	for _, lines := range cases {
		totals := ComputeTotals(lines)
		if !totals.Subtotal.Add(totals.Tax).Equal(totals.Total) {
			t.Fatalf("subtotal %s + tax %s != total %s", totals.Subtotal, totals.Tax, totals.Total)
		}
	}
}

func TestChangeDue(t *testing.T) {
	change := ChangeDue(dec(t, "64.38"), dec(t, "70.00"))
	if got := change.StringFixed(2); got != "5.62" {
		t.Fatalf("change = %s, want 5.62", got)
	}

	exact := ChangeDue(dec(t, "20.00"), dec(t, "20.00"))
	if !exact.IsZero() {
		t.Fatalf("exact payment should give zero change, got %s", exact)
	}
}
