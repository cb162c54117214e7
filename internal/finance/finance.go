// Package finance holds the monetary arithmetic for sales. Every value is a
// fixed-point decimal rounded half-up to two places at each aggregation step,
// so computed totals always match what a printed receipt shows.
package finance

import "github.com/shopspring/decimal"

// TaxRate is the fixed sales tax applied to every sale (16%).
var TaxRate = decimal.RequireFromString("0.16")

// Line is a (unit price, quantity) pair as seen by the calculator.
type Line struct {
	UnitPrice decimal.Decimal
	Qty       int
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals sums the lines into a subtotal, derives tax from the rounded
// subtotal, and returns subtotal, tax and total all rounded half-up to two
// decimal places. An empty input yields all zeros.
func ComputeTotals(lines []Line) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(LineSubtotal(line.UnitPrice, line.Qty))
	}

	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(TaxRate).Round(2)
	total := subtotal.Add(tax).Round(2)

	return Totals{Subtotal: subtotal, Tax: tax, Total: total}
}

// LineSubtotal is unit price times quantity, unrounded.
func LineSubtotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// ChangeDue is the amount returned to the customer, rounded to two places.
func ChangeDue(total decimal.Decimal, amountPaid decimal.Decimal) decimal.Decimal {
	return amountPaid.Sub(total).Round(2)
}
