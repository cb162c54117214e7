// Package cart implements the session-local cart a terminal builds before
// committing a sale. A Cart is owned by exactly one client session and is
// never shared across goroutines, so it carries no locking.
package cart

import (
	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/finance"
)

type Line struct {
	Product domain.Product
	Qty     int
}

type Cart struct {
	lines []Line
}

// Add merges the product into the cart: adding a product already present
// increases its quantity instead of duplicating the entry. Non-positive
// quantities are ignored.
func (c *Cart) Add(product domain.Product, qty int) {
	if qty < 1 {
		return
	}
	for i := range c.lines {
		if c.lines[i].Product.ID == product.ID {
			c.lines[i].Qty += qty
			return
		}
	}
	c.lines = append(c.lines, Line{Product: product, Qty: qty})
}

// Remove drops the product's line entirely.
func (c *Cart) Remove(productID string) {
	for i := range c.lines {
		if c.lines[i].Product.ID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Clear() {
	c.lines = nil
}

// Lines returns a copy; the cart keeps exclusive ownership of its backing
// slice.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Subtotal is derived on demand from the current lines, rounded to two
// places like every displayed amount.
func (c *Cart) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range c.lines {
		subtotal = subtotal.Add(finance.LineSubtotal(line.Product.Price, line.Qty))
	}
	return subtotal.Round(2)
}

// CommitLines converts the cart into the wire-level entries commitSale takes.
func (c *Cart) CommitLines() []domain.CartLine {
	out := make([]domain.CartLine, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, domain.CartLine{ProductID: line.Product.ID, Qty: line.Qty})
	}
	return out
}
