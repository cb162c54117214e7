package cart

import (
	"testing"

	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
)

func product(id string, price string) domain.Product {
	return domain.Product{ID: id, Name: id, Price: decimal.RequireFromString(price), Available: true}
}

func TestAddMergesByProduct(t *testing.T) {
	var c Cart
	c.Add(product("prod-taco", "18.50"), 2)
	c.Add(product("prod-agua", "12.00"), 1)
	c.Add(product("prod-taco", "18.50"), 3)

	if c.Len() != 2 {
		t.Fatalf("expected 2 lines after merge, got %d", c.Len())
	}
	lines := c.Lines()
	if lines[0].Product.ID != "prod-taco" || lines[0].Qty != 5 {
		t.Fatalf("expected merged taco line qty 5, got %+v", lines[0])
	}
}

func TestAddIgnoresNonPositiveQty(t *testing.T) {
	var c Cart
	c.Add(product("prod-taco", "18.50"), 0)
	c.Add(product("prod-taco", "18.50"), -2)
	if !c.IsEmpty() {
		t.Fatalf("cart should stay empty")
	}
}

func TestRemove(t *testing.T) {
	var c Cart
	c.Add(product("prod-taco", "18.50"), 1)
	c.Add(product("prod-agua", "12.00"), 1)
	c.Remove("prod-taco")

	if c.Len() != 1 {
		t.Fatalf("expected 1 line after remove, got %d", c.Len())
	}
	if c.Lines()[0].Product.ID != "prod-agua" {
		t.Fatalf("wrong line removed")
	}
}

func TestSubtotalDerived(t *testing.T) {
	var c Cart
	c.Add(product("prod-taco", "18.50"), 2)
	c.Add(product("prod-agua", "12.00"), 1)

	if got := c.Subtotal().StringFixed(2); got != "49.00" {
		t.Fatalf("subtotal = %s, want 49.00", got)
	}

	c.Add(product("prod-agua", "12.00"), 2)
	if got := c.Subtotal().StringFixed(2); got != "73.00" {
		t.Fatalf("subtotal after second add = %s, want 73.00", got)
	}
}

func TestCommitLines(t *testing.T) {
	var c Cart
	c.Add(product("prod-taco", "18.50"), 2)
	c.Add(product("prod-agua", "12.00"), 1)

	lines := c.CommitLines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 commit lines, got %d", len(lines))
	}
	if lines[0].ProductID != "prod-taco" || lines[0].Qty != 2 {
		t.Fatalf("unexpected first commit line %+v", lines[0])
	}
}
