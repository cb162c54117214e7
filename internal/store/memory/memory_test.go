package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

func commitOn(t *testing.T, s *Store, issuedAt time.Time, presetFolio string) *domain.Ticket {
	t.Helper()
	total := decimal.RequireFromString("11.60")
	ticket, err := s.CreateSaleCommit(context.Background(),
		domain.Sale{UserID: "cashier-1", Total: total, CreatedAt: issuedAt},
		[]domain.SaleLine{{
			ProductID: "prod-x",
			Name:      "Product X",
			Qty:       1,
			UnitPrice: decimal.RequireFromString("10.00"),
			Subtotal:  decimal.RequireFromString("10.00"),
		}},
		domain.Ticket{Folio: presetFolio, Total: total, Change: decimal.Zero, IssuedAt: issuedAt},
	)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return ticket
}

func TestFolioSequenceRestartsPerDay(t *testing.T) {
	s := New()
	day1 := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	first := commitOn(t, s, day1, "")
	second := commitOn(t, s, day1, "")
	nextDay := commitOn(t, s, day2, "")
	third := commitOn(t, s, day1, "")

	if first.Folio != "TICK-20260828-0001" {
		t.Fatalf("first folio = %s", first.Folio)
	}
	if second.Folio != "TICK-20260828-0002" {
		t.Fatalf("second folio = %s", second.Folio)
	}
	if nextDay.Folio != "TICK-20260829-0001" {
		t.Fatalf("sequence should restart on a new day, got %s", nextDay.Folio)
	}
	if third.Folio != "TICK-20260828-0003" {
		t.Fatalf("older day keeps counting, got %s", third.Folio)
	}
}

func TestPresetFolioSkipsSequence(t *testing.T) {
	s := New()
	day := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	fallback := commitOn(t, s, day, "TICK-1724803200000")
	if fallback.Folio != "TICK-1724803200000" {
		t.Fatalf("preset folio must be stored as given, got %s", fallback.Folio)
	}

	structured := commitOn(t, s, day, "")
	if structured.Folio != "TICK-20260828-0001" {
		t.Fatalf("preset folio must not consume a sequence number, got %s", structured.Folio)
	}
}

func TestDuplicateFolioRejected(t *testing.T) {
	s := New()
	day := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)
	first := commitOn(t, s, day, "")

	total := decimal.RequireFromString("11.60")
	_, err := s.CreateSaleCommit(context.Background(),
		domain.Sale{UserID: "cashier-1", Total: total, CreatedAt: day},
		[]domain.SaleLine{{ProductID: "prod-x", Name: "Product X", Qty: 1, UnitPrice: decimal.RequireFromString("10.00"), Subtotal: decimal.RequireFromString("10.00")}},
		domain.Ticket{Folio: first.Folio, Total: total, Change: decimal.Zero, IssuedAt: day},
	)
	if !errors.Is(err, store.ErrFolioConflict) {
		t.Fatalf("duplicate folio should report ErrFolioConflict, got %v", err)
	}
}

func TestCommitRejectsInvalidInput(t *testing.T) {
	s := New()
	total := decimal.RequireFromString("11.60")

	cases := []struct {
		name   string
		sale   domain.Sale
		lines  []domain.SaleLine
		ticket domain.Ticket
	}{
		{"no lines", domain.Sale{UserID: "u", Total: total}, nil, domain.Ticket{Total: total, Change: decimal.Zero}},
		{"zero total", domain.Sale{UserID: "u", Total: decimal.Zero},
			[]domain.SaleLine{{ProductID: "p", Qty: 1, UnitPrice: total, Subtotal: total}},
			domain.Ticket{Total: decimal.Zero, Change: decimal.Zero}},
		{"negative change", domain.Sale{UserID: "u", Total: total},
			[]domain.SaleLine{{ProductID: "p", Qty: 1, UnitPrice: total, Subtotal: total}},
			domain.Ticket{Total: total, Change: decimal.RequireFromString("-0.01")}},
		{"zero qty line", domain.Sale{UserID: "u", Total: total},
			[]domain.SaleLine{{ProductID: "p", Qty: 0, UnitPrice: total, Subtotal: total}},
			domain.Ticket{Total: total, Change: decimal.Zero}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreateSaleCommit(context.Background(), tc.sale, tc.lines, tc.ticket); !errors.Is(err, store.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	sales, err := s.ListSalesByRange(context.Background(), time.Unix(0, 0), time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("rejected commits must not persist sales, found %d", len(sales))
	}
}

func TestPruneAuditBefore(t *testing.T) {
	s := New()
	now := time.Now().UTC()

	for _, age := range []int{200, 100, 10, 0} {
		err := s.AppendAudit(context.Background(), domain.AuditEntry{
			Type:      domain.OpSaleCommit,
			CreatedAt: now.AddDate(0, 0, -age),
		})
		if err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}

	pruned, err := s.PruneAuditBefore(context.Background(), now.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	remaining, err := s.ListAuditByType(context.Background(), domain.OpSaleCommit, 100)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
}

func TestNewSeededHasWorkingMenuAndStaff(t *testing.T) {
	s := NewSeeded()

	products, err := s.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("seeded store has no products")
	}
	for _, p := range products {
		if !p.Price.IsPositive() {
			t.Fatalf("seeded product %s has non-positive price", p.ID)
		}
	}

	tables, err := s.ListTables(context.Background())
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 8 {
		t.Fatalf("expected 8 seeded tables, got %d", len(tables))
	}
	for _, tbl := range tables {
		if tbl.State != domain.TableStateFree {
			t.Fatalf("seeded table %d should be free, got %s", tbl.Number, tbl.State)
		}
	}

	admin, err := s.GetStaffByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("seeded admin missing: %v", err)
	}
	if admin.Role != "admin" || !admin.Active {
		t.Fatalf("unexpected seeded admin %+v", admin)
	}
}
