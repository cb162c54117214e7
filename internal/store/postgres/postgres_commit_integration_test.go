package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

func TestCreateSaleCommitAllocatesSequentialFolios(t *testing.T) {
	databaseURL := os.Getenv("RESTOPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RESTOPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-commit-it-%d", stamp)
	userID := fmt.Sprintf("user-commit-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tickets WHERE sale_id IN (SELECT id FROM sales WHERE user_id = $1)`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id IN (SELECT id FROM sales WHERE user_id = $1)`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE user_id = $1`, userID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, available, created_at, updated_at)
		VALUES ($1, 'Commit IT Product', 'food', 10.00, true, now(), now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	commit := func() *domain.Ticket {
		t.Helper()
		total := decimal.RequireFromString("11.60")
		ticket, err := s.CreateSaleCommit(ctx,
			domain.Sale{UserID: userID, Total: total},
			[]domain.SaleLine{{
				ProductID: productID,
				Name:      "Commit IT Product",
				Qty:       1,
				UnitPrice: decimal.RequireFromString("10.00"),
				Subtotal:  decimal.RequireFromString("10.00"),
			}},
			domain.Ticket{Total: total, Change: decimal.Zero},
		)
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		return ticket
	}

	first := commit()
	second := commit()

	if first.Folio == second.Folio {
		t.Fatalf("consecutive commits got the same folio %s", first.Folio)
	}

	loaded, err := s.GetTicketByFolio(ctx, first.Folio)
	if err != nil {
		t.Fatalf("lookup folio: %v", err)
	}
	if loaded.SaleID != first.SaleID {
		t.Fatalf("folio %s resolves to sale %s, want %s", first.Folio, loaded.SaleID, first.SaleID)
	}

	// Re-inserting the same folio must surface the collision sentinel.
	_, err = s.CreateSaleCommit(ctx,
		domain.Sale{UserID: userID, Total: decimal.RequireFromString("11.60")},
		[]domain.SaleLine{{
			ProductID: productID,
			Name:      "Commit IT Product",
			Qty:       1,
			UnitPrice: decimal.RequireFromString("10.00"),
			Subtotal:  decimal.RequireFromString("10.00"),
		}},
		domain.Ticket{Folio: first.Folio, Total: decimal.RequireFromString("11.60"), Change: decimal.Zero},
	)
	if !errors.Is(err, store.ErrFolioConflict) {
		t.Fatalf("duplicate folio should report ErrFolioConflict, got %v", err)
	}

	if count := countSalesForUser(t, s, ctx, userID); count != 2 {
		t.Fatalf("failed commit must roll back, expected 2 sales, got %d", count)
	}
}

func countSalesForUser(t *testing.T, s *Store, ctx context.Context, userID string) int {
	t.Helper()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)::int FROM sales WHERE user_id = $1`, userID).Scan(&count); err != nil {
		t.Fatalf("count sales: %v", err)
	}
	return count
}
