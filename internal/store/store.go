package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrFolioConflict means a concurrent commit won the same folio; the
	// caller may retry the whole commit.
	ErrFolioConflict = errors.New("folio conflict")

	// ErrFolioSequence means the per-day sequence could not be allocated;
	// the caller may retry with a pre-built fallback folio.
	ErrFolioSequence = errors.New("folio sequence unavailable")
)

// Commit stages of the durable write, reported by StageError.
const (
	StageSale   = "sale header"
	StageLines  = "line items"
	StageFolio  = "folio allocation"
	StageTicket = "ticket"
)

// StageError wraps a persistence failure with the commit stage it happened
// in, so callers can tell a durable-phase failure apart from best-effort
// side effects.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Repository is the persistence surface of the application. CreateSaleCommit
// is the one multi-record operation: sale header, line-item batch and ticket
// become durable together or not at all.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	ListTables(ctx context.Context) ([]domain.Table, error)
	CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error)
	GetTableByID(ctx context.Context, id string) (*domain.Table, error)
	SetTableState(ctx context.Context, id string, state string) (*domain.Table, error)

	// CreateSaleCommit persists the sale, its lines and the ticket as one
	// unit. When ticket.Folio is empty the store allocates the next per-day
	// sequence atomically inside the same unit; a pre-set folio (the
	// degraded fallback) is inserted as given.
	CreateSaleCommit(ctx context.Context, sale domain.Sale, lines []domain.SaleLine, ticket domain.Ticket) (*domain.Ticket, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSalesByUser(ctx context.Context, userID string, limit int) ([]domain.Sale, error)
	ListSalesByRange(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	SalesTotalByRange(ctx context.Context, from time.Time, to time.Time) (decimal.Decimal, int, error)
	GetTicketByFolio(ctx context.Context, f string) (*domain.Ticket, error)
	GetTicketBySale(ctx context.Context, saleID string) (*domain.Ticket, error)

	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAuditByType(ctx context.Context, opType string, limit int) ([]domain.AuditEntry, error)
	ListAuditByRange(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditEntry, error)
	PruneAuditBefore(ctx context.Context, cutoff time.Time) (int, error)

	CreateStaff(ctx context.Context, account domain.StaffAccount) error
	GetStaffByUsername(ctx context.Context, username string) (*domain.StaffAccount, error)
	ListStaff(ctx context.Context) ([]domain.StaffUser, error)
}
