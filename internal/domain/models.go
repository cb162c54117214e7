package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	CreatedAt time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Available *bool            `json:"available,omitempty"`
}

type Table struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	State  string `json:"state"`
}

type TableCreateRequest struct {
	Number int `json:"number"`
}

type TableStateRequest struct {
	State string `json:"state"`
}

// CartLine is one product/quantity entry as submitted by a terminal.
type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Sale struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	TableID   string          `json:"table_id,omitempty"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	Lines     []SaleLine      `json:"lines,omitempty"`
}

// SaleLine snapshots the unit price at time of sale; later catalog price
// changes never alter a committed line.
type SaleLine struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Ticket struct {
	ID       string          `json:"id"`
	SaleID   string          `json:"sale_id"`
	Folio    string          `json:"folio"`
	Total    decimal.Decimal `json:"total"`
	Change   decimal.Decimal `json:"change"`
	IssuedAt time.Time       `json:"issued_at"`
}

// TicketView is the read model handed to receipt rendering.
type TicketView struct {
	Folio    string          `json:"folio"`
	SaleID   string          `json:"sale_id"`
	Total    decimal.Decimal `json:"total"`
	Change   decimal.Decimal `json:"change"`
	IssuedAt time.Time       `json:"issued_at"`
	Lines    []SaleLine      `json:"lines"`
}

type AuditEntry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type CommitSaleRequest struct {
	UserID     string          `json:"user_id"`
	TableID    string          `json:"table_id,omitempty"`
	Lines      []CartLine      `json:"lines"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}

type CommitSaleResponse struct {
	Folio    string          `json:"folio"`
	SaleID   string          `json:"sale_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Change   decimal.Decimal `json:"change"`
	IssuedAt string          `json:"issued_at"`
}

type SalesReport struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// StaffAccount is an internal persistence model for auth credentials.
type StaffAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	TableStateFree     = "free"
	TableStateOccupied = "occupied"
	TableStateReserved = "reserved"
)

const (
	OpSaleCommit    = "sale_commit"
	OpProductCreate = "product_create"
	OpProductUpdate = "product_update"
	OpProductDelete = "product_delete"
	OpTableCreate   = "table_create"
	OpTableState    = "table_state"
	OpStaffCreate   = "staff_create"
	OpAuditPrune    = "audit_prune"
)

// ValidTableState reports whether state is one of the three table states.
func ValidTableState(state string) bool {
	switch state {
	case TableStateFree, TableStateOccupied, TableStateReserved:
		return true
	default:
		return false
	}
}
