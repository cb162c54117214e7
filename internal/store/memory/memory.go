// Package memory is the in-memory Repository used for development and
// tests. All state lives behind one RWMutex; CreateSaleCommit runs in a
// single critical section, which makes the multi-record write atomic and
// serializes folio allocation.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/folio"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	products       map[string]domain.Product
	tables         map[string]domain.Table
	salesByID      map[string]domain.Sale
	linesBySale    map[string][]domain.SaleLine
	ticketsBySale  map[string]domain.Ticket
	ticketsByFolio map[string]domain.Ticket
	folioSeqByDay  map[string]int
	auditLog       []domain.AuditEntry
	staffByName    map[string]domain.StaffAccount
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		tables:         make(map[string]domain.Table),
		salesByID:      make(map[string]domain.Sale),
		linesBySale:    make(map[string][]domain.SaleLine),
		ticketsBySale:  make(map[string]domain.Ticket),
		ticketsByFolio: make(map[string]domain.Ticket),
		folioSeqByDay:  make(map[string]int),
		auditLog:       make([]domain.AuditEntry, 0, 128),
		staffByName:    make(map[string]domain.StaffAccount),
	}
}

// NewSeeded builds a store pre-loaded with a small menu, eight free tables
// and the dev staff accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	menu := []struct {
		id       string
		name     string
		category string
		price    string
	}{
		{"prod-tacos-pastor", "Tacos al Pastor (3)", "food", "65.00"},
		{"prod-quesadilla", "Quesadilla de Queso", "food", "48.00"},
		{"prod-enchiladas", "Enchiladas Verdes", "food", "92.50"},
		{"prod-pozole", "Pozole Rojo", "food", "85.00"},
		{"prod-guacamole", "Guacamole con Totopos", "starter", "55.00"},
		{"prod-sopa", "Sopa de Tortilla", "starter", "49.50"},
		{"prod-agua-horchata", "Agua de Horchata", "beverage", "28.00"},
		{"prod-agua-jamaica", "Agua de Jamaica", "beverage", "28.00"},
		{"prod-refresco", "Refresco", "beverage", "25.00"},
		{"prod-cafe", "Cafe de Olla", "beverage", "32.00"},
		{"prod-flan", "Flan Napolitano", "dessert", "42.00"},
		{"prod-churros", "Churros con Cajeta", "dessert", "38.50"},
	}
	for _, m := range menu {
		s.products[m.id] = domain.Product{
			ID:        m.id,
			Name:      m.name,
			Category:  m.category,
			Price:     decimal.RequireFromString(m.price),
			Available: true,
			CreatedAt: now,
		}
	}

	for n := 1; n <= 8; n++ {
		id := xid.New("table")
		s.tables[id] = domain.Table{ID: id, Number: n, State: domain.TableStateFree}
	}

	for username, account := range seedStaff() {
		s.staffByName[username] = account
	}
	return s
}

// seedStaff builds the initial staff accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production runs use the
// PostgreSQL store instead.
func seedStaff() map[string]domain.StaffAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	accounts := map[string]domain.StaffAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		accounts[u.username] = domain.StaffAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return accounts
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Category == products[j].Category {
			return products[i].Name < products[j].Name
		}
		return products[i].Category < products[j].Category
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListTables(_ context.Context) ([]domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make([]domain.Table, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Number < tables[j].Number })
	return tables, nil
}

func (s *Store) CreateTable(_ context.Context, table domain.Table) (*domain.Table, error) {
	if table.Number < 1 {
		return nil, store.ErrInvalidInput
	}
	if table.ID == "" {
		table.ID = xid.New("table")
	}
	if table.State == "" {
		table.State = domain.TableStateFree
	}
	if !domain.ValidTableState(table.State) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tables {
		if existing.Number == table.Number {
			return nil, store.ErrInvalidInput
		}
	}
	s.tables[table.ID] = table
	created := table
	return &created, nil
}

func (s *Store) GetTableByID(_ context.Context, id string) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.tables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := table
	return &found, nil
}

func (s *Store) SetTableState(_ context.Context, id string, state string) (*domain.Table, error) {
	if !domain.ValidTableState(state) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	table.State = state
	s.tables[id] = table
	updated := table
	return &updated, nil
}

func (s *Store) CreateSaleCommit(_ context.Context, sale domain.Sale, lines []domain.SaleLine, ticket domain.Ticket) (*domain.Ticket, error) {
	if len(lines) == 0 || !sale.Total.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if ticket.Change.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if ticket.ID == "" {
		ticket.ID = xid.New("ticket")
	}
	if ticket.IssuedAt.IsZero() {
		ticket.IssuedAt = sale.CreatedAt
	}
	ticket.SaleID = sale.ID

	stored := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		if line.ID == "" {
			line.ID = xid.New("line")
		}
		line.SaleID = sale.ID
		stored = append(stored, line)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Allocate the folio only after all input checks pass so rejected
	// commits never leave a gap in the daily sequence.
	if ticket.Folio == "" {
		day := ticket.IssuedAt.UTC().Format("20060102")
		seq := s.folioSeqByDay[day] + 1
		s.folioSeqByDay[day] = seq
		ticket.Folio = folio.Format(ticket.IssuedAt, seq)
	}
	if _, taken := s.ticketsByFolio[ticket.Folio]; taken {
		return nil, &store.StageError{Stage: store.StageTicket, Err: store.ErrFolioConflict}
	}

	s.salesByID[sale.ID] = sale
	s.linesBySale[sale.ID] = stored
	s.ticketsBySale[sale.ID] = ticket
	s.ticketsByFolio[ticket.Folio] = ticket

	issued := ticket
	return &issued, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Lines = append([]domain.SaleLine(nil), s.linesBySale[id]...)
	found := sale
	return &found, nil
}

func (s *Store) ListSalesByUser(_ context.Context, userID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.UserID == userID {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) ListSalesByRange(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if !sale.CreatedAt.Before(from) && sale.CreatedAt.Before(to) {
			sales = append(sales, sale)
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) SalesTotalByRange(_ context.Context, from time.Time, to time.Time) (decimal.Decimal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	count := 0
	for _, sale := range s.salesByID {
		if !sale.CreatedAt.Before(from) && sale.CreatedAt.Before(to) {
			total = total.Add(sale.Total)
			count++
		}
	}
	return total, count, nil
}

func (s *Store) GetTicketByFolio(_ context.Context, f string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.ticketsByFolio[f]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := ticket
	return &found, nil
}

func (s *Store) GetTicketBySale(_ context.Context, saleID string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.ticketsBySale[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := ticket
	return &found, nil
}

func (s *Store) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	if strings.TrimSpace(entry.Type) == "" {
		return store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLog = append(s.auditLog, entry)
	return nil
}

func (s *Store) ListAuditByType(_ context.Context, opType string, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.AuditEntry, 0, 32)
	for i := len(s.auditLog) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.auditLog[i].Type == opType {
			entries = append(entries, s.auditLog[i])
		}
	}
	return entries, nil
}

func (s *Store) ListAuditByRange(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.AuditEntry, 0, 32)
	for i := len(s.auditLog) - 1; i >= 0 && len(entries) < limit; i-- {
		at := s.auditLog[i].CreatedAt
		if !at.Before(from) && at.Before(to) {
			entries = append(entries, s.auditLog[i])
		}
	}
	return entries, nil
}

func (s *Store) PruneAuditBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]domain.AuditEntry, 0, len(s.auditLog))
	pruned := 0
	for _, entry := range s.auditLog {
		if entry.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	s.auditLog = kept
	return pruned, nil
}

func (s *Store) CreateStaff(_ context.Context, account domain.StaffAccount) error {
	account.Username = strings.ToLower(strings.TrimSpace(account.Username))
	if account.Username == "" || strings.TrimSpace(account.Password) == "" {
		return store.ErrInvalidInput
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.staffByName[account.Username]; exists {
		return store.ErrInvalidInput
	}
	s.staffByName[account.Username] = account
	return nil
}

func (s *Store) GetStaffByUsername(_ context.Context, username string) (*domain.StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.staffByName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := account
	return &found, nil
}

func (s *Store) ListStaff(_ context.Context) ([]domain.StaffUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.StaffUser, 0, len(s.staffByName))
	for _, account := range s.staffByName {
		users = append(users, domain.StaffUser{
			Username:  account.Username,
			Role:      account.Role,
			Active:    account.Active,
			CreatedAt: account.CreatedAt,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}
