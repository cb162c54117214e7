package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/folio"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, available, created_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Available, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price, available, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, product.ID, product.Name, product.Category, product.Price, product.Available, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price, available, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &product.Price, &product.Available, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, available = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Price, product.Available)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, available, created_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Available, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ListTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_number, state
		FROM dining_tables
		ORDER BY table_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make([]domain.Table, 0, 16)
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.Number, &t.State); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *Store) CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dining_tables (id, table_number, state, updated_at)
		VALUES ($1,$2,$3,now())
	`, table.ID, table.Number, table.State)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := table
	return &created, nil
}

func (s *Store) GetTableByID(ctx context.Context, id string) (*domain.Table, error) {
	var table domain.Table
	err := s.db.QueryRowContext(ctx, `
		SELECT id, table_number, state
		FROM dining_tables
		WHERE id = $1
	`, id).Scan(&table.ID, &table.Number, &table.State)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &table, nil
}

func (s *Store) SetTableState(ctx context.Context, id string, state string) (*domain.Table, error) {
	if !domain.ValidTableState(state) {
		return nil, store.ErrInvalidInput
	}

	var table domain.Table
	err := s.db.QueryRowContext(ctx, `
		UPDATE dining_tables
		SET state = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, table_number, state
	`, id, state).Scan(&table.ID, &table.Number, &table.State)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &table, nil
}

// CreateSaleCommit writes the sale header, its line items and the ticket in
// one serializable transaction. Folio allocation happens inside the same
// transaction: the per-day counter row is upserted and its new value read
// back, so a rollback of the sale also rolls back the sequence claim and
// the numbering stays gapless. A pre-set ticket folio (the degraded
// fallback) skips the counter and is inserted as given.
func (s *Store) CreateSaleCommit(ctx context.Context, sale domain.Sale, lines []domain.SaleLine, ticket domain.Ticket) (*domain.Ticket, error) {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, &store.StageError{Stage: store.StageSale, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, user_id, table_id, total, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, sale.UserID, nullIfEmpty(sale.TableID), sale.Total, sale.CreatedAt)
	if err != nil {
		return nil, &store.StageError{Stage: store.StageSale, Err: err}
	}

	for _, line := range lines {
		if line.Qty < 1 {
			return nil, &store.StageError{Stage: store.StageLines, Err: store.ErrInvalidInput}
		}
		if line.ID == "" {
			line.ID = xid.New("line")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, product_id, product_name, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, line.ID, sale.ID, line.ProductID, line.Name, line.Qty, line.UnitPrice, line.Subtotal)
		if err != nil {
			return nil, &store.StageError{Stage: store.StageLines, Err: err}
		}
	}

	if ticket.Folio == "" {
		day := nowDateUTC(ticket.IssuedAt)
		var seq int
		err = tx.QueryRowContext(ctx, `
			INSERT INTO folio_counters (day, seq)
			VALUES ($1, 1)
			ON CONFLICT (day)
			DO UPDATE SET seq = folio_counters.seq + 1
			RETURNING seq
		`, day).Scan(&seq)
		if err != nil {
			return nil, folioAllocError(err)
		}
		ticket.Folio = folio.Format(ticket.IssuedAt, seq)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, sale_id, folio, total, change, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ticket.ID, ticket.SaleID, ticket.Folio, ticket.Total, ticket.Change, ticket.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.StageError{Stage: store.StageTicket, Err: store.ErrFolioConflict}
		}
		return nil, &store.StageError{Stage: store.StageTicket, Err: err}
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, &store.StageError{Stage: store.StageTicket, Err: store.ErrFolioConflict}
		}
		return nil, &store.StageError{Stage: store.StageTicket, Err: err}
	}

	issued := ticket
	return &issued, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var tableID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, table_id, total, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.UserID, &tableID, &sale.Total, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tableID.Valid {
		sale.TableID = tableID.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, qty, unit_price, subtotal
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Name, &line.Qty, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Lines = lines

	return &sale, nil
}

func (s *Store) ListSalesByUser(ctx context.Context, userID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, table_id, total, created_at
		FROM sales
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSales(rows, limit)
}

func (s *Store) ListSalesByRange(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, table_id, total, created_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSales(rows, limit)
}

func (s *Store) SalesTotalByRange(ctx context.Context, from time.Time, to time.Time) (decimal.Decimal, int, error) {
	var total decimal.Decimal
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0), COUNT(*)::int
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}

func (s *Store) GetTicketByFolio(ctx context.Context, f string) (*domain.Ticket, error) {
	return s.findTicket(ctx, `folio`, f)
}

func (s *Store) GetTicketBySale(ctx context.Context, saleID string) (*domain.Ticket, error) {
	return s.findTicket(ctx, `sale_id`, saleID)
}

func (s *Store) findTicket(ctx context.Context, column string, value string) (*domain.Ticket, error) {
	if column != "folio" && column != "sale_id" {
		return nil, store.ErrInvalidInput
	}

	var ticket domain.Ticket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_id, folio, total, change, issued_at
		FROM tickets
		WHERE `+column+` = $1
	`, value).Scan(&ticket.ID, &ticket.SaleID, &ticket.Folio, &ticket.Total, &ticket.Change, &ticket.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ticket.IssuedAt = ticket.IssuedAt.UTC()
	return &ticket, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	if strings.TrimSpace(entry.Type) == "" {
		return store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, op_type, description, created_at)
		VALUES ($1,$2,$3,$4)
	`, entry.ID, entry.Type, entry.Description, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditByType(ctx context.Context, opType string, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, description, created_at
		FROM audit_entries
		WHERE op_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, opType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAudit(rows, limit)
}

func (s *Store) ListAuditByRange(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, description, created_at
		FROM audit_entries
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAudit(rows, limit)
}

func (s *Store) PruneAuditBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_entries
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateStaff(ctx context.Context, account domain.StaffAccount) error {
	account.Username = strings.ToLower(strings.TrimSpace(account.Username))
	if account.Username == "" || strings.TrimSpace(account.Password) == "" {
		return store.ErrInvalidInput
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, account.Username, account.Password, account.Role, account.Active, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) GetStaffByUsername(ctx context.Context, username string) (*domain.StaffAccount, error) {
	var account domain.StaffAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM staff_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&account.Username, &account.Password, &account.Role, &account.Active, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

func (s *Store) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, role, active, created_at
		FROM staff_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.StaffUser, 0, 16)
	for rows.Next() {
		var u domain.StaffUser
		if err := rows.Scan(&u.Username, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func scanSales(rows *sql.Rows, limit int) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var tableID sql.NullString
		if err := rows.Scan(&sale.ID, &sale.UserID, &tableID, &sale.Total, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if tableID.Valid {
			sale.TableID = tableID.String
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func scanAudit(rows *sql.Rows, limit int) ([]domain.AuditEntry, error) {
	entries := make([]domain.AuditEntry, 0, limit)
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// folioAllocError classifies a failed counter upsert. Two same-day commits
// racing on the shared counter row surface 40001 (or 23505) at this
// statement under SERIALIZABLE; those are conflicts the caller retries with
// structured allocation. Anything else means the sequence is genuinely
// unreachable and the degraded fallback applies.
func folioAllocError(err error) error {
	if isSerializationFailure(err) || isUniqueViolation(err) {
		return &store.StageError{Stage: store.StageFolio, Err: store.ErrFolioConflict}
	}
	return &store.StageError{Stage: store.StageFolio, Err: fmt.Errorf("%w: %v", store.ErrFolioSequence, err)}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
