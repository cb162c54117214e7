package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"restopos/backend/internal/cache"
	"restopos/backend/internal/domain"
	"restopos/backend/internal/finance"
	"restopos/backend/internal/folio"
	"restopos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// maxCommitAttempts bounds the retry loop when concurrent commits collide
// on the same folio.
const maxCommitAttempts = 3

type Service struct {
	repo      store.Repository
	tickets   cache.TicketCache
	ticketTTL time.Duration
}

func New(repo store.Repository, tickets cache.TicketCache) *Service {
	if tickets == nil {
		tickets = cache.NoopTicketCache{}
	}

	return &Service{
		repo:      repo,
		tickets:   tickets,
		ticketTTL: 24 * time.Hour,
	}
}

// CommitSale runs the whole register flow: validate the request, check
// every product is sellable, price the cart, then write sale, lines and
// ticket as one durable unit. Marking the table occupied and recording the
// audit entry happen after the commit and never fail it.
func (s *Service) CommitSale(ctx context.Context, req domain.CommitSaleRequest) (domain.CommitSaleResponse, error) {
	lines, err := s.validateCommitRequest(ctx, req)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}

	financeLines := make([]finance.Line, 0, len(lines))
	saleLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.CommitSaleResponse{}, &AvailabilityError{ProductID: line.ProductID}
		}
		if !product.Available {
			return domain.CommitSaleResponse{}, &AvailabilityError{ProductID: product.ID, Name: product.Name}
		}

		financeLines = append(financeLines, finance.Line{UnitPrice: product.Price, Qty: line.Qty})
		saleLines = append(saleLines, domain.SaleLine{
			ProductID: product.ID,
			Name:      product.Name,
			Qty:       line.Qty,
			UnitPrice: product.Price,
			Subtotal:  finance.LineSubtotal(product.Price, line.Qty),
		})
	}

	totals := finance.ComputeTotals(financeLines)
	if req.AmountPaid.LessThan(totals.Total) {
		return domain.CommitSaleResponse{}, &ValidationError{
			Reason: fmt.Sprintf("amount paid %s is below total %s", req.AmountPaid.StringFixed(2), totals.Total.StringFixed(2)),
		}
	}
	change := finance.ChangeDue(totals.Total, req.AmountPaid)

	now := time.Now().UTC()
	sale := domain.Sale{
		UserID:    req.UserID,
		TableID:   req.TableID,
		Total:     totals.Total,
		CreatedAt: now,
	}
	ticket := domain.Ticket{
		Total:    totals.Total,
		Change:   change,
		IssuedAt: now,
	}

	var issued *domain.Ticket
	fallbackUsed := false
	for attempt := 1; ; attempt++ {
		issued, err = s.repo.CreateSaleCommit(ctx, sale, saleLines, ticket)
		if err == nil {
			break
		}

		if errors.Is(err, store.ErrFolioConflict) {
			if attempt >= maxCommitAttempts {
				return domain.CommitSaleResponse{}, &FolioCollisionError{Attempts: attempt}
			}
			if fallbackUsed {
				// A degraded folio that lost the race must not be
				// re-presented verbatim.
				retryAt := time.Now().UTC()
				refreshed := folio.Fallback(retryAt)
				if refreshed == ticket.Folio {
					refreshed = folio.Fallback(retryAt.Add(time.Millisecond))
				}
				ticket.Folio = refreshed
			}
			continue
		}
		if errors.Is(err, store.ErrFolioSequence) && !fallbackUsed {
			// The structured sequence is unreachable; issue a degraded
			// timestamp folio rather than lose the sale.
			ticket.Folio = folio.Fallback(time.Now().UTC())
			fallbackUsed = true
			log.Printf("[service] WARN: folio sequence unavailable, falling back to %s", ticket.Folio)
			continue
		}

		var stageErr *store.StageError
		if errors.As(err, &stageErr) {
			return domain.CommitSaleResponse{}, &PersistenceError{Stage: stageErr.Stage, Err: stageErr.Err}
		}
		if errors.Is(err, store.ErrInvalidInput) {
			return domain.CommitSaleResponse{}, &ValidationError{Reason: "invalid sale payload"}
		}
		return domain.CommitSaleResponse{}, err
	}

	if req.TableID != "" {
		if _, err := s.repo.SetTableState(ctx, req.TableID, domain.TableStateOccupied); err != nil {
			log.Printf("[service] WARN: sale %s committed but table %s not marked occupied: %v", issued.SaleID, req.TableID, err)
		}
	}

	s.logAudit(ctx, domain.OpSaleCommit, fmt.Sprintf("folio=%s,sale=%s,total=%s,change=%s",
		issued.Folio, issued.SaleID, totals.Total.StringFixed(2), change.StringFixed(2)))

	return domain.CommitSaleResponse{
		Folio:    issued.Folio,
		SaleID:   issued.SaleID,
		Subtotal: totals.Subtotal,
		Tax:      totals.Tax,
		Total:    totals.Total,
		Change:   change,
		IssuedAt: issued.IssuedAt.Format(time.RFC3339),
	}, nil
}

// validateCommitRequest rejects malformed requests and merges duplicate
// product entries so downstream stages see one line per product.
func (s *Service) validateCommitRequest(ctx context.Context, req domain.CommitSaleRequest) ([]domain.CartLine, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &ValidationError{Reason: "user id is required"}
	}
	if len(req.Lines) == 0 {
		return nil, &ValidationError{Reason: "cart is empty"}
	}
	if req.AmountPaid.IsNegative() {
		return nil, &ValidationError{Reason: "amount paid cannot be negative"}
	}

	merged := make([]domain.CartLine, 0, len(req.Lines))
	index := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return nil, &ValidationError{Reason: "line is missing a product id"}
		}
		if line.Qty < 1 {
			return nil, &ValidationError{Reason: fmt.Sprintf("quantity for product %s must be at least 1", line.ProductID)}
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Qty += line.Qty
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}

	if req.TableID != "" {
		if _, err := s.repo.GetTableByID(ctx, req.TableID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &ValidationError{Reason: fmt.Sprintf("unknown table %s", req.TableID)}
			}
			return nil, err
		}
	}

	return merged, nil
}

// QuoteSale prices a cart without committing anything. The register uses it
// to show subtotal, tax and total while the order is still being built.
func (s *Service) QuoteSale(ctx context.Context, lines []domain.CartLine) (finance.Totals, error) {
	if len(lines) == 0 {
		return finance.Totals{Subtotal: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}, nil
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return finance.Totals{}, &ValidationError{Reason: fmt.Sprintf("quantity for product %s must be at least 1", line.ProductID)}
		}
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return finance.Totals{}, err
	}

	financeLines := make([]finance.Line, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Available {
			return finance.Totals{}, &AvailabilityError{ProductID: line.ProductID, Name: product.Name}
		}
		financeLines = append(financeLines, finance.Line{UnitPrice: product.Price, Qty: line.Qty})
	}
	return finance.ComputeTotals(financeLines), nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Product{}, err
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Category) == "" {
		return domain.Product{}, &ValidationError{Reason: "name and category are required"}
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, &ValidationError{Reason: "price must be positive"}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:      strings.TrimSpace(req.Name),
		Category:  strings.TrimSpace(req.Category),
		Price:     req.Price.Round(2),
		Available: true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, domain.OpProductCreate, fmt.Sprintf("product=%s,name=%s,price=%s", created.ID, created.Name, created.Price.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	next := *existing
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		next.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, &ValidationError{Reason: "price must be positive"}
		}
		next.Price = req.Price.Round(2)
	}
	if req.Available != nil {
		next.Available = *req.Available
	}

	saved, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, domain.OpProductUpdate, fmt.Sprintf("product=%s,available=%t,price=%s", saved.ID, saved.Available, saved.Price.StringFixed(2)))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := requireRole(ctx, "admin"); err != nil {
		return err
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, domain.OpProductDelete, "product="+id)
	return nil
}

func (s *Service) ListTables(ctx context.Context) ([]domain.Table, error) {
	return s.repo.ListTables(ctx)
}

func (s *Service) CreateTable(ctx context.Context, req domain.TableCreateRequest) (domain.Table, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Table{}, err
	}
	if req.Number < 1 {
		return domain.Table{}, &ValidationError{Reason: "table number must be positive"}
	}

	created, err := s.repo.CreateTable(ctx, domain.Table{Number: req.Number, State: domain.TableStateFree})
	if err != nil {
		return domain.Table{}, err
	}

	s.logAudit(ctx, domain.OpTableCreate, fmt.Sprintf("table=%s,number=%d", created.ID, created.Number))
	return *created, nil
}

func (s *Service) SetTableState(ctx context.Context, id string, state string) (domain.Table, error) {
	if !domain.ValidTableState(state) {
		return domain.Table{}, &ValidationError{Reason: fmt.Sprintf("unknown table state %q", state)}
	}

	updated, err := s.repo.SetTableState(ctx, id, state)
	if err != nil {
		return domain.Table{}, err
	}

	s.logAudit(ctx, domain.OpTableState, fmt.Sprintf("table=%s,state=%s", updated.ID, updated.State))
	return *updated, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSalesByUser(ctx context.Context, userID string, limit int) ([]domain.Sale, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Reason: "user id is required"}
	}
	return s.repo.ListSalesByUser(ctx, userID, limit)
}

func (s *Service) ListSalesByRange(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if !to.After(from) {
		return nil, &ValidationError{Reason: "range end must be after range start"}
	}
	return s.repo.ListSalesByRange(ctx, from, to, limit)
}

func (s *Service) SalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	if !to.After(from) {
		return domain.SalesReport{}, &ValidationError{Reason: "range end must be after range start"}
	}

	total, count, err := s.repo.SalesTotalByRange(ctx, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return domain.SalesReport{
		From:  from.Format(time.RFC3339),
		To:    to.Format(time.RFC3339),
		Count: count,
		Total: total.Round(2),
	}, nil
}

// GetTicketView resolves a folio to the full receipt read model. Issued
// tickets never change, so cache hits are served without touching the store.
func (s *Service) GetTicketView(ctx context.Context, f string) (domain.TicketView, error) {
	if strings.TrimSpace(f) == "" {
		return domain.TicketView{}, &ValidationError{Reason: "folio is required"}
	}

	if cached, ok, err := s.tickets.Get(ctx, f); err != nil {
		log.Printf("[service] WARN: ticket cache lookup failed for %s: %v", f, err)
	} else if ok {
		return *cached, nil
	}

	ticket, err := s.repo.GetTicketByFolio(ctx, f)
	if err != nil {
		return domain.TicketView{}, err
	}
	sale, err := s.repo.GetSaleByID(ctx, ticket.SaleID)
	if err != nil {
		return domain.TicketView{}, err
	}

	view := domain.TicketView{
		Folio:    ticket.Folio,
		SaleID:   ticket.SaleID,
		Total:    ticket.Total,
		Change:   ticket.Change,
		IssuedAt: ticket.IssuedAt,
		Lines:    sale.Lines,
	}

	if err := s.tickets.Set(ctx, f, &view, s.ticketTTL); err != nil {
		log.Printf("[service] WARN: ticket cache store failed for %s: %v", f, err)
	}

	return view, nil
}

func (s *Service) GetTicketBySale(ctx context.Context, saleID string) (domain.Ticket, error) {
	ticket, err := s.repo.GetTicketBySale(ctx, saleID)
	if err != nil {
		return domain.Ticket{}, err
	}
	return *ticket, nil
}

func (s *Service) ListAuditByType(ctx context.Context, opType string, limit int) ([]domain.AuditEntry, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opType) == "" {
		return nil, &ValidationError{Reason: "operation type is required"}
	}
	return s.repo.ListAuditByType(ctx, opType, limit)
}

func (s *Service) ListAuditByRange(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditEntry, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, &ValidationError{Reason: "range end must be after range start"}
	}
	return s.repo.ListAuditByRange(ctx, from, to, limit)
}

// PruneAudit drops audit entries older than the retention window and leaves
// a trace of the prune itself.
func (s *Service) PruneAudit(ctx context.Context, retentionDays int) (int, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return 0, err
	}
	if retentionDays < 1 {
		return 0, &ValidationError{Reason: "retention must be at least one day"}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	pruned, err := s.repo.PruneAuditBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.logAudit(ctx, domain.OpAuditPrune, fmt.Sprintf("pruned=%d,cutoff=%s", pruned, cutoff.Format(time.RFC3339)))
	return pruned, nil
}

func (s *Service) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.StaffUser{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(req.Password) < 8 {
		return domain.StaffUser{}, &ValidationError{Reason: "username and a password of at least 8 characters are required"}
	}
	role := req.Role
	if role == "" {
		role = "cashier"
	}
	if role != "admin" && role != "cashier" {
		return domain.StaffUser{}, &ValidationError{Reason: fmt.Sprintf("unknown role %q", role)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.StaffUser{}, err
	}

	account := domain.StaffAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateStaff(ctx, account); err != nil {
		return domain.StaffUser{}, err
	}

	s.logAudit(ctx, domain.OpStaffCreate, fmt.Sprintf("username=%s,role=%s", username, role))
	return domain.StaffUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	return s.repo.ListStaff(ctx)
}

// Authenticate checks a username/password pair against the stored bcrypt
// hash. Unknown users and bad passwords report the same error.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	account, err := s.repo.GetStaffByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, &ValidationError{Reason: "invalid credentials"}
		}
		return domain.Actor{}, err
	}
	if !account.Active {
		return domain.Actor{}, &ValidationError{Reason: "invalid credentials"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)); err != nil {
		return domain.Actor{}, &ValidationError{Reason: "invalid credentials"}
	}
	return domain.Actor{Username: account.Username, Role: account.Role}, nil
}

func requireRole(ctx context.Context, role string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != role {
		return &AuthzError{Role: role}
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, opType string, description string) {
	if actor, ok := ActorFromContext(ctx); ok {
		description = "actor=" + actor.Username + "," + description
	}

	if err := s.repo.AppendAudit(ctx, domain.AuditEntry{
		Type:        opType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to record %s: %v", opType, err)
	}
}
