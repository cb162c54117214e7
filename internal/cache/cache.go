package cache

import (
	"context"
	"time"

	"restopos/backend/internal/domain"
)

// TicketCache holds rendered ticket views keyed by folio. Tickets are
// immutable once issued, so cached views never go stale.
type TicketCache interface {
	Get(ctx context.Context, folio string) (*domain.TicketView, bool, error)
	Set(ctx context.Context, folio string, view *domain.TicketView, ttl time.Duration) error
}

type NoopTicketCache struct{}

func (NoopTicketCache) Get(_ context.Context, _ string) (*domain.TicketView, bool, error) {
	return nil, false, nil
}

func (NoopTicketCache) Set(_ context.Context, _ string, _ *domain.TicketView, _ time.Duration) error {
	return nil
}
