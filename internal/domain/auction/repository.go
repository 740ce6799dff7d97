package auction

import (
	"context"

	"github.com/google/uuid"
)

// Store is the durable-store capability for auctions. Writes are
// last-write-wins; the underlying transactional engine serializes
// concurrent writers.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Auction, error)
	ListByStatus(ctx context.Context, status Status) ([]*Auction, error)
	Save(ctx context.Context, a *Auction) error
}

// ItemStore is the read-only item lookup used to fetch base prices.
type ItemStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
}
