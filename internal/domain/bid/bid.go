package bid

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is an immutable append-only record. Bids are never updated or deleted
// from the durable store; a bid evicted from the live bid-set during a
// fallback simply did not win.
type Bid struct {
	ID        uuid.UUID       `json:"bidId"`
	AuctionID uuid.UUID       `json:"auctionId"`
	BidderID  uuid.UUID       `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

// New creates a bid record at the given instant.
func New(auctionID, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) *Bid {
	return &Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
}

// Store is the durable-store capability for bids: inserts only.
type Store interface {
	Append(ctx context.Context, b *Bid) error
	ListByAuctionDesc(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error)
	TopBid(ctx context.Context, auctionID uuid.UUID) (*Bid, error)
}
