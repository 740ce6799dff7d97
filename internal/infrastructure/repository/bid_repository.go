package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	domainerrors "github.com/collectible-exchange/auction-backend/internal/domain/errors"
)

// bidRepository implements bid.Store over PostgreSQL. Bids are insert-only.
type bidRepository struct {
	db Querier
}

// NewBidRepository creates a new bid repository.
func NewBidRepository(db Querier) bid.Store {
	return &bidRepository{db: db}
}

func (r *bidRepository) Append(ctx context.Context, b *bid.Bid) error {
	if b.AuctionID == uuid.Nil {
		return errors.New("auction_id cannot be nil")
	}
	if b.BidderID == uuid.Nil {
		return errors.New("bidder_id cannot be nil")
	}
	if !b.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}

	query := `
		INSERT INTO bids (bid_id, auction_id, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Amount.StringFixed(2), b.CreatedAt)
	if err != nil {
		return domainerrors.NewTransientError("durable", "failed to append bid").WithCause(err)
	}
	return nil
}

func (r *bidRepository) ListByAuctionDesc(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	query := `
		SELECT bid_id, auction_id, bidder_id, amount::text, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, auctionID)
	if err != nil {
		return nil, domainerrors.NewTransientError("durable", "failed to list bids").WithCause(err)
	}
	defer rows.Close()

	var out []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *bidRepository) TopBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT bid_id, auction_id, bidder_id, amount::text, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at DESC
		LIMIT 1
	`
	b, err := scanBid(r.db.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrBidNotFound
		}
		return nil, domainerrors.NewTransientError("durable", "failed to get top bid").WithCause(err)
	}
	return b, nil
}

func scanBid(row rowScanner) (*bid.Bid, error) {
	var (
		b      bid.Bid
		amount string
	)
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &b.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount: %w", err)
	}
	b.Amount = d
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}
