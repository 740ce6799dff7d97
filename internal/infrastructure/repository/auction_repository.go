package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	domainerrors "github.com/collectible-exchange/auction-backend/internal/domain/errors"
)

// auctionRepository implements auction.Store over PostgreSQL.
type auctionRepository struct {
	db Querier
}

// NewAuctionRepository creates a new auction repository.
func NewAuctionRepository(db Querier) auction.Store {
	return &auctionRepository{db: db}
}

const auctionColumns = `
	auction_id, item_id, start_time, end_time, status,
	min_increment_percent::text, current_highest_bid::text, winner_id,
	created_at, updated_at`

func (r *auctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE auction_id = $1`
	a, err := scanAuction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrAuctionNotFound
		}
		return nil, domainerrors.NewTransientError("durable", "failed to get auction").WithCause(err)
	}
	return a, nil
}

func (r *auctionRepository) ListByStatus(ctx context.Context, status auction.Status) ([]*auction.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status = $1 ORDER BY start_time`
	rows, err := r.db.Query(ctx, query, status.String())
	if err != nil {
		return nil, domainerrors.NewTransientError("durable", "failed to list auctions").WithCause(err)
	}
	defer rows.Close()

	var out []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Save upserts the auction row: last-write-wins, serialized by Postgres.
func (r *auctionRepository) Save(ctx context.Context, a *auction.Auction) error {
	query := `
		INSERT INTO auctions (
			auction_id, item_id, start_time, end_time, status,
			min_increment_percent, current_highest_bid, winner_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (auction_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_highest_bid = EXCLUDED.current_highest_bid,
			winner_id = EXCLUDED.winner_id,
			updated_at = EXCLUDED.updated_at
	`

	var highest *string
	if a.CurrentHighestBid != nil {
		s := a.CurrentHighestBid.StringFixed(2)
		highest = &s
	}

	_, err := r.db.Exec(ctx, query,
		a.ID, a.ItemID, a.StartTime, a.EndTime, a.Status.String(),
		a.MinIncrementPercent.StringFixed(2), highest, a.WinnerID,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return domainerrors.NewTransientError("durable", "failed to save auction").WithCause(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	var (
		a          auction.Auction
		status     string
		increment  string
		highest    *string
		winnerID   *uuid.UUID
		start, end time.Time
	)

	err := row.Scan(&a.ID, &a.ItemID, &start, &end, &status,
		&increment, &highest, &winnerID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.StartTime = start.UTC()
	a.EndTime = end.UTC()

	parsed, err := auction.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	a.Status = parsed

	if a.MinIncrementPercent, err = decimal.NewFromString(increment); err != nil {
		return nil, fmt.Errorf("parsing min_increment_percent: %w", err)
	}
	if highest != nil {
		d, err := decimal.NewFromString(*highest)
		if err != nil {
			return nil, fmt.Errorf("parsing current_highest_bid: %w", err)
		}
		a.CurrentHighestBid = &d
	}
	a.WinnerID = winnerID

	return &a, nil
}
