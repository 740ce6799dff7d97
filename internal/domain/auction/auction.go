package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
)

// Auction is the unit of lifecycle: PENDING until its start time, LIVE while
// bids are admitted, then COMPLETED (or CANCELLED). COMPLETED and CANCELLED
// are terminal.
type Auction struct {
	ID                  uuid.UUID        `json:"auctionId"`
	ItemID              uuid.UUID        `json:"itemId"`
	StartTime           time.Time        `json:"startTime"`
	EndTime             time.Time        `json:"endTime"`
	Status              Status           `json:"status"`
	MinIncrementPercent decimal.Decimal  `json:"minIncrementPercent"`
	CurrentHighestBid   *decimal.Decimal `json:"currentHighestBid,omitempty"`
	WinnerID            *uuid.UUID       `json:"winnerId,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

type Status int

const (
	StatusPending Status = iota
	StatusLive
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusLive:
		return "LIVE"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus maps the wire/database representation back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "LIVE":
		return StatusLive, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "CANCELLED":
		return StatusCancelled, nil
	default:
		return 0, errors.NewInternalError("unknown auction status: " + s)
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// New creates a PENDING auction over the given window. The window must be
// strictly ordered.
func New(itemID uuid.UUID, startTime, endTime time.Time, now time.Time) (*Auction, error) {
	if !endTime.After(startTime) {
		return nil, errors.NewInternalError("auction end_time must be after start_time")
	}
	return &Auction{
		ID:                  uuid.New(),
		ItemID:              itemID,
		StartTime:           startTime,
		EndTime:             endTime,
		Status:              StatusPending,
		MinIncrementPercent: values.DefaultMinIncrementPercent,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Activate transitions PENDING -> LIVE. Activating an already-LIVE auction
// is a no-op so scheduler ticks stay replay-safe.
func (a *Auction) Activate(now time.Time) error {
	if a.Status == StatusLive {
		return nil
	}
	if a.Status != StatusPending {
		return errors.NewConflictError("cannot activate auction in status " + a.Status.String())
	}
	a.Status = StatusLive
	a.UpdatedAt = now
	return nil
}

// RecordHead snapshots the current leading bid into the durable entity.
// While LIVE the winner field tracks the leading bidder; the close pass
// promotes it to the actual winner.
func (a *Auction) RecordHead(bidderID uuid.UUID, amount decimal.Decimal, now time.Time) {
	a.CurrentHighestBid = &amount
	a.WinnerID = &bidderID
	a.UpdatedAt = now
}

// Complete transitions LIVE -> COMPLETED without a winner.
func (a *Auction) Complete(now time.Time) error {
	if a.Status == StatusCompleted {
		return nil
	}
	if a.Status != StatusLive {
		return errors.NewConflictError("cannot complete auction in status " + a.Status.String())
	}
	a.Status = StatusCompleted
	a.UpdatedAt = now
	return nil
}

// CompleteWithWinner closes the auction and records the provisional winner
// and their winning amount.
func (a *Auction) CompleteWithWinner(winnerID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if err := a.Complete(now); err != nil {
		return err
	}
	a.WinnerID = &winnerID
	a.CurrentHighestBid = &amount
	a.UpdatedAt = now
	return nil
}

// SetWinner rolls the winning position to a new bidder after a guarantee
// payment fallback. The auction stays COMPLETED.
func (a *Auction) SetWinner(winnerID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if a.Status != StatusCompleted {
		return errors.NewConflictError("cannot set winner on auction in status " + a.Status.String())
	}
	a.WinnerID = &winnerID
	a.CurrentHighestBid = &amount
	a.UpdatedAt = now
	return nil
}

// ClearWinner removes the winner and head after the last fallback candidate
// defaulted.
func (a *Auction) ClearWinner(now time.Time) {
	a.WinnerID = nil
	a.CurrentHighestBid = nil
	a.UpdatedAt = now
}

// Cancel marks the auction CANCELLED. Only non-terminal auctions may be
// cancelled.
func (a *Auction) Cancel(now time.Time) error {
	if a.Status.IsTerminal() {
		return errors.NewConflictError("cannot cancel auction in status " + a.Status.String())
	}
	a.Status = StatusCancelled
	a.UpdatedAt = now
	return nil
}

// HighestOrZero returns the durable head amount, zero when no bid is
// recorded.
func (a *Auction) HighestOrZero() decimal.Decimal {
	if a.CurrentHighestBid == nil {
		return decimal.Zero
	}
	return *a.CurrentHighestBid
}
