package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
)

// Type discriminates payment obligations. Only guarantee payments are part
// of the auction core; final settlement is handled elsewhere.
type Type string

const (
	TypeGuarantee Type = "GUARANTEE"
	TypeFinal     Type = "FINAL"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Payment is a guarantee obligation owed by a provisional winner: half the
// winning bid, due within the payment window after close. At most one
// PENDING guarantee exists per (auction, bidder).
type Payment struct {
	ID        uuid.UUID       `json:"paymentId"`
	AuctionID uuid.UUID       `json:"auctionId"`
	BidderID  uuid.UUID       `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      Type            `json:"paymentType"`
	Status    Status          `json:"status"`
	DueBy     time.Time       `json:"dueBy"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewGuarantee creates the PENDING guarantee obligation for a winning bid.
func NewGuarantee(auctionID, bidderID uuid.UUID, winningBid decimal.Decimal, now time.Time, window time.Duration) *Payment {
	return &Payment{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    values.GuaranteeAmount(winningBid),
		Type:      TypeGuarantee,
		Status:    StatusPending,
		DueBy:     now.Add(window),
		CreatedAt: now,
	}
}

// MarkPaid transitions PENDING -> SUCCESS, guarded on the deadline. A
// conflicting FAILED transition from the scheduler loses only if it was
// recorded first; the status guard makes the race single-winner.
func (p *Payment) MarkPaid(now time.Time) error {
	if p.Status != StatusPending {
		return errors.NewConflictError("payment is not pending")
	}
	if now.After(p.DueBy) {
		return errors.NewPaymentExpiredError()
	}
	p.Status = StatusSuccess
	p.PaidAt = &now
	return nil
}

// MarkFailed transitions PENDING -> FAILED when the window elapses.
func (p *Payment) MarkFailed() error {
	if p.Status != StatusPending {
		return errors.NewConflictError("payment is not pending")
	}
	p.Status = StatusFailed
	return nil
}

// Overdue reports whether the window has closed on a still-PENDING payment.
func (p *Payment) Overdue(now time.Time) bool {
	return p.Status == StatusPending && now.After(p.DueBy)
}

// Store is the durable-store capability for payments.
type Store interface {
	Save(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	// FindGuarantee returns the latest guarantee payment for the pair,
	// regardless of status.
	FindGuarantee(ctx context.Context, auctionID, bidderID uuid.UUID) (*Payment, error)
	ListPendingGuarantees(ctx context.Context) ([]*Payment, error)
}
