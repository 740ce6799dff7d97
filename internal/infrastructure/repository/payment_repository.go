package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	domainerrors "github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/payment"
)

// paymentRepository implements payment.Store over PostgreSQL.
type paymentRepository struct {
	db Querier
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(db Querier) payment.Store {
	return &paymentRepository{db: db}
}

const paymentColumns = `
	payment_id, auction_id, bidder_id, amount::text, payment_type, status,
	due_by, paid_at, created_at`

func (r *paymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO payments (
			payment_id, auction_id, bidder_id, amount, payment_type, status,
			due_by, paid_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_id) DO UPDATE SET
			status = EXCLUDED.status,
			paid_at = EXCLUDED.paid_at
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.AuctionID, p.BidderID, p.Amount.StringFixed(2),
		string(p.Type), string(p.Status), p.DueBy, p.PaidAt, p.CreatedAt)
	if err != nil {
		return domainerrors.NewTransientError("durable", "failed to save payment").WithCause(err)
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrPaymentNotFound
		}
		return nil, domainerrors.NewTransientError("durable", "failed to get payment").WithCause(err)
	}
	return p, nil
}

func (r *paymentRepository) FindGuarantee(ctx context.Context, auctionID, bidderID uuid.UUID) (*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE auction_id = $1 AND bidder_id = $2 AND payment_type = $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	p, err := scanPayment(r.db.QueryRow(ctx, query, auctionID, bidderID, string(payment.TypeGuarantee)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrPaymentNotFound
		}
		return nil, domainerrors.NewTransientError("durable", "failed to find guarantee payment").WithCause(err)
	}
	return p, nil
}

func (r *paymentRepository) ListPendingGuarantees(ctx context.Context) ([]*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE payment_type = $1 AND status = $2
		ORDER BY due_by
	`
	rows, err := r.db.Query(ctx, query, string(payment.TypeGuarantee), string(payment.StatusPending))
	if err != nil {
		return nil, domainerrors.NewTransientError("durable", "failed to list pending guarantees").WithCause(err)
	}
	defer rows.Close()

	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var (
		p           payment.Payment
		amount      string
		ptype, stat string
	)
	err := row.Scan(&p.ID, &p.AuctionID, &p.BidderID, &amount, &ptype, &stat,
		&p.DueBy, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount: %w", err)
	}
	p.Amount = d
	p.Type = payment.Type(ptype)
	p.Status = payment.Status(stat)
	p.DueBy = p.DueBy.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
