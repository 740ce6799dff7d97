// Package payments handles guarantee settlement: the provisional winner
// paying half the winning bid inside the payment window.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/payment"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/cache"
	"github.com/collectible-exchange/auction-backend/internal/service/bidding"
)

// Service settles guarantee payments.
type Service struct {
	payments payment.Store
	auctions auction.Store
	live     *cache.LiveStore
	clock    auction.Clock
	events   bidding.Broadcaster
	logger   *zap.Logger
}

// NewService wires the settlement service.
func NewService(
	payments payment.Store,
	auctions auction.Store,
	live *cache.LiveStore,
	clock auction.Clock,
	events bidding.Broadcaster,
	logger *zap.Logger,
) *Service {
	return &Service{
		payments: payments,
		auctions: auctions,
		live:     live,
		clock:    clock,
		events:   events,
		logger:   logger,
	}
}

// Settle marks the bidder's pending guarantee paid. The entity guards make
// the race against the scheduler's timeout sweep single-winner: whichever
// transition is persisted first wins, the loser gets a conflict.
func (s *Service) Settle(ctx context.Context, auctionID, bidderID uuid.UUID) (*payment.Payment, error) {
	p, err := s.payments.FindGuarantee(ctx, auctionID, bidderID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := p.MarkPaid(now); err != nil {
		return nil, err
	}
	if err := s.payments.Save(ctx, p); err != nil {
		return nil, err
	}

	// Settlement ends the auction's live lifetime; the retained bid-set is
	// no longer needed for fallback.
	if err := s.live.Deactivate(ctx, auctionID); err != nil {
		s.logger.Warn("failed to deactivate auction live state",
			zap.String("auction_id", auctionID.String()),
			zap.Error(err))
	}

	payload := map[string]string{
		"type":      "PAYMENT_COMPLETED",
		"auctionId": auctionID.String(),
		"winnerId":  bidderID.String(),
		"amount":    values.FormatAmount(p.Amount),
		"paidAt":    now.UTC().Format(time.RFC3339),
	}
	s.events.Broadcast(bidding.AuctionTopic(auctionID), payload)
	s.events.Broadcast(bidding.UpdatesTopic, payload)

	s.logger.Info("guarantee payment settled",
		zap.String("auction_id", auctionID.String()),
		zap.String("bidder_id", bidderID.String()),
		zap.String("amount", values.FormatAmount(p.Amount)))
	return p, nil
}

// Guarantee returns the latest guarantee obligation for the pair.
func (s *Service) Guarantee(ctx context.Context, auctionID, bidderID uuid.UUID) (*payment.Payment, error) {
	return s.payments.FindGuarantee(ctx, auctionID, bidderID)
}
