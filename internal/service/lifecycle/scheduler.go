// Package lifecycle drives auctions through their state machine: activation
// at start time, closing at end time, and the guarantee-payment timeout
// sweep with fallback to the next-highest bidder.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	"github.com/collectible-exchange/auction-backend/internal/domain/payment"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/cache"
	"github.com/collectible-exchange/auction-backend/internal/metrics"
	"github.com/collectible-exchange/auction-backend/internal/service/bidding"
)

// Scheduler is the periodic lifecycle driver. Every pass is replay-safe:
// activation and completion are idempotent on the entity, and a pass that
// crashes midway is simply redone on the next tick.
type Scheduler struct {
	live     *cache.LiveStore
	auctions auction.Store
	bids     bid.Store
	payments payment.Store
	clock    auction.Clock
	events   bidding.Broadcaster
	metrics  *metrics.Registry
	logger   *zap.Logger

	tick          time.Duration
	paymentWindow time.Duration
	ttlGrace      time.Duration
	opTimeout     time.Duration
}

// Config carries the scheduler's tunables. OpTimeout bounds the store
// round trips of each unit of tick work; a stalled store fails that unit
// instead of hanging the tick.
type Config struct {
	Tick          time.Duration
	PaymentWindow time.Duration
	TTLGrace      time.Duration
	OpTimeout     time.Duration
}

// NewScheduler wires the lifecycle scheduler.
func NewScheduler(
	live *cache.LiveStore,
	auctions auction.Store,
	bids bid.Store,
	payments payment.Store,
	clock auction.Clock,
	events bidding.Broadcaster,
	reg *metrics.Registry,
	logger *zap.Logger,
	cfg Config,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 2 * time.Second
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 5 * time.Minute
	}
	if cfg.TTLGrace <= 0 {
		cfg.TTLGrace = time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	return &Scheduler{
		live:          live,
		auctions:      auctions,
		bids:          bids,
		payments:      payments,
		clock:         clock,
		events:        events,
		metrics:       reg,
		logger:        logger,
		tick:          cfg.Tick,
		paymentWindow: cfg.PaymentWindow,
		ttlGrace:      cfg.TTLGrace,
		opTimeout:     cfg.OpTimeout,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("lifecycle scheduler started", zap.Duration("tick", s.tick))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full lifecycle pass. A failure on one auction never stalls
// the rest of the pass.
func (s *Scheduler) Tick(ctx context.Context) {
	started := s.clock.Now()
	s.activatePending(ctx)
	s.closeLive(ctx)
	s.expirePayments(ctx)
	s.metrics.RecordTick(ctx, s.clock.Now().Sub(started))
}

// withDeadline bounds one unit of tick work so a stalled store cannot hang
// the scheduler loop.
func (s *Scheduler) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Scheduler) activatePending(ctx context.Context) {
	lctx, cancel := s.withDeadline(ctx)
	pending, err := s.auctions.ListByStatus(lctx, auction.StatusPending)
	cancel()
	if err != nil {
		s.logger.Error("failed to list pending auctions", zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, a := range pending {
		if now.Before(a.StartTime) {
			continue
		}
		actx, cancel := s.withDeadline(ctx)
		err := s.activate(actx, a)
		cancel()
		if err != nil {
			s.logger.Error("failed to activate auction",
				zap.String("auction_id", a.ID.String()),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) activate(ctx context.Context, a *auction.Auction) error {
	now := s.clock.Now()
	if err := a.Activate(now); err != nil {
		return err
	}
	if err := s.auctions.Save(ctx, a); err != nil {
		return err
	}
	if err := s.project(ctx, a); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.AuctionsActivated.Add(ctx, 1)
	}
	s.events.Broadcast(bidding.UpdatesTopic, map[string]string{
		"type":      "AUCTION_STARTED",
		"auctionId": a.ID.String(),
		"itemId":    a.ItemID.String(),
		"endTime":   a.EndTime.UTC().Format(time.RFC3339),
	})
	s.logger.Info("auction activated", zap.String("auction_id", a.ID.String()))
	return nil
}

// project builds the live state from the durable record. Seeding from the
// durable bid log makes activation double as crash recovery: an instance
// that died between activation and projection leaves a LIVE auction with no
// live state, and the next pass rebuilds it here or in closeLive.
func (s *Scheduler) project(ctx context.Context, a *auction.Auction) error {
	durable, err := s.bids.ListByAuctionDesc(ctx, a.ID)
	if err != nil {
		return err
	}
	ttl := a.EndTime.Sub(s.clock.Now()) + s.ttlGrace
	return s.live.Project(ctx, a, durable, ttl)
}

func (s *Scheduler) closeLive(ctx context.Context) {
	lctx, cancel := s.withDeadline(ctx)
	live, err := s.auctions.ListByStatus(lctx, auction.StatusLive)
	cancel()
	if err != nil {
		s.logger.Error("failed to list live auctions", zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, a := range live {
		actx, cancel := s.withDeadline(ctx)
		if now.Before(a.EndTime) {
			s.ensureProjected(actx, a)
			cancel()
			continue
		}
		err := s.close(actx, a)
		cancel()
		if err != nil {
			s.logger.Error("failed to close auction",
				zap.String("auction_id", a.ID.String()),
				zap.Error(err))
		}
	}
}

// ensureProjected heals a LIVE auction whose live state evaporated, e.g.
// after an expired TTL or a store flush.
func (s *Scheduler) ensureProjected(ctx context.Context, a *auction.Auction) {
	ok, err := s.live.Exists(ctx, a.ID)
	if err != nil {
		s.logger.Error("failed to probe live state",
			zap.String("auction_id", a.ID.String()),
			zap.Error(err))
		return
	}
	if ok {
		return
	}
	s.logger.Warn("live state missing for live auction, re-projecting",
		zap.String("auction_id", a.ID.String()))
	if err := s.project(ctx, a); err != nil {
		s.logger.Error("failed to re-project auction",
			zap.String("auction_id", a.ID.String()),
			zap.Error(err))
	}
}

func (s *Scheduler) close(ctx context.Context, a *auction.Auction) error {
	now := s.clock.Now()

	winnerID, winningBid, liveExists, err := s.headAtClose(ctx, a)
	if err != nil {
		return err
	}

	if winnerID == uuid.Nil {
		if err := a.Complete(now); err != nil {
			return err
		}
		if err := s.auctions.Save(ctx, a); err != nil {
			return err
		}
		if err := s.live.Deactivate(ctx, a.ID); err != nil {
			s.logger.Warn("failed to deactivate auction live state",
				zap.String("auction_id", a.ID.String()),
				zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.AuctionsClosed.Add(ctx, 1)
		}
		payload := map[string]string{
			"type":      "AUCTION_ENDED_NO_BIDS",
			"auctionId": a.ID.String(),
		}
		s.events.Broadcast(bidding.AuctionTopic(a.ID), payload)
		s.events.Broadcast(bidding.UpdatesTopic, payload)
		s.logger.Info("auction closed with no bids", zap.String("auction_id", a.ID.String()))
		return nil
	}

	if err := a.CompleteWithWinner(winnerID, winningBid, now); err != nil {
		return err
	}
	if err := s.auctions.Save(ctx, a); err != nil {
		return err
	}

	guarantee := payment.NewGuarantee(a.ID, winnerID, winningBid, now, s.paymentWindow)
	if err := s.payments.Save(ctx, guarantee); err != nil {
		return err
	}

	// The bid-set is retained so a payment default can promote the next
	// bidder; only the status flips.
	if liveExists {
		if err := s.live.MarkStatus(ctx, a.ID, auction.StatusCompleted.String()); err != nil {
			s.logger.Warn("failed to mark live state completed",
				zap.String("auction_id", a.ID.String()),
				zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.AuctionsClosed.Add(ctx, 1)
	}
	payload := map[string]string{
		"type":            "AUCTION_ENDED",
		"auctionId":       a.ID.String(),
		"winnerId":        winnerID.String(),
		"winningBid":      values.FormatAmount(winningBid),
		"paymentAmount":   values.FormatAmount(guarantee.Amount),
		"paymentDeadline": guarantee.DueBy.UTC().Format(time.RFC3339),
	}
	s.events.Broadcast(bidding.AuctionTopic(a.ID), payload)
	s.events.Broadcast(bidding.UpdatesTopic, payload)
	s.logger.Info("auction closed",
		zap.String("auction_id", a.ID.String()),
		zap.String("winner_id", winnerID.String()),
		zap.String("winning_bid", values.FormatAmount(winningBid)))
	return nil
}

// headAtClose reads the winning position from the live store, falling back
// to the durable snapshot when the projection is gone. The third return
// reports whether the live projection was present.
func (s *Scheduler) headAtClose(ctx context.Context, a *auction.Auction) (uuid.UUID, decimal.Decimal, bool, error) {
	ok, err := s.live.Exists(ctx, a.ID)
	if err != nil {
		return uuid.Nil, decimal.Zero, false, err
	}
	if !ok {
		if a.WinnerID == nil || a.HighestOrZero().Sign() <= 0 {
			return uuid.Nil, decimal.Zero, false, nil
		}
		return *a.WinnerID, a.HighestOrZero(), false, nil
	}

	bidder, err := s.live.HighestBidder(ctx, a.ID)
	if err != nil {
		return uuid.Nil, decimal.Zero, true, err
	}
	if bidder == "" {
		return uuid.Nil, decimal.Zero, true, nil
	}
	id, err := uuid.Parse(bidder)
	if err != nil {
		return uuid.Nil, decimal.Zero, true, err
	}
	amount, err := s.live.HighestBid(ctx, a.ID)
	if err != nil {
		return uuid.Nil, decimal.Zero, true, err
	}
	return id, amount, true, nil
}

func (s *Scheduler) expirePayments(ctx context.Context) {
	lctx, cancel := s.withDeadline(ctx)
	pending, err := s.payments.ListPendingGuarantees(lctx)
	cancel()
	if err != nil {
		s.logger.Error("failed to list pending guarantees", zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, p := range pending {
		if !p.Overdue(now) {
			continue
		}
		pctx, cancel := s.withDeadline(ctx)
		err := s.expire(pctx, p)
		cancel()
		if err != nil {
			s.logger.Error("failed to process expired guarantee",
				zap.String("payment_id", p.ID.String()),
				zap.String("auction_id", p.AuctionID.String()),
				zap.Error(err))
		}
	}
}

// expire fails a defaulted guarantee and rolls the winning position to the
// next-highest bidder, or declares the auction winnerless when the bid-set
// drained.
func (s *Scheduler) expire(ctx context.Context, p *payment.Payment) error {
	now := s.clock.Now()

	if err := p.MarkFailed(); err != nil {
		return err
	}
	if err := s.payments.Save(ctx, p); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PaymentTimeoutsCounter.Add(ctx, 1)
	}
	s.logger.Info("guarantee payment expired",
		zap.String("payment_id", p.ID.String()),
		zap.String("auction_id", p.AuctionID.String()),
		zap.String("bidder_id", p.BidderID.String()))

	a, err := s.auctions.GetByID(ctx, p.AuctionID)
	if err != nil {
		return err
	}

	newBidder, newAmount, found, err := s.live.RemoveHead(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	if !found {
		a.ClearWinner(now)
		if err := s.auctions.Save(ctx, a); err != nil {
			return err
		}
		if err := s.live.Deactivate(ctx, a.ID); err != nil {
			s.logger.Warn("failed to deactivate auction live state",
				zap.String("auction_id", a.ID.String()),
				zap.Error(err))
		}
		payload := map[string]string{
			"type":      "AUCTION_NO_WINNER",
			"auctionId": a.ID.String(),
		}
		s.events.Broadcast(bidding.AuctionTopic(a.ID), payload)
		s.events.Broadcast(bidding.UpdatesTopic, payload)
		s.logger.Info("auction ended without winner", zap.String("auction_id", a.ID.String()))
		return nil
	}

	if err := a.SetWinner(newBidder, newAmount, now); err != nil {
		return err
	}
	if err := s.auctions.Save(ctx, a); err != nil {
		return err
	}

	guarantee := payment.NewGuarantee(a.ID, newBidder, newAmount, now, s.paymentWindow)
	if err := s.payments.Save(ctx, guarantee); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PaymentFallbacks.Add(ctx, 1)
	}

	payload := map[string]string{
		"type":            "PAYMENT_FALLBACK",
		"auctionId":       a.ID.String(),
		"previousBidder":  p.BidderID.String(),
		"newWinnerId":     newBidder.String(),
		"newWinningBid":   values.FormatAmount(newAmount),
		"paymentAmount":   values.FormatAmount(guarantee.Amount),
		"paymentDeadline": guarantee.DueBy.UTC().Format(time.RFC3339),
	}
	s.events.Broadcast(bidding.AuctionTopic(a.ID), payload)
	s.events.Broadcast(bidding.UpdatesTopic, payload)
	s.logger.Info("winning position rolled to next bidder",
		zap.String("auction_id", a.ID.String()),
		zap.String("new_winner_id", newBidder.String()),
		zap.String("new_winning_bid", values.FormatAmount(newAmount)))
	return nil
}
