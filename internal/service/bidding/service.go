package bidding

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	"github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/cache"
	"github.com/collectible-exchange/auction-backend/internal/metrics"
)

// Broadcaster fans an event out to every subscriber of a topic. Satisfied by
// the websocket hub; tests substitute a capture implementation.
type Broadcaster interface {
	Broadcast(topic string, event map[string]string)
}

// NameDirectory resolves bidder display names for broadcast payloads. A nil
// directory yields empty names.
type NameDirectory interface {
	DisplayName(ctx context.Context, id uuid.UUID) (string, error)
}

// AuctionTopic is the per-auction event channel.
func AuctionTopic(auctionID uuid.UUID) string {
	return "auction/" + auctionID.String()
}

// UpdatesTopic carries marketplace-wide lifecycle events.
const UpdatesTopic = "auctions/updates"

var tracer = otel.Tracer("bidding")

// Engine admits bids through the live store's atomic script and reflects
// accepted bids into the durable store and out to subscribers.
type Engine struct {
	live     *cache.LiveStore
	auctions auction.Store
	items    auction.ItemStore
	bids     bid.Store
	clock    auction.Clock
	events   Broadcaster
	names    NameDirectory
	metrics  *metrics.Registry
	logger   *zap.Logger
}

// NewEngine wires the bid admission engine. names may be nil.
func NewEngine(
	live *cache.LiveStore,
	auctions auction.Store,
	items auction.ItemStore,
	bids bid.Store,
	clock auction.Clock,
	events Broadcaster,
	names NameDirectory,
	reg *metrics.Registry,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		live:     live,
		auctions: auctions,
		items:    items,
		bids:     bids,
		clock:    clock,
		events:   events,
		names:    names,
		metrics:  reg,
		logger:   logger,
	}
}

func (e *Engine) bidderName(ctx context.Context, id uuid.UUID) string {
	if e.names == nil {
		return ""
	}
	name, err := e.names.DisplayName(ctx, id)
	if err != nil {
		e.logger.Warn("failed to resolve bidder name", zap.Error(err))
		return ""
	}
	return name
}

// PlaceBid runs the full admission path: cheap pre-checks against the live
// state, then the atomic script. The script is the only authority on
// accept/reject between concurrent bidders; the pre-checks just avoid
// pointless round-trips and produce richer rejections.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*bid.Bid, error) {
	ctx, span := tracer.Start(ctx, "bidding.PlaceBid", trace.WithAttributes(
		attribute.String("auction.id", auctionID.String()),
		attribute.String("bid.amount", amount.String()),
	))
	defer span.End()

	started := e.clock.Now()

	if amount.Sign() <= 0 {
		e.metrics.RecordAdmission(ctx, false, errors.CodeNonPositiveAmount, 0)
		return nil, errors.NewInvalidBid(errors.CodeNonPositiveAmount, "Bid amount must be positive")
	}

	state, err := e.live.State(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Status != auction.StatusLive.String() {
		e.metrics.RecordAdmission(ctx, false, errors.CodeAuctionNotActive, e.clock.Now().Sub(started))
		return nil, errors.NewInvalidBid(errors.CodeAuctionNotActive, "Auction is not active")
	}

	endTime, err := time.Parse(time.RFC3339, state.EndTime)
	if err != nil {
		return nil, errors.NewInternalError("malformed live auction state").WithCause(err)
	}
	if !e.clock.Now().Before(endTime) {
		e.metrics.RecordAdmission(ctx, false, errors.CodeAuctionEnded, e.clock.Now().Sub(started))
		return nil, errors.NewInvalidBid(errors.CodeAuctionEnded, "Auction has ended")
	}

	if state.HighestBidder == bidderID.String() {
		e.metrics.RecordAdmission(ctx, false, errors.CodeSelfOutbid, e.clock.Now().Sub(started))
		return nil, errors.NewInvalidBid(errors.CodeSelfOutbid, "You are already the highest bidder")
	}

	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	item, err := e.items.GetItem(ctx, a.ItemID)
	if err != nil {
		return nil, err
	}

	b := bid.New(auctionID, bidderID, amount, e.clock.Now())
	envelope, err := bid.NewEnvelope(b).Encode()
	if err != nil {
		return nil, errors.NewInternalError("failed to encode bid").WithCause(err)
	}

	res, err := e.live.PlaceBid(ctx, auctionID, envelope, amount, item.BasePrice, a.MinIncrementPercent, bidderID)
	if err != nil {
		return nil, err
	}
	elapsed := e.clock.Now().Sub(started)

	if !res.Accepted {
		e.metrics.RecordAdmission(ctx, false, res.Code, elapsed)
		return nil, rejectionError(res)
	}
	e.metrics.RecordAdmission(ctx, true, "", elapsed)

	// The live store is the linearization point. A durable write failure
	// after admission is logged and the bid stands; the closer re-reads the
	// live bid-set so the outcome is unaffected.
	if err := e.bids.Append(ctx, b); err != nil {
		e.logger.Error("accepted bid not durably recorded",
			zap.String("auction_id", auctionID.String()),
			zap.String("bid_id", b.ID.String()),
			zap.Error(err))
	}
	a.RecordHead(bidderID, amount, e.clock.Now())
	if err := e.auctions.Save(ctx, a); err != nil {
		e.logger.Error("auction head snapshot not durably recorded",
			zap.String("auction_id", auctionID.String()),
			zap.Error(err))
	}

	count, err := e.live.BidCount(ctx, auctionID)
	if err != nil {
		e.logger.Warn("failed to count live bids", zap.Error(err))
	}
	e.events.Broadcast(AuctionTopic(auctionID), map[string]string{
		"type":       "NEW_BID",
		"auctionId":  auctionID.String(),
		"bidderId":   bidderID.String(),
		"bidderName": e.bidderName(ctx, bidderID),
		"amount":     values.FormatAmount(amount),
		"minimumBid": values.FormatAmount(values.MinimumNextBid(amount, a.MinIncrementPercent)),
		"bidCount":   strconv.FormatInt(count, 10),
		"timestamp":  b.CreatedAt.UTC().Format(time.RFC3339),
	})

	e.logger.Info("bid accepted",
		zap.String("auction_id", auctionID.String()),
		zap.String("bidder_id", bidderID.String()),
		zap.String("amount", values.FormatAmount(amount)))
	return b, nil
}

func rejectionError(res *cache.AdmissionResult) *errors.AppError {
	switch res.Code {
	case errors.CodeBelowBasePrice:
		return errors.NewInvalidBid(res.Code,
			"Bid must be at least the base price of "+values.FormatAmount(res.RequiredBase)).
			WithDetails(map[string]interface{}{
				"requiredBase": values.FormatAmount(res.RequiredBase),
			})
	case errors.CodeBelowIncrement:
		return errors.NewInvalidBid(res.Code,
			"Bid too low. Current highest: "+values.FormatAmount(res.CurrentHighest)+
				", minimum required: "+values.FormatAmount(res.MinimumRequired)).
			WithDetails(map[string]interface{}{
				"currentHighest":  values.FormatAmount(res.CurrentHighest),
				"minimumRequired": values.FormatAmount(res.MinimumRequired),
			})
	default:
		return errors.NewInvalidBid(res.Code, "Bid rejected")
	}
}

// CurrentHighest reads the live head amount for an auction.
func (e *Engine) CurrentHighest(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, error) {
	return e.live.HighestBid(ctx, auctionID)
}

// MinimumNextBid computes the smallest acceptable next bid from live state.
// With no bids yet the floor is the item's base price.
func (e *Engine) MinimumNextBid(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, error) {
	highest, err := e.live.HighestBid(ctx, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	a, err := e.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	if highest.Sign() <= 0 {
		item, err := e.items.GetItem(ctx, a.ItemID)
		if err != nil {
			return decimal.Zero, err
		}
		return item.BasePrice, nil
	}
	return values.MinimumNextBid(highest, a.MinIncrementPercent), nil
}

// RecentBids returns up to limit live bid envelopes, highest first.
func (e *Engine) RecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]bid.Envelope, error) {
	return e.live.RecentBids(ctx, auctionID, limit)
}

// BidCount returns the live bid-set size.
func (e *Engine) BidCount(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	return e.live.BidCount(ctx, auctionID)
}
