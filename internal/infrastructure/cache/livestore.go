package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	domainerrors "github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
)

// minTTL is the floor on live-state expiry; projection near the end of an
// auction still leaves the closer time to read the head.
const minTTL = 60 * time.Second

// Key schema shared by every process that touches the live store. The hot
// path depends on these exact strings.
func stateKey(id uuid.UUID) string   { return "auction:" + id.String() + ":state" }
func highestKey(id uuid.UUID) string { return "auction:" + id.String() + ":highest" }
func bidsKey(id uuid.UUID) string    { return "auction:" + id.String() + ":bids" }

// placeBidScript admits a bid against the head without interleaving with
// other admissions on the same auction. KEYS: highest, bids, state.
// ARGV: amount, envelope, bidderId, basePrice, incrementMultiplier.
// Result: "1" accepted; "-3:base" first bid below base price;
// "-1:current:minimum" below the increment rule.
// The increment compares integer cents with the minimum ceil'd at 2dp, so
// the accepted threshold equals the minimum advertised to clients.
var placeBidScript = redis.NewScript(`
local currentHighest = tonumber(redis.call('GET', KEYS[1]) or '0')
local newBid = tonumber(ARGV[1])
local basePrice = tonumber(ARGV[4])
local multiplier = tonumber(ARGV[5])

if currentHighest == 0 then
    if newBid < basePrice then
        return '-3:' .. string.format('%.2f', basePrice)
    end
else
    local minimumCents = math.ceil(currentHighest * multiplier * 100 - 1e-5)
    local newBidCents = math.floor(newBid * 100 + 0.5)
    if newBidCents < minimumCents then
        return '-1:' .. string.format('%.2f', currentHighest)
               .. ':' .. string.format('%.2f', minimumCents / 100)
    end
end

redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], newBid, ARGV[2])
redis.call('HSET', KEYS[3], 'highestBid', ARGV[1])
redis.call('HSET', KEYS[3], 'highestBidder', ARGV[3])
return '1'
`)

// removeHeadScript pops the top of the bid-set and rewrites the head from
// the new top in one atomic step. KEYS: bids, highest, state. Returns
// {newBidderId, newAmount}; empty bidder id means the set drained.
var removeHeadScript = redis.NewScript(`
local popped = redis.call('ZREVRANGE', KEYS[1], 0, 0)
if popped[1] ~= nil then
    redis.call('ZREM', KEYS[1], popped[1])
end
local top = redis.call('ZREVRANGE', KEYS[1], 0, 0)
if top[1] == nil then
    redis.call('SET', KEYS[2], '0')
    redis.call('HSET', KEYS[3], 'highestBid', '0')
    redis.call('HSET', KEYS[3], 'highestBidder', '')
    return {'', '0'}
end
local entry = cjson.decode(top[1])
local amount = tostring(entry['amount'])
redis.call('SET', KEYS[2], amount)
redis.call('HSET', KEYS[3], 'highestBid', amount)
redis.call('HSET', KEYS[3], 'highestBidder', entry['bidderId'])
return {entry['bidderId'], amount}
`)

// AdmissionResult is the decoded outcome of the admission script.
type AdmissionResult struct {
	Accepted        bool
	Code            string // empty when accepted
	CurrentHighest  decimal.Decimal
	MinimumRequired decimal.Decimal
	RequiredBase    decimal.Decimal
}

// LiveState is the hot per-auction projection read back from the state
// hash. Raw fields mirror the hash exactly; amounts stay strings until the
// caller needs arithmetic.
type LiveState struct {
	Status        string
	ItemID        string
	StartTime     string
	EndTime       string
	HighestBid    string
	HighestBidder string
}

// LiveStore owns the ephemeral per-auction projection in Redis (C2). It is
// the linearization point for bid admission.
type LiveStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLiveStore wraps a Redis client as the live state store.
func NewLiveStore(client *redis.Client, logger *zap.Logger) *LiveStore {
	return &LiveStore{client: client, logger: logger}
}

// Project writes the full live state for an auction: state hash, highest
// string, and the bid-set seeded from durable bids. Re-projecting an
// already-LIVE auction overwrites with identical state, so activation is
// idempotent. ttl is clamped to minTTL.
func (s *LiveStore) Project(ctx context.Context, a *auction.Auction, bids []*bid.Bid, ttl time.Duration) error {
	if ttl < minTTL {
		ttl = minTTL
	}

	highest := a.HighestOrZero()
	highestBidder := ""
	if a.WinnerID != nil {
		highestBidder = a.WinnerID.String()
	}

	state := map[string]string{
		"status":        a.Status.String(),
		"itemId":        a.ItemID.String(),
		"startTime":     a.StartTime.UTC().Format(time.RFC3339),
		"endTime":       a.EndTime.UTC().Format(time.RFC3339),
		"highestBid":    highest.StringFixed(2),
		"highestBidder": highestBidder,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, stateKey(a.ID), state)
	pipe.Expire(ctx, stateKey(a.ID), ttl)
	pipe.Set(ctx, highestKey(a.ID), highest.StringFixed(2), ttl)

	if len(bids) > 0 {
		members := make([]redis.Z, 0, len(bids))
		for _, b := range bids {
			raw, err := bid.NewEnvelope(b).Encode()
			if err != nil {
				return fmt.Errorf("encoding bid envelope: %w", err)
			}
			score, _ := b.Amount.Float64()
			members = append(members, redis.Z{Score: score, Member: raw})
		}
		pipe.ZAdd(ctx, bidsKey(a.ID), members...)
	}
	pipe.Expire(ctx, bidsKey(a.ID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return domainerrors.NewTransientError("live", "failed to project auction state").WithCause(err)
	}

	s.logger.Info("auction projected into live store",
		zap.String("auction_id", a.ID.String()),
		zap.String("highest", highest.StringFixed(2)),
		zap.Int("seeded_bids", len(bids)))
	return nil
}

// Exists probes the state hash; the check replaces any process-local
// membership set so horizontally scaled instances agree.
func (s *LiveStore) Exists(ctx context.Context, auctionID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, stateKey(auctionID)).Result()
	if err != nil {
		return false, domainerrors.NewTransientError("live", "failed to check live state").WithCause(err)
	}
	return n > 0, nil
}

// State reads the full state hash. Returns nil when the projection is
// absent or expired.
func (s *LiveStore) State(ctx context.Context, auctionID uuid.UUID) (*LiveState, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(auctionID)).Result()
	if err != nil {
		return nil, domainerrors.NewTransientError("live", "failed to read live state").WithCause(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &LiveState{
		Status:        fields["status"],
		ItemID:        fields["itemId"],
		StartTime:     fields["startTime"],
		EndTime:       fields["endTime"],
		HighestBid:    fields["highestBid"],
		HighestBidder: fields["highestBidder"],
	}, nil
}

// MarkStatus rewrites the status field of the state hash. Used by the
// closer so late readers of live state see COMPLETED while the bid-set is
// retained for payment fallback.
func (s *LiveStore) MarkStatus(ctx context.Context, auctionID uuid.UUID, status string) error {
	if err := s.client.HSet(ctx, stateKey(auctionID), "status", status).Err(); err != nil {
		return domainerrors.NewTransientError("live", "failed to update live status").WithCause(err)
	}
	return nil
}

// PlaceBid runs the atomic admission script.
func (s *LiveStore) PlaceBid(ctx context.Context, auctionID uuid.UUID, envelope string, amount, basePrice, incrementPercent decimal.Decimal, bidderID uuid.UUID) (*AdmissionResult, error) {
	keys := []string{highestKey(auctionID), bidsKey(auctionID), stateKey(auctionID)}
	args := []interface{}{
		amount.StringFixed(2),
		envelope,
		bidderID.String(),
		basePrice.StringFixed(2),
		values.IncrementMultiplier(incrementPercent).String(),
	}

	raw, err := placeBidScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, domainerrors.NewTransientError("live", "admission script failed").WithCause(err)
	}
	return parseAdmissionResult(raw)
}

func parseAdmissionResult(raw string) (*AdmissionResult, error) {
	switch {
	case raw == "1":
		return &AdmissionResult{Accepted: true}, nil
	case strings.HasPrefix(raw, "-1:"):
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed admission result %q", raw)
		}
		current, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed admission result %q: %w", raw, err)
		}
		minimum, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("malformed admission result %q: %w", raw, err)
		}
		return &AdmissionResult{
			Code:            domainerrors.CodeBelowIncrement,
			CurrentHighest:  current,
			MinimumRequired: minimum,
		}, nil
	case strings.HasPrefix(raw, "-3:"):
		base, err := decimal.NewFromString(strings.TrimPrefix(raw, "-3:"))
		if err != nil {
			return nil, fmt.Errorf("malformed admission result %q: %w", raw, err)
		}
		return &AdmissionResult{
			Code:         domainerrors.CodeBelowBasePrice,
			RequiredBase: base,
		}, nil
	default:
		return nil, fmt.Errorf("unexpected admission result %q", raw)
	}
}

// RemoveHead atomically evicts the current head and promotes the next bid.
// Returns the new head; found is false when the bid-set drained.
func (s *LiveStore) RemoveHead(ctx context.Context, auctionID uuid.UUID) (bidderID uuid.UUID, amount decimal.Decimal, found bool, err error) {
	keys := []string{bidsKey(auctionID), highestKey(auctionID), stateKey(auctionID)}
	raw, err := removeHeadScript.Run(ctx, s.client, keys).Slice()
	if err != nil {
		return uuid.Nil, decimal.Zero, false, domainerrors.NewTransientError("live", "remove-head script failed").WithCause(err)
	}
	if len(raw) != 2 {
		return uuid.Nil, decimal.Zero, false, fmt.Errorf("unexpected remove-head result %v", raw)
	}

	newBidder, _ := raw[0].(string)
	newAmount, _ := raw[1].(string)
	if newBidder == "" {
		return uuid.Nil, decimal.Zero, false, nil
	}

	id, err := uuid.Parse(newBidder)
	if err != nil {
		return uuid.Nil, decimal.Zero, false, fmt.Errorf("parsing new head bidder: %w", err)
	}
	d, err := decimal.NewFromString(newAmount)
	if err != nil {
		return uuid.Nil, decimal.Zero, false, fmt.Errorf("parsing new head amount: %w", err)
	}
	return id, d, true, nil
}

// HighestBid reads the head amount; zero when the key is gone.
func (s *LiveStore) HighestBid(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, error) {
	val, err := s.client.Get(ctx, highestKey(auctionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, nil
		}
		return decimal.Zero, domainerrors.NewTransientError("live", "failed to read highest bid").WithCause(err)
	}
	if val == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(val)
}

// HighestBidder reads the head bidder id; empty when absent.
func (s *LiveStore) HighestBidder(ctx context.Context, auctionID uuid.UUID) (string, error) {
	val, err := s.client.HGet(ctx, stateKey(auctionID), "highestBidder").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", domainerrors.NewTransientError("live", "failed to read highest bidder").WithCause(err)
	}
	return val, nil
}

// RecentBids returns up to n bid envelopes, highest amount first.
func (s *LiveStore) RecentBids(ctx context.Context, auctionID uuid.UUID, n int) ([]bid.Envelope, error) {
	raw, err := s.client.ZRevRange(ctx, bidsKey(auctionID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, domainerrors.NewTransientError("live", "failed to read recent bids").WithCause(err)
	}
	out := make([]bid.Envelope, 0, len(raw))
	for _, member := range raw {
		env, err := bid.DecodeEnvelope(member)
		if err != nil {
			s.logger.Warn("skipping malformed bid envelope",
				zap.String("auction_id", auctionID.String()),
				zap.Error(err))
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// BidCount returns the size of the live bid-set.
func (s *LiveStore) BidCount(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	n, err := s.client.ZCard(ctx, bidsKey(auctionID)).Result()
	if err != nil {
		return 0, domainerrors.NewTransientError("live", "failed to count bids").WithCause(err)
	}
	return n, nil
}

// Deactivate tears down all live state for an auction.
func (s *LiveStore) Deactivate(ctx context.Context, auctionID uuid.UUID) error {
	err := s.client.Del(ctx, stateKey(auctionID), highestKey(auctionID), bidsKey(auctionID)).Err()
	if err != nil {
		return domainerrors.NewTransientError("live", "failed to deactivate auction").WithCause(err)
	}
	s.logger.Info("auction removed from live store", zap.String("auction_id", auctionID.String()))
	return nil
}
