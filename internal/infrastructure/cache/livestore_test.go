package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
)

func newTestLiveStore(t *testing.T) (*LiveStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLiveStore(client, zaptest.NewLogger(t)), mr
}

func liveAuction(t *testing.T, now time.Time) *auction.Auction {
	t.Helper()
	a, err := auction.New(uuid.New(), now.Add(-time.Minute), now.Add(time.Hour), now)
	require.NoError(t, err)
	require.NoError(t, a.Activate(now))
	return a
}

func mustPlace(t *testing.T, store *LiveStore, a *auction.Auction, bidderID uuid.UUID, amount string, now time.Time) *AdmissionResult {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	env, err := bid.NewEnvelope(bid.New(a.ID, bidderID, amt, now)).Encode()
	require.NoError(t, err)
	res, err := store.PlaceBid(context.Background(), a.ID, env, amt,
		decimal.RequireFromString("5000.00"), values.DefaultMinIncrementPercent, bidderID)
	require.NoError(t, err)
	return res
}

func TestPlaceBid_FirstBidAtBasePrice(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))

	res := mustPlace(t, store, a, uuid.New(), "5000.00", now)
	assert.True(t, res.Accepted)

	highest, err := store.HighestBid(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", highest.StringFixed(2))
}

func TestPlaceBid_FirstBidBelowBasePrice(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))

	res := mustPlace(t, store, a, uuid.New(), "4999.99", now)
	assert.False(t, res.Accepted)
	assert.Equal(t, "BELOW_BASE_PRICE", res.Code)
	assert.Equal(t, "5000.00", res.RequiredBase.StringFixed(2))

	count, err := store.BidCount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPlaceBid_BelowIncrement(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))

	res := mustPlace(t, store, a, uuid.New(), "10000.00", now)
	require.True(t, res.Accepted)

	res = mustPlace(t, store, a, uuid.New(), "10999.99", now)
	assert.False(t, res.Accepted)
	assert.Equal(t, "BELOW_INCREMENT", res.Code)
	assert.Equal(t, "10000.00", res.CurrentHighest.StringFixed(2))
	assert.Equal(t, "11000.00", res.MinimumRequired.StringFixed(2))

	res = mustPlace(t, store, a, uuid.New(), "11000.00", now)
	assert.True(t, res.Accepted)
}

func TestPlaceBid_ExactMinimumAccepted(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))

	// 50000 * 1.1 lands a hair above 55000 in float arithmetic; the 2dp
	// minimum the clients see must itself be admissible.
	require.True(t, mustPlace(t, store, a, uuid.New(), "50000.00", now).Accepted)

	advertised := values.MinimumNextBid(decimal.RequireFromString("50000.00"), values.DefaultMinIncrementPercent)
	require.Equal(t, "55000.00", advertised.StringFixed(2))

	res := mustPlace(t, store, a, uuid.New(), "54999.99", now)
	assert.False(t, res.Accepted)
	assert.Equal(t, "55000.00", res.MinimumRequired.StringFixed(2))

	res = mustPlace(t, store, a, uuid.New(), "55000.00", now)
	assert.True(t, res.Accepted)

	res = mustPlace(t, store, a, uuid.New(), "60500.00", now)
	assert.True(t, res.Accepted)
}

func TestPlaceBid_ConcurrentIdenticalBids(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))
	require.True(t, mustPlace(t, store, a, uuid.New(), "10000.00", now).Accepted)

	const racers = 8
	amt := decimal.RequireFromString("11000.00")
	results := make([]*AdmissionResult, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidderID := uuid.New()
			env, err := bid.NewEnvelope(bid.New(a.ID, bidderID, amt, now)).Encode()
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = store.PlaceBid(context.Background(), a.ID, env, amt,
				decimal.RequireFromString("5000.00"), values.DefaultMinIncrementPercent, bidderID)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		if results[i].Accepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "only one of the identical bids may win the race")
}

func TestRemoveHead_PromotesSecondHighest(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))

	second := uuid.New()
	require.True(t, mustPlace(t, store, a, second, "10000.00", now).Accepted)
	require.True(t, mustPlace(t, store, a, uuid.New(), "11000.00", now).Accepted)

	newBidder, newAmount, found, err := store.RemoveHead(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second, newBidder)
	assert.Equal(t, "10000.00", newAmount.StringFixed(2))

	highest, err := store.HighestBid(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "10000.00", highest.StringFixed(2))

	bidder, err := store.HighestBidder(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, second.String(), bidder)
}

func TestRemoveHead_DrainsToEmpty(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	require.NoError(t, store.Project(context.Background(), a, nil, time.Hour))
	require.True(t, mustPlace(t, store, a, uuid.New(), "10000.00", now).Accepted)

	_, _, found, err := store.RemoveHead(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, found)

	highest, err := store.HighestBid(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, highest.IsZero())

	bidder, err := store.HighestBidder(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, bidder)
}

func TestProject_SeedsDurableBids(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)

	low := bid.New(a.ID, uuid.New(), decimal.RequireFromString("6000.00"), now)
	high := bid.New(a.ID, uuid.New(), decimal.RequireFromString("7000.00"), now)
	highest := decimal.RequireFromString("7000.00")
	a.CurrentHighestBid = &highest
	winner := high.BidderID
	a.WinnerID = &winner

	require.NoError(t, store.Project(context.Background(), a, []*bid.Bid{low, high}, time.Hour))

	count, err := store.BidCount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	recent, err := store.RecentBids(context.Background(), a.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "7000.00", recent[0].Amount)
	assert.Equal(t, "6000.00", recent[1].Amount)

	state, err := store.State(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "LIVE", state.Status)
	assert.Equal(t, "7000.00", state.HighestBid)
	assert.Equal(t, high.BidderID.String(), state.HighestBidder)

	// Seeded set still enforces the increment rule against the head.
	res := mustPlace(t, store, a, uuid.New(), "7500.00", now)
	assert.False(t, res.Accepted)
	assert.Equal(t, "7700.00", res.MinimumRequired.StringFixed(2))
}

func TestProject_TTLFloor(t *testing.T) {
	store, mr := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)

	require.NoError(t, store.Project(context.Background(), a, nil, time.Second))
	assert.GreaterOrEqual(t, mr.TTL(stateKey(a.ID)), 60*time.Second)
}

func TestExistsAndDeactivate(t *testing.T) {
	store, _ := newTestLiveStore(t)
	now := time.Now().UTC()
	a := liveAuction(t, now)
	ctx := context.Background()

	ok, err := store.Exists(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Project(ctx, a, nil, time.Hour))
	ok, err = store.Exists(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Deactivate(ctx, a.ID))
	ok, err = store.Exists(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	state, err := store.State(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}
