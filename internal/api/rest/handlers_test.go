package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/collectible-exchange/auction-backend/internal/domain/payment"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/cache"
	"github.com/collectible-exchange/auction-backend/internal/service/bidding"
	"github.com/collectible-exchange/auction-backend/internal/service/payments"
	"github.com/collectible-exchange/auction-backend/internal/testutil"
)

type fakeDirectory map[uuid.UUID]string

func (d fakeDirectory) DisplayName(_ context.Context, id uuid.UUID) (string, error) {
	return d[id], nil
}

type apiFixture struct {
	srv      *httptest.Server
	auth     *AuthMiddleware
	live     *cache.LiveStore
	engine   *bidding.Engine
	auctions *testutil.AuctionStore
	items    *testutil.ItemStore
	bids     *testutil.BidStore
	payments *testutil.PaymentStore
	clock    *auction.MockClock
	names    fakeDirectory
	auction  *auction.Auction
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zaptest.NewLogger(t)
	live := cache.NewLiveStore(client, logger)
	auctions := testutil.NewAuctionStore()
	items := testutil.NewItemStore()
	bids := testutil.NewBidStore()
	paymentStore := testutil.NewPaymentStore()
	events := testutil.NewCaptureBroadcaster()
	clock := &auction.MockClock{CurrentTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	names := fakeDirectory{}

	engine := bidding.NewEngine(live, auctions, items, bids, clock, events, names, nil, logger)
	settlements := payments.NewService(paymentStore, auctions, live, clock, events, logger)

	item := &auction.Item{
		ID:        uuid.New(),
		SellerID:  uuid.New(),
		Name:      "vintage watch",
		BasePrice: decimal.RequireFromString("5000.00"),
		CreatedAt: clock.Now(),
	}
	items.Put(item)

	a, err := auction.New(item.ID, clock.Now().Add(-time.Minute), clock.Now().Add(time.Hour), clock.Now())
	require.NoError(t, err)
	require.NoError(t, a.Activate(clock.Now()))
	require.NoError(t, auctions.Save(context.Background(), a))
	require.NoError(t, live.Project(context.Background(), a, nil, time.Hour))

	auth := NewAuthMiddleware(AuthConfig{
		Secret:      []byte("test-secret"),
		TokenExpiry: time.Hour,
	})
	limiter := NewRateLimiter(100, 200)
	handler := NewHandler(engine, settlements, auctions, bids, live, names, logger)
	srv := httptest.NewServer(Chain(
		handler.Routes(auth, limiter),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	))
	t.Cleanup(srv.Close)

	return &apiFixture{
		srv:      srv,
		auth:     auth,
		live:     live,
		engine:   engine,
		auctions: auctions,
		items:    items,
		bids:     bids,
		payments: paymentStore,
		clock:    clock,
		names:    names,
		auction:  a,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, userID uuid.UUID) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		token, err := f.auth.GenerateToken(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestPlaceBidEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	bidder := uuid.New()

	resp := f.do(t, http.MethodPost, "/api/auction/"+f.auction.ID.String()+"/bid",
		map[string]string{"amount": "6000.00"}, bidder)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "6000.00", body["amount"])
	assert.Equal(t, bidder.String(), body["bidderId"])
}

func TestPlaceBidEndpoint_Unauthorized(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auction/"+f.auction.ID.String()+"/bid",
		map[string]string{"amount": "6000.00"}, uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPlaceBidEndpoint_BelowBasePrice(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auction/"+f.auction.ID.String()+"/bid",
		map[string]string{"amount": "100.00"}, uuid.New())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]interface{})
	assert.Equal(t, "BELOW_BASE_PRICE", errObj["code"])
	assert.Contains(t, errObj["message"], "5000.00")
}

func TestPlaceBidEndpoint_MissingAmount(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auction/"+f.auction.ID.String()+"/bid",
		map[string]string{}, uuid.New())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuctionStateEndpoint_Live(t *testing.T) {
	f := newAPIFixture(t)
	bidder := uuid.New()
	f.names[bidder] = "Ada"

	_, err := f.engine.PlaceBid(context.Background(), f.auction.ID, bidder, decimal.RequireFromString("8500.00"))
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/auction/"+f.auction.ID.String()+"/state", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "LIVE", body["status"])
	assert.Equal(t, "8500.00", body["highestBid"])
	assert.Equal(t, bidder.String(), body["highestBidder"])
	assert.Equal(t, "Ada", body["highestBidderName"])
	assert.Equal(t, "9350.00", body["minimumNextBid"])
	assert.EqualValues(t, 1, body["bidCount"])
}

func TestAuctionStateEndpoint_DurableFallback(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	winner := uuid.New()
	second := uuid.New()
	f.names[winner] = "Grace"
	f.names[second] = "Linus"

	_, err := f.engine.PlaceBid(ctx, f.auction.ID, second, decimal.RequireFromString("6000.00"))
	require.NoError(t, err)
	_, err = f.engine.PlaceBid(ctx, f.auction.ID, winner, decimal.RequireFromString("7000.00"))
	require.NoError(t, err)

	a, err := f.auctions.GetByID(ctx, f.auction.ID)
	require.NoError(t, err)
	require.NoError(t, a.CompleteWithWinner(winner, decimal.RequireFromString("7000.00"), f.clock.Now()))
	require.NoError(t, f.auctions.Save(ctx, a))
	require.NoError(t, f.live.Deactivate(ctx, f.auction.ID))

	resp := f.do(t, http.MethodGet, "/api/auction/"+f.auction.ID.String()+"/state", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "7000.00", body["highestBid"])
	assert.Equal(t, winner.String(), body["highestBidder"])
	assert.Equal(t, "Grace", body["highestBidderName"])
	assert.Equal(t, second.String(), body["secondBidderId"])
	assert.Equal(t, "Linus", body["secondBidderName"])
	assert.Equal(t, float64(2), body["bidCount"], "durable bids still count once the projection is gone")
}

func TestAuctionStateEndpoint_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/auction/"+uuid.New().String()+"/state", nil, uuid.Nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuctionBidsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceBid(ctx, f.auction.ID, uuid.New(), decimal.RequireFromString("5000.00"))
	require.NoError(t, err)
	_, err = f.engine.PlaceBid(ctx, f.auction.ID, uuid.New(), decimal.RequireFromString("5500.00"))
	require.NoError(t, err)
	_, err = f.engine.PlaceBid(ctx, f.auction.ID, uuid.New(), decimal.RequireFromString("6500.00"))
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/auction/"+f.auction.ID.String()+"/bids?limit=2", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	bids := body["bids"].([]interface{})
	require.Len(t, bids, 2)
	first := bids[0].(map[string]interface{})
	assert.Equal(t, "6500.00", first["amount"])
}

func TestAuctionBidsEndpoint_InvalidLimit(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/auction/"+f.auction.ID.String()+"/bids?limit=0", nil, uuid.Nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAuctionsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/auctions?status=LIVE", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	list := body["auctions"].([]interface{})
	require.Len(t, list, 1)
	entry := list[0].(map[string]interface{})
	assert.Equal(t, f.auction.ID.String(), entry["auctionId"])

	resp = f.do(t, http.MethodGet, "/api/auctions?status=COMPLETED", nil, uuid.Nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Empty(t, body["auctions"])
}

func TestPayGuaranteeEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	winner := uuid.New()

	p := payment.NewGuarantee(f.auction.ID, winner, decimal.RequireFromString("10285.00"), f.clock.Now(), 5*time.Minute)
	require.NoError(t, f.payments.Save(ctx, p))

	resp := f.do(t, http.MethodPost, "/bidder/payment/"+f.auction.ID.String()+"/pay", nil, winner)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "5142.50", body["amount"])

	// Paying twice conflicts.
	resp = f.do(t, http.MethodPost, "/bidder/payment/"+f.auction.ID.String()+"/pay", nil, winner)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil, uuid.Nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
