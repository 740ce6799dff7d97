package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	"github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/cache"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/repository"
	"github.com/collectible-exchange/auction-backend/internal/service/bidding"
	"github.com/collectible-exchange/auction-backend/internal/service/payments"
)

// Handler carries the REST surface's dependencies.
type Handler struct {
	engine      *bidding.Engine
	settlements *payments.Service
	auctions    auction.Store
	bids        bid.Store
	live        *cache.LiveStore
	users       repository.UserDirectory
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewHandler wires the REST handlers.
func NewHandler(
	engine *bidding.Engine,
	settlements *payments.Service,
	auctions auction.Store,
	bids bid.Store,
	live *cache.LiveStore,
	users repository.UserDirectory,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:      engine,
		settlements: settlements,
		auctions:    auctions,
		bids:        bids,
		live:        live,
		users:       users,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Routes builds the full route table. Write endpoints sit behind auth and
// the per-bidder rate limiter.
func (h *Handler) Routes(auth *AuthMiddleware, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()

	protected := func(fn http.HandlerFunc) http.Handler {
		return auth.Middleware(limiter.Middleware(fn))
	}

	mux.Handle("POST /api/auction/{id}/bid", protected(h.PlaceBid))
	mux.HandleFunc("GET /api/auction/{id}/state", h.AuctionState)
	mux.HandleFunc("GET /api/auction/{id}/bids", h.AuctionBids)
	mux.HandleFunc("GET /api/auctions", h.ListAuctions)
	mux.Handle("POST /bidder/payment/{id}/pay", protected(h.PayGuarantee))
	mux.HandleFunc("GET /healthz", h.Health)

	return mux
}

type placeBidRequest struct {
	Amount string `json:"amount" validate:"required"`
}

type bidResponse struct {
	BidID     string `json:"bidId"`
	AuctionID string `json:"auctionId"`
	BidderID  string `json:"bidderId"`
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// PlaceBid handles POST /api/auction/{id}/bid.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("INVALID_AUCTION_ID", "Invalid auction id"))
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("MALFORMED_BODY", "Request body must be JSON"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("MISSING_AMOUNT", "amount is required"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, h.logger, errors.NewInvalidBid(errors.CodeNonPositiveAmount, "amount must be a decimal string"))
		return
	}

	b, err := h.engine.PlaceBid(r.Context(), auctionID, UserIDFromContext(r.Context()), amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, bidResponse{
		BidID:     b.ID.String(),
		AuctionID: b.AuctionID.String(),
		BidderID:  b.BidderID.String(),
		Amount:    values.FormatAmount(b.Amount),
		Timestamp: b.CreatedAt.UTC().Format(time.RFC3339),
	})
}

type stateResponse struct {
	AuctionID         string `json:"auctionId"`
	ItemID            string `json:"itemId"`
	Status            string `json:"status"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	HighestBid        string `json:"highestBid"`
	HighestBidder     string `json:"highestBidder,omitempty"`
	HighestBidderName string `json:"highestBidderName,omitempty"`
	MinimumNextBid    string `json:"minimumNextBid,omitempty"`
	BidCount          int64  `json:"bidCount"`
	SecondBidderID    string `json:"secondBidderId,omitempty"`
	SecondBidderName  string `json:"secondBidderName,omitempty"`
}

// AuctionState handles GET /api/auction/{id}/state. Live state is served
// from the projection; once the projection is gone the durable record
// answers, so completed auctions stay readable forever.
func (h *Handler) AuctionState(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("INVALID_AUCTION_ID", "Invalid auction id"))
		return
	}
	ctx := r.Context()

	state, err := h.live.State(ctx, auctionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if state != nil {
		resp := stateResponse{
			AuctionID:     auctionID.String(),
			ItemID:        state.ItemID,
			Status:        state.Status,
			StartTime:     state.StartTime,
			EndTime:       state.EndTime,
			HighestBid:    state.HighestBid,
			HighestBidder: state.HighestBidder,
		}
		if count, err := h.live.BidCount(ctx, auctionID); err == nil {
			resp.BidCount = count
		}
		if state.Status == auction.StatusLive.String() {
			if min, err := h.engine.MinimumNextBid(ctx, auctionID); err == nil {
				resp.MinimumNextBid = values.FormatAmount(min)
			}
		}
		resp.HighestBidderName = h.displayName(ctx, state.HighestBidder)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	a, err := h.auctions.GetByID(ctx, auctionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := stateResponse{
		AuctionID:  a.ID.String(),
		ItemID:     a.ItemID.String(),
		Status:     a.Status.String(),
		StartTime:  a.StartTime.UTC().Format(time.RFC3339),
		EndTime:    a.EndTime.UTC().Format(time.RFC3339),
		HighestBid: values.FormatAmount(a.HighestOrZero()),
	}
	if a.WinnerID != nil {
		resp.HighestBidder = a.WinnerID.String()
		resp.HighestBidderName = h.displayName(ctx, resp.HighestBidder)
	}
	if all, err := h.bids.ListByAuctionDesc(ctx, a.ID); err == nil {
		resp.BidCount = int64(len(all))
		if a.Status == auction.StatusCompleted {
			h.attachSecondBidder(ctx, a, all, &resp)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// attachSecondBidder surfaces the fallback candidate on completed
// auctions: the highest durable bid from someone other than the winner.
func (h *Handler) attachSecondBidder(ctx context.Context, a *auction.Auction, all []*bid.Bid, resp *stateResponse) {
	var second *bid.Bid
	for _, b := range all {
		if a.WinnerID != nil && b.BidderID == *a.WinnerID {
			continue
		}
		if second == nil || b.Amount.GreaterThan(second.Amount) {
			second = b
		}
	}
	if second == nil {
		return
	}
	resp.SecondBidderID = second.BidderID.String()
	resp.SecondBidderName = h.displayName(ctx, resp.SecondBidderID)
}

func (h *Handler) displayName(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return ""
	}
	name, err := h.users.DisplayName(ctx, uid)
	if err != nil {
		h.logger.Warn("failed to resolve bidder name", zap.Error(err))
		return ""
	}
	return name
}

type bidEntry struct {
	BidID      string `json:"bidId"`
	BidderID   string `json:"bidderId"`
	BidderName string `json:"bidderName,omitempty"`
	Amount     string `json:"amount"`
	Timestamp  string `json:"ts"`
}

type bidsResponse struct {
	AuctionID string     `json:"auctionId"`
	Bids      []bidEntry `json:"bids"`
}

// AuctionBids handles GET /api/auction/{id}/bids?limit=N. The live bid-set
// answers first, the durable log when the projection is gone.
func (h *Handler) AuctionBids(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("INVALID_AUCTION_ID", "Invalid auction id"))
		return
	}
	ctx := r.Context()

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, h.logger, errors.NewInvalidBid("INVALID_LIMIT", "limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	exists, err := h.live.Exists(ctx, auctionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := bidsResponse{AuctionID: auctionID.String(), Bids: []bidEntry{}}

	if exists {
		envs, err := h.engine.RecentBids(ctx, auctionID, limit)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		for _, env := range envs {
			resp.Bids = append(resp.Bids, bidEntry{
				BidID:      env.BidID,
				BidderID:   env.BidderID,
				BidderName: h.displayName(ctx, env.BidderID),
				Amount:     env.Amount,
				Timestamp:  env.Ts,
			})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if _, err := h.auctions.GetByID(ctx, auctionID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	durable, err := h.bids.ListByAuctionDesc(ctx, auctionID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	for _, b := range durable {
		if len(resp.Bids) == limit {
			break
		}
		resp.Bids = append(resp.Bids, bidEntry{
			BidID:      b.ID.String(),
			BidderID:   b.BidderID.String(),
			BidderName: h.displayName(ctx, b.BidderID.String()),
			Amount:     values.FormatAmount(b.Amount),
			Timestamp:  b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type auctionSummary struct {
	AuctionID         string `json:"auctionId"`
	ItemID            string `json:"itemId"`
	Status            string `json:"status"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	CurrentHighestBid string `json:"currentHighestBid"`
	WinnerID          string `json:"winnerId,omitempty"`
}

// ListAuctions handles GET /api/auctions?status=LIVE.
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")
	if statusParam == "" {
		statusParam = auction.StatusLive.String()
	}
	status, err := auction.ParseStatus(statusParam)
	if err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("INVALID_STATUS", "Unknown auction status"))
		return
	}

	list, err := h.auctions.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	out := make([]auctionSummary, 0, len(list))
	for _, a := range list {
		summary := auctionSummary{
			AuctionID:         a.ID.String(),
			ItemID:            a.ItemID.String(),
			Status:            a.Status.String(),
			StartTime:         a.StartTime.UTC().Format(time.RFC3339),
			EndTime:           a.EndTime.UTC().Format(time.RFC3339),
			CurrentHighestBid: values.FormatAmount(a.HighestOrZero()),
		}
		if a.WinnerID != nil {
			summary.WinnerID = a.WinnerID.String()
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": out})
}

type paymentResponse struct {
	PaymentID string `json:"paymentId"`
	AuctionID string `json:"auctionId"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	PaidAt    string `json:"paidAt,omitempty"`
}

// PayGuarantee handles POST /bidder/payment/{id}/pay, where {id} is
// the auction id. The bidder comes from the token.
func (h *Handler) PayGuarantee(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, errors.NewInvalidBid("INVALID_AUCTION_ID", "Invalid auction id"))
		return
	}

	p, err := h.settlements.Settle(r.Context(), auctionID, UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := paymentResponse{
		PaymentID: p.ID.String(),
		AuctionID: p.AuctionID.String(),
		Status:    string(p.Status),
		Amount:    values.FormatAmount(p.Amount),
	}
	if p.PaidAt != nil {
		resp.PaidAt = p.PaidAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
