// Package testutil provides in-memory store fakes and an event capture
// broadcaster shared by the service and API tests.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/bid"
	"github.com/collectible-exchange/auction-backend/internal/domain/errors"
	"github.com/collectible-exchange/auction-backend/internal/domain/payment"
)

// AuctionStore is an in-memory auction.Store.
type AuctionStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*auction.Auction

	// SaveErr, when set, is returned by every Save call.
	SaveErr error
}

func NewAuctionStore() *AuctionStore {
	return &AuctionStore{auctions: make(map[uuid.UUID]*auction.Auction)}
}

func (s *AuctionStore) GetByID(_ context.Context, id uuid.UUID) (*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, errors.ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *AuctionStore) ListByStatus(_ context.Context, status auction.Status) ([]*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auction.Auction
	for _, a := range s.auctions {
		if a.Status == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *AuctionStore) Save(_ context.Context, a *auction.Auction) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.auctions[a.ID] = &cp
	return nil
}

// ItemStore is an in-memory auction.ItemStore.
type ItemStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*auction.Item
}

func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[uuid.UUID]*auction.Item)}
}

func (s *ItemStore) Put(item *auction.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
}

func (s *ItemStore) GetItem(_ context.Context, id uuid.UUID) (*auction.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, errors.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

// BidStore is an in-memory bid.Store.
type BidStore struct {
	mu   sync.Mutex
	bids []*bid.Bid

	AppendErr error
}

func NewBidStore() *BidStore {
	return &BidStore{}
}

func (s *BidStore) Append(_ context.Context, b *bid.Bid) error {
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bids = append(s.bids, &cp)
	return nil
}

func (s *BidStore) ListByAuctionDesc(_ context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*bid.Bid
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *BidStore) TopBid(_ context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var top *bid.Bid
	for _, b := range s.bids {
		if b.AuctionID != auctionID {
			continue
		}
		if top == nil || b.Amount.GreaterThan(top.Amount) {
			top = b
		}
	}
	if top == nil {
		return nil, errors.ErrBidNotFound
	}
	cp := *top
	return &cp, nil
}

// All returns a copy of every appended bid.
func (s *BidStore) All() []*bid.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*bid.Bid, 0, len(s.bids))
	for _, b := range s.bids {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// PaymentStore is an in-memory payment.Store.
type PaymentStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*payment.Payment
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[uuid.UUID]*payment.Payment)}
}

func (s *PaymentStore) Save(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *PaymentStore) GetByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, errors.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *PaymentStore) FindGuarantee(_ context.Context, auctionID, bidderID uuid.UUID) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *payment.Payment
	for _, p := range s.payments {
		if p.AuctionID != auctionID || p.BidderID != bidderID || p.Type != payment.TypeGuarantee {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, errors.ErrPaymentNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *PaymentStore) ListPendingGuarantees(_ context.Context) ([]*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payment.Payment
	for _, p := range s.payments {
		if p.Type == payment.TypeGuarantee && p.Status == payment.StatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueBy.Before(out[j].DueBy) })
	return out, nil
}

// Event is one captured broadcast.
type Event struct {
	Topic   string
	Payload map[string]string
}

// CaptureBroadcaster records broadcasts for assertion.
type CaptureBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func NewCaptureBroadcaster() *CaptureBroadcaster {
	return &CaptureBroadcaster{}
}

func (c *CaptureBroadcaster) Broadcast(topic string, event map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]string, len(event))
	for k, v := range event {
		cp[k] = v
	}
	c.events = append(c.events, Event{Topic: topic, Payload: cp})
}

// Events returns a copy of every captured broadcast.
func (c *CaptureBroadcaster) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// EventsOfType filters captured broadcasts by their "type" field.
func (c *CaptureBroadcaster) EventsOfType(eventType string) []Event {
	var out []Event
	for _, e := range c.Events() {
		if e.Payload["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}
