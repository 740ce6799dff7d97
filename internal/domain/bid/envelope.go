package bid

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/collectible-exchange/auction-backend/internal/domain/values"
)

// Envelope is the self-describing record stored in the live bid-set and
// carried in broadcast events. Amounts are fixed two-place strings so they
// round-trip losslessly through any JSON envelope; timestamps are RFC 3339
// UTC. Every envelope carries the full record including the bid id, so
// producer and consumer never have to guess at field order.
type Envelope struct {
	BidID    string `json:"bidId"`
	BidderID string `json:"bidderId"`
	Amount   string `json:"amount"`
	Ts       string `json:"ts"`
}

// NewEnvelope builds the wire record for a bid.
func NewEnvelope(b *Bid) Envelope {
	return Envelope{
		BidID:    b.ID.String(),
		BidderID: b.BidderID.String(),
		Amount:   values.FormatAmount(b.Amount),
		Ts:       b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Encode serializes the envelope as a single compact JSON object.
func (e Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeEnvelope parses a bid-set member back into an envelope.
func DecodeEnvelope(raw string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// AmountDecimal parses the fixed-decimal amount.
func (e Envelope) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(e.Amount)
}

// BidderUUID parses the bidder id.
func (e Envelope) BidderUUID() (uuid.UUID, error) {
	return uuid.Parse(e.BidderID)
}
