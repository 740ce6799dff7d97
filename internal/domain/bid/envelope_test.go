package bid

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC)
	b := New(uuid.New(), uuid.New(), decimal.RequireFromString("9350.00"), now)

	env := NewEnvelope(b)
	raw, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)

	assert.Equal(t, b.ID.String(), decoded.BidID)
	assert.Equal(t, b.BidderID.String(), decoded.BidderID)
	assert.Equal(t, "9350.00", decoded.Amount)
	assert.Equal(t, "2026-03-01T12:30:15Z", decoded.Ts)

	amount, err := decoded.AmountDecimal()
	require.NoError(t, err)
	assert.True(t, amount.Equal(b.Amount))

	bidder, err := decoded.BidderUUID()
	require.NoError(t, err)
	assert.Equal(t, b.BidderID, bidder)
}

func TestEnvelopeAmountIsExact(t *testing.T) {
	// values that drift through binary floats must survive the envelope
	b := New(uuid.New(), uuid.New(), decimal.RequireFromString("10999.99"), time.Now().UTC())
	raw, err := NewEnvelope(b).Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "10999.99", decoded.Amount)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope("{not json")
	assert.Error(t, err)
}
