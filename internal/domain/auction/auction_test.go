package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuction(t *testing.T) (*Auction, time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(uuid.New(), now, now.Add(time.Hour), now)
	require.NoError(t, err)
	return a, now
}

func TestNewRejectsInvertedWindow(t *testing.T) {
	now := time.Now().UTC()
	_, err := New(uuid.New(), now, now, now)
	assert.Error(t, err)

	_, err = New(uuid.New(), now, now.Add(-time.Minute), now)
	assert.Error(t, err)
}

func TestActivate(t *testing.T) {
	a, now := newTestAuction(t)

	require.NoError(t, a.Activate(now))
	assert.Equal(t, StatusLive, a.Status)

	// replay-safe: activating a LIVE auction is a no-op
	require.NoError(t, a.Activate(now.Add(time.Second)))
	assert.Equal(t, StatusLive, a.Status)
}

func TestActivateTerminalFails(t *testing.T) {
	a, now := newTestAuction(t)
	require.NoError(t, a.Activate(now))
	require.NoError(t, a.Complete(now))

	assert.Error(t, a.Activate(now))
}

func TestCompleteWithWinner(t *testing.T) {
	a, now := newTestAuction(t)
	require.NoError(t, a.Activate(now))

	winner := uuid.New()
	amount := decimal.RequireFromString("10285.00")
	require.NoError(t, a.CompleteWithWinner(winner, amount, now))

	assert.Equal(t, StatusCompleted, a.Status)
	require.NotNil(t, a.WinnerID)
	assert.Equal(t, winner, *a.WinnerID)
	require.NotNil(t, a.CurrentHighestBid)
	assert.True(t, a.CurrentHighestBid.Equal(amount))
}

func TestCompleteIsIdempotent(t *testing.T) {
	a, now := newTestAuction(t)
	require.NoError(t, a.Activate(now))
	require.NoError(t, a.Complete(now))
	require.NoError(t, a.Complete(now))
	assert.Equal(t, StatusCompleted, a.Status)
}

func TestSetWinnerRequiresCompleted(t *testing.T) {
	a, now := newTestAuction(t)
	err := a.SetWinner(uuid.New(), decimal.RequireFromString("100"), now)
	assert.Error(t, err)
}

func TestClearWinner(t *testing.T) {
	a, now := newTestAuction(t)
	require.NoError(t, a.Activate(now))
	require.NoError(t, a.CompleteWithWinner(uuid.New(), decimal.RequireFromString("50000"), now))

	a.ClearWinner(now)
	assert.Nil(t, a.WinnerID)
	assert.Nil(t, a.CurrentHighestBid)
	assert.True(t, a.HighestOrZero().IsZero())
}

func TestCancelTerminalFails(t *testing.T) {
	a, now := newTestAuction(t)
	require.NoError(t, a.Cancel(now))
	assert.Equal(t, StatusCancelled, a.Status)
	assert.Error(t, a.Cancel(now))
	assert.Error(t, a.Activate(now))
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusLive, StatusCompleted, StatusCancelled} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("EXPLODED")
	assert.Error(t, err)
}
