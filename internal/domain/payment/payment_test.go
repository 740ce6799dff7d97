package payment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/collectible-exchange/auction-backend/internal/domain/errors"
)

func TestNewGuarantee(t *testing.T) {
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	p := NewGuarantee(uuid.New(), uuid.New(), decimal.RequireFromString("55000"), now, 5*time.Minute)

	assert.Equal(t, TypeGuarantee, p.Type)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "27500.00", p.Amount.StringFixed(2))
	assert.Equal(t, now.Add(5*time.Minute), p.DueBy)
}

func TestMarkPaid(t *testing.T) {
	now := time.Now().UTC()
	p := NewGuarantee(uuid.New(), uuid.New(), decimal.RequireFromString("10000"), now, 5*time.Minute)

	require.NoError(t, p.MarkPaid(now.Add(time.Minute)))
	assert.Equal(t, StatusSuccess, p.Status)
	require.NotNil(t, p.PaidAt)

	// already settled
	assert.Error(t, p.MarkPaid(now.Add(2*time.Minute)))
}

func TestMarkPaidAfterDeadline(t *testing.T) {
	now := time.Now().UTC()
	p := NewGuarantee(uuid.New(), uuid.New(), decimal.RequireFromString("10000"), now, 5*time.Minute)

	err := p.MarkPaid(now.Add(6 * time.Minute))
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodePaymentExpired, domainerrors.GetCode(err))
	assert.Equal(t, StatusPending, p.Status)
}

func TestMarkFailedGuardedOnPending(t *testing.T) {
	now := time.Now().UTC()
	p := NewGuarantee(uuid.New(), uuid.New(), decimal.RequireFromString("10000"), now, 5*time.Minute)

	require.NoError(t, p.MarkPaid(now))
	// concurrent SUCCESS wins; the scheduler's transition no-ops
	assert.Error(t, p.MarkFailed())
	assert.Equal(t, StatusSuccess, p.Status)
}

func TestOverdue(t *testing.T) {
	now := time.Now().UTC()
	p := NewGuarantee(uuid.New(), uuid.New(), decimal.RequireFromString("10000"), now, 5*time.Minute)

	assert.False(t, p.Overdue(now.Add(4*time.Minute)))
	assert.True(t, p.Overdue(now.Add(5*time.Minute+time.Second)))

	require.NoError(t, p.MarkFailed())
	assert.False(t, p.Overdue(now.Add(time.Hour)))
}
