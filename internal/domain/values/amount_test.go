package values

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinimumNextBid(t *testing.T) {
	tenPercent := decimal.RequireFromString("10.00")

	tests := []struct {
		name    string
		current string
		want    string
	}{
		{"zero highest means no floor from increment", "0", "0"},
		{"round numbers", "10000", "11000.00"},
		{"ten percent of 8500", "8500", "9350.00"},
		{"second hop", "9350", "10285.00"},
		{"ceil at two places", "100.01", "110.02"}, // 110.011 rounds up
		{"already exact", "50000", "55000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := decimal.RequireFromString(tt.current)
			got := MinimumNextBid(current, tenPercent)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s want %s", got, tt.want)
		})
	}
}

func TestMinimumNextBidCustomIncrement(t *testing.T) {
	got := MinimumNextBid(decimal.RequireFromString("1000"), decimal.RequireFromString("5.00"))
	assert.Equal(t, "1050.00", FormatAmount(got))
}

func TestGuaranteeAmount(t *testing.T) {
	tests := []struct {
		winning string
		want    string
	}{
		{"10285", "5142.50"},
		{"55000", "27500.00"},
		{"50000", "25000.00"},
		{"100.01", "50.01"}, // 50.005 rounds half-up
		{"99.99", "50.00"},  // 49.995 rounds half-up
	}

	for _, tt := range tests {
		got := GuaranteeAmount(decimal.RequireFromString(tt.winning))
		assert.Equal(t, tt.want, FormatAmount(got), "winning %s", tt.winning)
	}
}

func TestFormatAmountRoundTrips(t *testing.T) {
	d := decimal.RequireFromString("8500.00")
	assert.Equal(t, "8500.00", FormatAmount(d))

	back, err := decimal.NewFromString(FormatAmount(d))
	assert.NoError(t, err)
	assert.True(t, back.Equal(d))
}
