package values

import (
	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// DefaultMinIncrementPercent is the increment rule applied when an auction
// does not carry its own percentage.
var DefaultMinIncrementPercent = decimal.RequireFromString("10.00")

// IncrementMultiplier converts a percentage (e.g. 10.00) into the factor a
// new bid must clear (e.g. 1.10).
func IncrementMultiplier(percent decimal.Decimal) decimal.Decimal {
	return one.Add(percent.Div(hundred))
}

// MinimumNextBid returns the smallest acceptable next bid: the current
// highest raised by the increment percentage, rounded up to 2 decimal
// places. Zero when there is no current highest (first bid is bounded by
// the item's base price instead).
func MinimumNextBid(currentHighest, incrementPercent decimal.Decimal) decimal.Decimal {
	if currentHighest.Sign() <= 0 {
		return decimal.Zero
	}
	return currentHighest.Mul(IncrementMultiplier(incrementPercent)).RoundCeil(2)
}

// GuaranteeAmount is the 50% obligation owed by a provisional winner,
// rounded half-up to 2 decimal places.
func GuaranteeAmount(winningBid decimal.Decimal) decimal.Decimal {
	return winningBid.DivRound(two, 2)
}

// FormatAmount renders a decimal as the fixed two-place string used on the
// wire and in broadcast payloads.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
