package pricing

import "github.com/shopspring/decimal"

// Tier buckets a book by how close its current price sits to the
// historical high.
type Tier string

const (
	TierHighValue Tier = "HIGH_VALUE"
	TierMidValue  Tier = "MID_VALUE"
	TierLowValue  Tier = "LOW_VALUE"
)

// Thresholds hold the per-user tier cutoffs, expressed as percent-of-high.
type Thresholds struct {
	Upper decimal.Decimal
	Lower decimal.Decimal
}

// DefaultThresholds apply when a user has no configured cutoffs.
var DefaultThresholds = Thresholds{
	Upper: decimal.NewFromInt(50),
	Lower: decimal.NewFromInt(1),
}

// ClassifyTier maps percent-of-high onto a tier. Total over all inputs;
// both boundaries are inclusive.
func ClassifyTier(percentOfHigh decimal.Decimal, t Thresholds) Tier {
	switch {
	case percentOfHigh.GreaterThanOrEqual(t.Upper):
		return TierHighValue
	case percentOfHigh.GreaterThanOrEqual(t.Lower):
		return TierMidValue
	default:
		return TierLowValue
	}
}
