package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// QuoteInput carries the normalized best offer from the upstream aggregator.
type QuoteInput struct {
	Price          decimal.Decimal
	Vendor         string
	ReferencePrice decimal.Decimal
}

// UpstreamHigh is the aggregator's own reported maximum over time.
// Valid is false when the aggregator returned no historical data.
type UpstreamHigh struct {
	Price  decimal.Decimal
	Vendor string
	Period string
	Valid  bool
}

// Resolution is the reconciled pricing state for one book.
type Resolution struct {
	CurrentPrice   decimal.Decimal
	Vendor         string
	HistoricalHigh decimal.Decimal
	HighVendor     string
	HighPeriod     string
	PercentOfHigh  decimal.Decimal
}

// Resolve reconciles the fresh quote against the aggregator-reported high and
// the locally accumulated history log, then appends the observation to the
// log. Every call appends; callers must not resolve the same fetch twice.
//
// When the quote's best offer exactly matches the reference price the
// aggregator is assumed to be surfacing a stale placeholder, and the most
// recent positive local observation is substituted.
func Resolve(q QuoteInput, upstream UpstreamHigh, log *HistoryLog, now time.Time) Resolution {
	price := q.Price
	vendor := q.Vendor

	if q.ReferencePrice.IsPositive() && price.Equal(q.ReferencePrice) {
		if latest, ok := log.Latest(); ok && latest.Price.IsPositive() {
			price = latest.Price
			vendor = latest.Vendor
		}
	}

	high := decimal.Zero
	highVendor := ""
	highPeriod := ""
	if upstream.Valid && upstream.Price.IsPositive() {
		high = upstream.Price
		highVendor = upstream.Vendor
		highPeriod = upstream.Period
	}

	// Local history must never understate a known high, whether or not the
	// aggregator reported one.
	if localMax, ok := log.Max(); ok && localMax.Price.GreaterThan(high) {
		high = localMax.Price
		highVendor = localMax.Vendor
		highPeriod = "local"
	}

	if high.IsZero() {
		high = price
		highVendor = vendor
		highPeriod = "current"
	}
	if price.GreaterThan(high) {
		high = price
		highVendor = vendor
		highPeriod = "current"
	}

	percent := hundred
	if high.IsPositive() {
		percent = price.Div(high).Mul(hundred)
	}

	log.Append(vendor, price, now)

	return Resolution{
		CurrentPrice:   price,
		Vendor:         vendor,
		HistoricalHigh: high,
		HighVendor:     highVendor,
		HighPeriod:     highPeriod,
		PercentOfHigh:  percent,
	}
}
