package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
)

// BookRecord is the persisted state of one tracked book.
type BookRecord struct {
	ID              int64
	UserID          int64
	BatchID         *int64
	ISBN            string
	Title           string
	Author          string
	CurrentPrice    decimal.Decimal
	BestVendor      string
	HistoricalHigh  decimal.Decimal
	HighVendor      string
	PercentOfHigh   decimal.Decimal
	Tier            pricing.Tier
	History         pricing.HistoryLog
	LastPriceUpdate time.Time
}

// BatchSummary carries a batch's identity plus the aggregates written at the
// end of a refresh run.
type BatchSummary struct {
	ID               int64
	UserID           int64
	Name             string
	TotalBooks       int
	HighValueCount   int
	MidValueCount    int
	LowValueCount    int
	TotalValue       decimal.Decimal
	TopPrice         decimal.Decimal
	TopISBN          string
	AvgPercentOfHigh decimal.Decimal
	LastRefreshed    time.Time
}
