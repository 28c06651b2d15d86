package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/aggregator"
	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
	"github.com/revenueinsights/bookshelf-sub000/internal/storage"
)

type fakeClient struct {
	quote  aggregator.Quote
	series []aggregator.WeeklyPoint
}

func (c *fakeClient) FetchCurrentPrice(context.Context, string, int64) (aggregator.Quote, error) {
	return c.quote, nil
}

func (c *fakeClient) FetchHistoricalSeries(context.Context, string, int64) ([]aggregator.WeeklyPoint, error) {
	return c.series, nil
}

type fakeBooks struct {
	updated *storage.BookRecord
}

func (b *fakeBooks) GetBook(context.Context, int64, string) (storage.BookRecord, error) {
	return storage.BookRecord{}, storage.ErrNotFound
}

func (b *fakeBooks) GetBookByID(context.Context, int64, int64) (storage.BookRecord, error) {
	return storage.BookRecord{}, storage.ErrNotFound
}

func (b *fakeBooks) ListBatchBooks(context.Context, int64, int64) ([]storage.BookRecord, error) {
	return nil, nil
}

func (b *fakeBooks) ListRecentBooks(context.Context, int64, int) ([]storage.BookRecord, error) {
	return nil, nil
}

func (b *fakeBooks) UpdateBookPricing(_ context.Context, book storage.BookRecord) error {
	b.updated = &book
	return nil
}

func historyWith(prices ...float64) pricing.HistoryLog {
	log := pricing.NewHistoryLog()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range prices {
		log.Append("Vendor", decimal.NewFromFloat(p), at.Add(time.Duration(i)*time.Hour))
	}
	return log
}

func TestRefreshBookReconcilesAgainstLocalHistory(t *testing.T) {
	client := &fakeClient{
		quote: aggregator.Quote{
			ISBN:       "9780134190440",
			BestPrice:  decimal.NewFromInt(20),
			BestVendor: "BooksRun",
		},
	}
	books := &fakeBooks{}
	svc := New(client, books, nil, nil, pricing.Thresholds{}, zerolog.Nop())

	book := storage.BookRecord{ID: 1, UserID: 1, ISBN: "9780134190440", History: historyWith(10, 25, 18)}

	updated, err := svc.RefreshBook(context.Background(), 1, book)
	if err != nil {
		t.Fatalf("RefreshBook: %v", err)
	}

	if !updated.HistoricalHigh.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("want high 25, got %s", updated.HistoricalHigh)
	}
	if !updated.PercentOfHigh.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("want percent 80, got %s", updated.PercentOfHigh)
	}
	if updated.Tier != pricing.TierHighValue {
		t.Fatalf("80%% under default thresholds should be high value, got %s", updated.Tier)
	}
	if books.updated == nil {
		t.Fatal("updated record must be persisted")
	}
	if len(books.updated.History.Entries) != 4 {
		t.Fatalf("refresh must append one history entry, got %d", len(books.updated.History.Entries))
	}
}

func TestRefreshBookStaleSignalFallsBackToLocal(t *testing.T) {
	client := &fakeClient{
		quote: aggregator.Quote{
			ISBN:           "123",
			BestPrice:      decimal.NewFromFloat(17.5),
			BestVendor:     "Agg",
			ReferencePrice: decimal.NewFromFloat(17.5),
		},
	}
	books := &fakeBooks{}
	svc := New(client, books, nil, nil, pricing.Thresholds{}, zerolog.Nop())

	history := pricing.NewHistoryLog()
	history.Append("X", decimal.NewFromInt(12), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	book := storage.BookRecord{ID: 1, UserID: 1, ISBN: "123", History: history}

	updated, err := svc.RefreshBook(context.Background(), 1, book)
	if err != nil {
		t.Fatalf("RefreshBook: %v", err)
	}

	if !updated.CurrentPrice.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("stale signal should substitute local price 12, got %s", updated.CurrentPrice)
	}
	if updated.BestVendor != "X" {
		t.Fatalf("vendor should follow the substituted entry, got %q", updated.BestVendor)
	}
}

func TestRefreshBookPrefersUpstreamSeriesHigh(t *testing.T) {
	client := &fakeClient{
		quote: aggregator.Quote{ISBN: "123", BestPrice: decimal.NewFromInt(10), BestVendor: "V"},
		series: []aggregator.WeeklyPoint{
			{DateSeen: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), MaxPrice: decimal.NewFromInt(40), BestVendor: "PeakBuyer"},
		},
	}
	books := &fakeBooks{}
	svc := New(client, books, nil, nil, pricing.Thresholds{}, zerolog.Nop())

	updated, err := svc.RefreshBook(context.Background(), 1, storage.BookRecord{ID: 1, UserID: 1, ISBN: "123", History: pricing.NewHistoryLog()})
	if err != nil {
		t.Fatalf("RefreshBook: %v", err)
	}

	if !updated.HistoricalHigh.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("upstream series high should win, got %s", updated.HistoricalHigh)
	}
	if !updated.PercentOfHigh.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("want percent 25, got %s", updated.PercentOfHigh)
	}
	if updated.Tier != pricing.TierMidValue {
		t.Fatalf("25%% should be mid value, got %s", updated.Tier)
	}
}
