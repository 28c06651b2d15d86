package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/aggregator"
	"github.com/revenueinsights/bookshelf-sub000/internal/alerting"
	"github.com/revenueinsights/bookshelf-sub000/internal/keylock"
	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
	"github.com/revenueinsights/bookshelf-sub000/internal/storage"
)

// PriceClient is the slice of the aggregator client the pipeline consumes.
type PriceClient interface {
	FetchCurrentPrice(ctx context.Context, isbn string, userID int64) (aggregator.Quote, error)
	FetchHistoricalSeries(ctx context.Context, isbn string, userID int64) ([]aggregator.WeeklyPoint, error)
}

// Service composes fetch, reconciliation, classification, and persistence
// for single-book refreshes. The batch orchestrator and the alert evaluator
// both funnel through here so book-record updates stay serialized.
type Service struct {
	client   PriceClient
	books    storage.BookStore
	settings storage.SettingsStore
	locks    *keylock.KeyedMutex
	defaults pricing.Thresholds
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the pricing service. defaults are the tier cutoffs applied
// for users without configured thresholds; a zero value falls back to the
// package defaults.
func New(client PriceClient, books storage.BookStore, settings storage.SettingsStore, locks *keylock.KeyedMutex, defaults pricing.Thresholds, logger zerolog.Logger) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	if defaults.Upper.IsZero() && defaults.Lower.IsZero() {
		defaults = pricing.DefaultThresholds
	}
	return &Service{
		client:   client,
		books:    books,
		settings: settings,
		locks:    locks,
		defaults: defaults,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// RefreshBook fetches current and historical prices for the book, reconciles
// them against the stored history log, reclassifies the tier, and persists
// the updated record. Holds the book's key lock for the whole pipeline.
func (s *Service) RefreshBook(ctx context.Context, userID int64, book storage.BookRecord) (storage.BookRecord, error) {
	unlock := s.locks.Lock(bookKey(userID, book.ISBN))
	defer unlock()

	quote, err := s.client.FetchCurrentPrice(ctx, book.ISBN, userID)
	if err != nil {
		return storage.BookRecord{}, fmt.Errorf("fetch current price for %s: %w", book.ISBN, err)
	}

	series, err := s.client.FetchHistoricalSeries(ctx, book.ISBN, userID)
	if err != nil {
		// Historical data is best effort; the local log covers its absence.
		s.logger.Debug().Err(err).Str("isbn", book.ISBN).Msg("historical series unavailable")
		series = nil
	}

	highPrice, highVendor, highPeriod, valid := aggregator.HighOfSeries(series)
	resolution := pricing.Resolve(
		pricing.QuoteInput{
			Price:          quote.BestPrice,
			Vendor:         quote.BestVendor,
			ReferencePrice: quote.ReferencePrice,
		},
		pricing.UpstreamHigh{Price: highPrice, Vendor: highVendor, Period: highPeriod, Valid: valid},
		&book.History,
		s.now(),
	)

	thresholds := s.thresholds(ctx, userID)

	book.CurrentPrice = resolution.CurrentPrice
	book.BestVendor = resolution.Vendor
	book.HistoricalHigh = resolution.HistoricalHigh
	book.HighVendor = resolution.HighVendor
	book.PercentOfHigh = resolution.PercentOfHigh
	book.Tier = pricing.ClassifyTier(resolution.PercentOfHigh, thresholds)
	book.LastPriceUpdate = s.now()
	if book.Title == "" {
		book.Title = quote.Title
	}
	if book.Author == "" {
		book.Author = quote.Author
	}

	if err := s.books.UpdateBookPricing(ctx, book); err != nil {
		return storage.BookRecord{}, fmt.Errorf("persist book %s: %w", book.ISBN, err)
	}

	s.logger.Info().
		Str("isbn", book.ISBN).
		Str("price", book.CurrentPrice.StringFixed(2)).
		Str("percent_of_high", book.PercentOfHigh.StringFixed(1)).
		Str("tier", string(book.Tier)).
		Msg("book refreshed")

	return book, nil
}

// CurrentPrice implements alerting.PriceSource. Book-bound alerts refresh
// the tracked record through the shared lock; bare-ISBN alerts take a direct
// quote without touching storage.
func (s *Service) CurrentPrice(ctx context.Context, alert alerting.Alert) (decimal.Decimal, error) {
	if alert.BookID != nil {
		book, err := s.books.GetBookByID(ctx, alert.UserID, *alert.BookID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return decimal.Zero, fmt.Errorf("alert references missing book %d: %w", *alert.BookID, err)
			}
			return decimal.Zero, err
		}
		updated, err := s.RefreshBook(ctx, alert.UserID, book)
		if err != nil {
			return decimal.Zero, err
		}
		return updated.CurrentPrice, nil
	}

	quote, err := s.client.FetchCurrentPrice(ctx, alert.ISBN, alert.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.BestPrice, nil
}

func (s *Service) thresholds(ctx context.Context, userID int64) pricing.Thresholds {
	if s.settings == nil {
		return s.defaults
	}
	thresholds, err := s.settings.UserThresholds(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Int64("user_id", userID).Msg("falling back to default thresholds")
		}
		return s.defaults
	}
	return thresholds
}

func bookKey(userID int64, isbn string) string {
	return fmt.Sprintf("%d:%s", userID, isbn)
}

var _ alerting.PriceSource = (*Service)(nil)
