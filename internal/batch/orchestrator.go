package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
	"github.com/revenueinsights/bookshelf-sub000/internal/storage"
)

// Refresher drives the fetch-resolve-classify-persist pipeline for one book.
type Refresher interface {
	RefreshBook(ctx context.Context, userID int64, book storage.BookRecord) (storage.BookRecord, error)
}

// Sleeper spaces consecutive upstream calls. Injected so tests run without
// real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options tune the orchestrator.
type Options struct {
	// ItemDelay is the fixed gap between consecutive identifiers; the
	// upstream aggregator rate-limits aggressive clients.
	ItemDelay time.Duration
}

// Orchestrator runs batch price refreshes: strictly sequential per batch,
// tolerant of per-item failure, with job progress published for polling.
type Orchestrator struct {
	books     storage.BookStore
	batches   storage.BatchStore
	refresher Refresher
	jobs      JobStore
	opts      Options
	sleep     Sleeper
	logger    zerolog.Logger
	now       func() time.Time
}

// NewOrchestrator constructs a batch orchestrator.
func NewOrchestrator(books storage.BookStore, batches storage.BatchStore, refresher Refresher, jobs JobStore, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		books:     books,
		batches:   batches,
		refresher: refresher,
		jobs:      jobs,
		opts:      opts,
		sleep:     defaultSleeper,
		logger:    logger.With().Str("component", "batch_orchestrator").Logger(),
		now:       time.Now,
	}
}

// Run registers a pending job and returns its identifier immediately;
// processing continues on a background goroutine detached from the caller's
// cancellation.
func (o *Orchestrator) Run(ctx context.Context, userID, batchID int64) (string, error) {
	jobID, err := NewJobID()
	if err != nil {
		return "", err
	}

	now := o.now()
	job := Job{
		ID:        jobID,
		UserID:    userID,
		BatchID:   batchID,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := o.jobs.Put(ctx, job); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}

	go o.process(context.WithoutCancel(ctx), job)

	return jobID, nil
}

func (o *Orchestrator) process(ctx context.Context, job Job) {
	logger := o.logger.With().Str("job_id", job.ID).Int64("user_id", job.UserID).Int64("batch_id", job.BatchID).Logger()

	summary, err := o.batches.GetBatch(ctx, job.UserID, job.BatchID)
	if err != nil {
		o.fail(ctx, job, fmt.Sprintf("load batch: %v", err))
		logger.Error().Err(err).Msg("batch lookup failed before loop start")
		return
	}

	books, err := o.books.ListBatchBooks(ctx, job.UserID, job.BatchID)
	if err != nil {
		o.fail(ctx, job, fmt.Sprintf("list batch books: %v", err))
		logger.Error().Err(err).Msg("book listing failed before loop start")
		return
	}

	job.Status = StatusRunning
	job.Total = len(books)
	o.publish(ctx, &job)

	agg := newAggregates()
	for i, book := range books {
		if i > 0 {
			if err := o.sleep(ctx, o.opts.ItemDelay); err != nil {
				o.fail(ctx, job, fmt.Sprintf("interrupted: %v", err))
				return
			}
		}

		updated, err := o.refresher.RefreshBook(ctx, job.UserID, book)
		if err != nil {
			// Per-item failures are logged and skipped; the batch keeps
			// moving.
			logger.Warn().Err(err).Str("isbn", book.ISBN).Msg("book refresh skipped")
		} else {
			agg.add(updated)
		}

		job.Processed++
		job.UpdatedAt = o.now()
		o.publish(ctx, &job)
	}

	summary = agg.apply(summary, o.now())
	if err := o.batches.UpdateBatchSummary(ctx, summary); err != nil {
		logger.Error().Err(err).Msg("failed to persist batch summary")
	}

	job.Status = StatusCompleted
	job.UpdatedAt = o.now()
	o.publish(ctx, &job)
	logger.Info().Int("total", job.Total).Int("processed", job.Processed).Msg("batch refresh completed")
}

func (o *Orchestrator) fail(ctx context.Context, job Job, reason string) {
	job.Status = StatusFailed
	job.Error = reason
	job.UpdatedAt = o.now()
	o.publish(ctx, &job)
}

func (o *Orchestrator) publish(ctx context.Context, job *Job) {
	if err := o.jobs.Put(ctx, *job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to publish job progress")
	}
}

// aggregates accumulate the running batch statistics.
type aggregates struct {
	high, mid, low int
	totalValue     decimal.Decimal
	topPrice       decimal.Decimal
	topISBN        string
	percentSum     decimal.Decimal
	counted        int
}

func newAggregates() *aggregates {
	return &aggregates{
		totalValue: decimal.Zero,
		topPrice:   decimal.Zero,
		percentSum: decimal.Zero,
	}
}

func (a *aggregates) add(book storage.BookRecord) {
	switch book.Tier {
	case pricing.TierHighValue:
		a.high++
	case pricing.TierMidValue:
		a.mid++
	default:
		a.low++
	}

	a.totalValue = a.totalValue.Add(book.CurrentPrice)
	if book.CurrentPrice.GreaterThan(a.topPrice) {
		a.topPrice = book.CurrentPrice
		a.topISBN = book.ISBN
	}
	a.percentSum = a.percentSum.Add(book.PercentOfHigh)
	a.counted++
}

func (a *aggregates) apply(summary storage.BatchSummary, at time.Time) storage.BatchSummary {
	summary.TotalBooks = a.counted
	summary.HighValueCount = a.high
	summary.MidValueCount = a.mid
	summary.LowValueCount = a.low
	summary.TotalValue = a.totalValue
	summary.TopPrice = a.topPrice
	summary.TopISBN = a.topISBN
	summary.AvgPercentOfHigh = decimal.Zero
	if a.counted > 0 {
		summary.AvgPercentOfHigh = a.percentSum.Div(decimal.NewFromInt(int64(a.counted)))
	}
	summary.LastRefreshed = at
	return summary
}
