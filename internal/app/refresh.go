package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/revenueinsights/bookshelf-sub000/internal/batch"
)

// RefreshBatch starts a batch refresh and, unless Wait is disabled, polls the
// job until it reaches a terminal state.
func (a *App) RefreshBatch(ctx context.Context, opts RefreshOptions) error {
	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	jobID, err := p.orch.Run(ctx, opts.UserID, opts.BatchID)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Str("job_id", jobID).
		Int64("user_id", opts.UserID).
		Int64("batch_id", opts.BatchID).
		Msg("batch refresh started")

	if !opts.Wait {
		return nil
	}

	job, err := a.waitForJob(ctx, p.jobs, jobID)
	if err != nil {
		return err
	}

	if job.Status == batch.StatusFailed {
		return fmt.Errorf("batch refresh failed: %s", job.Error)
	}

	summary, err := p.store.GetBatch(ctx, opts.UserID, opts.BatchID)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("batch summary unavailable")
		return nil
	}
	a.Logger.Info().
		Int("total_books", summary.TotalBooks).
		Int("high_value", summary.HighValueCount).
		Int("mid_value", summary.MidValueCount).
		Int("low_value", summary.LowValueCount).
		Str("total_value", summary.TotalValue.StringFixed(2)).
		Str("top_price", summary.TopPrice.StringFixed(2)).
		Str("top_isbn", summary.TopISBN).
		Str("avg_percent_of_high", summary.AvgPercentOfHigh.StringFixed(2)).
		Msg("batch refresh complete")
	return nil
}

func (a *App) waitForJob(ctx context.Context, jobs batch.JobStore, jobID string) (batch.Job, error) {
	if a.Config.Batch.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Batch.PollTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(a.Config.Batch.PollEvery)
	defer ticker.Stop()

	lastProcessed := -1
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return batch.Job{}, fmt.Errorf("job %s still running after %s", jobID, a.Config.Batch.PollTimeout)
			}
			return batch.Job{}, ctx.Err()
		case <-ticker.C:
		}

		job, err := jobs.Get(ctx, jobID)
		if err != nil {
			return batch.Job{}, err
		}
		if job.Processed != lastProcessed {
			lastProcessed = job.Processed
			a.Logger.Info().
				Str("job_id", jobID).
				Str("status", string(job.Status)).
				Int("processed", job.Processed).
				Int("total", job.Total).
				Msg("refresh progress")
		}
		if job.Status.Terminal() {
			return job, nil
		}
	}
}
