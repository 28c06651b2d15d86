package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SweepFunc is invoked on every interval.
type SweepFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic alert-evaluation sweeps.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the sweep function on each interval until ctx is
// cancelled. A failed sweep is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context, sweep SweepFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextSweep(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextSweep(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_sweep", next).Msg("waiting for next sweep")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		at := next
		s.logger.Info().Time("sweep", at).Msg("executing scheduled sweep")

		if err := sweep(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("sweep", at).Msg("sweep execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextSweep(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	aligned := now.Truncate(s.opts.Interval)
	if !aligned.After(now) {
		aligned = aligned.Add(s.opts.Interval)
	}
	return aligned
}
