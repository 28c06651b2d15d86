package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/aggregator"
	"github.com/revenueinsights/bookshelf-sub000/internal/alerting"
	"github.com/revenueinsights/bookshelf-sub000/internal/api"
	"github.com/revenueinsights/bookshelf-sub000/internal/batch"
	"github.com/revenueinsights/bookshelf-sub000/internal/config"
	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
	"github.com/revenueinsights/bookshelf-sub000/internal/scheduler"
	"github.com/revenueinsights/bookshelf-sub000/internal/service"
	"github.com/revenueinsights/bookshelf-sub000/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerts.Telegram.Enabled {
		cfg := a.Config.Alerts.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newJobStore() (batch.JobStore, *redis.Client) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return batch.NewMemoryJobStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return batch.NewRedisJobStore(rdb, cfg.JobTTL), rdb
}

// pipeline holds the wired refresh and alerting stack shared by the run,
// refresh, and evaluate commands.
type pipeline struct {
	store      *storage.Store
	closeStore func()
	redis      *redis.Client
	jobs       batch.JobStore
	svc        *service.Service
	orch       *batch.Orchestrator
	evaluator  *alerting.Evaluator
}

func (p *pipeline) close() {
	if p.redis != nil {
		_ = p.redis.Close()
	}
	if p.closeStore != nil {
		p.closeStore()
	}
}

func (a *App) buildPipeline(ctx context.Context) (*pipeline, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("database.dsn not configured")
	}

	agg := a.Config.Aggregator
	tokens := aggregator.NewManager(aggregator.ManagerOptions{
		BaseURL:     agg.BaseURL,
		Timeout:     agg.RequestTimeout,
		ExpirySkew:  agg.TokenExpirySkew,
		FallbackTTL: agg.TokenFallbackTTL,
		UserAgent:   agg.UserAgent,
	}, store, store, a.Logger)
	client := aggregator.NewClient(aggregator.ClientOptions{
		BaseURL:   agg.BaseURL,
		Timeout:   agg.RequestTimeout,
		UserAgent: agg.UserAgent,
	}, tokens, a.Logger)

	upper, lower := a.Config.DefaultThresholds()
	defaults := pricing.Thresholds{
		Upper: decimal.NewFromFloat(upper),
		Lower: decimal.NewFromFloat(lower),
	}
	svc := service.New(client, store, store, nil, defaults, a.Logger)

	jobs, rdb := a.newJobStore()
	orch := batch.NewOrchestrator(store, store, svc, jobs, batch.Options{
		ItemDelay: a.Config.Batch.ItemDelay,
	}, a.Logger)
	evaluator := alerting.NewEvaluator(store, svc, a.newNotifier(), a.Logger)

	return &pipeline{
		store:      store,
		closeStore: closeStore,
		redis:      rdb,
		jobs:       jobs,
		svc:        svc,
		orch:       orch,
		evaluator:  evaluator,
	}, nil
}

// Run executes the long-running tracker: periodic alert sweeps plus the
// optional HTTP status API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	if a.Config.HTTP.Enabled {
		srv := api.NewServer(p.jobs, p.orch, a.Logger)
		go func() {
			if err := srv.Start(a.Config.HTTP.Listen); err != nil {
				a.Logger.Error().Err(err).Msg("http server terminated")
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn().Err(err).Msg("http server shutdown")
			}
		}()
	}

	if len(a.Config.Alerts.Users) == 0 {
		a.Logger.Warn().Msg("alerts.users empty; sweeps will be no-ops")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Alerts.SweepInterval,
		AlignToStart: a.Config.Alerts.AlignToSweep,
		StartupDelay: a.Config.Alerts.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting tracker service")
	err = sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		return a.sweep(ctx, p, at)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("tracker terminated with error")
		return err
	}

	a.Logger.Info().Msg("tracker stopped")
	return nil
}

func (a *App) sweep(ctx context.Context, p *pipeline, at time.Time) error {
	for _, userID := range a.Config.Alerts.Users {
		results, err := p.evaluator.EvaluateAll(ctx, userID)
		if err != nil {
			a.Logger.Error().Err(err).Int64("user_id", userID).Msg("alert sweep failed")
			continue
		}

		triggered := 0
		for _, res := range results {
			if res.Triggered {
				triggered++
			}
		}
		a.Logger.Info().
			Time("sweep_at", at).
			Int64("user_id", userID).
			Int("checked", len(results)).
			Int("triggered", triggered).
			Msg("alert sweep complete")
	}
	return nil
}

// Evaluate runs a single alert sweep for one user and reports the outcome.
func (a *App) Evaluate(ctx context.Context, userID int64) error {
	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	results, err := p.evaluator.EvaluateAll(ctx, userID)
	if err != nil {
		return err
	}

	for _, res := range results {
		event := a.Logger.Info().
			Int64("alert_id", res.AlertID).
			Str("isbn", res.ISBN).
			Bool("triggered", res.Triggered).
			Str("price", res.CurrentPrice.StringFixed(2))
		if res.Reason != "" {
			event = event.Str("reason", res.Reason)
		}
		event.Msg("alert checked")
	}
	a.Logger.Info().Int64("user_id", userID).Int("checked", len(results)).Msg("evaluation complete")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	UserID int64
	Limit  int
}

// ChartOptions configure the chart command.
type ChartOptions struct {
	UserID  int64
	ISBN    string
	PNGPath string
}

// RefreshOptions configure a batch refresh run.
type RefreshOptions struct {
	UserID  int64
	BatchID int64
	// Wait blocks until the job reaches a terminal state.
	Wait bool
}
