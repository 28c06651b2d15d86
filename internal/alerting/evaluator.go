package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	equalsTolerance  = decimal.NewFromFloat(0.01)
	percentChangeMin = decimal.NewFromFloat(0.10)
)

// PriceSource yields the current price for an alert's subject, refreshing
// the bound book record when one exists.
type PriceSource interface {
	CurrentPrice(ctx context.Context, alert Alert) (decimal.Decimal, error)
}

// CheckResult is the outcome of evaluating one alert.
type CheckResult struct {
	AlertID      int64
	ISBN         string
	Triggered    bool
	CurrentPrice decimal.Decimal
	Reason       string
}

// Evaluator walks a user's active alerts, applies conditions and frequency
// throttles, and emits notifications for throttled-pass triggers.
type Evaluator struct {
	store    Store
	prices   PriceSource
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEvaluator constructs an alert evaluator.
func NewEvaluator(store Store, prices PriceSource, notifier Notifier, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		prices:   prices,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_evaluator").Logger(),
		now:      time.Now,
	}
}

// EvaluateAll checks every active alert for the user. A failure for one alert
// is recorded in its result and does not stop the sweep; only a failure to
// list the alerts at all is fatal.
func (e *Evaluator) EvaluateAll(ctx context.Context, userID int64) ([]CheckResult, error) {
	alerts, err := e.store.ListActiveAlerts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	results := make([]CheckResult, 0, len(alerts))
	for _, alert := range alerts {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		results = append(results, e.evaluate(ctx, alert))
	}

	e.logger.Info().Int64("user_id", userID).Int("checked", len(results)).Msg("alert sweep finished")
	return results, nil
}

func (e *Evaluator) evaluate(ctx context.Context, alert Alert) CheckResult {
	now := e.now()
	result := CheckResult{AlertID: alert.ID, ISBN: alert.ISBN}

	if alert.Expired(now) {
		if err := e.store.DeactivateAlert(ctx, alert.ID); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to deactivate expired alert")
		}
		result.Reason = "alert expired"
		return result
	}

	current := alert.LastPrice
	if e.priceStale(alert, now) {
		fresh, err := e.prices.CurrentPrice(ctx, alert)
		if err != nil {
			result.Reason = fmt.Sprintf("price fetch failed: %v", err)
			e.logger.Warn().Err(err).Int64("alert_id", alert.ID).Str("isbn", alert.ISBN).Msg("alert price fetch failed")
			return result
		}
		current = fresh
		if err := e.store.SaveAlertPrice(ctx, alert.ID, now, current); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to save alert price")
		}
	}
	result.CurrentPrice = current

	if !conditionMet(alert, current) {
		result.Reason = "condition not met"
		return result
	}

	// Independent throttle: a continuously-true condition must not re-fire
	// more often than the alert's frequency permits.
	if alert.LastTriggered != nil && now.Sub(*alert.LastTriggered) < alert.Frequency.Interval() {
		result.Reason = "condition met but throttled"
		return result
	}

	reason := triggerReason(alert, current)
	if err := e.store.RecordAlertTrigger(ctx, alert.ID, now, current); err != nil {
		e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to record trigger")
		result.Reason = fmt.Sprintf("trigger bookkeeping failed: %v", err)
		return result
	}

	if e.notifier != nil {
		note := Notification{Alert: alert, CurrentPrice: current, Reason: reason, At: now}
		if err := e.notifier.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to dispatch notification")
		}
	}

	result.Triggered = true
	result.Reason = reason
	return result
}

// priceStale reports whether the alert's stored price is older than its
// frequency window and a fresh fetch is warranted.
func (e *Evaluator) priceStale(alert Alert, now time.Time) bool {
	if alert.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*alert.LastCheckedAt) >= alert.Frequency.Interval()
}

func conditionMet(alert Alert, current decimal.Decimal) bool {
	switch alert.Condition {
	case ConditionAbove:
		return current.GreaterThan(alert.TargetPrice)
	case ConditionBelow:
		return current.LessThan(alert.TargetPrice)
	case ConditionEquals:
		return current.Sub(alert.TargetPrice).Abs().LessThanOrEqual(equalsTolerance)
	case ConditionPercentageChange:
		if !alert.TargetPrice.IsPositive() {
			return false
		}
		change := current.Sub(alert.TargetPrice).Abs().Div(alert.TargetPrice)
		return change.GreaterThanOrEqual(percentChangeMin)
	default:
		return false
	}
}

func triggerReason(alert Alert, current decimal.Decimal) string {
	return fmt.Sprintf("%s alert for %s (ISBN %s): current $%s vs target $%s",
		alert.Condition, alert.Subject(), alert.ISBN,
		current.StringFixed(2), alert.TargetPrice.StringFixed(2))
}
