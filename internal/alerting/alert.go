package alerting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Condition is the comparison an alert applies to the current price.
type Condition string

const (
	ConditionAbove            Condition = "ABOVE"
	ConditionBelow            Condition = "BELOW"
	ConditionEquals           Condition = "EQUALS"
	ConditionPercentageChange Condition = "PERCENTAGE_CHANGE"
)

// Frequency is both the minimum price-refresh cadence and the minimum gap
// between two triggers of the same alert.
type Frequency string

const (
	FrequencyImmediate Frequency = "IMMEDIATE"
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
)

// Interval maps a frequency onto its throttle window.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyImmediate:
		return time.Hour
	case FrequencyWeekly:
		return 168 * time.Hour
	case FrequencyMonthly:
		return 720 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Alert is a user-defined price watch. Bound to a tracked book when BookID is
// set, otherwise to the bare ISBN. Only trigger state is mutated here.
type Alert struct {
	ID            int64
	UserID        int64
	BookID        *int64
	ISBN          string
	BookTitle     string
	Condition     Condition
	Frequency     Frequency
	TargetPrice   decimal.Decimal
	Active        bool
	TriggerCount  int
	LastTriggered *time.Time
	LastPrice     decimal.Decimal
	LastCheckedAt *time.Time
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// Expired reports whether the alert's expiry has passed.
func (a Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Subject names the watched book for log and notification text.
func (a Alert) Subject() string {
	if a.BookTitle != "" {
		return a.BookTitle
	}
	return a.ISBN
}

// Store is the persistence surface the evaluator mutates trigger state
// through.
type Store interface {
	ListActiveAlerts(ctx context.Context, userID int64) ([]Alert, error)
	RecordAlertTrigger(ctx context.Context, alertID int64, at time.Time, price decimal.Decimal) error
	SaveAlertPrice(ctx context.Context, alertID int64, at time.Time, price decimal.Decimal) error
	DeactivateAlert(ctx context.Context, alertID int64) error
}
