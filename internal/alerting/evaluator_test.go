package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	alerts      []Alert
	listErr     error
	triggered   []int64
	saved       []int64
	deactivated []int64
}

func (s *fakeStore) ListActiveAlerts(context.Context, int64) ([]Alert, error) {
	return s.alerts, s.listErr
}

func (s *fakeStore) RecordAlertTrigger(_ context.Context, alertID int64, _ time.Time, _ decimal.Decimal) error {
	s.triggered = append(s.triggered, alertID)
	return nil
}

func (s *fakeStore) SaveAlertPrice(_ context.Context, alertID int64, _ time.Time, _ decimal.Decimal) error {
	s.saved = append(s.saved, alertID)
	return nil
}

func (s *fakeStore) DeactivateAlert(_ context.Context, alertID int64) error {
	s.deactivated = append(s.deactivated, alertID)
	return nil
}

type fakePrices struct {
	prices  map[string]decimal.Decimal
	errISBN string
	fetches int
}

func (p *fakePrices) CurrentPrice(_ context.Context, alert Alert) (decimal.Decimal, error) {
	p.fetches++
	if alert.ISBN == p.errISBN {
		return decimal.Zero, errors.New("aggregator down")
	}
	return p.prices[alert.ISBN], nil
}

type recordingNotifier struct {
	notes []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

func newTestEvaluator(store *fakeStore, prices *fakePrices, notifier Notifier, now time.Time) *Evaluator {
	e := NewEvaluator(store, prices, notifier, testLogger())
	e.now = func() time.Time { return now }
	return e
}

func alertFixture(id int64, cond Condition, target float64) Alert {
	return Alert{
		ID:          id,
		UserID:      1,
		ISBN:        "9780134190440",
		BookTitle:   "The Go Programming Language",
		Condition:   cond,
		Frequency:   FrequencyDaily,
		TargetPrice: decimal.NewFromFloat(target),
		Active:      true,
	}
}

func TestConditionTable(t *testing.T) {
	cases := []struct {
		name    string
		cond    Condition
		target  float64
		current float64
		want    bool
	}{
		{"above met", ConditionAbove, 10, 10.5, true},
		{"above not met", ConditionAbove, 10, 10, false},
		{"below met", ConditionBelow, 10, 9.99, true},
		{"below not met", ConditionBelow, 10, 10, false},
		{"equals inside tolerance", ConditionEquals, 10, 10.01, true},
		{"equals outside tolerance", ConditionEquals, 10, 10.02, false},
		{"percent change met", ConditionPercentageChange, 10, 11, true},
		{"percent change not met", ConditionPercentageChange, 10, 10.5, false},
		{"percent change zero target", ConditionPercentageChange, 0, 5, false},
	}

	for _, tc := range cases {
		alert := alertFixture(1, tc.cond, tc.target)
		got := conditionMet(alert, decimal.NewFromFloat(tc.current))
		if got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestDailyThrottleBlocksInsideWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-23 * time.Hour)

	alert := alertFixture(1, ConditionAbove, 10)
	alert.LastTriggered = &last
	alert.LastCheckedAt = &now
	alert.LastPrice = decimal.NewFromInt(15)

	store := &fakeStore{alerts: []Alert{alert}}
	e := newTestEvaluator(store, &fakePrices{}, &recordingNotifier{}, now)

	results, err := e.EvaluateAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if results[0].Triggered {
		t.Fatal("trigger 23h after the last one must be throttled for DAILY")
	}
	if len(store.triggered) != 0 {
		t.Fatal("throttled alert must not touch trigger state")
	}
}

func TestDailyThrottleAllowsPastWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-25 * time.Hour)

	alert := alertFixture(1, ConditionAbove, 10)
	alert.LastTriggered = &last
	alert.LastCheckedAt = &now
	alert.LastPrice = decimal.NewFromInt(15)

	store := &fakeStore{alerts: []Alert{alert}}
	notifier := &recordingNotifier{}
	e := newTestEvaluator(store, &fakePrices{}, notifier, now)

	results, err := e.EvaluateAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if !results[0].Triggered {
		t.Fatal("trigger 25h after the last one must fire for DAILY")
	}
	if len(store.triggered) != 1 {
		t.Fatalf("want one recorded trigger, got %d", len(store.triggered))
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("want exactly one notification, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Reason == "" {
		t.Fatal("notification must carry a human-readable reason")
	}
}

func TestFreshPriceReusedInsideFrequencyWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	checked := now.Add(-2 * time.Hour)

	alert := alertFixture(1, ConditionBelow, 10)
	alert.LastCheckedAt = &checked
	alert.LastPrice = decimal.NewFromInt(8)

	prices := &fakePrices{prices: map[string]decimal.Decimal{}}
	store := &fakeStore{alerts: []Alert{alert}}
	e := newTestEvaluator(store, prices, &recordingNotifier{}, now)

	results, err := e.EvaluateAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if prices.fetches != 0 {
		t.Fatalf("DAILY alert checked 2h ago must reuse the stored price, got %d fetches", prices.fetches)
	}
	if !results[0].Triggered {
		t.Fatal("stored price 8 below target 10 should trigger")
	}
}

func TestFetchFailureIsolatedPerAlert(t *testing.T) {
	now := time.Now().UTC()
	broken := alertFixture(1, ConditionAbove, 10)
	broken.ISBN = "broken"
	healthy := alertFixture(2, ConditionAbove, 10)

	prices := &fakePrices{
		prices:  map[string]decimal.Decimal{healthy.ISBN: decimal.NewFromInt(20)},
		errISBN: "broken",
	}
	store := &fakeStore{alerts: []Alert{broken, healthy}}
	e := newTestEvaluator(store, prices, &recordingNotifier{}, now)

	results, err := e.EvaluateAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("one failing alert must not abort the sweep: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if results[0].Triggered {
		t.Fatal("failed fetch must yield a non-triggered result")
	}
	if results[0].Reason == "" {
		t.Fatal("failed fetch must carry an error reason")
	}
	if !results[1].Triggered {
		t.Fatal("healthy alert must still be evaluated")
	}
}

func TestExpiredAlertDeactivated(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	alert := alertFixture(1, ConditionAbove, 10)
	alert.ExpiresAt = &past

	store := &fakeStore{alerts: []Alert{alert}}
	e := newTestEvaluator(store, &fakePrices{}, &recordingNotifier{}, now)

	results, err := e.EvaluateAll(context.Background(), 1)
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if results[0].Triggered {
		t.Fatal("expired alert must not trigger")
	}
	if len(store.deactivated) != 1 {
		t.Fatal("expired alert must be deactivated")
	}
}

func TestFrequencyIntervals(t *testing.T) {
	cases := map[Frequency]time.Duration{
		FrequencyImmediate: time.Hour,
		FrequencyDaily:     24 * time.Hour,
		FrequencyWeekly:    168 * time.Hour,
		FrequencyMonthly:   720 * time.Hour,
	}
	for freq, want := range cases {
		if got := freq.Interval(); got != want {
			t.Fatalf("%s: want %s, got %s", freq, want, got)
		}
	}
}
