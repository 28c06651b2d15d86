package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryLogVersion is the current schema version of the serialized log.
const HistoryLogVersion = 1

// HistoryEntry is one captured price observation.
type HistoryEntry struct {
	Vendor     string          `json:"vendor"`
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// HistoryLog is the append-only price record kept on every tracked book.
// Entries are ordered by insertion; existing entries are never rewritten.
type HistoryLog struct {
	Version int            `json:"version"`
	Entries []HistoryEntry `json:"entries"`
}

// NewHistoryLog returns an empty log at the current schema version.
func NewHistoryLog() HistoryLog {
	return HistoryLog{Version: HistoryLogVersion}
}

// Append records a new observation at the tail of the log.
func (l *HistoryLog) Append(vendor string, price decimal.Decimal, at time.Time) {
	if l.Version == 0 {
		l.Version = HistoryLogVersion
	}
	l.Entries = append(l.Entries, HistoryEntry{Vendor: vendor, Price: price, RecordedAt: at})
}

// Latest returns the most recently captured entry.
func (l HistoryLog) Latest() (HistoryEntry, bool) {
	best := -1
	for i, e := range l.Entries {
		if best == -1 || e.RecordedAt.After(l.Entries[best].RecordedAt) {
			best = i
		}
	}
	if best == -1 {
		return HistoryEntry{}, false
	}
	return l.Entries[best], true
}

// Max returns the entry with the highest price.
func (l HistoryLog) Max() (HistoryEntry, bool) {
	best := -1
	for i, e := range l.Entries {
		if best == -1 || e.Price.GreaterThan(l.Entries[best].Price) {
			best = i
		}
	}
	if best == -1 {
		return HistoryEntry{}, false
	}
	return l.Entries[best], true
}
