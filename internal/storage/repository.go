package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/aggregator"
	"github.com/revenueinsights/bookshelf-sub000/internal/alerting"
	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
)

const (
	bookColumns = `id,
        user_id,
        batch_id,
        isbn,
        title,
        author,
        current_price,
        best_vendor,
        historical_high,
        high_vendor,
        percent_of_high,
        tier,
        price_history,
        last_price_update`

	getBookSQL = `SELECT ` + bookColumns + `
    FROM books
    WHERE user_id = $1
      AND isbn = $2;`

	getBookByIDSQL = `SELECT ` + bookColumns + `
    FROM books
    WHERE user_id = $1
      AND id = $2;`

	listBatchBooksSQL = `SELECT ` + bookColumns + `
    FROM books
    WHERE user_id = $1
      AND batch_id = $2
    ORDER BY id;`

	listRecentBooksSQL = `SELECT ` + bookColumns + `
    FROM books
    WHERE user_id = $1
    ORDER BY last_price_update DESC NULLS LAST
    LIMIT $2;`

	updateBookPricingSQL = `UPDATE books
    SET current_price     = $3,
        best_vendor       = $4,
        historical_high   = $5,
        high_vendor       = $6,
        percent_of_high   = $7,
        tier              = $8,
        price_history     = $9,
        last_price_update = $10
    WHERE user_id = $1
      AND id = $2;`

	getBatchSQL = `SELECT id, user_id, name
    FROM batches
    WHERE user_id = $1
      AND id = $2;`

	updateBatchSummarySQL = `UPDATE batches
    SET total_books         = $3,
        high_value_count    = $4,
        mid_value_count     = $5,
        low_value_count     = $6,
        total_value         = $7,
        top_price           = $8,
        top_isbn            = $9,
        avg_percent_of_high = $10,
        last_refreshed      = $11
    WHERE user_id = $1
      AND id = $2;`

	listActiveAlertsSQL = `SELECT
        a.id,
        a.user_id,
        a.book_id,
        a.isbn,
        b.title,
        a.alert_type,
        a.frequency,
        a.target_price,
        a.active,
        a.trigger_count,
        a.last_triggered,
        a.last_price,
        a.last_checked_at,
        a.expires_at,
        a.created_at
    FROM alerts a
    LEFT JOIN books b ON b.id = a.book_id
    WHERE a.user_id = $1
      AND a.active
    ORDER BY a.id;`

	recordAlertTriggerSQL = `UPDATE alerts
    SET trigger_count   = trigger_count + 1,
        last_triggered  = $2,
        last_price      = $3,
        last_checked_at = $2
    WHERE id = $1;`

	saveAlertPriceSQL = `UPDATE alerts
    SET last_price      = $3,
        last_checked_at = $2
    WHERE id = $1;`

	deactivateAlertSQL = `UPDATE alerts
    SET active = FALSE
    WHERE id = $1;`

	getCredentialsSQL = `SELECT aggregator_email, aggregator_password
    FROM users
    WHERE id = $1;`

	getThresholdsSQL = `SELECT upper_threshold_pct, lower_threshold_pct
    FROM users
    WHERE id = $1;`

	getTokenCacheSQL = `SELECT token, expires_at
    FROM aggregator_tokens
    WHERE user_id = $1;`

	upsertTokenCacheSQL = `INSERT INTO aggregator_tokens (user_id, token, expires_at, updated_at)
    VALUES ($1, $2, $3, NOW())
    ON CONFLICT (user_id) DO UPDATE
    SET token      = EXCLUDED.token,
        expires_at = EXCLUDED.expires_at,
        updated_at = NOW();`
)

// BookStore defines the book read/write contract the pipeline consumes.
type BookStore interface {
	GetBook(ctx context.Context, userID int64, isbn string) (BookRecord, error)
	GetBookByID(ctx context.Context, userID, bookID int64) (BookRecord, error)
	ListBatchBooks(ctx context.Context, userID, batchID int64) ([]BookRecord, error)
	ListRecentBooks(ctx context.Context, userID int64, limit int) ([]BookRecord, error)
	UpdateBookPricing(ctx context.Context, book BookRecord) error
}

// BatchStore defines batch summary persistence.
type BatchStore interface {
	GetBatch(ctx context.Context, userID, batchID int64) (BatchSummary, error)
	UpdateBatchSummary(ctx context.Context, summary BatchSummary) error
}

// SettingsStore yields per-user tier thresholds.
type SettingsStore interface {
	UserThresholds(ctx context.Context, userID int64) (pricing.Thresholds, error)
}

// GetBook loads one book by owning user and identifier.
func (s *Store) GetBook(ctx context.Context, userID int64, isbn string) (BookRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return BookRecord{}, err
	}
	return scanBook(pool.QueryRow(ctx, getBookSQL, userID, isbn))
}

// GetBookByID loads one book by owning user and primary key.
func (s *Store) GetBookByID(ctx context.Context, userID, bookID int64) (BookRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return BookRecord{}, err
	}
	return scanBook(pool.QueryRow(ctx, getBookByIDSQL, userID, bookID))
}

// ListBatchBooks lists every book tracked under a batch.
func (s *Store) ListBatchBooks(ctx context.Context, userID, batchID int64) ([]BookRecord, error) {
	return s.listBooks(ctx, listBatchBooksSQL, userID, batchID)
}

// ListRecentBooks lists books ordered by most recent price update.
func (s *Store) ListRecentBooks(ctx context.Context, userID int64, limit int) ([]BookRecord, error) {
	return s.listBooks(ctx, listRecentBooksSQL, userID, limit)
}

func (s *Store) listBooks(ctx context.Context, query string, args ...interface{}) ([]BookRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list books: %w", queryErr)
	}
	defer rows.Close()

	books := make([]BookRecord, 0)
	for rows.Next() {
		book, scanErr := scanBook(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		books = append(books, book)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return books, nil
}

// UpdateBookPricing writes back the reconciled pricing fields and the
// appended history log.
func (s *Store) UpdateBookPricing(ctx context.Context, book BookRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	history, err := json.Marshal(book.History)
	if err != nil {
		return fmt.Errorf("marshal price history: %w", err)
	}

	cmdTag, execErr := pool.Exec(ctx, updateBookPricingSQL,
		book.UserID,
		book.ID,
		book.CurrentPrice.String(),
		book.BestVendor,
		book.HistoricalHigh.String(),
		book.HighVendor,
		book.PercentOfHigh.String(),
		string(book.Tier),
		history,
		book.LastPriceUpdate,
	)
	if execErr != nil {
		return fmt.Errorf("update book pricing: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBatch loads a batch's identity row.
func (s *Store) GetBatch(ctx context.Context, userID, batchID int64) (BatchSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return BatchSummary{}, err
	}

	var summary BatchSummary
	err = pool.QueryRow(ctx, getBatchSQL, userID, batchID).Scan(&summary.ID, &summary.UserID, &summary.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchSummary{}, ErrNotFound
	}
	if err != nil {
		return BatchSummary{}, fmt.Errorf("get batch: %w", err)
	}
	return summary, nil
}

// UpdateBatchSummary persists the aggregates of a completed refresh run.
func (s *Store) UpdateBatchSummary(ctx context.Context, summary BatchSummary) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateBatchSummarySQL,
		summary.UserID,
		summary.ID,
		summary.TotalBooks,
		summary.HighValueCount,
		summary.MidValueCount,
		summary.LowValueCount,
		summary.TotalValue.String(),
		summary.TopPrice.String(),
		summary.TopISBN,
		summary.AvgPercentOfHigh.String(),
		summary.LastRefreshed,
	)
	if execErr != nil {
		return fmt.Errorf("update batch summary: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveAlerts loads every active alert for a user, joined against the
// bound book's title when one exists.
func (s *Store) ListActiveAlerts(ctx context.Context, userID int64) ([]alerting.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alerting.Alert, 0)
	for rows.Next() {
		var (
			alert         alerting.Alert
			bookID        sql.NullInt64
			title         sql.NullString
			alertType     string
			frequency     string
			targetStr     string
			lastTriggered sql.NullTime
			lastPriceStr  sql.NullString
			lastCheckedAt sql.NullTime
			expiresAt     sql.NullTime
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&bookID,
			&alert.ISBN,
			&title,
			&alertType,
			&frequency,
			&targetStr,
			&alert.Active,
			&alert.TriggerCount,
			&lastTriggered,
			&lastPriceStr,
			&lastCheckedAt,
			&expiresAt,
			&alert.CreatedAt,
		); err != nil {
			return nil, err
		}

		alert.Condition = alerting.Condition(alertType)
		alert.Frequency = alerting.Frequency(frequency)
		alert.TargetPrice, err = decimal.NewFromString(targetStr)
		if err != nil {
			return nil, fmt.Errorf("parse target price: %w", err)
		}
		if bookID.Valid {
			id := bookID.Int64
			alert.BookID = &id
		}
		if title.Valid {
			alert.BookTitle = title.String
		}
		if lastTriggered.Valid {
			ts := lastTriggered.Time
			alert.LastTriggered = &ts
		}
		if lastPriceStr.Valid {
			alert.LastPrice, err = decimal.NewFromString(lastPriceStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse last price: %w", err)
			}
		}
		if lastCheckedAt.Valid {
			ts := lastCheckedAt.Time
			alert.LastCheckedAt = &ts
		}
		if expiresAt.Valid {
			ts := expiresAt.Time
			alert.ExpiresAt = &ts
		}

		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// RecordAlertTrigger bumps the trigger counter and stamps the trigger state.
func (s *Store) RecordAlertTrigger(ctx context.Context, alertID int64, at time.Time, price decimal.Decimal) error {
	return s.execAlert(ctx, recordAlertTriggerSQL, alertID, at, price.String())
}

// SaveAlertPrice records a fresh observed price without triggering.
func (s *Store) SaveAlertPrice(ctx context.Context, alertID int64, at time.Time, price decimal.Decimal) error {
	return s.execAlert(ctx, saveAlertPriceSQL, alertID, at, price.String())
}

// DeactivateAlert flips the active flag off, used for alerts past expiry.
func (s *Store) DeactivateAlert(ctx context.Context, alertID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deactivateAlertSQL, alertID); execErr != nil {
		return fmt.Errorf("deactivate alert: %w", execErr)
	}
	return nil
}

func (s *Store) execAlert(ctx context.Context, query string, args ...interface{}) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, query, args...)
	if execErr != nil {
		return fmt.Errorf("update alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AggregatorCredentials loads the user's upstream login pair.
func (s *Store) AggregatorCredentials(ctx context.Context, userID int64) (aggregator.Credentials, error) {
	pool, err := s.getPool()
	if err != nil {
		return aggregator.Credentials{}, err
	}

	var creds aggregator.Credentials
	err = pool.QueryRow(ctx, getCredentialsSQL, userID).Scan(&creds.Email, &creds.Password)
	if errors.Is(err, pgx.ErrNoRows) {
		return aggregator.Credentials{}, ErrNotFound
	}
	if err != nil {
		return aggregator.Credentials{}, fmt.Errorf("get aggregator credentials: %w", err)
	}
	return creds, nil
}

// UserThresholds loads the user's tier cutoffs. Unknown users report
// ErrNotFound so callers can apply their configured defaults; a known user
// with unset columns falls back per column to the package defaults.
func (s *Store) UserThresholds(ctx context.Context, userID int64) (pricing.Thresholds, error) {
	pool, err := s.getPool()
	if err != nil {
		return pricing.Thresholds{}, err
	}

	var upper, lower sql.NullString
	err = pool.QueryRow(ctx, getThresholdsSQL, userID).Scan(&upper, &lower)
	if errors.Is(err, pgx.ErrNoRows) {
		return pricing.Thresholds{}, ErrNotFound
	}
	if err != nil {
		return pricing.Thresholds{}, fmt.Errorf("get user thresholds: %w", err)
	}

	thresholds := pricing.DefaultThresholds
	if upper.Valid {
		if v, convErr := decimal.NewFromString(upper.String); convErr == nil {
			thresholds.Upper = v
		}
	}
	if lower.Valid {
		if v, convErr := decimal.NewFromString(lower.String); convErr == nil {
			thresholds.Lower = v
		}
	}
	return thresholds, nil
}

// TokenCache loads the per-user token cache record.
func (s *Store) TokenCache(ctx context.Context, userID int64) (aggregator.TokenRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return aggregator.TokenRecord{}, err
	}

	var rec aggregator.TokenRecord
	err = pool.QueryRow(ctx, getTokenCacheSQL, userID).Scan(&rec.Token, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return aggregator.TokenRecord{}, ErrNotFound
	}
	if err != nil {
		return aggregator.TokenRecord{}, fmt.Errorf("get token cache: %w", err)
	}
	return rec, nil
}

// SaveTokenCache replaces the per-user token cache record wholesale.
func (s *Store) SaveTokenCache(ctx context.Context, userID int64, rec aggregator.TokenRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertTokenCacheSQL, userID, rec.Token, rec.ExpiresAt); execErr != nil {
		return fmt.Errorf("save token cache: %w", execErr)
	}
	return nil
}

func scanBook(row pgx.Row) (BookRecord, error) {
	var (
		book        BookRecord
		batchID     sql.NullInt64
		title       sql.NullString
		author      sql.NullString
		currentStr  sql.NullString
		bestVendor  sql.NullString
		highStr     sql.NullString
		highVendor  sql.NullString
		percentStr  sql.NullString
		tier        sql.NullString
		historyRaw  []byte
		lastUpdated sql.NullTime
	)

	err := row.Scan(
		&book.ID,
		&book.UserID,
		&batchID,
		&book.ISBN,
		&title,
		&author,
		&currentStr,
		&bestVendor,
		&highStr,
		&highVendor,
		&percentStr,
		&tier,
		&historyRaw,
		&lastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return BookRecord{}, ErrNotFound
	}
	if err != nil {
		return BookRecord{}, err
	}

	if batchID.Valid {
		id := batchID.Int64
		book.BatchID = &id
	}
	book.Title = title.String
	book.Author = author.String
	book.BestVendor = bestVendor.String
	book.HighVendor = highVendor.String
	book.Tier = pricing.Tier(tier.String)
	if lastUpdated.Valid {
		book.LastPriceUpdate = lastUpdated.Time
	}

	if book.CurrentPrice, err = parseNullDecimal(currentStr); err != nil {
		return BookRecord{}, fmt.Errorf("parse current price: %w", err)
	}
	if book.HistoricalHigh, err = parseNullDecimal(highStr); err != nil {
		return BookRecord{}, fmt.Errorf("parse historical high: %w", err)
	}
	if book.PercentOfHigh, err = parseNullDecimal(percentStr); err != nil {
		return BookRecord{}, fmt.Errorf("parse percent of high: %w", err)
	}

	book.History = pricing.NewHistoryLog()
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &book.History); err != nil {
			return BookRecord{}, fmt.Errorf("parse price history: %w", err)
		}
	}

	return book, nil
}

func parseNullDecimal(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v.String)
}
