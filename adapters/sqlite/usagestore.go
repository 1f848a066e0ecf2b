package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/saas2guys/fingate/domain/usage"
	"github.com/saas2guys/fingate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// InsertEvents stores a batch of usage events in one transaction.
func (s *UsageStore) InsertEvents(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events
			(id, identifier, endpoint_class, path, provider, source, status, error_code, latency_ms, charged, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Identifier, e.EndpointClass, e.Path,
			e.Provider, e.Source, e.Status, e.ErrorCode, e.LatencyMS, e.Charged, e.At.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EventsBetween returns events with At in [from, to).
func (s *UsageStore) EventsBetween(ctx context.Context, from, to time.Time) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier, endpoint_class, path, provider, source, status, error_code, latency_ms, charged, at
		FROM usage_events
		WHERE at >= ? AND at < ?
		ORDER BY at
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usage.Event
	for rows.Next() {
		var e usage.Event
		if err := rows.Scan(&e.ID, &e.Identifier, &e.EndpointClass, &e.Path, &e.Provider,
			&e.Source, &e.Status, &e.ErrorCode, &e.LatencyMS, &e.Charged, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertSummaries writes summaries, replacing rows with matching keys so
// aggregation reruns are idempotent.
func (s *UsageStore) UpsertSummaries(ctx context.Context, summaries []usage.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sum := range summaries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO usage_summaries
				(identifier, date, hour, total, succeeded, failed, cache_hits, charged, avg_latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(identifier, date, hour) DO UPDATE SET
				total = excluded.total,
				succeeded = excluded.succeeded,
				failed = excluded.failed,
				cache_hits = excluded.cache_hits,
				charged = excluded.charged,
				avg_latency_ms = excluded.avg_latency_ms
		`, sum.Identifier, sum.Date, sum.Hour, sum.Total, sum.Succeeded, sum.Failed,
			sum.CacheHits, sum.Charged, sum.AvgLatencyMS)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HourlySummaries returns hourly rows for a date.
func (s *UsageStore) HourlySummaries(ctx context.Context, date string) ([]usage.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, date, hour, total, succeeded, failed, cache_hits, charged, avg_latency_ms
		FROM usage_summaries
		WHERE date = ? AND hour != ?
		ORDER BY identifier, hour
	`, date, usage.DailyHour)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usage.Summary
	for rows.Next() {
		var sum usage.Summary
		if err := rows.Scan(&sum.Identifier, &sum.Date, &sum.Hour, &sum.Total, &sum.Succeeded,
			&sum.Failed, &sum.CacheHits, &sum.Charged, &sum.AvgLatencyMS); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DailySummary returns the daily row for one identifier and date.
func (s *UsageStore) DailySummary(ctx context.Context, identifier, date string) (usage.Summary, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identifier, date, hour, total, succeeded, failed, cache_hits, charged, avg_latency_ms
		FROM usage_summaries
		WHERE identifier = ? AND date = ? AND hour = ?
	`, identifier, date, usage.DailyHour)

	var sum usage.Summary
	err := row.Scan(&sum.Identifier, &sum.Date, &sum.Hour, &sum.Total, &sum.Succeeded,
		&sum.Failed, &sum.CacheHits, &sum.Charged, &sum.AvgLatencyMS)
	if err == sql.ErrNoRows {
		return usage.Summary{}, false, nil
	}
	if err != nil {
		return usage.Summary{}, false, err
	}
	return sum, true, nil
}

// DeleteEventsBefore removes events older than cutoff.
func (s *UsageStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_events WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteSummariesBefore removes summaries for dates before cutoff.
func (s *UsageStore) DeleteSummariesBefore(ctx context.Context, cutoffDate string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_summaries WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)

// BillingEventStore implements ports.BillingEventStore using SQLite.
type BillingEventStore struct {
	db *DB
}

// NewBillingEventStore creates a new SQLite billing event store.
func NewBillingEventStore(db *DB) *BillingEventStore {
	return &BillingEventStore{db: db}
}

// Seen reports whether an event ID was already processed.
func (s *BillingEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM billing_events WHERE event_id = ?`, eventID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSeen records an event ID as processed.
func (s *BillingEventStore) MarkSeen(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_events (event_id, processed_at) VALUES (?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, eventID, at.UTC())
	return err
}

// Ensure interface compliance.
var _ ports.BillingEventStore = (*BillingEventStore)(nil)
