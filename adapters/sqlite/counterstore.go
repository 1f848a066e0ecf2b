package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/saas2guys/fingate/ports"
)

// CounterStore implements ports.CounterStore on SQLite so quota state
// survives restarts.
type CounterStore struct {
	db *DB
}

// NewCounterStore creates a new SQLite counter store.
func NewCounterStore(db *DB) *CounterStore {
	return &CounterStore{db: db}
}

// Get returns current counts for the given keys. Missing rows read as 0.
func (s *CounterStore) Get(ctx context.Context, keys []ports.CounterKey) (map[ports.CounterKey]int64, error) {
	out := make(map[ports.CounterKey]int64, len(keys))
	for _, k := range keys {
		row := s.db.QueryRowContext(ctx, `
			SELECT count FROM quota_counters
			WHERE identifier = ? AND window = ? AND window_start = ?
		`, k.Identifier, string(k.Window), k.WindowStart.UTC())

		var count int64
		err := row.Scan(&count)
		if err == sql.ErrNoRows {
			out[k] = 0
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = count
	}
	return out, nil
}

// Increment adds delta to each key in one transaction, creating rows as
// needed.
func (s *CounterStore) Increment(ctx context.Context, keys []ports.CounterKey, delta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, k := range keys {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_counters (identifier, window, window_start, count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(identifier, window, window_start) DO UPDATE SET
				count = count + excluded.count
		`, k.Identifier, string(k.Window), k.WindowStart.UTC(), delta)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteBefore removes counters whose window started before cutoff.
func (s *CounterStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM quota_counters WHERE window_start < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
