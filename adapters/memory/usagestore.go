package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/saas2guys/fingate/domain/usage"
	"github.com/saas2guys/fingate/ports"
)

// UsageStore is an in-memory usage store for tests and single-node runs.
type UsageStore struct {
	mu        sync.RWMutex
	events    []usage.Event
	summaries map[usage.Key]usage.Summary
}

// NewUsageStore creates an empty usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{summaries: make(map[usage.Key]usage.Summary)}
}

// InsertEvents stores a batch of usage events.
func (s *UsageStore) InsertEvents(ctx context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// EventsBetween returns events with At in [from, to).
func (s *UsageStore) EventsBetween(ctx context.Context, from, to time.Time) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []usage.Event
	for _, e := range s.events {
		if !e.At.Before(from) && e.At.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpsertSummaries writes summaries, replacing rows with matching keys.
func (s *UsageStore) UpsertSummaries(ctx context.Context, summaries []usage.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sum := range summaries {
		s.summaries[sum.Key()] = sum
	}
	return nil
}

// HourlySummaries returns hourly rows for a date.
func (s *UsageStore) HourlySummaries(ctx context.Context, date string) ([]usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []usage.Summary
	for k, sum := range s.summaries {
		if k.Date == date && k.Hour != usage.DailyHour {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identifier != out[j].Identifier {
			return out[i].Identifier < out[j].Identifier
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

// DailySummary returns the daily row for one identifier and date.
func (s *UsageStore) DailySummary(ctx context.Context, identifier, date string) (usage.Summary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[usage.Key{Identifier: identifier, Date: date, Hour: usage.DailyHour}]
	return sum, ok, nil
}

// DeleteEventsBefore removes events older than cutoff.
func (s *UsageStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.At.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// DeleteSummariesBefore removes summaries for dates before cutoff.
func (s *UsageStore) DeleteSummariesBefore(ctx context.Context, cutoffDate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k := range s.summaries {
		if k.Date < cutoffDate {
			delete(s.summaries, k)
			removed++
		}
	}
	return removed, nil
}

// EventCount returns the number of stored events.
func (s *UsageStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)

// BillingEventStore is an in-memory processed-event set.
type BillingEventStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewBillingEventStore creates an empty billing event store.
func NewBillingEventStore() *BillingEventStore {
	return &BillingEventStore{seen: make(map[string]time.Time)}
}

// Seen reports whether an event ID was already processed.
func (s *BillingEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

// MarkSeen records an event ID as processed.
func (s *BillingEventStore) MarkSeen(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventID] = at
	return nil
}

// Ensure interface compliance.
var _ ports.BillingEventStore = (*BillingEventStore)(nil)
