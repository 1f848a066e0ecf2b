// Package redis provides a Redis-backed response cache for multi-node
// deployments. Single-node runs use the in-memory cache instead.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/ports"
)

// CacheStore implements ports.CacheStore on Redis. Entries expire server-side
// at the retention bound; freshness within that bound is still judged by the
// caller against StoredAt.
type CacheStore struct {
	rdb    *redis.Client
	prefix string
}

// Option configures a CacheStore.
type Option func(*CacheStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *CacheStore) { s.prefix = prefix }
}

// NewCacheStore creates a Redis cache store.
func NewCacheStore(rdb *redis.Client, opts ...Option) *CacheStore {
	s := &CacheStore{rdb: rdb, prefix: "fingate:cache:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cacheRecord is the stored JSON shape.
type cacheRecord struct {
	Payload  []byte    `json:"payload"`
	Provider string    `json:"provider"`
	Status   int       `json:"status"`
	Class    string    `json:"class"`
	StoredAt time.Time `json:"stored_at"`
}

func encodeEntry(e ports.CacheEntry) ([]byte, error) {
	return json.Marshal(cacheRecord{
		Payload:  e.Payload,
		Provider: e.Provider,
		Status:   e.Status,
		Class:    string(e.Class),
		StoredAt: e.StoredAt.UTC(),
	})
}

func decodeEntry(raw []byte) (ports.CacheEntry, error) {
	var rec cacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ports.CacheEntry{}, err
	}
	return ports.CacheEntry{
		Payload:  rec.Payload,
		Provider: rec.Provider,
		Status:   rec.Status,
		Class:    route.CacheClass(rec.Class),
		StoredAt: rec.StoredAt,
	}, nil
}

// Get retrieves an entry by fingerprint.
func (s *CacheStore) Get(ctx context.Context, key string) (ports.CacheEntry, bool, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return ports.CacheEntry{}, false, nil
	}
	if err != nil {
		return ports.CacheEntry{}, false, err
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		// A corrupt entry reads as a miss; the next store overwrites it.
		return ports.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

// Set stores an entry under a fingerprint with the given retention.
func (s *CacheStore) Set(ctx context.Context, key string, e ports.CacheEntry, retention time.Duration) error {
	raw, err := encodeEntry(e)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+key, raw, retention).Err()
}

// Delete removes an entry.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)
