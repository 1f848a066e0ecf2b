package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/saas2guys/fingate/ports"
)

// CacheStore is an in-memory response cache with LRU eviction. Freshness is
// judged by the caller against StoredAt; retention here only bounds memory.
type CacheStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	clock   ports.Clock
}

type cacheItem struct {
	key       string
	entry     ports.CacheEntry
	expiresAt time.Time
}

// NewCacheStore creates a cache bounded to maxSize entries. maxSize <= 0
// picks the default of 10000.
func NewCacheStore(maxSize int, clock ports.Clock) *CacheStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CacheStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		clock:   clock,
	}
}

// Get retrieves an entry by fingerprint.
func (s *CacheStore) Get(ctx context.Context, key string) (ports.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return ports.CacheEntry{}, false, nil
	}
	item := el.Value.(*cacheItem)
	if s.clock.Now().After(item.expiresAt) {
		s.order.Remove(el)
		delete(s.entries, key)
		return ports.CacheEntry{}, false, nil
	}
	s.order.MoveToFront(el)
	return item.entry, true, nil
}

// Set stores an entry under a fingerprint with the given retention.
func (s *CacheStore) Set(ctx context.Context, key string, e ports.CacheEntry, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires := s.clock.Now().Add(retention)
	if el, ok := s.entries[key]; ok {
		item := el.Value.(*cacheItem)
		item.entry = e
		item.expiresAt = expires
		s.order.MoveToFront(el)
		return nil
	}

	s.entries[key] = s.order.PushFront(&cacheItem{key: key, entry: e, expiresAt: expires})
	for len(s.entries) > s.maxSize {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*cacheItem).key)
	}
	return nil
}

// Delete removes an entry.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
	return nil
}

// Len returns the number of stored entries.
func (s *CacheStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Ensure interface compliance.
var _ ports.CacheStore = (*CacheStore)(nil)
