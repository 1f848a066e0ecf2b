// Package memory provides in-memory implementations of storage ports.
// They are the default for tests and single-node deployments.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/saas2guys/fingate/ports"
)

// counterShard is a single shard of the counter store.
type counterShard struct {
	mu     sync.RWMutex
	counts map[ports.CounterKey]int64
}

// CounterStore is a sharded in-memory counter store. Sharding by quota
// identifier keeps lock contention low on the hot path.
type CounterStore struct {
	shards    []*counterShard
	numShards int
}

// NewCounterStore creates a sharded counter store. numShards <= 0 picks the
// default of 32.
func NewCounterStore(numShards int) *CounterStore {
	if numShards <= 0 {
		numShards = 32
	}
	s := &CounterStore{
		shards:    make([]*counterShard, numShards),
		numShards: numShards,
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{counts: make(map[ports.CounterKey]int64)}
	}
	return s
}

func (s *CounterStore) getShard(identifier string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get returns current counts for the given keys. Missing keys read as 0.
func (s *CounterStore) Get(ctx context.Context, keys []ports.CounterKey) (map[ports.CounterKey]int64, error) {
	out := make(map[ports.CounterKey]int64, len(keys))
	for _, k := range keys {
		shard := s.getShard(k.Identifier)
		shard.mu.RLock()
		out[k] = shard.counts[k]
		shard.mu.RUnlock()
	}
	return out, nil
}

// Increment adds delta to each key.
func (s *CounterStore) Increment(ctx context.Context, keys []ports.CounterKey, delta int64) error {
	for _, k := range keys {
		shard := s.getShard(k.Identifier)
		shard.mu.Lock()
		shard.counts[k] += delta
		shard.mu.Unlock()
	}
	return nil
}

// DeleteBefore removes counters whose window started before cutoff.
func (s *CounterStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, shard := range s.shards {
		shard.mu.Lock()
		for k := range shard.counts {
			if k.WindowStart.Before(cutoff) {
				delete(shard.counts, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
