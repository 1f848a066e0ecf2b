package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/ports"
)

// Cache lookup results, also used as Cache-Status header values.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheBypass    = "bypass"
	CacheCoalesced = "coalesced"
)

// fillSlack extends the detached fill beyond the request deadline so a
// caller disconnect does not abort a fetch other waiters share.
const fillSlack = 5 * time.Second

// CacheResult is the outcome of a cache-or-fetch cycle.
type CacheResult struct {
	Entry  ports.CacheEntry
	Source string        // CacheHit, CacheMiss, CacheBypass or CacheCoalesced
	Age    time.Duration // only meaningful for hits
}

// CacheService fronts the upstream dispatcher with a TTL cache and
// single-flight request coalescing.
type CacheService struct {
	store       ports.CacheStore
	clock       ports.Clock
	metrics     ports.Metrics
	group       singleflight.Group
	fillTimeout time.Duration
}

// CacheDeps contains dependencies for CacheService.
type CacheDeps struct {
	Store   ports.CacheStore
	Clock   ports.Clock
	Metrics ports.Metrics
}

// NewCacheService creates a cache service. fillTimeout bounds the detached
// upstream fetch; 0 picks 30s.
func NewCacheService(deps CacheDeps, fillTimeout time.Duration) *CacheService {
	if fillTimeout == 0 {
		fillTimeout = 30 * time.Second
	}
	return &CacheService{
		store:       deps.Store,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		fillTimeout: fillTimeout,
	}
}

// Fingerprint computes the cache key for a request. Query parameters are
// sorted so equivalent URLs share an entry; tierTag separates entries for
// routes whose response varies by plan tier.
func Fingerprint(method, path string, query url.Values, tierTag string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('|')
	b.WriteString(path)
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	if tierTag != "" {
		b.WriteByte('|')
		b.WriteString(tierTag)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FillFunc produces a cache entry by calling upstream.
type FillFunc func(ctx context.Context) (ports.CacheEntry, error)

// Fetch returns a fresh cached entry or fills the cache via fill. Concurrent
// misses on the same key share one upstream call. With nocache set, the
// cache is neither read nor written.
func (s *CacheService) Fetch(ctx context.Context, key string, class route.CacheClass, nocache bool, fill FillFunc) (CacheResult, error) {
	if nocache {
		s.metrics.CacheObserved(CacheBypass)
		entry, err := fill(ctx)
		return CacheResult{Entry: entry, Source: CacheBypass}, err
	}

	now := s.clock.Now()
	if entry, ok, err := s.store.Get(ctx, key); err == nil && ok {
		if now.Before(entry.StoredAt.Add(class.TTL())) {
			s.metrics.CacheObserved(CacheHit)
			return CacheResult{Entry: entry, Source: CacheHit, Age: now.Sub(entry.StoredAt)}, nil
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// Detach from the caller: the fill must survive one client
		// disconnecting because other waiters share its result.
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fillTimeout+fillSlack)
		defer cancel()

		entry, err := fill(fillCtx)
		if err != nil {
			return nil, err
		}
		if entry.Status >= 200 && entry.Status < 300 {
			// Storing is best effort; a failed write just means the
			// next miss refetches.
			_ = s.store.Set(fillCtx, key, entry, class.TTL())
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		// The shared fill keeps running for the other waiters.
		return CacheResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return CacheResult{}, res.Err
		}
		source := CacheMiss
		if res.Shared {
			source = CacheCoalesced
		}
		s.metrics.CacheObserved(source)
		return CacheResult{Entry: res.Val.(ports.CacheEntry), Source: source}, nil
	}
}
