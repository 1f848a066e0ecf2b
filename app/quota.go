package app

import (
	"context"
	"time"

	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/domain/quota"
	"github.com/saas2guys/fingate/ports"
)

// QuotaService admits requests against windowed counters. Admission is one
// logical decision: counters are incremented only when every window passes.
type QuotaService struct {
	counters ports.CounterStore
	clock    ports.Clock
	metrics  ports.Metrics
}

// QuotaDeps contains dependencies for QuotaService.
type QuotaDeps struct {
	Counters ports.CounterStore
	Clock    ports.Clock
	Metrics  ports.Metrics
}

// NewQuotaService creates a quota service.
func NewQuotaService(deps QuotaDeps) *QuotaService {
	return &QuotaService{counters: deps.Counters, clock: deps.Clock, metrics: deps.Metrics}
}

// allWindows are the counter rows maintained per identifier.
var allWindows = []quota.Window{quota.WindowMinute, quota.WindowHour, quota.WindowDay, quota.WindowMonth}

// Admit decides whether the principal may proceed and, on admission, charges
// every window. A read-check-increment race can briefly admit one extra
// request at a boundary, which the original system accepts too.
func (s *QuotaService) Admit(ctx context.Context, pr principal.Principal) (quota.Decision, error) {
	now := s.clock.Now()
	keys := s.keys(pr.QuotaIdentifier(), now)

	stored, err := s.counters.Get(ctx, keys)
	if err != nil {
		return quota.Decision{}, err
	}
	counts := make(quota.Counts, len(keys))
	for i, w := range allWindows {
		counts[w] = stored[keys[i]]
	}

	decision := quota.Admit(pr, counts, now)
	if !decision.Allowed {
		s.metrics.QuotaRejected(decision.Reason)
		return decision, nil
	}

	if err := s.counters.Increment(ctx, keys, 1); err != nil {
		return quota.Decision{}, err
	}
	return decision, nil
}

func (s *QuotaService) keys(identifier string, now time.Time) []ports.CounterKey {
	keys := make([]ports.CounterKey, len(allWindows))
	for i, w := range allWindows {
		keys[i] = ports.CounterKey{Identifier: identifier, Window: w, WindowStart: quota.Floor(now, w)}
	}
	return keys
}
