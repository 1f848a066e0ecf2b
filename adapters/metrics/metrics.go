// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/saas2guys/fingate/ports"
)

// Collector holds all Prometheus metrics and implements ports.Metrics.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	QuotaRejections *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	UpstreamRetries *prometheus.CounterVec
	UsageDrops      prometheus.Counter
}

// New creates a collector registered on a fresh registry, returning both.
// A dedicated registry keeps tests from tripping duplicate registration.
func New() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fingate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"class", "provider", "source", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fingate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"class", "source"},
		),
		QuotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fingate",
				Name:      "quota_rejections_total",
				Help:      "Total number of quota rejections",
			},
			[]string{"reason"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fingate",
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result",
			},
			[]string{"result"},
		),
		UpstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fingate",
				Name:      "upstream_retries_total",
				Help:      "Upstream call retries by provider",
			},
			[]string{"provider"},
		),
		UsageDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fingate",
				Name:      "usage_events_dropped_total",
				Help:      "Usage events dropped by a full recorder queue",
			},
		),
	}
	return c, reg
}

// RequestObserved records one completed request.
func (c *Collector) RequestObserved(class, provider, source string, status int, dur time.Duration) {
	c.RequestsTotal.WithLabelValues(class, provider, source, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(class, source).Observe(dur.Seconds())
}

// QuotaRejected counts a quota rejection by reason.
func (c *Collector) QuotaRejected(reason string) {
	c.QuotaRejections.WithLabelValues(reason).Inc()
}

// CacheObserved counts a cache lookup result.
func (c *Collector) CacheObserved(result string) {
	c.CacheLookups.WithLabelValues(result).Inc()
}

// UpstreamRetry counts a retry against a provider.
func (c *Collector) UpstreamRetry(provider string) {
	c.UpstreamRetries.WithLabelValues(provider).Inc()
}

// UsageDropped counts usage events dropped by a full queue.
func (c *Collector) UsageDropped(n int) {
	c.UsageDrops.Add(float64(n))
}

// Ensure interface compliance.
var _ ports.Metrics = (*Collector)(nil)

// Nop is a no-op metrics implementation for tests.
type Nop struct{}

func (Nop) RequestObserved(class, provider, source string, status int, dur time.Duration) {}
func (Nop) QuotaRejected(reason string)                                                   {}
func (Nop) CacheObserved(result string)                                                   {}
func (Nop) UpstreamRetry(provider string)                                                 {}
func (Nop) UsageDropped(n int)                                                            {}

// Ensure interface compliance.
var _ ports.Metrics = Nop{}
