// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"net/url"
	"time"

	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/domain/quota"
	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// PrincipalStore persists principal records.
type PrincipalStore interface {
	// Get retrieves a principal by ID.
	Get(ctx context.Context, id string) (principal.Principal, error)

	// GetByToken retrieves a principal by its current opaque request token.
	GetByToken(ctx context.Context, token string) (principal.Principal, error)

	// GetByCustomer retrieves a principal by payment-provider customer ID.
	GetByCustomer(ctx context.Context, customerID string) (principal.Principal, error)

	// Create stores a new principal.
	Create(ctx context.Context, p principal.Principal) error

	// Update modifies an existing principal.
	Update(ctx context.Context, p principal.Principal) error

	// ListMetered returns principals on metered plans, for the billing export.
	ListMetered(ctx context.Context) ([]principal.Principal, error)
}

// PlanStore persists plan definitions.
type PlanStore interface {
	// Get retrieves a plan by ID.
	Get(ctx context.Context, id string) (principal.PlanSnapshot, error)

	// GetByPriceID retrieves a plan by payment-provider price ID.
	GetByPriceID(ctx context.Context, priceID string) (principal.PlanSnapshot, error)

	// List returns all plans.
	List(ctx context.Context) ([]principal.PlanSnapshot, error)
}

// CounterKey identifies one quota counter row.
type CounterKey struct {
	Identifier  string
	Window      quota.Window
	WindowStart time.Time
}

// CounterStore persists windowed request counters.
type CounterStore interface {
	// Get returns current counts for the given keys. Missing keys read as 0.
	Get(ctx context.Context, keys []CounterKey) (map[CounterKey]int64, error)

	// Increment adds delta to each key, creating rows as needed.
	Increment(ctx context.Context, keys []CounterKey, delta int64) error

	// DeleteBefore removes counters whose window started before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CacheEntry is a stored upstream response. Payload is the raw provider body;
// freshness is judged against StoredAt and the route's cache class.
type CacheEntry struct {
	Payload  []byte
	Provider string
	Status   int
	Class    route.CacheClass
	StoredAt time.Time
}

// CacheStore persists response cache entries.
type CacheStore interface {
	// Get retrieves an entry by fingerprint. The second return is false on miss.
	Get(ctx context.Context, key string) (CacheEntry, bool, error)

	// Set stores an entry under a fingerprint with the given retention.
	Set(ctx context.Context, key string, e CacheEntry, retention time.Duration) error

	// Delete removes an entry.
	Delete(ctx context.Context, key string) error
}

// UsageStore persists usage events and rollup summaries.
type UsageStore interface {
	// InsertEvents stores a batch of usage events.
	InsertEvents(ctx context.Context, events []usage.Event) error

	// EventsBetween returns events with At in [from, to).
	EventsBetween(ctx context.Context, from, to time.Time) ([]usage.Event, error)

	// UpsertSummaries writes summaries, replacing rows with matching keys.
	UpsertSummaries(ctx context.Context, summaries []usage.Summary) error

	// HourlySummaries returns hourly rows for a date (2006-01-02).
	HourlySummaries(ctx context.Context, date string) ([]usage.Summary, error)

	// DailySummary returns the daily row for one identifier and date.
	// The second return is false when no row exists.
	DailySummary(ctx context.Context, identifier, date string) (usage.Summary, bool, error)

	// DeleteEventsBefore removes events older than cutoff.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteSummariesBefore removes summaries for dates before cutoff.
	DeleteSummariesBefore(ctx context.Context, cutoffDate string) (int64, error)
}

// BillingEventStore tracks processed lifecycle events for idempotency.
type BillingEventStore interface {
	// Seen reports whether an event ID was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkSeen records an event ID as processed.
	MarkSeen(ctx context.Context, eventID string, at time.Time) error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// ProviderRequest is one dispatch to an upstream data provider.
type ProviderRequest struct {
	Provider string
	Path     string
	Query    url.Values
}

// ProviderResponse is the raw provider reply.
type ProviderResponse struct {
	Provider string
	Status   int
	Body     []byte
}

// ProviderClient dispatches to upstream market-data providers. Rate budgets,
// retries and credential injection live behind this port.
type ProviderClient interface {
	// Fetch performs one upstream call, retrying retryable failures within
	// the context deadline.
	Fetch(ctx context.Context, req ProviderRequest) (ProviderResponse, error)

	// Health verifies a provider is reachable.
	Health(ctx context.Context, provider string) error

	// Providers returns the configured provider names.
	Providers() []string
}

// TokenClaims are the verified contents of a signed bearer token.
type TokenClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// TokenVerifier validates signed bearer tokens.
type TokenVerifier interface {
	// Verify parses and validates a token string.
	Verify(token string) (TokenClaims, error)
}

// BillingReporter pushes metered usage to the payment provider.
type BillingReporter interface {
	// ReportUsage sets the usage quantity on a subscription item for a day.
	// Calls for the same day overwrite, so replays are safe.
	ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error
}

// WebhookVerifier authenticates incoming payment-provider webhooks.
type WebhookVerifier interface {
	// Verify checks the signature and returns the event type, event ID and
	// raw object payload.
	Verify(payload []byte, signature string) (eventType, eventID string, object []byte, err error)
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event. Non-blocking; may drop under pressure.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics records operational counters. A no-op implementation is valid.
type Metrics interface {
	// RequestObserved records one completed request.
	RequestObserved(class, provider, source string, status int, dur time.Duration)

	// QuotaRejected counts a quota rejection by reason.
	QuotaRejected(reason string)

	// CacheObserved counts a cache lookup result (hit, miss, bypass, coalesced).
	CacheObserved(result string)

	// UpstreamRetry counts a retry against a provider.
	UpstreamRetry(provider string)

	// UsageDropped counts usage events dropped by a full queue.
	UsageDropped(n int)
}
