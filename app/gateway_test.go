package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/adapters/clock"
	"github.com/saas2guys/fingate/adapters/idgen"
	"github.com/saas2guys/fingate/adapters/memory"
	"github.com/saas2guys/fingate/adapters/metrics"
	"github.com/saas2guys/fingate/domain/envelope"
	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/domain/quota"
	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/domain/usage"
	"github.com/saas2guys/fingate/ports"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeVerifier struct {
	subject string
	err     error
}

func (v fakeVerifier) Verify(token string) (ports.TokenClaims, error) {
	if v.err != nil {
		return ports.TokenClaims{}, v.err
	}
	return ports.TokenClaims{Subject: v.subject}, nil
}

// stubClient serves canned responses per provider and records every call.
type stubClient struct {
	mu        sync.Mutex
	responses map[string]ports.ProviderResponse
	errs      map[string]error
	calls     []ports.ProviderRequest
}

func newStubClient() *stubClient {
	return &stubClient{
		responses: map[string]ports.ProviderResponse{
			route.ProviderPolygon: {Status: 200, Body: []byte(`{"from":"polygon"}`)},
			route.ProviderFMP:     {Status: 200, Body: []byte(`{"from":"fmp"}`)},
		},
		errs: map[string]error{},
	}
}

func (c *stubClient) Fetch(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if err := c.errs[req.Provider]; err != nil {
		return ports.ProviderResponse{}, err
	}
	resp := c.responses[req.Provider]
	resp.Provider = req.Provider
	return resp, nil
}

func (c *stubClient) Health(ctx context.Context, provider string) error { return nil }

func (c *stubClient) Providers() []string {
	return []string{route.ProviderFMP, route.ProviderPolygon}
}

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// captureRecorder collects usage events synchronously.
type captureRecorder struct {
	mu     sync.Mutex
	events []usage.Event
}

func (r *captureRecorder) Record(e usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) Flush(ctx context.Context) error { return nil }
func (r *captureRecorder) Close() error                    { return nil }

func (r *captureRecorder) last(t *testing.T) usage.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no usage events recorded")
	}
	return r.events[len(r.events)-1]
}

// -----------------------------------------------------------------------------
// Fixture
// -----------------------------------------------------------------------------

type fixture struct {
	clock      *clock.Fake
	principals *memory.PrincipalStore
	plans      *memory.PlanStore
	counters   *memory.CounterStore
	client     *stubClient
	recorder   *captureRecorder
	gw         *GatewayService
}

func proPlan() principal.PlanSnapshot {
	return principal.PlanSnapshot{
		PlanID:       "pro",
		Name:         "Pro",
		HourlyLimit:  1000,
		DailyLimit:   10000,
		MonthlyLimit: 100000,
		BurstLimit:   100,
		PriceMonthly: 4900,
		Capabilities: []principal.Capability{
			principal.CapOptions, principal.CapFundamentals, principal.CapRealtime,
			principal.CapGlobal, principal.CapTechnical,
		},
	}
}

func starterPlan() principal.PlanSnapshot {
	return principal.PlanSnapshot{
		PlanID:       "starter",
		Name:         "Starter",
		HourlyLimit:  100,
		DailyLimit:   1000,
		MonthlyLimit: 10000,
		BurstLimit:   2,
		PriceMonthly: 900,
		Capabilities: []principal.Capability{principal.CapFundamentals},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	f := &fixture{
		clock:      fc,
		principals: memory.NewPrincipalStore(),
		plans:      memory.NewPlanStore(proPlan(), starterPlan()),
		counters:   memory.NewCounterStore(0),
		client:     newStubClient(),
		recorder:   &captureRecorder{},
	}

	creds := NewCredentialService(CredentialDeps{
		Principals: f.principals,
		Plans:      f.plans,
		Verifier:   fakeVerifier{subject: "u-pro"},
		Clock:      fc,
		Log:        zerolog.Nop(),
	}, false)

	quotaSvc := NewQuotaService(QuotaDeps{Counters: f.counters, Clock: fc, Metrics: metrics.Nop{}})

	cacheSvc := NewCacheService(CacheDeps{
		Store:   memory.NewCacheStore(0, fc),
		Clock:   fc,
		Metrics: metrics.Nop{},
	}, 0)

	matcher, err := route.NewMatcher(route.Table())
	if err != nil {
		t.Fatal(err)
	}

	f.gw = NewGatewayService(GatewayDeps{
		Credentials: creds,
		Quota:       quotaSvc,
		Cache:       cacheSvc,
		Matcher:     matcher,
		Client:      f.client,
		Recorder:    f.recorder,
		Clock:       fc,
		IDGen:       idgen.NewSequential("req"),
		Metrics:     metrics.Nop{},
		Log:         zerolog.Nop(),
	})

	f.seed(t, principal.Principal{
		ID:                "u-pro",
		Email:             "pro@example.com",
		RequestToken:      "tok-pro",
		TokenNeverExpires: true,
		Plan:              proPlan(),
		SubscriptionState: principal.SubActive,
		RestrictionLevel:  principal.RestrictionNone,
	})
	f.seed(t, principal.Principal{
		ID:                "u-starter",
		RequestToken:      "tok-starter",
		TokenNeverExpires: true,
		Plan:              starterPlan(),
		SubscriptionState: principal.SubActive,
		RestrictionLevel:  principal.RestrictionNone,
	})
	return f
}

func (f *fixture) seed(t *testing.T, p principal.Principal) {
	t.Helper()
	p.SnapshotRefreshedAt = f.clock.Now()
	if err := f.principals.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) get(t *testing.T, token, path string) Response {
	t.Helper()
	return f.gw.Handle(context.Background(), Request{
		Method: "GET",
		Path:   path,
		Creds:  Credentials{Token: token},
	})
}

// -----------------------------------------------------------------------------
// Pipeline tests
// -----------------------------------------------------------------------------

func TestHandleQuoteHappyPath(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "tok-pro", "quotes/AAPL")

	if resp.HTTPStatus != 200 {
		t.Fatalf("status = %d, want 200: %+v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if resp.Envelope.Status != "success" {
		t.Errorf("envelope status = %q", resp.Envelope.Status)
	}
	if resp.Envelope.Metadata.Provider != route.ProviderFMP {
		t.Errorf("provider = %q, want fmp", resp.Envelope.Metadata.Provider)
	}
	if resp.Envelope.Metadata.Source != envelope.SourceLive {
		t.Errorf("source = %q, want live", resp.Envelope.Metadata.Source)
	}
	if resp.CacheStatus != "MISS" {
		t.Errorf("cache status = %q, want MISS", resp.CacheStatus)
	}
	if got := resp.RateRemaining[quota.WindowHour]; got != 999 {
		t.Errorf("hour remaining = %d, want 999", got)
	}

	ev := f.recorder.last(t)
	if !ev.Charged || ev.Identifier != "u-pro" || ev.EndpointClass != "quotes" {
		t.Errorf("usage event = %+v", ev)
	}
}

func TestHandleExpandsTargetPath(t *testing.T) {
	f := newFixture(t)

	f.get(t, "tok-pro", "quotes/AAPL")

	if n := f.client.callCount(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}
	call := f.client.calls[0]
	if call.Path != "/v3/quote/AAPL" {
		t.Errorf("upstream path = %q", call.Path)
	}
}

func TestHandleUnknownRoute(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "tok-pro", "nope/AAPL")

	if resp.HTTPStatus != 404 || resp.Envelope.Error.Code != envelope.CodeRouteUnknown {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if ev := f.recorder.last(t); ev.Charged {
		t.Error("unknown route must not charge quota")
	}
}

func TestHandleAuthInvalid(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "tok-wrong", "quotes/AAPL")

	if resp.HTTPStatus != 401 || resp.Envelope.Error.Code != envelope.CodeAuthInvalid {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
}

func TestCapabilityDeniedBeforeQuota(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "tok-starter", "options/chain/AAPL")

	if resp.HTTPStatus != 403 || resp.Envelope.Error.Code != envelope.CodeCapabilityDenied {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if ev := f.recorder.last(t); ev.Charged {
		t.Error("capability denial must not charge quota")
	}

	// The next admitted request still sees full capacity.
	allowed := f.get(t, "tok-starter", "quotes/AAPL")
	if got := allowed.RateRemaining[quota.WindowHour]; got != 99 {
		t.Errorf("hour remaining = %d, want 99", got)
	}
}

func TestQuotaExceededBurst(t *testing.T) {
	f := newFixture(t)

	f.get(t, "tok-starter", "quotes/AAPL")
	f.get(t, "tok-starter", "quotes/MSFT")
	resp := f.get(t, "tok-starter", "quotes/TSLA")

	if resp.HTTPStatus != 429 || resp.Envelope.Error.Code != envelope.CodeQuotaExceeded {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if resp.RetryAfter <= 0 || resp.RetryAfter > 60 {
		t.Errorf("retry after = %d", resp.RetryAfter)
	}
	if ev := f.recorder.last(t); ev.Charged {
		t.Error("rejected request must not charge quota")
	}

	// The burst window rolls over and traffic resumes.
	f.clock.Advance(time.Minute)
	if resp := f.get(t, "tok-starter", "quotes/TSLA"); resp.HTTPStatus != 200 {
		t.Errorf("after window roll status = %d", resp.HTTPStatus)
	}
}

func TestFallbackToSecondProvider(t *testing.T) {
	f := newFixture(t)
	f.client.responses[route.ProviderPolygon] = ports.ProviderResponse{Status: 503, Body: []byte(`oops`)}

	resp := f.get(t, "tok-pro", "reference/exchanges")

	if resp.HTTPStatus != 200 {
		t.Fatalf("status = %d: %+v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if resp.Envelope.Metadata.Provider != route.ProviderFMP {
		t.Errorf("provider = %q, want fallback to fmp", resp.Envelope.Metadata.Provider)
	}
	if n := f.client.callCount(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestFallbackOnTransportError(t *testing.T) {
	f := newFixture(t)
	f.client.errs[route.ProviderPolygon] = errors.New("connection refused")

	resp := f.get(t, "tok-pro", "reference/exchanges")

	if resp.HTTPStatus != 200 || resp.Envelope.Metadata.Provider != route.ProviderFMP {
		t.Fatalf("got %d from %q", resp.HTTPStatus, resp.Envelope.Metadata.Provider)
	}
}

func TestAllProvidersDown(t *testing.T) {
	f := newFixture(t)
	f.client.errs[route.ProviderPolygon] = errors.New("connection refused")
	f.client.errs[route.ProviderFMP] = errors.New("connection refused")

	resp := f.get(t, "tok-pro", "reference/exchanges")

	if resp.HTTPStatus != 502 || resp.Envelope.Error.Code != envelope.CodeUpstreamUnavailable {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	// Infrastructure failures still consume the admitted slot.
	if ev := f.recorder.last(t); !ev.Charged {
		t.Error("upstream failure after admission should stay charged")
	}
}

func TestNotFoundNotRetried(t *testing.T) {
	f := newFixture(t)
	f.client.responses[route.ProviderFMP] = ports.ProviderResponse{Status: 404, Body: []byte(`{}`)}

	resp := f.get(t, "tok-pro", "quotes/ZZZZ")

	if resp.HTTPStatus != 404 || resp.Envelope.Error.Code != envelope.CodeNotFound {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if n := f.client.callCount(); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 404)", n)
	}
}

func TestUpstreamAuthFailure(t *testing.T) {
	f := newFixture(t)
	f.client.responses[route.ProviderFMP] = ports.ProviderResponse{Status: 401, Body: []byte(`{}`)}

	resp := f.get(t, "tok-pro", "quotes/AAPL")

	if resp.HTTPStatus != 502 || resp.Envelope.Error.Code != envelope.CodeUpstreamAuth {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	if ev := f.recorder.last(t); ev.Charged {
		t.Error("a broken gateway credential is not the caller's problem")
	}
}

func TestTimeoutMapsToTimeout(t *testing.T) {
	f := newFixture(t)
	f.client.errs[route.ProviderFMP] = context.DeadlineExceeded

	resp := f.get(t, "tok-pro", "quotes/AAPL")

	if resp.HTTPStatus != 504 || resp.Envelope.Error.Code != envelope.CodeTimeout {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
}

func TestCacheHitCarriesAge(t *testing.T) {
	f := newFixture(t)

	first := f.get(t, "tok-pro", "quotes/AAPL")
	if first.CacheStatus != "MISS" {
		t.Fatalf("first cache status = %q", first.CacheStatus)
	}

	f.clock.Advance(10 * time.Second)
	second := f.get(t, "tok-pro", "quotes/AAPL")

	if second.CacheStatus != "HIT" {
		t.Fatalf("second cache status = %q", second.CacheStatus)
	}
	if second.Envelope.Metadata.Source != envelope.SourceCache {
		t.Errorf("source = %q", second.Envelope.Metadata.Source)
	}
	if second.Envelope.Metadata.CacheAgeSecs == nil || *second.Envelope.Metadata.CacheAgeSecs != 10 {
		t.Errorf("cache age = %v", second.Envelope.Metadata.CacheAgeSecs)
	}
	if n := f.client.callCount(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestCacheExpiresByClass(t *testing.T) {
	f := newFixture(t)

	f.get(t, "tok-pro", "quotes/AAPL")
	f.clock.Advance(31 * time.Second) // past the real_time TTL
	resp := f.get(t, "tok-pro", "quotes/AAPL")

	if resp.CacheStatus != "MISS" {
		t.Errorf("cache status = %q, want MISS after TTL", resp.CacheStatus)
	}
	if n := f.client.callCount(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestNoCacheBypasses(t *testing.T) {
	f := newFixture(t)

	f.get(t, "tok-pro", "quotes/AAPL")
	resp := f.gw.Handle(context.Background(), Request{
		Method:  "GET",
		Path:    "quotes/AAPL",
		Creds:   Credentials{Token: "tok-pro"},
		NoCache: true,
	})

	if resp.CacheStatus != "BYPASS" {
		t.Errorf("cache status = %q, want BYPASS", resp.CacheStatus)
	}
	if n := f.client.callCount(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestSubscriptionInactive(t *testing.T) {
	f := newFixture(t)
	f.seed(t, principal.Principal{
		ID:                "u-lapsed",
		RequestToken:      "tok-lapsed",
		TokenNeverExpires: true,
		Plan:              proPlan(),
		SubscriptionState: principal.SubCanceled,
	})

	resp := f.get(t, "tok-lapsed", "quotes/AAPL")

	if resp.HTTPStatus != 402 || resp.Envelope.Error.Code != envelope.CodeSubscriptionInactive {
		t.Fatalf("got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
}

func TestPaymentBlockedAndWarning(t *testing.T) {
	f := newFixture(t)
	f.seed(t, principal.Principal{
		ID: "u-blocked", RequestToken: "tok-blocked", TokenNeverExpires: true,
		Plan: proPlan(), SubscriptionState: principal.SubPastDue,
		RestrictionLevel: principal.RestrictionBlocked,
	})
	f.seed(t, principal.Principal{
		ID: "u-warned", RequestToken: "tok-warned", TokenNeverExpires: true,
		Plan: proPlan(), SubscriptionState: principal.SubPastDue,
		RestrictionLevel: principal.RestrictionWarning,
	})

	if resp := f.get(t, "tok-blocked", "quotes/AAPL"); resp.HTTPStatus != 402 || resp.Envelope.Error.Code != envelope.CodePaymentBlocked {
		t.Errorf("blocked: got %d %v", resp.HTTPStatus, resp.Envelope.Error)
	}
	resp := f.get(t, "tok-warned", "quotes/AAPL")
	if resp.HTTPStatus != 200 || !resp.Warning {
		t.Errorf("warned: status %d warning %v", resp.HTTPStatus, resp.Warning)
	}
}

func TestLimitedRestrictionScalesLimits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, principal.Principal{
		ID: "u-limited", RequestToken: "tok-limited", TokenNeverExpires: true,
		Plan: proPlan(), SubscriptionState: principal.SubPastDue,
		RestrictionLevel: principal.RestrictionLimited,
	})

	resp := f.get(t, "tok-limited", "quotes/AAPL")

	if resp.HTTPStatus != 200 {
		t.Fatalf("status = %d", resp.HTTPStatus)
	}
	if got := resp.RateLimits[quota.WindowHour]; got != 100 {
		t.Errorf("scaled hour limit = %d, want 100", got)
	}
}

// -----------------------------------------------------------------------------
// Batch
// -----------------------------------------------------------------------------

func TestBatchCountsEverySubRequest(t *testing.T) {
	f := newFixture(t)

	items := []BatchItem{
		{Method: "GET", Path: "quotes/AAPL"},
		{Method: "GET", Path: "options/chain/AAPL"}, // starter lacks options
		{Method: "GET", Path: "quotes/MSFT"},
	}
	out, batchErr := f.gw.HandleBatch(context.Background(), Credentials{Token: "tok-starter"}, items, false)
	if batchErr != nil {
		t.Fatal(batchErr)
	}
	if len(out) != 3 {
		t.Fatalf("responses = %d", len(out))
	}
	// Starter burst is 2: the first two sub-requests are admitted and the
	// gated one rejects on capability, the third rejects on quota because
	// batch slots charge at admission.
	if out[0].HTTPStatus != 200 {
		t.Errorf("item 0 status = %d", out[0].HTTPStatus)
	}
	if out[1].Envelope.Error == nil || out[1].Envelope.Error.Code != envelope.CodeCapabilityDenied {
		t.Errorf("item 1 error = %v", out[1].Envelope.Error)
	}
	if out[2].Envelope.Error == nil || out[2].Envelope.Error.Code != envelope.CodeQuotaExceeded {
		t.Errorf("item 2 error = %v", out[2].Envelope.Error)
	}
}

func TestBatchSizeLimit(t *testing.T) {
	f := newFixture(t)

	items := make([]BatchItem, MaxBatchSize+1)
	for i := range items {
		items[i] = BatchItem{Method: "GET", Path: fmt.Sprintf("quotes/S%d", i)}
	}
	_, err := f.gw.HandleBatch(context.Background(), Credentials{Token: "tok-pro"}, items, false)
	if err == nil || err.Code != envelope.CodeValidation {
		t.Fatalf("err = %v", err)
	}
}

func TestBatchRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.HandleBatch(context.Background(), Credentials{Token: "tok-wrong"}, []BatchItem{{Method: "GET", Path: "quotes/AAPL"}}, false)
	if err == nil || err.Code != envelope.CodeAuthInvalid {
		t.Fatalf("err = %v", err)
	}
}

// -----------------------------------------------------------------------------
// Non-JSON payloads
// -----------------------------------------------------------------------------

func TestNormalizeWrapsNonJSONBody(t *testing.T) {
	f := newFixture(t)
	f.client.responses[route.ProviderFMP] = ports.ProviderResponse{Status: 200, Body: []byte("plain text")}

	resp := f.get(t, "tok-pro", "quotes/AAPL")

	if resp.HTTPStatus != 200 {
		t.Fatalf("status = %d", resp.HTTPStatus)
	}
	if string(resp.Envelope.Data) != `"plain text"` {
		t.Errorf("data = %s", resp.Envelope.Data)
	}
}

// Query values alter the fingerprint, so different parameters never share a
// cache entry.
func TestQueryChangesFingerprint(t *testing.T) {
	a := Fingerprint("GET", "historical/AAPL/daily", url.Values{"from": {"2026-01-01"}}, "")
	b := Fingerprint("GET", "historical/AAPL/daily", url.Values{"from": {"2026-02-01"}}, "")
	if a == b {
		t.Error("different query must produce different fingerprints")
	}
	c := Fingerprint("GET", "historical/AAPL/daily", url.Values{"from": {"2026-01-01"}}, "")
	if a != c {
		t.Error("same request must produce the same fingerprint")
	}
}

func TestTierTagSeparatesFingerprint(t *testing.T) {
	a := Fingerprint("GET", "ticks/AAPL/trades", nil, "pro")
	b := Fingerprint("GET", "ticks/AAPL/trades", nil, "starter")
	if a == b {
		t.Error("tier tag must separate cache entries")
	}
}
