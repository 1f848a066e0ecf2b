package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/domain/envelope"
	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/domain/quota"
	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/domain/usage"
	"github.com/saas2guys/fingate/ports"
)

// Request is one API call after HTTP decoding.
type Request struct {
	Method  string
	Path    string // relative to the API prefix, e.g. "quotes/AAPL"
	Query   url.Values
	Creds   Credentials
	NoCache bool
}

// Response carries the envelope plus everything the HTTP layer needs for
// headers.
type Response struct {
	Envelope   envelope.Envelope
	HTTPStatus int

	CacheStatus string
	CacheAge    time.Duration

	RateLimits    map[quota.Window]int64
	RateRemaining map[quota.Window]int64
	RateReset     map[quota.Window]int // seconds until each window rolls over
	RetryAfter    int                  // seconds; nonzero only on quota rejections
	Warning       bool                 // principal carries a payment warning
}

// GatewayService runs the request pipeline: credentials, routing, quota,
// cache, upstream dispatch, normalization and usage capture.
type GatewayService struct {
	credentials *CredentialService
	quota       *QuotaService
	cache       *CacheService
	matcher     *route.Matcher
	client      ports.ProviderClient
	recorder    ports.UsageRecorder
	clock       ports.Clock
	idGen       ports.IDGenerator
	metrics     ports.Metrics
	log         zerolog.Logger
}

// GatewayDeps contains dependencies for GatewayService.
type GatewayDeps struct {
	Credentials *CredentialService
	Quota       *QuotaService
	Cache       *CacheService
	Matcher     *route.Matcher
	Client      ports.ProviderClient
	Recorder    ports.UsageRecorder
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Metrics     ports.Metrics
	Log         zerolog.Logger
}

// NewGatewayService creates a gateway service.
func NewGatewayService(deps GatewayDeps) *GatewayService {
	return &GatewayService{
		credentials: deps.Credentials,
		quota:       deps.Quota,
		cache:       deps.Cache,
		matcher:     deps.Matcher,
		client:      deps.Client,
		recorder:    deps.Recorder,
		clock:       deps.Clock,
		idGen:       deps.IDGen,
		metrics:     deps.Metrics,
		log:         deps.Log,
	}
}

// Routes returns the compiled route table for the endpoint listing.
func (s *GatewayService) Routes() []route.Route {
	return s.matcher.Routes()
}

// Providers returns the configured provider names.
func (s *GatewayService) Providers() []string {
	return s.client.Providers()
}

// ProviderHealth checks one provider.
func (s *GatewayService) ProviderHealth(ctx context.Context, name string) error {
	return s.client.Health(ctx, name)
}

// Handle runs one request through the pipeline.
func (s *GatewayService) Handle(ctx context.Context, req Request) Response {
	start := s.clock.Now()

	pr, authErr := s.credentials.Resolve(ctx, req.Creds)
	if authErr != nil {
		return s.fail(req, pr, *authErr, start, "")
	}

	match := s.matcher.Match(req.Path)
	if match == nil {
		e := envelope.Err(envelope.CodeRouteUnknown, "no route for %s", req.Path)
		return s.fail(req, pr, e, start, "")
	}
	rt := match.Route
	class := rt.Class()

	// Capability gating precedes quota: a denied request never charges.
	if !rt.Allowed(pr) {
		e := envelope.Err(envelope.CodeCapabilityDenied, "plan %s lacks access to %s endpoints", pr.Plan.PlanID, class)
		return s.fail(req, pr, e, start, class)
	}

	decision, err := s.quota.Admit(ctx, pr)
	if err != nil {
		s.log.Error().Err(err).Msg("quota admission failed")
		e := envelope.Err(envelope.CodeInternal, "internal error")
		return s.fail(req, pr, e, start, class)
	}
	if !decision.Allowed {
		resp := s.fail(req, pr, quotaError(decision), start, class)
		resp.RateLimits = decision.Limits
		resp.RateRemaining = decision.Remaining
		resp.RateReset = decision.Reset
		resp.RetryAfter = decision.RetryAfter
		return resp
	}

	tierTag := ""
	if rt.VariesByTier {
		tierTag = pr.Plan.PlanID
	}
	key := Fingerprint(req.Method, req.Path, req.Query, tierTag)

	result, err := s.cache.Fetch(ctx, key, rt.Cache, req.NoCache, func(fillCtx context.Context) (ports.CacheEntry, error) {
		return s.dispatch(fillCtx, rt, match.Params, req.Query)
	})

	var env envelope.Envelope
	var cacheAge time.Duration
	source := envelope.SourceLive
	providerName := ""

	switch {
	case err != nil:
		env = envelope.Failure(dispatchError(ctx, err), envelope.Stamp(envelope.Metadata{EndpointClass: class}, s.clock.Now()))
	default:
		providerName = result.Entry.Provider
		meta := envelope.Metadata{Provider: providerName, Source: envelope.SourceLive, EndpointClass: class}
		switch result.Source {
		case CacheHit:
			source = envelope.SourceCache
			cacheAge = result.Age
			meta = envelope.WithCacheAge(meta, result.Age)
		case CacheCoalesced:
			source = envelope.SourceCoalesced
			meta.Source = envelope.SourceCoalesced
		}
		env = s.normalize(result.Entry, envelope.Stamp(meta, s.clock.Now()))
	}

	httpStatus := 200
	if env.Error != nil {
		httpStatus = env.Error.Code.HTTPStatus()
	}

	s.record(req, pr, env, class, providerName, source, start, true)

	resp := Response{
		Envelope:      env,
		HTTPStatus:    httpStatus,
		CacheStatus:   cacheStatus(req.NoCache, result.Source),
		CacheAge:      cacheAge,
		RateLimits:    decision.Limits,
		RateRemaining: decision.Remaining,
		RateReset:     decision.Reset,
		Warning:       decision.Warning,
	}
	return resp
}

// MaxBatchSize bounds the number of sub-requests in one batch call.
const MaxBatchSize = 50

// BatchItem is one sub-request inside a batch call.
type BatchItem struct {
	Method string
	Path   string
	Query  url.Values
}

// HandleBatch runs up to MaxBatchSize sub-requests for one principal.
// Credentials are resolved once. Unlike single requests, every admitted
// sub-request is charged at admission, before routing: submitting a batch
// slot consumes it even when the sub-request is then gated or fails.
func (s *GatewayService) HandleBatch(ctx context.Context, creds Credentials, items []BatchItem, nocache bool) ([]Response, *envelope.Error) {
	if len(items) > MaxBatchSize {
		e := envelope.Err(envelope.CodeValidation, "batch exceeds %d sub-requests", MaxBatchSize)
		return nil, &e
	}

	pr, authErr := s.credentials.Resolve(ctx, creds)
	if authErr != nil {
		return nil, authErr
	}

	out := make([]Response, len(items))
	for i, item := range items {
		out[i] = s.handleSub(ctx, pr, Request{
			Method:  item.Method,
			Path:    item.Path,
			Query:   item.Query,
			NoCache: nocache,
		})
	}
	return out, nil
}

// handleSub is the batch variant of Handle: quota first, then routing.
func (s *GatewayService) handleSub(ctx context.Context, pr principal.Principal, req Request) Response {
	start := s.clock.Now()

	decision, err := s.quota.Admit(ctx, pr)
	if err != nil {
		s.log.Error().Err(err).Msg("quota admission failed")
		e := envelope.Err(envelope.CodeInternal, "internal error")
		return s.fail(req, pr, e, start, "")
	}
	if !decision.Allowed {
		resp := s.fail(req, pr, quotaError(decision), start, "")
		resp.RateLimits = decision.Limits
		resp.RateRemaining = decision.Remaining
		resp.RateReset = decision.Reset
		resp.RetryAfter = decision.RetryAfter
		return resp
	}

	match := s.matcher.Match(req.Path)
	if match == nil {
		e := envelope.Err(envelope.CodeRouteUnknown, "no route for %s", req.Path)
		return s.fail(req, pr, e, start, "")
	}
	rt := match.Route
	class := rt.Class()

	if !rt.Allowed(pr) {
		e := envelope.Err(envelope.CodeCapabilityDenied, "plan %s lacks access to %s endpoints", pr.Plan.PlanID, class)
		resp := s.fail(req, pr, e, start, class)
		resp.RateLimits = decision.Limits
		resp.RateRemaining = decision.Remaining
		resp.RateReset = decision.Reset
		return resp
	}

	tierTag := ""
	if rt.VariesByTier {
		tierTag = pr.Plan.PlanID
	}
	key := Fingerprint(req.Method, req.Path, req.Query, tierTag)

	result, err := s.cache.Fetch(ctx, key, rt.Cache, req.NoCache, func(fillCtx context.Context) (ports.CacheEntry, error) {
		return s.dispatch(fillCtx, rt, match.Params, req.Query)
	})

	var env envelope.Envelope
	var cacheAge time.Duration
	source := envelope.SourceLive
	providerName := ""

	switch {
	case err != nil:
		env = envelope.Failure(dispatchError(ctx, err), envelope.Stamp(envelope.Metadata{EndpointClass: class}, s.clock.Now()))
	default:
		providerName = result.Entry.Provider
		meta := envelope.Metadata{Provider: providerName, Source: envelope.SourceLive, EndpointClass: class}
		switch result.Source {
		case CacheHit:
			source = envelope.SourceCache
			cacheAge = result.Age
			meta = envelope.WithCacheAge(meta, result.Age)
		case CacheCoalesced:
			source = envelope.SourceCoalesced
			meta.Source = envelope.SourceCoalesced
		}
		env = s.normalize(result.Entry, envelope.Stamp(meta, s.clock.Now()))
	}

	httpStatus := 200
	if env.Error != nil {
		httpStatus = env.Error.Code.HTTPStatus()
	}
	s.record(req, pr, env, class, providerName, source, start, true)

	return Response{
		Envelope:      env,
		HTTPStatus:    httpStatus,
		CacheStatus:   cacheStatus(req.NoCache, result.Source),
		CacheAge:      cacheAge,
		RateLimits:    decision.Limits,
		RateRemaining: decision.Remaining,
		RateReset:     decision.Reset,
		Warning:       decision.Warning,
	}
}

// dispatch tries the route's targets in preference order. Fallback happens
// only on retryable outcomes; deterministic failures surface immediately.
func (s *GatewayService) dispatch(ctx context.Context, rt *route.Route, params map[string]string, query url.Values) (ports.CacheEntry, error) {
	var lastErr error
	for _, target := range rt.Targets {
		path, extra := target.Expand(params)
		merged := mergeQuery(query, extra)

		resp, err := s.client.Fetch(ctx, ports.ProviderRequest{
			Provider: target.Provider,
			Path:     path,
			Query:    merged,
		})
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("provider", target.Provider).Str("pattern", rt.Pattern).
				Msg("provider dispatch failed")
			continue
		}

		switch envelope.ClassifyStatus(resp.Status) {
		case envelope.OutcomeRetryable:
			lastErr = errProviderStatus{provider: resp.Provider, status: resp.Status}
			continue
		default:
			return ports.CacheEntry{
				Payload:  resp.Body,
				Provider: resp.Provider,
				Status:   resp.Status,
				Class:    rt.Cache,
				StoredAt: s.clock.Now(),
			}, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("route has no targets")
	}
	return ports.CacheEntry{}, lastErr
}

// normalize wraps a provider payload in the unified envelope (C7). The body
// passes through verbatim; only upstream failures are translated.
func (s *GatewayService) normalize(entry ports.CacheEntry, meta envelope.Metadata) envelope.Envelope {
	switch envelope.ClassifyStatus(entry.Status) {
	case envelope.OutcomeSuccess:
		payload := entry.Payload
		if len(payload) == 0 || !json.Valid(payload) {
			payload, _ = json.Marshal(string(entry.Payload))
		}
		return envelope.Success(payload, meta)
	case envelope.OutcomeNotFound:
		return envelope.Failure(envelope.Err(envelope.CodeNotFound, "no data for this request"), meta)
	case envelope.OutcomeAuth:
		s.log.Error().Str("provider", entry.Provider).Int("status", entry.Status).
			Msg("provider rejected our credential")
		return envelope.Failure(envelope.Err(envelope.CodeUpstreamAuth, "provider rejected gateway credentials"), meta)
	case envelope.OutcomeClientError:
		return envelope.Failure(envelope.Err(envelope.CodeValidation, "provider rejected the request parameters"), meta)
	}
	return envelope.Failure(envelope.Err(envelope.CodeUpstreamUnavailable, "provider unavailable"), meta)
}

// fail builds a failure response and records the attempt. Failures before
// admission never charge quota; ChargesQuota on the code captures that.
func (s *GatewayService) fail(req Request, pr principal.Principal, e envelope.Error, start time.Time, class string) Response {
	env := envelope.Failure(e, envelope.Stamp(envelope.Metadata{EndpointClass: class}, s.clock.Now()))
	s.record(req, pr, env, class, "", envelope.SourceLive, start, false)
	return Response{Envelope: env, HTTPStatus: e.Code.HTTPStatus()}
}

// record emits the usage event (C8). admitted marks requests that passed
// quota; their counters were already charged by Admit.
func (s *GatewayService) record(req Request, pr principal.Principal, env envelope.Envelope, class, provider, source string, start time.Time, admitted bool) {
	now := s.clock.Now()
	status := 200
	errCode := ""
	charged := admitted
	if env.Error != nil {
		status = env.Error.Code.HTTPStatus()
		errCode = string(env.Error.Code)
		charged = admitted && env.Error.Code.ChargesQuota()
	}

	dur := now.Sub(start)
	s.metrics.RequestObserved(class, provider, source, status, dur)
	s.recorder.Record(usage.Event{
		ID:            s.idGen.New(),
		Identifier:    pr.QuotaIdentifier(),
		EndpointClass: class,
		Path:          req.Path,
		Provider:      provider,
		Source:        source,
		Status:        status,
		ErrorCode:     errCode,
		LatencyMS:     dur.Milliseconds(),
		Charged:       charged,
		At:            now,
	})
}

type errProviderStatus struct {
	provider string
	status   int
}

func (e errProviderStatus) Error() string {
	return fmt.Sprintf("%s returned retryable status %d", e.provider, e.status)
}

func quotaError(d quota.Decision) envelope.Error {
	switch d.Reason {
	case quota.ReasonSubscriptionInactive:
		return envelope.Err(envelope.CodeSubscriptionInactive, "subscription is not active")
	case quota.ReasonPaymentBlocked:
		return envelope.Err(envelope.CodePaymentBlocked, "access blocked after repeated payment failures")
	}
	return envelope.QuotaExceeded(string(d.ExceededWindow))
}

// dispatchError maps dispatch failures to envelope errors. A caller or
// deadline timeout reports TIMEOUT; anything else exhausted the providers.
func dispatchError(ctx context.Context, err error) envelope.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return envelope.Err(envelope.CodeTimeout, "upstream call timed out")
	}
	return envelope.Err(envelope.CodeUpstreamUnavailable, "all providers failed")
}

func cacheStatus(nocache bool, source string) string {
	if nocache {
		return "BYPASS"
	}
	switch source {
	case CacheHit:
		return "HIT"
	case CacheCoalesced:
		return "MISS"
	case "":
		return ""
	}
	return "MISS"
}

func mergeQuery(base url.Values, extra url.Values) url.Values {
	if len(extra) == 0 {
		return base
	}
	merged := url.Values{}
	for k, vs := range base {
		merged[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		for _, v := range vs {
			merged.Set(k, v)
		}
	}
	return merged
}
