// Package http exposes the gateway over HTTP: the /api/v1 data surface,
// the billing webhook endpoint and the operational endpoints.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/app"
	"github.com/saas2guys/fingate/domain/envelope"
	"github.com/saas2guys/fingate/domain/quota"
)

// apiPrefix is the public path prefix of the data surface.
const apiPrefix = "/api/v1/"

// maxWebhookBody bounds billing webhook payloads.
const maxWebhookBody = 1 << 20

// RouterDeps contains everything the router serves.
type RouterDeps struct {
	Gateway  *app.GatewayService
	Webhooks *app.BillingWebhookService
	Metrics  http.Handler // nil disables the metrics endpoint
	Log      zerolog.Logger
	Timeout  time.Duration
}

// NewRouter builds the HTTP routing table.
func NewRouter(deps RouterDeps) *chi.Mux {
	h := &handler{
		gateway:  deps.Gateway,
		webhooks: deps.Webhooks,
		log:      deps.Log,
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", h.health)
	r.Get("/health/ready", h.ready)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	if deps.Webhooks != nil {
		r.Post("/billing/webhook", h.billingWebhook)
	}

	r.Get("/api/v1/endpoints", h.listEndpoints)
	r.Post("/api/v1/batch", h.batch)
	r.Handle("/api/v1/*", http.HandlerFunc(h.proxy))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	return r
}

type handler struct {
	gateway  *app.GatewayService
	webhooks *app.BillingWebhookService
	log      zerolog.Logger
}

// proxy serves one data request through the gateway pipeline.
func (h *handler) proxy(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	query, nocache := splitControlParams(r.URL.Query())

	resp := h.gateway.Handle(r.Context(), app.Request{
		Method:  r.Method,
		Path:    path,
		Query:   query,
		Creds:   extractCredentials(r),
		NoCache: nocache,
	})

	writeGatewayHeaders(w, resp)
	writeJSON(w, resp.HTTPStatus, resp.Envelope)
}

// batchRequest is the /api/v1/batch payload.
type batchRequest struct {
	Requests []struct {
		Method string            `json:"method"`
		Path   string            `json:"path"`
		Params map[string]string `json:"params"`
	} `json:"requests"`
	NoCache bool `json:"nocache"`
}

// batchResponse wraps per-item results with their would-be status codes.
type batchResponse struct {
	Results []batchItemResponse `json:"results"`
	Total   int                 `json:"total"`
}

type batchItemResponse struct {
	HTTPStatus int               `json:"http_status"`
	Body       envelope.Envelope `json:"body"`
}

func (h *handler) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		e := envelope.Err(envelope.CodeValidation, "malformed batch payload")
		writeJSON(w, e.Code.HTTPStatus(), envelope.Failure(e, envelope.Metadata{}))
		return
	}

	items := make([]app.BatchItem, len(req.Requests))
	for i, item := range req.Requests {
		method := item.Method
		if method == "" {
			method = http.MethodGet
		}
		q := url.Values{}
		for k, v := range item.Params {
			q.Set(k, v)
		}
		items[i] = app.BatchItem{Method: method, Path: strings.TrimPrefix(item.Path, apiPrefix), Query: q}
	}

	results, batchErr := h.gateway.HandleBatch(r.Context(), extractCredentials(r), items, req.NoCache)
	if batchErr != nil {
		writeJSON(w, batchErr.Code.HTTPStatus(), envelope.Failure(*batchErr, envelope.Metadata{}))
		return
	}

	out := batchResponse{Results: make([]batchItemResponse, len(results)), Total: len(results)}
	for i, res := range results {
		out.Results[i] = batchItemResponse{HTTPStatus: res.HTTPStatus, Body: res.Envelope}
	}
	writeJSON(w, http.StatusOK, out)
}

// endpointInfo is one row of the endpoint listing.
type endpointInfo struct {
	Pattern      string   `json:"pattern"`
	Providers    []string `json:"providers"`
	Cache        string   `json:"cache"`
	Capabilities []string `json:"capabilities,omitempty"`
}

func (h *handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	routes := h.gateway.Routes()
	out := make([]endpointInfo, len(routes))
	for i, rt := range routes {
		caps := make([]string, len(rt.Requires))
		for j, c := range rt.Requires {
			caps[j] = string(c)
		}
		out[i] = endpointInfo{
			Pattern:      rt.Pattern,
			Providers:    rt.Providers(),
			Cache:        string(rt.Cache),
			Capabilities: caps,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": out})
}

func (h *handler) billingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
		return
	}

	if err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.log.Warn().Err(err).Msg("webhook rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

// health reports liveness plus per-provider reachability. It always answers
// 200; a failing provider degrades the payload, not the status code.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	providers, healthy := h.providerStatus(r.Context())
	state := "ok"
	if !healthy {
		state = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": state, "providers": providers})
}

// ready is the load-balancer variant: a degraded provider set turns into 503.
func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	providers, healthy := h.providerStatus(r.Context())

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "providers": providers})
}

// providerStatus checks each upstream provider with a short deadline.
func (h *handler) providerStatus(ctx context.Context) (map[string]string, bool) {
	providers := map[string]string{}
	healthy := true

	for _, name := range h.gateway.Providers() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := h.gateway.ProviderHealth(checkCtx, name)
		cancel()
		if err != nil {
			providers[name] = "degraded"
			healthy = false
		} else {
			providers[name] = "ok"
		}
	}
	return providers, healthy
}

// extractCredentials pulls the bearer token, opaque request token and client
// IP out of a request. The token may arrive as a header or a query parameter.
func extractCredentials(r *http.Request) app.Credentials {
	creds := app.Credentials{IP: clientIP(r)}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		creds.Bearer = strings.TrimPrefix(auth, "Bearer ")
	}
	if tok := r.Header.Get("X-Request-Token"); tok != "" {
		creds.Token = tok
	} else if tok := r.URL.Query().Get("request_token"); tok != "" {
		creds.Token = tok
	}
	return creds
}

// splitControlParams removes gateway control parameters from the query so
// they are not forwarded upstream or mixed into cache fingerprints.
func splitControlParams(q url.Values) (url.Values, bool) {
	nocache := false
	if v, ok := q["nocache"]; ok {
		nocache = len(v) == 0 || v[0] == "" || v[0] == "1" || v[0] == "true"
	}
	out := url.Values{}
	for k, vs := range q {
		if k == "nocache" || k == "request_token" {
			continue
		}
		out[k] = vs
	}
	return out, nocache
}

// writeGatewayHeaders translates a gateway response into the header contract:
// rate limit state, cache disposition and the payment warning flag.
func writeGatewayHeaders(w http.ResponseWriter, resp app.Response) {
	for _, win := range []quota.Window{quota.WindowHour, quota.WindowDay, quota.WindowMonth} {
		if limit, ok := resp.RateLimits[win]; ok {
			w.Header().Set("X-RateLimit-Limit-"+windowSuffix(win), strconv.FormatInt(limit, 10))
		}
		if rem, ok := resp.RateRemaining[win]; ok {
			w.Header().Set("X-RateLimit-Remaining-"+windowSuffix(win), strconv.FormatInt(rem, 10))
		}
		if reset, ok := resp.RateReset[win]; ok {
			w.Header().Set("X-RateLimit-Reset-"+windowSuffix(win), strconv.Itoa(reset))
		}
	}
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	if resp.CacheStatus != "" {
		w.Header().Set("Cache-Status", resp.CacheStatus)
	}
	if resp.CacheStatus == "HIT" {
		w.Header().Set("Cache-Age", strconv.FormatInt(int64(resp.CacheAge.Seconds()), 10))
	}
	if resp.Warning {
		w.Header().Set("X-Payment-Warning", "payment_failed")
	}
}

func windowSuffix(win quota.Window) string {
	switch win {
	case quota.WindowMinute:
		return "Minute"
	case quota.WindowHour:
		return "Hour"
	case quota.WindowDay:
		return "Day"
	case quota.WindowMonth:
		return "Month"
	}
	return string(win)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("ip", clientIP(r)).
				Msg("request")
		})
	}
}

// echoRequestID reflects the request ID back to the caller.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating address. RealIP middleware already
// rewrites RemoteAddr from forwarding headers; this strips the port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.HasSuffix(addr, "]") {
		addr = addr[:i]
	}
	return strings.Trim(addr, "[]")
}
