package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/ports"
)

type nopMetrics struct {
	retries int32
}

func (m *nopMetrics) RequestObserved(class, provider, source string, status int, dur time.Duration) {}
func (m *nopMetrics) QuotaRejected(reason string)                                                   {}
func (m *nopMetrics) CacheObserved(result string)                                                   {}
func (m *nopMetrics) UpstreamRetry(provider string)                                                 { atomic.AddInt32(&m.retries, 1) }
func (m *nopMetrics) UsageDropped(n int)                                                            {}

func newTestClient(t *testing.T, srv *httptest.Server, rpm int) (*Client, *nopMetrics) {
	t.Helper()
	m := &nopMetrics{}
	c, err := NewClient(Config{Timeout: 5 * time.Second}, []ProviderConfig{
		{Name: "fmp", BaseURL: srv.URL, APIKey: "k-secret", KeyParam: "apikey", RPM: rpm},
	}, m, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return c, m
}

func TestFetchInjectsCredential(t *testing.T) {
	var gotKey, gotSymbol string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("apikey")
		gotSymbol = r.URL.Query().Get("tickers")
		w.Write([]byte(`[{"price":187.4}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	resp, err := c.Fetch(context.Background(), ports.ProviderRequest{
		Provider: "fmp",
		Path:     "/v3/stock_news",
		Query:    url.Values{"tickers": {"AAPL"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || resp.Provider != "fmp" {
		t.Errorf("resp = %+v", resp)
	}
	if gotKey != "k-secret" || gotSymbol != "AAPL" {
		t.Errorf("upstream saw apikey=%q tickers=%q", gotKey, gotSymbol)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, m := newTestClient(t, srv, 0)
	resp, err := c.Fetch(context.Background(), ports.ProviderRequest{Provider: "fmp", Path: "/v3/quote/AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("status = %d calls = %d", resp.Status, calls)
	}
	if atomic.LoadInt32(&m.retries) != 1 {
		t.Errorf("retry metric = %d", m.retries)
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	resp, err := c.Fetch(context.Background(), ports.ProviderRequest{Provider: "fmp", Path: "/v3/quote/AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	// The final response comes back for the caller to classify.
	if resp.Status != http.StatusBadGateway {
		t.Errorf("status = %d", resp.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestFetchDoesNotRetryDeterministicFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	resp, err := c.Fetch(context.Background(), ports.ProviderRequest{Provider: "fmp", Path: "/v3/quote/NOPE"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 404 || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("status = %d calls = %d", resp.Status, calls)
	}
}

func TestFetchBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// 1 rpm: the first call drains the bucket, the second cannot wait
	// long enough within the bounded budget wait.
	c, _ := newTestClient(t, srv, 1)
	if _, err := c.Fetch(context.Background(), ports.ProviderRequest{Provider: "fmp", Path: "/a"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := c.Fetch(context.Background(), ports.ProviderRequest{Provider: "fmp", Path: "/b"})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("err = %v, want budget exhausted", err)
	}
}

func TestFetchUnknownProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, 0)
	_, err := c.Fetch(context.Background(), ports.ProviderRequest{Provider: "bloomberg", Path: "/x"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden) // reachable even if it rejects us
	}))

	c, _ := newTestClient(t, srv, 0)
	if err := c.Health(context.Background(), "fmp"); err != nil {
		t.Errorf("reachable provider reported down: %v", err)
	}

	srv.Close()
	if err := c.Health(context.Background(), "fmp"); err == nil {
		t.Error("closed server should report unreachable")
	}
}
