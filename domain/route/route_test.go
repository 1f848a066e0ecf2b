package route

import (
	"testing"
	"time"

	"github.com/saas2guys/fingate/domain/principal"
)

func tableMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(Table())
	if err != nil {
		t.Fatalf("table failed to compile: %v", err)
	}
	return m
}

func TestMatchQuote(t *testing.T) {
	m := tableMatcher(t)

	got := m.Match("quotes/AAPL")
	if got == nil {
		t.Fatal("no match for quotes/AAPL")
	}
	if got.Route.Pattern != "quotes/{symbol}" {
		t.Errorf("matched %q", got.Route.Pattern)
	}
	if got.Params["symbol"] != "AAPL" {
		t.Errorf("params = %v", got.Params)
	}
	if got.Route.Targets[0].Provider != ProviderFMP {
		t.Errorf("preferred provider = %q, want fmp", got.Route.Targets[0].Provider)
	}
}

func TestLiteralBeatsHole(t *testing.T) {
	m := tableMatcher(t)

	got := m.Match("quotes/gainers")
	if got == nil || got.Route.Pattern != "quotes/gainers" {
		t.Fatalf("quotes/gainers matched %v", got)
	}
	// "gainers" is a valid symbol string, so only ordering keeps it off
	// the parameterized route.
	if len(got.Params) != 0 {
		t.Errorf("unexpected params %v", got.Params)
	}
}

func TestTypedHoles(t *testing.T) {
	m := tableMatcher(t)

	if got := m.Match("historical/grouped/2025-06-13"); got == nil {
		t.Error("valid date should match")
	}
	if got := m.Match("historical/grouped/not-a-date"); got != nil {
		t.Errorf("malformed date matched %q", got.Route.Pattern)
	}
	if got := m.Match("forex/EURUSD"); got == nil || got.Params["pair"] != "EURUSD" {
		t.Errorf("forex pair match = %v", got)
	}
	if got := m.Match("forex/E!"); got != nil {
		t.Error("malformed pair should not match")
	}
}

func TestUnknownPath(t *testing.T) {
	m := tableMatcher(t)
	if got := m.Match("definitely/not/a/route"); got != nil {
		t.Errorf("matched %q", got.Route.Pattern)
	}
}

func TestFallbackOrder(t *testing.T) {
	m := tableMatcher(t)

	got := m.Match("reference/exchanges")
	if got == nil {
		t.Fatal("no match")
	}
	providers := got.Route.Providers()
	if len(providers) != 2 || providers[0] != ProviderPolygon || providers[1] != ProviderFMP {
		t.Errorf("providers = %v", providers)
	}
}

func TestExpandTarget(t *testing.T) {
	m := tableMatcher(t)

	got := m.Match("news/TSLA")
	if got == nil {
		t.Fatal("no match")
	}
	path, query := got.Route.Targets[0].Expand(got.Params)
	if path != "/v3/stock_news" {
		t.Errorf("path = %q", path)
	}
	if query.Get("tickers") != "TSLA" {
		t.Errorf("query = %v", query)
	}

	got = m.Match("technical/MSFT/rsi/daily")
	if got == nil {
		t.Fatal("no match")
	}
	path, query = got.Route.Targets[0].Expand(got.Params)
	if path != "/v3/technical_indicator/daily/MSFT" {
		t.Errorf("path = %q", path)
	}
	if query.Get("type") != "RSI" {
		t.Errorf("query = %v", query)
	}
}

func TestClass(t *testing.T) {
	r := Route{Pattern: "fundamentals/{symbol}/ratios"}
	if r.Class() != "fundamentals" {
		t.Errorf("Class() = %q", r.Class())
	}
	if (Route{Pattern: "news"}).Class() != "news" {
		t.Error("single-segment pattern should be its own class")
	}
}

func TestCapabilityGate(t *testing.T) {
	m := tableMatcher(t)

	got := m.Match("options/chain/AAPL")
	if got == nil {
		t.Fatal("no match")
	}
	free := principal.AnonymousPrincipal("192.0.2.9")
	if got.Route.Allowed(free) {
		t.Error("free plan should not reach options endpoints")
	}
	pro := free
	pro.Plan.Capabilities = []principal.Capability{principal.CapOptions}
	if !got.Route.Allowed(pro) {
		t.Error("options capability should unlock the route")
	}
}

func TestCacheClassTTLs(t *testing.T) {
	tests := []struct {
		class CacheClass
		want  time.Duration
	}{
		{CacheRealTime, 30 * time.Second},
		{CacheIntraday, 5 * time.Minute},
		{CacheDaily, time.Hour},
		{CacheNews, 30 * time.Minute},
		{CacheFundamental, 24 * time.Hour},
		{CacheStatic, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.class.TTL(); got != tt.want {
			t.Errorf("TTL(%s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}
