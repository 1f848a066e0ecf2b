package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/saas2guys/fingate/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server:      config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Providers: []config.ProviderConfig{
			{Name: "polygon", BaseURL: "https://api.polygon.io", APIKey: "pk", KeyParam: "apiKey", RequestsPerMinute: 1000},
			{Name: "fmp", BaseURL: "https://financialmodelingprep.com/api", APIKey: "fk", KeyParam: "apikey", RequestsPerMinute: 3000},
		},
		Auth:     config.AuthConfig{SigningKey: "test-signing-key"},
		Cache:    config.CacheConfig{Mode: "memory"},
		Database: config.DatabaseConfig{Driver: "memory"},
		Billing:  config.BillingConfig{Mode: "none"},
		Metrics:  config.MetricsConfig{Enabled: true},
		Plans: []config.PlanConfig{
			{ID: "free", Name: "Free", HourlyLimit: 10, DailyLimit: 100, MonthlyLimit: 1000, BurstLimit: 2, Capabilities: []string{"fundamentals"}},
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.recorder.Close()
		a.closeResources()
	})
	return a
}

func TestNewWiresMemoryApp(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}

func TestNewServesMetrics(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestNewMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	a := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestNewRejectsUnauthenticated(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quotes/AAPL", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewWiresSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "fingate.db")
	a := newTestApp(t, cfg)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/endpoints", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("endpoints = %d", rec.Code)
	}
}

func TestNewRejectsBadRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Mode = "redis"
	cfg.Cache.RedisURL = "://not-a-url"
	if _, err := New(cfg); err == nil {
		t.Fatal("want error for bad redis url")
	}
}
