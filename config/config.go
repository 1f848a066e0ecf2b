// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Environment string           `yaml:"environment"` // "local" or "production"
	Server      ServerConfig     `yaml:"server"`
	Providers   []ProviderConfig `yaml:"providers"`
	Proxy       ProxyConfig      `yaml:"proxy"`
	Auth        AuthConfig       `yaml:"auth"`
	Cache       CacheConfig      `yaml:"cache"`
	Database    DatabaseConfig   `yaml:"database"`
	Usage       UsageConfig      `yaml:"usage"`
	Billing     BillingConfig    `yaml:"billing"`
	Plans       []PlanConfig     `yaml:"plans"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProviderConfig configures one upstream market-data provider.
type ProviderConfig struct {
	Name              string `yaml:"name"`
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	KeyParam          string `yaml:"key_param"` // query parameter carrying the key
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// ProxyConfig configures outbound HTTP behavior.
type ProxyConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// AuthConfig configures credential handling.
type AuthConfig struct {
	SigningKey     string        `yaml:"signing_key"` // HMAC secret for bearer tokens
	TokenTTL       time.Duration `yaml:"token_ttl"`
	AllowAnonymous bool          `yaml:"allow_anonymous"` // IP-keyed access, local only
}

// CacheConfig configures the response cache.
// Use "memory" for a single node or "redis" for a shared cache.
type CacheConfig struct {
	Mode        string        `yaml:"mode"` // "memory" or "redis"
	RedisURL    string        `yaml:"redis_url,omitempty"`
	MaxEntries  int           `yaml:"max_entries"`
	FillTimeout time.Duration `yaml:"fill_timeout"`
}

// DatabaseConfig configures persistence.
// Use "memory" for tests or "sqlite" for a durable store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	DSN    string `yaml:"dsn"`
}

// UsageConfig configures usage capture.
type UsageConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// BillingConfig configures the payment provider.
// Use "none" for local development or "stripe".
type BillingConfig struct {
	Mode          string `yaml:"mode"` // "none" or "stripe"
	StripeKey     string `yaml:"stripe_key,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// PlanConfig configures a subscription plan.
type PlanConfig struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	HourlyLimit   int64    `yaml:"hourly_limit"`
	DailyLimit    int64    `yaml:"daily_limit"`
	MonthlyLimit  int64    `yaml:"monthly_limit"`
	BurstLimit    int64    `yaml:"burst_limit"`
	PriceMonthly  int64    `yaml:"price_monthly"` // cents
	Metered       bool     `yaml:"metered"`
	StripePriceID string   `yaml:"stripe_price_id,omitempty"`
	Capabilities  []string `yaml:"capabilities"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${VAR} references so keys can live in the environment
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	FINGATE_ENV              - environment: local or production (default: local)
//	FINGATE_SERVER_HOST      - server host (default: 0.0.0.0)
//	FINGATE_SERVER_PORT      - server port (default: 8080)
//	POLYGON_BASE_URL         - Polygon-style provider base URL
//	POLYGON_API_KEY          - Polygon-style provider key
//	FMP_BASE_URL             - FMP-style provider base URL
//	FMP_API_KEY              - FMP-style provider key
//	PROXY_TIMEOUT            - outbound request timeout (default: 30s)
//	SIGNING_KEY              - bearer token HMAC secret
//	WEBHOOK_SECRET           - payment webhook signing secret
//	FINGATE_CACHE_MODE       - cache: memory or redis (default: memory)
//	FINGATE_REDIS_URL        - redis URL when cache mode is redis
//	FINGATE_DATABASE_DRIVER  - database: memory or sqlite (default: sqlite)
//	FINGATE_DATABASE_DSN     - sqlite path (default: fingate.db)
//	FINGATE_BILLING_MODE     - billing: none or stripe (default: none)
//	STRIPE_SECRET_KEY        - stripe secret key
//	FINGATE_LOG_LEVEL        - log level (default: info)
//	FINGATE_LOG_FORMAT       - json or console (default: json)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback tries the file first and falls back to the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// Provider returns the configuration for a named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// IsLocal reports whether this is a local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment != "production"
}

// applyEnvOverrides applies environment variables to the config. Variables
// always win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FINGATE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("FINGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FINGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	overrideProvider(cfg, "polygon", os.Getenv("POLYGON_BASE_URL"), os.Getenv("POLYGON_API_KEY"))
	overrideProvider(cfg, "fmp", os.Getenv("FMP_BASE_URL"), os.Getenv("FMP_API_KEY"))

	if v := os.Getenv("PROXY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Proxy.Timeout = d
		}
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Billing.WebhookSecret = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Billing.StripeKey = v
	}
	if v := os.Getenv("FINGATE_BILLING_MODE"); v != "" {
		cfg.Billing.Mode = v
	}
	if v := os.Getenv("FINGATE_CACHE_MODE"); v != "" {
		cfg.Cache.Mode = v
	}
	if v := os.Getenv("FINGATE_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("FINGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FINGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("FINGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FINGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FINGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FINGATE_ALLOW_ANONYMOUS"); v != "" {
		cfg.Auth.AllowAnonymous = parseBool(v)
	}
}

// overrideProvider updates or creates the named provider entry.
func overrideProvider(cfg *Config, name, baseURL, apiKey string) {
	if baseURL == "" && apiKey == "" {
		return
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == name {
			if baseURL != "" {
				cfg.Providers[i].BaseURL = baseURL
			}
			if apiKey != "" {
				cfg.Providers[i].APIKey = apiKey
			}
			return
		}
	}
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: name, BaseURL: baseURL, APIKey: apiKey})
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Proxy.Timeout == 0 {
		cfg.Proxy.Timeout = 30 * time.Second
	}
	if cfg.Proxy.MaxIdleConns == 0 {
		cfg.Proxy.MaxIdleConns = 100
	}
	if cfg.Proxy.IdleConnTimeout == 0 {
		cfg.Proxy.IdleConnTimeout = 90 * time.Second
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}

	if cfg.Cache.Mode == "" {
		cfg.Cache.Mode = "memory"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.FillTimeout == 0 {
		cfg.Cache.FillTimeout = 30 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "fingate.db"
	}

	if cfg.Usage.QueueSize == 0 {
		cfg.Usage.QueueSize = 10000
	}
	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}

	if cfg.Billing.Mode == "" {
		cfg.Billing.Mode = "none"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	setProviderDefaults(cfg)

	// Default plan set for a fresh install.
	if len(cfg.Plans) == 0 {
		cfg.Plans = []PlanConfig{
			{
				ID: "free", Name: "Free",
				HourlyLimit: 50, DailyLimit: 500, MonthlyLimit: 3000, BurstLimit: 5,
				Capabilities: []string{"fundamentals", "global"},
			},
			{
				ID: "pro", Name: "Pro", PriceMonthly: 4900,
				HourlyLimit: 1000, DailyLimit: 10000, MonthlyLimit: 100000, BurstLimit: 100,
				Capabilities: []string{"options", "fundamentals", "realtime", "global", "technical"},
			},
		}
	}
}

func setProviderDefaults(cfg *Config) {
	defaults := map[string]ProviderConfig{
		"polygon": {BaseURL: "https://api.polygon.io", KeyParam: "apiKey", RequestsPerMinute: 1000},
		"fmp":     {BaseURL: "https://financialmodelingprep.com/api", KeyParam: "apikey", RequestsPerMinute: 3000},
	}
	seen := map[string]bool{}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		seen[p.Name] = true
		def, ok := defaults[p.Name]
		if !ok {
			continue
		}
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.KeyParam == "" {
			p.KeyParam = def.KeyParam
		}
		if p.RequestsPerMinute == 0 {
			p.RequestsPerMinute = def.RequestsPerMinute
		}
	}
	for _, name := range []string{"polygon", "fmp"} {
		if !seen[name] {
			def := defaults[name]
			def.Name = name
			cfg.Providers = append(cfg.Providers, def)
		}
	}
}

func validate(cfg *Config) error {
	validEnvs := map[string]bool{"local": true, "production": true}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("environment must be 'local' or 'production', got %q", cfg.Environment)
	}

	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d].base_url is required", i)
		}
		if p.APIKey == "" && cfg.Environment == "production" {
			return fmt.Errorf("providers[%d] (%s): api_key is required in production", i, p.Name)
		}
	}

	validCacheModes := map[string]bool{"memory": true, "redis": true}
	if !validCacheModes[cfg.Cache.Mode] {
		return fmt.Errorf("cache.mode must be 'memory' or 'redis', got %q", cfg.Cache.Mode)
	}
	if cfg.Cache.Mode == "redis" && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache.mode is 'redis'")
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'memory' or 'sqlite', got %q", cfg.Database.Driver)
	}

	validBillingModes := map[string]bool{"none": true, "stripe": true}
	if !validBillingModes[cfg.Billing.Mode] {
		return fmt.Errorf("billing.mode must be 'none' or 'stripe', got %q", cfg.Billing.Mode)
	}
	if cfg.Billing.Mode == "stripe" {
		if cfg.Billing.StripeKey == "" {
			return fmt.Errorf("billing.stripe_key is required when billing.mode is 'stripe'")
		}
		if cfg.Billing.WebhookSecret == "" {
			return fmt.Errorf("billing.webhook_secret is required when billing.mode is 'stripe'")
		}
	}

	if cfg.Auth.SigningKey == "" && cfg.Environment == "production" {
		return fmt.Errorf("auth.signing_key is required in production")
	}
	if cfg.Auth.AllowAnonymous && cfg.Environment == "production" {
		return fmt.Errorf("auth.allow_anonymous is not permitted in production")
	}

	for i, plan := range cfg.Plans {
		if plan.ID == "" {
			return fmt.Errorf("plans[%d].id is required", i)
		}
	}
	return nil
}
