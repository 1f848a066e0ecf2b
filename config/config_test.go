package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fingate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
environment: local
providers:
  - name: polygon
    api_key: pk_test
  - name: fmp
    api_key: fk_test
`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	p, ok := cfg.Provider("polygon")
	if !ok || p.BaseURL != "https://api.polygon.io" || p.KeyParam != "apiKey" || p.RequestsPerMinute != 1000 {
		t.Errorf("polygon defaults = %+v", p)
	}
	f, _ := cfg.Provider("fmp")
	if f.KeyParam != "apikey" || f.RequestsPerMinute != 3000 {
		t.Errorf("fmp defaults = %+v", f)
	}
	if cfg.Proxy.Timeout != 30*time.Second {
		t.Errorf("proxy timeout = %v", cfg.Proxy.Timeout)
	}
	if len(cfg.Plans) == 0 {
		t.Error("default plans missing")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_FMP_KEY", "from-env")
	cfg, err := Load(writeConfig(t, `
environment: local
providers:
  - name: fmp
    api_key: ${TEST_FMP_KEY}
`))
	if err != nil {
		t.Fatal(err)
	}
	p, _ := cfg.Provider("fmp")
	if p.APIKey != "from-env" {
		t.Errorf("api key = %q", p.APIKey)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "winner")
	t.Setenv("PROXY_TIMEOUT", "5s")
	t.Setenv("FINGATE_SERVER_PORT", "9090")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	p, _ := cfg.Provider("polygon")
	if p.APIKey != "winner" {
		t.Errorf("api key = %q", p.APIKey)
	}
	if cfg.Proxy.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Proxy.Timeout)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad cache mode", minimalYAML + "\ncache:\n  mode: memcached\n"},
		{"redis without url", minimalYAML + "\ncache:\n  mode: redis\n"},
		{"bad driver", minimalYAML + "\ndatabase:\n  driver: postgres\n"},
		{"stripe without key", minimalYAML + "\nbilling:\n  mode: stripe\n"},
		{"bad environment", "environment: staging\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func TestProductionRequiresKeys(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment: production
auth:
  signing_key: secret
providers:
  - name: polygon
  - name: fmp
    api_key: fk
`))
	if err == nil {
		t.Error("production without provider keys must fail")
	}
}

func TestProductionRejectsAnonymous(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment: production
auth:
  signing_key: secret
  allow_anonymous: true
providers:
  - name: polygon
    api_key: pk
  - name: fmp
    api_key: fk
`))
	if err == nil {
		t.Error("anonymous access in production must fail validation")
	}
}

func TestHolderReload(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	var notified *Config
	h.OnChange(func(c *Config) { notified = c })

	if err := os.WriteFile(path, []byte(minimalYAML+"\nlogging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(); err != nil {
		t.Fatal(err)
	}

	if h.Get().Logging.Level != "debug" {
		t.Errorf("level = %q", h.Get().Logging.Level)
	}
	if notified == nil || notified.Logging.Level != "debug" {
		t.Error("listener not notified with new config")
	}
}

func TestHolderKeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte("environment: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(); err == nil {
		t.Fatal("broken file must fail reload")
	}
	if h.Get().Environment != "local" {
		t.Error("old config lost after failed reload")
	}
}
