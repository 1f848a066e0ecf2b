// Package upstream implements the provider client: per-provider HTTP
// dispatch with rate budgets, credential injection and bounded retries.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/saas2guys/fingate/domain/envelope"
	"github.com/saas2guys/fingate/ports"
)

// ErrBudgetExhausted is returned when a provider's rate budget cannot admit
// the call within the bounded wait. Treated as retryable by the dispatcher.
var ErrBudgetExhausted = errors.New("provider rate budget exhausted")

// ErrUnknownProvider is returned for a provider name not in the config.
var ErrUnknownProvider = errors.New("unknown provider")

const (
	maxRetries     = 2
	backoffBase    = 100 * time.Millisecond
	backoffCap     = time.Second
	budgetWait     = 250 * time.Millisecond
	deadlineSlack  = 50 * time.Millisecond
	maxResponseLen = 50 << 20
)

// ProviderConfig describes one upstream data provider.
type ProviderConfig struct {
	Name     string
	BaseURL  string
	APIKey   string
	KeyParam string // query parameter carrying the credential
	RPM      int    // requests per minute budget; 0 means unlimited
}

type provider struct {
	name     string
	base     *url.URL
	apiKey   string
	keyParam string
	limiter  *rate.Limiter
}

// Client implements ports.ProviderClient.
type Client struct {
	client    *http.Client
	providers map[string]*provider
	metrics   ports.Metrics
	log       zerolog.Logger
}

// Config contains client-wide settings.
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// NewClient creates a provider client.
func NewClient(cfg Config, providers []ProviderConfig, metrics ports.Metrics, log zerolog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 100
	}
	idleTimeout := cfg.IdleConnTimeout
	if idleTimeout == 0 {
		idleTimeout = 90 * time.Second
	}

	c := &Client{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        maxIdle,
				MaxIdleConnsPerHost: maxIdle,
				IdleConnTimeout:     idleTimeout,
			},
			Timeout: timeout,
		},
		providers: make(map[string]*provider, len(providers)),
		metrics:   metrics,
		log:       log,
	}

	for _, pc := range providers {
		base, err := url.Parse(pc.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("provider %s: parse base URL: %w", pc.Name, err)
		}
		limit := rate.Inf
		burst := 1
		if pc.RPM > 0 {
			limit = rate.Limit(float64(pc.RPM) / 60.0)
			burst = pc.RPM / 10
			if burst < 1 {
				burst = 1
			}
		}
		c.providers[pc.Name] = &provider{
			name:     pc.Name,
			base:     base,
			apiKey:   pc.APIKey,
			keyParam: pc.KeyParam,
			limiter:  rate.NewLimiter(limit, burst),
		}
	}
	return c, nil
}

// Providers returns the configured provider names, sorted.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fetch performs one upstream call, retrying retryable failures within the
// context deadline. The credential never appears in logs or errors.
func (c *Client) Fetch(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	p, ok := c.providers[req.Provider]
	if !ok {
		return ports.ProviderResponse{}, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}

	if err := c.reserve(ctx, p); err != nil {
		return ports.ProviderResponse{}, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, p, req)
		if err == nil && envelope.ClassifyStatus(resp.Status) != envelope.OutcomeRetryable {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("upstream status %d", resp.Status)
		}

		if attempt >= maxRetries || ctx.Err() != nil {
			if err == nil {
				// Out of attempts but we do have a response; let the
				// caller classify it for fallback.
				return resp, nil
			}
			return ports.ProviderResponse{}, lastErr
		}

		backoff := backoffBase << attempt
		if backoff > backoffCap {
			backoff = backoffCap
		}
		backoff += time.Duration(rand.Int63n(int64(backoff) / 2))
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < backoff+deadlineSlack {
			if err == nil {
				return resp, nil
			}
			return ports.ProviderResponse{}, lastErr
		}

		c.metrics.UpstreamRetry(p.name)
		c.log.Debug().Str("provider", p.name).Int("attempt", attempt+1).
			Err(lastErr).Msg("retrying upstream call")

		select {
		case <-ctx.Done():
			return ports.ProviderResponse{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// reserve waits for the provider's rate budget, at most budgetWait.
func (c *Client) reserve(ctx context.Context, p *provider) error {
	waitCtx, cancel := context.WithTimeout(ctx, budgetWait)
	defer cancel()
	if err := p.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrBudgetExhausted, p.name)
	}
	return nil
}

func (c *Client) do(ctx context.Context, p *provider, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	query := url.Values{}
	for k, vs := range req.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if p.apiKey != "" {
		query.Set(p.keyParam, p.apiKey)
	}

	target := p.base.ResolveReference(&url.URL{Path: req.Path, RawQuery: query.Encode()})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return ports.ProviderResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ports.ProviderResponse{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return ports.ProviderResponse{}, fmt.Errorf("read response: %w", err)
	}

	return ports.ProviderResponse{Provider: p.name, Status: resp.StatusCode, Body: body}, nil
}

// Health verifies a provider is reachable. Any HTTP response counts; only
// transport failures mark a provider down.
func (c *Client) Health(ctx context.Context, providerName string) error {
	p, ok := c.providers[providerName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, p.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provider %s unreachable: %w", providerName, err)
	}
	resp.Body.Close()
	return nil
}

// Ensure interface compliance.
var _ ports.ProviderClient = (*Client)(nil)
