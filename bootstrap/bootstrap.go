// Package bootstrap wires configuration, adapters and services into a
// runnable gateway process.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/saas2guys/fingate/adapters/auth"
	"github.com/saas2guys/fingate/adapters/clock"
	apihttp "github.com/saas2guys/fingate/adapters/http"
	"github.com/saas2guys/fingate/adapters/idgen"
	"github.com/saas2guys/fingate/adapters/memory"
	"github.com/saas2guys/fingate/adapters/metrics"
	"github.com/saas2guys/fingate/adapters/payment"
	redisstore "github.com/saas2guys/fingate/adapters/redis"
	"github.com/saas2guys/fingate/adapters/sqlite"
	"github.com/saas2guys/fingate/adapters/upstream"
	"github.com/saas2guys/fingate/app"
	"github.com/saas2guys/fingate/config"
	"github.com/saas2guys/fingate/domain/principal"
	"github.com/saas2guys/fingate/domain/route"
	"github.com/saas2guys/fingate/ports"
)

const shutdownTimeout = 30 * time.Second

// App is the assembled gateway process.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	server *http.Server

	gateway     *app.GatewayService
	maintenance *app.MaintenanceService
	recorder    ports.UsageRecorder

	db    *sqlite.DB
	redis *goredis.Client
}

// stores groups the persistence ports picked by the database driver.
type stores struct {
	principals ports.PrincipalStore
	plans      ports.PlanStore
	counters   ports.CounterStore
	usage      ports.UsageStore
	events     ports.BillingEventStore
}

// New assembles an App from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.Logging)

	a := &App{cfg: cfg, log: logger}

	var mets ports.Metrics = metrics.Nop{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		collector, registry := metrics.New()
		mets = collector
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	st, err := a.initStores(cfg)
	if err != nil {
		return nil, err
	}

	cacheStore, err := a.initCache(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	client, err := upstream.NewClient(
		upstream.Config{
			Timeout:         cfg.Proxy.Timeout,
			MaxIdleConns:    cfg.Proxy.MaxIdleConns,
			IdleConnTimeout: cfg.Proxy.IdleConnTimeout,
		},
		providerConfigs(cfg),
		mets,
		logger.With().Str("component", "upstream").Logger(),
	)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	var reporter ports.BillingReporter
	var webhookVerifier ports.WebhookVerifier
	switch cfg.Billing.Mode {
	case "stripe":
		stripe := payment.NewStripe(payment.StripeConfig{
			SecretKey:     cfg.Billing.StripeKey,
			WebhookSecret: cfg.Billing.WebhookSecret,
		})
		reporter, webhookVerifier = stripe, stripe
	default:
		noop := payment.NewNoop(logger)
		reporter, webhookVerifier = noop, noop
	}

	clk := clock.Real{}
	tokens := auth.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)
	a.recorder = NewUsageRecorder(st.usage, mets, logger, UsageRecorderConfig{
		QueueSize:     cfg.Usage.QueueSize,
		BatchSize:     cfg.Usage.BatchSize,
		FlushInterval: cfg.Usage.FlushInterval,
	})

	matcher, err := route.NewMatcher(route.Table())
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("route table: %w", err)
	}

	credSvc := app.NewCredentialService(app.CredentialDeps{
		Principals: st.principals,
		Plans:      st.plans,
		Verifier:   tokens,
		Clock:      clk,
		Log:        logger,
	}, cfg.Auth.AllowAnonymous)

	quotaSvc := app.NewQuotaService(app.QuotaDeps{Counters: st.counters, Clock: clk, Metrics: mets})

	cacheSvc := app.NewCacheService(app.CacheDeps{
		Store:   cacheStore,
		Clock:   clk,
		Metrics: mets,
	}, cfg.Cache.FillTimeout)

	a.gateway = app.NewGatewayService(app.GatewayDeps{
		Credentials: credSvc,
		Quota:       quotaSvc,
		Cache:       cacheSvc,
		Matcher:     matcher,
		Client:      client,
		Recorder:    a.recorder,
		Clock:       clk,
		IDGen:       idgen.UUID{},
		Metrics:     mets,
		Log:         logger.With().Str("component", "gateway").Logger(),
	})

	webhooks := app.NewBillingWebhookService(app.BillingWebhookDeps{
		Principals: st.principals,
		Plans:      st.plans,
		Events:     st.events,
		Verifier:   webhookVerifier,
		Clock:      clk,
		Log:        logger.With().Str("component", "billing").Logger(),
	})

	a.maintenance = app.NewMaintenanceService(app.MaintenanceDeps{
		Usage:      st.usage,
		Counters:   st.counters,
		Principals: st.principals,
		Reporter:   reporter,
		Clock:      clk,
		Log:        logger.With().Str("component", "maintenance").Logger(),
	})

	router := apihttp.NewRouter(apihttp.RouterDeps{
		Gateway:  a.gateway,
		Webhooks: webhooks,
		Metrics:  metricsHandler,
		Log:      logger,
		Timeout:  cfg.Proxy.Timeout,
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// Run starts the server and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	maintCtx, stopMaint := context.WithCancel(context.Background())
	go a.maintenance.Start(maintCtx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Str("environment", a.cfg.Environment).Msg("gateway listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		stopMaint()
		return err
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	stopMaint()
	return a.Shutdown()
}

// Shutdown stops the server, flushes pending usage and closes resources.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(ctx)

	if cerr := a.recorder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.closeResources()
	return err
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) initStores(cfg *config.Config) (stores, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return stores{}, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		a.db = db

		planStore := sqlite.NewPlanStore(db)
		for _, pc := range cfg.Plans {
			if err := planStore.Upsert(context.Background(), planFromConfig(pc)); err != nil {
				db.Close()
				return stores{}, fmt.Errorf("seed plan %s: %w", pc.ID, err)
			}
		}

		return stores{
			principals: sqlite.NewPrincipalStore(db),
			plans:      planStore,
			counters:   sqlite.NewCounterStore(db),
			usage:      sqlite.NewUsageStore(db),
			events:     sqlite.NewBillingEventStore(db),
		}, nil

	default:
		plans := make([]principal.PlanSnapshot, len(cfg.Plans))
		for i, pc := range cfg.Plans {
			plans[i] = planFromConfig(pc)
		}
		return stores{
			principals: memory.NewPrincipalStore(),
			plans:      memory.NewPlanStore(plans...),
			counters:   memory.NewCounterStore(0),
			usage:      memory.NewUsageStore(),
			events:     memory.NewBillingEventStore(),
		}, nil
	}
}

func (a *App) initCache(cfg *config.Config) (ports.CacheStore, error) {
	if cfg.Cache.Mode == "redis" {
		opts, err := goredis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		a.redis = goredis.NewClient(opts)
		return redisstore.NewCacheStore(a.redis), nil
	}
	return memory.NewCacheStore(cfg.Cache.MaxEntries, clock.Real{}), nil
}

func (a *App) closeResources() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

// planFromConfig converts a configured plan into the snapshot shape stored on
// principals.
func planFromConfig(pc config.PlanConfig) principal.PlanSnapshot {
	caps := make([]principal.Capability, len(pc.Capabilities))
	for i, c := range pc.Capabilities {
		caps[i] = principal.Capability(c)
	}
	return principal.PlanSnapshot{
		PlanID:        pc.ID,
		Name:          pc.Name,
		HourlyLimit:   pc.HourlyLimit,
		DailyLimit:    pc.DailyLimit,
		MonthlyLimit:  pc.MonthlyLimit,
		BurstLimit:    pc.BurstLimit,
		PriceMonthly:  pc.PriceMonthly,
		IsMetered:     pc.Metered,
		StripePriceID: pc.StripePriceID,
		Capabilities:  caps,
	}
}

func providerConfigs(cfg *config.Config) []upstream.ProviderConfig {
	out := make([]upstream.ProviderConfig, len(cfg.Providers))
	for i, p := range cfg.Providers {
		out[i] = upstream.ProviderConfig{
			Name:     p.Name,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			KeyParam: p.KeyParam,
			RPM:      p.RequestsPerMinute,
		}
	}
	return out
}

// newLogger builds the process logger from config. Console format is for
// local development; production stays on JSON.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
