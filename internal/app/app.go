// Package app provides the main application struct for centralized dependency
// management and lifecycle control of the astrogate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"astrogate/config"
	"astrogate/internal/accounting"
	"astrogate/internal/breaker"
	"astrogate/internal/cache"
	"astrogate/internal/gateway"
	"astrogate/internal/observability"
	"astrogate/internal/providers/astroengine"
	"astrogate/internal/providers/freeastro"
	"astrogate/internal/quota"
	"astrogate/internal/retry"
	"astrogate/internal/server"
)

// App represents the assembled application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config     *config.Config
	accounting *accounting.Result
	quotaStore quota.SnapshotStore
	gateway    *gateway.Gateway
	server     *server.Server
	stopProbes func()

	shutdownMu sync.Mutex
	shutdown   bool
}

// healthProbeInterval is how often upstream health endpoints are probed for
// the status surface.
const healthProbeInterval = 30 * time.Second

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{config: cfg}

	var hooks observability.Hooks = observability.NoopHooks{}
	if cfg.Metrics.Enabled {
		hooks = observability.NewPrometheusHooks()
	}

	// Call accounting (buffered logger plus the recent-calls reader)
	acctResult, err := accounting.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize call accounting: %w", err)
	}
	app.accounting = acctResult

	// Daily quota for the metered primary
	tracker, store, err := buildQuota(cfg)
	if err != nil {
		closeErr := acctResult.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize quota: %w (also: accounting close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize quota: %w", err)
	}
	app.quotaStore = store

	// Upstream providers
	primary := astroengine.New(astroengine.Config{
		BaseURL:       cfg.AstroEngine.BaseURL,
		APIKey:        cfg.AstroEngine.APIKey,
		Timeout:       cfg.AstroEngineTimeout(),
		HealthTimeout: cfg.AstroEngineHealthTimeout(),
	})
	fallback := freeastro.New(freeastro.Config{
		BaseURL: cfg.FreeAstro.BaseURL,
		APIKey:  cfg.FreeAstro.APIKey,
		Timeout: cfg.FreeAstroTimeout(),
	})

	// Independent breakers, both reporting transitions to the metrics hooks
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
		OnStateChange: func(upstream string, from, to breaker.State) {
			slog.Info("breaker state change",
				"upstream", upstream, "from", from.String(), "to", to.String())
			hooks.BreakerState(upstream, int(to))
		},
	}

	app.gateway = gateway.New(gateway.Config{
		Primary:         primary,
		Fallback:        fallback,
		PrimaryBreaker:  breaker.New(primary.Name(), breakerCfg),
		FallbackBreaker: breaker.New(fallback.Name(), breakerCfg),
		Quota:           tracker,
		Cache: cache.New(cache.Config{
			StaleGrace:    time.Duration(cfg.Cache.StaleGraceSeconds) * time.Second,
			SweepInterval: time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
			MaxEntries:    cfg.Cache.MaxEntries,
		}),
		Retry: retry.Policy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Multiplier:   cfg.Retry.Multiplier,
		},
		TTLs: gateway.TTLConfig{
			BirthChart:    time.Duration(cfg.Cache.BirthChartTTLSeconds) * time.Second,
			ChartSVG:      time.Duration(cfg.Cache.ChartSVGTTLSeconds) * time.Second,
			Panchang:      time.Duration(cfg.Cache.PanchangTTLSeconds) * time.Second,
			Compatibility: time.Duration(cfg.Cache.CompatibilityTTLSeconds) * time.Second,
			Fallback:      time.Duration(cfg.Cache.FallbackTTLSeconds) * time.Second,
		},
		Accounting: acctResult.Logger,
		Hooks:      hooks,
	})
	app.stopProbes = app.gateway.StartHealthProbes(healthProbeInterval, cfg.AstroEngineHealthTimeout())

	app.logStartupInfo()

	app.server = server.New(app.gateway, acctResult.Reader, &server.Config{
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	return app, nil
}

// buildQuota assembles the tracker with its snapshot store: Redis when a URL
// is configured, otherwise a file when a path is set, otherwise in-memory only.
func buildQuota(cfg *config.Config) (*quota.Tracker, quota.SnapshotStore, error) {
	var store quota.SnapshotStore
	switch {
	case cfg.Quota.RedisURL != "":
		rs, err := quota.NewRedisStore(quota.RedisConfig{URL: cfg.Quota.RedisURL})
		if err != nil {
			return nil, nil, err
		}
		store = rs
	case cfg.Quota.SnapshotPath != "":
		store = quota.NewFileStore(cfg.Quota.SnapshotPath)
	}

	tracker, err := quota.New(quota.Config{
		Upstream:   "astroengine",
		DailyLimit: cfg.Quota.DailyLimit,
		Timezone:   cfg.Quota.Timezone,
		Store:      store,
	})
	if err != nil {
		if store != nil {
			_ = store.Close() //nolint:errcheck
		}
		return nil, nil, err
	}
	return tracker, store, nil
}

// Gateway returns the provider orchestrator.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order: the HTTP
// server first (stop accepting requests), then the health probes and the
// gateway (stops the cache sweep), then the accounting logger (flushes
// buffered records), then the quota snapshot store.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every close step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.stopProbes != nil {
		a.stopProbes()
	}

	if a.gateway != nil {
		a.gateway.Close()
	}

	if a.accounting != nil {
		if err := a.accounting.Close(); err != nil {
			slog.Error("accounting close error", "error", err)
			errs = append(errs, fmt.Errorf("accounting close: %w", err))
		}
	}

	if a.quotaStore != nil {
		if err := a.quotaStore.Close(); err != nil {
			slog.Error("quota store close error", "error", err)
			errs = append(errs, fmt.Errorf("quota store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("upstreams configured",
		"primary", cfg.AstroEngine.BaseURL,
		"fallback", cfg.FreeAstro.BaseURL,
	)

	slog.Info("quota configured",
		"daily_limit", cfg.Quota.DailyLimit,
		"timezone", cfg.Quota.Timezone,
		"persistent", cfg.Quota.SnapshotPath != "" || cfg.Quota.RedisURL != "",
	)

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Accounting.Enabled {
		slog.Info("call accounting enabled",
			"storage", cfg.Storage.Type,
			"buffer_size", cfg.Accounting.BufferSize,
			"flush_interval", cfg.Accounting.FlushInterval,
			"retention_days", cfg.Accounting.RetentionDays,
		)
	} else {
		slog.Info("call accounting disabled")
	}
}
