// Package gateway orchestrates computation requests across the primary and
// fallback upstreams. Every operation flows through one pipeline: cache
// lookup, in-flight deduplication, then the primary (quota and breaker
// permitting) with retries, then the fallback with its own independent
// breaker and retries. Nothing is cached when both upstreams fail.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"astrogate/internal/accounting"
	"astrogate/internal/breaker"
	"astrogate/internal/cache"
	"astrogate/internal/core"
	"astrogate/internal/dedupe"
	"astrogate/internal/observability"
	"astrogate/internal/quota"
	"astrogate/internal/retry"
)

// TTLConfig holds the per-operation cache lifetimes.
type TTLConfig struct {
	BirthChart    time.Duration
	ChartSVG      time.Duration
	Panchang      time.Duration
	Compatibility time.Duration

	// Fallback is the shorter TTL applied to fallback-sourced values, so a
	// recovered primary gets asked again soon.
	Fallback time.Duration
}

// DefaultTTLConfig returns the reference lifetimes: charts are immutable for
// a given birth moment, panchang changes with the wall-clock day.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		BirthChart:    24 * time.Hour,
		ChartSVG:      24 * time.Hour,
		Panchang:      6 * time.Hour,
		Compatibility: 24 * time.Hour,
		Fallback:      1 * time.Hour,
	}
}

// Config assembles the gateway's collaborators. Primary and Fallback are
// required; everything else defaults when zero.
type Config struct {
	Primary  core.Provider
	Fallback core.Provider

	// PrimaryBreaker and FallbackBreaker hold fully independent state; a
	// fallback success never heals the primary's breaker.
	PrimaryBreaker  *breaker.Breaker
	FallbackBreaker *breaker.Breaker

	// Quota meters the primary upstream.
	Quota *quota.Tracker

	Cache  *cache.Store
	Dedupe *dedupe.Group

	Retry retry.Policy
	TTLs  TTLConfig

	Accounting accounting.LoggerInterface
	Hooks      observability.Hooks
}

// Gateway is the provider orchestrator.
type Gateway struct {
	primary  core.Provider
	fallback core.Provider

	primaryBreaker  *breaker.Breaker
	fallbackBreaker *breaker.Breaker
	quota           *quota.Tracker

	cache  *cache.Store
	dedupe *dedupe.Group

	retryPolicy retry.Policy
	ttls        TTLConfig

	acct  accounting.LoggerInterface
	hooks observability.Hooks

	healthMu sync.Mutex
	health   map[string]UpstreamHealth

	// clock is swappable in tests.
	clock func() time.Time
}

// New creates the orchestrator from its collaborators.
func New(cfg Config) *Gateway {
	ttls := cfg.TTLs
	if ttls == (TTLConfig{}) {
		ttls = DefaultTTLConfig()
	}
	rp := cfg.Retry
	if rp.MaxRetries == 0 && rp.InitialDelay == 0 {
		rp = retry.DefaultPolicy()
	}
	acct := cfg.Accounting
	if acct == nil {
		acct = &accounting.NoopLogger{}
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = observability.NoopHooks{}
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(cache.DefaultConfig())
	}
	d := cfg.Dedupe
	if d == nil {
		d = dedupe.New()
	}
	pb := cfg.PrimaryBreaker
	if pb == nil {
		pb = breaker.New(cfg.Primary.Name(), breaker.DefaultConfig())
	}
	fb := cfg.FallbackBreaker
	if fb == nil {
		fb = breaker.New(cfg.Fallback.Name(), breaker.DefaultConfig())
	}

	return &Gateway{
		primary:         cfg.Primary,
		fallback:        cfg.Fallback,
		primaryBreaker:  pb,
		fallbackBreaker: fb,
		quota:           cfg.Quota,
		cache:           c,
		dedupe:          d,
		retryPolicy:     rp,
		ttls:            ttls,
		acct:            acct,
		hooks:           hooks,
		health:          make(map[string]UpstreamHealth),
		clock:           time.Now,
	}
}

// BirthChart computes planetary positions and houses for a birth moment.
func (g *Gateway) BirthChart(ctx context.Context, req *core.BirthDetails) (*core.Result, error) {
	key := cache.Key(core.KindBirthChart, req)
	return g.run(ctx, core.KindBirthChart, key,
		func(ctx context.Context) (any, error) { return g.primary.BirthChart(ctx, req) },
		func(ctx context.Context) (any, error) { return g.fallback.BirthChart(ctx, req) },
	)
}

// ChartSVG renders the birth chart as SVG markup.
func (g *Gateway) ChartSVG(ctx context.Context, req *core.BirthDetails) (*core.Result, error) {
	key := cache.Key(core.KindChartSVG, req)
	return g.run(ctx, core.KindChartSVG, key,
		func(ctx context.Context) (any, error) { return g.primary.ChartSVG(ctx, req) },
		func(ctx context.Context) (any, error) { return g.fallback.ChartSVG(ctx, req) },
	)
}

// Panchang computes the daily almanac for a date and location.
func (g *Gateway) Panchang(ctx context.Context, req *core.BirthDetails) (*core.Result, error) {
	key := cache.Key(core.KindPanchang, req)
	return g.run(ctx, core.KindPanchang, key,
		func(ctx context.Context) (any, error) { return g.primary.Panchang(ctx, req) },
		func(ctx context.Context) (any, error) { return g.fallback.Panchang(ctx, req) },
	)
}

// Compatibility computes an ashtakoota match between two charts.
func (g *Gateway) Compatibility(ctx context.Context, req *core.MatchRequest) (*core.Result, error) {
	key := cache.MatchKey(core.KindCompatibility, req)
	return g.run(ctx, core.KindCompatibility, key,
		func(ctx context.Context) (any, error) { return g.primary.Compatibility(ctx, req) },
		func(ctx context.Context) (any, error) { return g.fallback.Compatibility(ctx, req) },
	)
}

// callFn is one single-upstream computation closure.
type callFn func(ctx context.Context) (any, error)

// origin wraps a computed value with the upstream it came from. It is what
// actually lives in the cache, so the TTL override and the source tag survive
// cache round-trips.
type origin struct {
	Data   any
	Source core.Source
}

// callStats accumulates per-request dispatch counters across the retry
// closures. The counter is atomic: a stale cache hit runs the compute closure
// on the store's revalidation goroutine, which writes concurrently with the
// caller reading the count for its call record.
type callStats struct {
	attempts atomic.Int64
}

func (g *Gateway) run(ctx context.Context, kind core.ComputationKind, key string, primaryFn, fallbackFn callFn) (*core.Result, error) {
	start := g.clock()
	stats := &callStats{}

	lookup, err := g.cache.GetOrCompute(ctx, key, g.ttlFor(kind), func(ctx context.Context) (any, error) {
		value, _, err := g.dedupe.Do(ctx, key, func() (any, error) {
			return g.computeOrigin(ctx, kind, key, stats, primaryFn, fallbackFn)
		})
		return value, err
	}, cache.Options{
		StaleWhileRevalidate: true,
		TTLFor:               g.fallbackTTLFor,
	})

	duration := g.clock().Sub(start)

	if err != nil {
		g.hooks.GatewayResult(string(kind), "error")
		g.record(ctx, kind, key, upstreamOf(err), err, int(stats.attempts.Load()), duration)
		return nil, err
	}

	result := g.buildResult(lookup)
	// Cache-sourced responses did no upstream work of their own; a stale
	// hit's refresh runs in the background and its attempts belong to no
	// request.
	attempts := int(stats.attempts.Load())
	if lookup.FromCache {
		attempts = 0
	}
	g.hooks.GatewayResult(string(kind), string(result.Source))
	g.emitCacheEvent(kind, lookup)
	g.emitQuotaUsage()
	g.record(ctx, kind, key, g.upstreamName(result.Source), nil, attempts, duration)
	return result, nil
}

// computeOrigin runs the primary-then-fallback ladder for one deduplicated
// request. Quota and the primary breaker gate admission; the fallback has
// fully independent breaker state.
func (g *Gateway) computeOrigin(ctx context.Context, kind core.ComputationKind, key string, stats *callStats, primaryFn, fallbackFn callFn) (any, error) {
	value, primaryErr := g.callPrimary(ctx, kind, stats, primaryFn)
	if primaryErr == nil {
		return &origin{Data: value, Source: core.SourcePrimary}, nil
	}

	slog.Warn("primary upstream unavailable, trying fallback",
		"operation", kind,
		"key", key,
		"upstream", g.primary.Name(),
		"error", primaryErr,
	)

	value, fallbackErr := g.callFallback(ctx, kind, stats, fallbackFn)
	if fallbackErr != nil {
		return nil, core.NewAllProvidersFailedError(primaryErr, fallbackErr)
	}
	return &origin{Data: value, Source: core.SourceFallback}, nil
}

// callPrimary dispatches against the primary through its breaker and the
// retry policy, consuming quota per dispatched attempt. Quota rejections do
// not count against breaker health: the upstream was never reached.
func (g *Gateway) callPrimary(ctx context.Context, kind core.ComputationKind, stats *callStats, fn callFn) (any, error) {
	// Cheap pre-checks so a dead budget or open breaker short-circuits to the
	// fallback without burning a retry cycle.
	if g.quota != nil && !g.quota.CanConsume() {
		st := g.quota.Status()
		return nil, core.NewQuotaExhaustedError(g.primary.Name(), st.Limit, st.ResetAt)
	}
	if err := g.primaryBreaker.Allow(); err != nil {
		return nil, err
	}

	var value any
	quotaBlocked := false
	attemptsBefore := stats.attempts.Load()
	err := retry.Do(ctx, string(kind)+"/"+g.primary.Name(), g.retryPolicy, func(ctx context.Context) error {
		if g.quota != nil {
			if err := g.quota.TryConsume(); err != nil {
				quotaBlocked = true
				return err
			}
		}
		v, err := g.dispatch(ctx, g.primary.Name(), kind, stats, fn)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		if quotaBlocked && stats.attempts.Load() == attemptsBefore {
			// Never reached the upstream; give the admission slot back
			// without polluting the failure count.
			g.primaryBreaker.ReleaseProbe()
		} else {
			g.primaryBreaker.RecordFailure()
		}
		return nil, err
	}

	g.primaryBreaker.RecordSuccess()
	return value, nil
}

// callFallback dispatches against the fallback with its own breaker and
// retries.
func (g *Gateway) callFallback(ctx context.Context, kind core.ComputationKind, stats *callStats, fn callFn) (any, error) {
	var value any
	err := g.fallbackBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, string(kind)+"/"+g.fallback.Name(), g.retryPolicy, func(ctx context.Context) error {
			v, err := g.dispatch(ctx, g.fallback.Name(), kind, stats, fn)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// dispatch runs one upstream attempt and reports it to the hooks.
func (g *Gateway) dispatch(ctx context.Context, upstream string, kind core.ComputationKind, stats *callStats, fn callFn) (any, error) {
	stats.attempts.Add(1)
	attemptStart := g.clock()
	value, err := fn(ctx)
	g.hooks.UpstreamAttempt(upstream, string(kind), outcomeOf(err), g.clock().Sub(attemptStart))
	return value, err
}

// buildResult unwraps a cache lookup into the public result contract.
func (g *Gateway) buildResult(lookup cache.Lookup) *core.Result {
	o, ok := lookup.Value.(*origin)
	if !ok {
		// Values are always stored wrapped; tolerate raw ones anyway.
		o = &origin{Data: lookup.Value, Source: core.SourcePrimary}
	}
	source := o.Source
	if lookup.FromCache {
		source = core.SourceCache
	}
	return &core.Result{
		Data:       o.Data,
		Source:     source,
		ComputedAt: lookup.ComputedAt,
		ExpiresAt:  lookup.ExpiresAt,
	}
}

func (g *Gateway) ttlFor(kind core.ComputationKind) time.Duration {
	switch kind {
	case core.KindBirthChart:
		return g.ttls.BirthChart
	case core.KindChartSVG:
		return g.ttls.ChartSVG
	case core.KindPanchang:
		return g.ttls.Panchang
	case core.KindCompatibility:
		return g.ttls.Compatibility
	}
	return g.ttls.BirthChart
}

// fallbackTTLFor shortens the cache lifetime of fallback-sourced values.
func (g *Gateway) fallbackTTLFor(value any) time.Duration {
	if o, ok := value.(*origin); ok && o.Source == core.SourceFallback {
		return g.ttls.Fallback
	}
	return 0
}

// upstreamName maps a result source to the accounting upstream label.
func (g *Gateway) upstreamName(source core.Source) string {
	switch source {
	case core.SourcePrimary:
		return g.primary.Name()
	case core.SourceFallback:
		return g.fallback.Name()
	default:
		return "cache"
	}
}

// upstreamOf names the upstream an error surfaced from, for accounting.
func upstreamOf(err error) string {
	var all *core.AllProvidersFailedError
	if errors.As(err, &all) {
		return "all"
	}
	var httpErr *core.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Upstream
	}
	var timeoutErr *core.TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Upstream
	}
	return "unknown"
}

func outcomeOf(err error) string {
	if err == nil {
		return accounting.OutcomeSuccess
	}
	var timeoutErr *core.TimeoutError
	if errors.As(err, &timeoutErr) {
		return accounting.OutcomeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return accounting.OutcomeTimeout
	}
	return accounting.OutcomeError
}

// record writes one call record for a completed gateway request.
func (g *Gateway) record(ctx context.Context, kind core.ComputationKind, key, upstream string, err error, attempts int, duration time.Duration) {
	rec := &accounting.CallRecord{
		ID:         uuid.NewString(),
		RequestID:  core.GetRequestID(ctx),
		Timestamp:  g.clock(),
		Operation:  string(kind),
		Upstream:   upstream,
		Outcome:    outcomeOf(err),
		StatusCode: statusOf(err),
		Attempts:   attempts,
		DurationMS: duration.Milliseconds(),
		CacheKey:   key,
	}
	g.acct.Write(rec)
}

// statusOf extracts the last upstream HTTP status from an error chain, or 0.
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	var httpErr *core.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func (g *Gateway) emitCacheEvent(kind core.ComputationKind, lookup cache.Lookup) {
	switch {
	case !lookup.FromCache:
		g.hooks.CacheEvent(string(kind), "miss")
	case g.clock().After(lookup.ExpiresAt):
		g.hooks.CacheEvent(string(kind), "stale")
	default:
		g.hooks.CacheEvent(string(kind), "hit")
	}
}

func (g *Gateway) emitQuotaUsage() {
	if g.quota == nil {
		return
	}
	st := g.quota.Status()
	g.hooks.QuotaUsage(g.primary.Name(), st.Used, st.Remaining)
}

// UpstreamHealth is the latest health-probe outcome for one upstream.
type UpstreamHealth struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// StartHealthProbes launches a background loop that probes every upstream
// implementing core.HealthChecker and feeds the outcomes into Status. The
// first round runs immediately. The returned stop function ends the loop.
func (g *Gateway) StartHealthProbes(interval, timeout time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		g.probeUpstreams(ctx, timeout)
		for {
			select {
			case <-ticker.C:
				g.probeUpstreams(ctx, timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}

func (g *Gateway) probeUpstreams(ctx context.Context, timeout time.Duration) {
	for _, p := range []core.Provider{g.primary, g.fallback} {
		hc, ok := p.(core.HealthChecker)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := hc.HealthCheck(probeCtx)
		cancel()

		h := UpstreamHealth{Healthy: err == nil, CheckedAt: g.clock()}
		if err != nil {
			h.Error = err.Error()
			slog.Warn("upstream health probe failed", "upstream", p.Name(), "error", err)
		}
		g.healthMu.Lock()
		g.health[p.Name()] = h
		g.healthMu.Unlock()
	}
}

// Status aggregates component state for the status endpoint.
type Status struct {
	Breakers  map[string]breaker.Status `json:"breakers"`
	Upstreams map[string]UpstreamHealth `json:"upstreams,omitempty"`
	Quota     *quota.Status             `json:"quota,omitempty"`
	Cache     cache.Stats               `json:"cache"`
	Dedupe    DedupeStatus              `json:"dedupe"`
}

// DedupeStatus is the deduplicator's contribution to the status payload.
type DedupeStatus struct {
	InFlight int `json:"inFlight"`
}

// Status returns a point-in-time snapshot of every resilience component.
func (g *Gateway) Status() Status {
	st := Status{
		Breakers: map[string]breaker.Status{
			g.primary.Name():  g.primaryBreaker.Status(),
			g.fallback.Name(): g.fallbackBreaker.Status(),
		},
		Cache:  g.cache.Stats(),
		Dedupe: DedupeStatus{InFlight: g.dedupe.InFlight()},
	}
	g.healthMu.Lock()
	if len(g.health) > 0 {
		st.Upstreams = make(map[string]UpstreamHealth, len(g.health))
		for name, h := range g.health {
			st.Upstreams[name] = h
		}
	}
	g.healthMu.Unlock()
	if g.quota != nil {
		qs := g.quota.Status()
		st.Quota = &qs
	}
	return st
}

// Close stops the cache sweep. The accounting logger is owned by the app.
func (g *Gateway) Close() {
	g.cache.Close()
}
