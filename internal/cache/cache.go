// Package cache provides keyed, time-boxed memoization of upstream
// computation results with stale-while-revalidate semantics.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one cached computation result. Entries are owned by the Store;
// writes replace the whole entry, so readers never observe a partial update.
type Entry struct {
	Key        string
	Value      any
	ComputedAt time.Time
	ExpiresAt  time.Time

	// revalidating guards the single background refresh per key. It is
	// read and written only under the store lock.
	revalidating bool
}

// ComputeFunc produces a fresh value for a cache key.
type ComputeFunc func(ctx context.Context) (any, error)

// Options control a single GetOrCompute call.
type Options struct {
	// StaleWhileRevalidate returns an expired entry within the grace period
	// immediately while refreshing it in the background.
	StaleWhileRevalidate bool

	// TTLFor, if set, overrides the call's TTL based on the computed value.
	// The orchestrator uses it to give fallback-sourced values a shorter life.
	TTLFor func(value any) time.Duration
}

// Config holds store tuning knobs. None of them are correctness-critical.
type Config struct {
	// StaleGrace is how long past expiry an entry may still be served stale.
	StaleGrace time.Duration

	// SweepInterval is how often the eviction sweep runs. Zero disables it.
	SweepInterval time.Duration

	// MaxEntries caps the map size; the sweep evicts oldest-expiry first
	// when over the cap. Zero means unbounded.
	MaxEntries int
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		StaleGrace:    1 * time.Hour,
		SweepInterval: 5 * time.Minute,
		MaxEntries:    10_000,
	}
}

// Stats is a point-in-time counter snapshot for the status endpoint.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"staleHits"`
}

// Store is an in-memory cache safe for concurrent use.
type Store struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]*Entry

	hits      atomic.Int64
	misses    atomic.Int64
	staleHits atomic.Int64

	stopSweep chan struct{}
	closeOnce sync.Once

	// clock is swappable in tests.
	clock func() time.Time
}

// New creates a Store and starts its eviction sweep when configured.
func New(cfg Config) *Store {
	s := &Store{
		cfg:       cfg,
		entries:   make(map[string]*Entry),
		stopSweep: make(chan struct{}),
		clock:     time.Now,
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Get returns a copy of the entry for key, whether expired or not. The bool
// reports presence; callers check ExpiresAt themselves.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Set stores value under key with the given TTL, replacing any prior entry.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	now := s.clock()
	s.mu.Lock()
	s.entries[key] = &Entry{
		Key:        key,
		Value:      value,
		ComputedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.mu.Unlock()
}

// Lookup is the result of GetOrCompute: the value plus enough entry metadata
// for the caller to tag its own result contract.
type Lookup struct {
	Value      any
	FromCache  bool
	ComputedAt time.Time
	ExpiresAt  time.Time
}

// GetOrCompute returns the cached value for key or computes a fresh one.
//
//   - A fresh hit returns immediately with no compute.
//   - An expired hit within the grace period, with StaleWhileRevalidate set,
//     returns the stale value and triggers at most one background refresh;
//     refresh errors are logged and swallowed.
//   - A miss (absent, or past the grace period) runs fn synchronously and
//     caches the result. Failures are never cached.
func (s *Store) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc, opts Options) (Lookup, error) {
	now := s.clock()

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		if now.Before(e.ExpiresAt) {
			s.mu.Unlock()
			s.hits.Add(1)
			return Lookup{Value: e.Value, FromCache: true, ComputedAt: e.ComputedAt, ExpiresAt: e.ExpiresAt}, nil
		}

		if opts.StaleWhileRevalidate && now.Before(e.ExpiresAt.Add(s.cfg.StaleGrace)) {
			stale := *e
			if !e.revalidating {
				e.revalidating = true
				go s.revalidate(context.WithoutCancel(ctx), key, ttl, fn, opts)
			}
			s.mu.Unlock()
			s.staleHits.Add(1)
			return Lookup{Value: stale.Value, FromCache: true, ComputedAt: stale.ComputedAt, ExpiresAt: stale.ExpiresAt}, nil
		}
	}
	s.mu.Unlock()

	s.misses.Add(1)
	value, err := fn(ctx)
	if err != nil {
		return Lookup{}, err
	}

	computed := s.clock()
	expires := computed.Add(effectiveTTL(ttl, value, opts))
	s.mu.Lock()
	s.entries[key] = &Entry{Key: key, Value: value, ComputedAt: computed, ExpiresAt: expires}
	s.mu.Unlock()
	return Lookup{Value: value, ComputedAt: computed, ExpiresAt: expires}, nil
}

// revalidate refreshes a stale entry in the background. The revalidating flag
// was set by the caller under the store lock; it is cleared here no matter
// how the refresh ends.
func (s *Store) revalidate(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc, opts Options) {
	value, err := fn(ctx)

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.revalidating = false
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("background revalidation failed", "key", key, "error", err)
		return
	}
	s.Set(key, value, effectiveTTL(ttl, value, opts))
	slog.Debug("cache entry revalidated", "key", key)
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries := len(s.entries)
	s.mu.RUnlock()
	return Stats{
		Entries:   entries,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		StaleHits: s.staleHits.Load(),
	}
}

// Sweep removes entries past their grace period and enforces the size cap,
// returning how many entries were evicted. Called periodically by the sweep
// loop; exported for tests.
func (s *Store) Sweep() int {
	now := s.clock()
	evicted := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if now.After(e.ExpiresAt.Add(s.cfg.StaleGrace)) {
			delete(s.entries, key)
			evicted++
		}
	}

	if s.cfg.MaxEntries > 0 && len(s.entries) > s.cfg.MaxEntries {
		over := len(s.entries) - s.cfg.MaxEntries
		oldest := make([]*Entry, 0, len(s.entries))
		for _, e := range s.entries {
			oldest = append(oldest, e)
		}
		sort.Slice(oldest, func(i, j int) bool { return oldest[i].ExpiresAt.Before(oldest[j].ExpiresAt) })
		for _, e := range oldest[:over] {
			delete(s.entries, e.Key)
			evicted++
		}
	}

	return evicted
}

// Close stops the eviction sweep. Safe to call multiple times.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.stopSweep) })
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("cache sweep evicted entries", "count", n)
			}
		case <-s.stopSweep:
			return
		}
	}
}

func effectiveTTL(ttl time.Duration, value any, opts Options) time.Duration {
	if opts.TTLFor != nil {
		if override := opts.TTLFor(value); override > 0 {
			return override
		}
	}
	return ttl
}
