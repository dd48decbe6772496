// Package quota enforces a hard daily call budget for a metered upstream.
// The window is a calendar day in the upstream's reference timezone and is
// replaced, not decayed, on rollover. Counts survive restarts through a
// pluggable snapshot store.
package quota

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"astrogate/internal/core"
)

// Window is one day's consumption against the budget.
type Window struct {
	// Start is midnight of the window's day in the reference timezone.
	Start time.Time `json:"start"`
	Used  int       `json:"used"`
}

// Status is the quota snapshot exposed by the status endpoint.
type Status struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// SnapshotStore persists the current window so a restart cannot double-spend
// the daily budget.
type SnapshotStore interface {
	// Load returns the persisted window; ok is false when none exists.
	Load() (w Window, ok bool, err error)

	// Save persists the window. Called on every consume and on rollover,
	// serialized under the tracker lock so saves arrive in count order.
	Save(w Window) error

	// Close releases store resources.
	Close() error
}

// Tracker tracks the daily budget for one upstream. Safe for concurrent use;
// check-and-increment is a single critical section.
type Tracker struct {
	upstream string
	limit    int
	loc      *time.Location
	store    SnapshotStore

	mu     sync.Mutex
	window Window

	// clock is swappable in tests.
	clock func() time.Time
}

// Config holds quota settings for one metered upstream.
type Config struct {
	// Upstream names the metered upstream for errors and logs.
	Upstream string

	// DailyLimit is the hard call budget per calendar day.
	DailyLimit int

	// Timezone is the IANA zone the upstream bills in (default Asia/Kolkata).
	Timezone string

	// Store persists window state across restarts. Optional.
	Store SnapshotStore
}

// New creates a Tracker, restoring any persisted window that is still
// current.
func New(cfg Config) (*Tracker, error) {
	if cfg.DailyLimit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive, got %d", cfg.DailyLimit)
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", tz, err)
	}

	t := &Tracker{
		upstream: cfg.Upstream,
		limit:    cfg.DailyLimit,
		loc:      loc,
		store:    cfg.Store,
		clock:    time.Now,
	}
	t.window = Window{Start: t.windowStart(t.clock())}

	if cfg.Store != nil {
		saved, ok, err := cfg.Store.Load()
		if err != nil {
			slog.Warn("failed to load quota snapshot, starting fresh",
				"upstream", cfg.Upstream, "error", err)
		} else if ok && saved.Start.Equal(t.window.Start) {
			t.window = saved
			slog.Info("restored quota window",
				"upstream", cfg.Upstream, "used", saved.Used, "limit", cfg.DailyLimit)
		}
	}

	return t, nil
}

// CanConsume reports whether budget remains in the current window. Advisory
// only; TryConsume is the authoritative check-and-increment.
func (t *Tracker) CanConsume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.window.Used < t.limit
}

// TryConsume spends one call from the budget, returning QuotaExhaustedError
// when none remains. The check and the increment happen under one lock so
// concurrent callers can never overshoot the limit.
func (t *Tracker) TryConsume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	if t.window.Used >= t.limit {
		return core.NewQuotaExhaustedError(t.upstream, t.limit, t.resetAtLocked())
	}
	t.window.Used++
	// Persist under the lock so snapshots hit the store in count order; an
	// out-of-order save would restore an undercounted window after restart.
	t.persist(t.window)
	return nil
}

// Status returns the current window state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return Status{
		Limit:     t.limit,
		Used:      t.window.Used,
		Remaining: t.limit - t.window.Used,
		ResetAt:   t.resetAtLocked(),
	}
}

// rolloverLocked replaces the window when the clock has crossed into a new
// day in the reference timezone. Caller holds t.mu.
func (t *Tracker) rolloverLocked() {
	start := t.windowStart(t.clock())
	if start.Equal(t.window.Start) {
		return
	}
	slog.Info("quota window rolled over",
		"upstream", t.upstream, "used", t.window.Used, "limit", t.limit)
	t.window = Window{Start: start}
	t.persist(t.window)
}

func (t *Tracker) resetAtLocked() time.Time {
	return t.window.Start.AddDate(0, 0, 1)
}

func (t *Tracker) windowStart(now time.Time) time.Time {
	local := now.In(t.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
}

func (t *Tracker) persist(w Window) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(w); err != nil {
		slog.Warn("failed to persist quota snapshot", "upstream", t.upstream, "error", err)
	}
}
