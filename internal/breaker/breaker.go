// Package breaker implements a per-upstream circuit breaker. After a run of
// consecutive failures the breaker opens and rejects calls without touching
// the upstream; after a reset timeout a single probe is allowed through, and
// its outcome decides whether the breaker closes again.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"astrogate/internal/core"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name for logs and the status endpoint.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config holds circuit breaker settings.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// ResetTimeout is how long after the last failure the breaker admits a
	// half-open probe.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called (outside the lock) on every transition.
	OnStateChange func(upstream string, from, to State)
}

// DefaultConfig returns the reference settings: 5 failures, 60s reset.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitzero"`
}

// Breaker tracks the health of a single upstream. Safe for concurrent use;
// every check-and-mutate happens under one mutex.
type Breaker struct {
	upstream string
	cfg      Config

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	probeInFlight bool

	// clock is swappable in tests.
	clock func() time.Time
}

// New creates a breaker for the named upstream.
func New(upstream string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{
		upstream: upstream,
		cfg:      cfg,
		state:    StateClosed,
		clock:    time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns a
// CircuitOpenError until the reset timeout elapses, at which point the breaker
// moves to half-open and exactly one probe is admitted; concurrent callers
// during the probe are rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	now := b.clock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if now.Sub(b.lastFailure) < b.cfg.ResetTimeout {
			retryAfter := b.lastFailure.Add(b.cfg.ResetTimeout)
			b.mu.Unlock()
			return core.NewCircuitOpenError(b.upstream, retryAfter)
		}
		from := b.state
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if b.probeInFlight {
			retryAfter := b.lastFailure.Add(b.cfg.ResetTimeout)
			b.mu.Unlock()
			return core.NewCircuitOpenError(b.upstream, retryAfter)
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// RecordSuccess resets the failure count; a successful half-open probe closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probeInFlight = false
	b.state = StateClosed
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// RecordFailure increments the consecutive failure count, opening the breaker
// at the threshold. A failed half-open probe reopens immediately and restarts
// the reset timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	b.lastFailure = b.clock()
	b.probeInFlight = false

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// ReleaseProbe returns an admitted call slot without recording an outcome,
// used when the call was aborted before reaching the upstream (for example a
// quota rejection). Without this a half-open probe slot would leak.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// Execute runs fn through the breaker: rejected immediately when open,
// otherwise invoked with its outcome recorded.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for the status endpoint.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailure,
	}
}

func (b *Breaker) notify(from, to State) {
	slog.Info("circuit breaker state change",
		"upstream", b.upstream,
		"from", from.String(),
		"to", to.String(),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.upstream, from, to)
	}
}
