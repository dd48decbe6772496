package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"astrogate/internal/core"
)

// noSleep replaces the backoff sleep so tests run instantly.
func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = noSleep

	calls := 0
	err := Do(context.Background(), "test", p, func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = noSleep

	calls := 0
	err := Do(context.Background(), "test", p, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return core.NewHTTPError("astroengine", 503, "overloaded")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	p := DefaultPolicy()
	p.MaxRetries = 2
	p.Sleep = noSleep

	calls := 0
	failure := core.NewHTTPError("astroengine", 500, "boom")
	err := Do(context.Background(), "test", p, func(_ context.Context) error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected the last attempt's error, got %v", err)
	}
	// 1 initial attempt + 2 retries
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = noSleep

	calls := 0
	err := Do(context.Background(), "test", p, func(_ context.Context) error {
		calls++
		return core.NewHTTPError("astroengine", 400, "bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retries on a 400, got %d calls", calls)
	}
}

func TestDo_CircuitOpenNotRetried(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = noSleep

	calls := 0
	err := Do(context.Background(), "test", p, func(_ context.Context) error {
		calls++
		return core.NewCircuitOpenError("astroengine", time.Now())
	})
	var circuitErr *core.CircuitOpenError
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_CustomPredicate(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = noSleep
	p.ShouldRetry = func(_ error, attempt int) bool { return attempt < 2 }

	calls := 0
	err := Do(context.Background(), "test", p, func(_ context.Context) error {
		calls++
		return core.NewHTTPError("astroengine", 503, "")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected predicate to stop after attempt 2, got %d calls", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := DefaultPolicy()
	p.InitialDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, "test", p, func(_ context.Context) error {
		return core.NewHTTPError("astroengine", 503, "")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPolicy_DelayLadder(t *testing.T) {
	p := Policy{
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     10000 * time.Millisecond,
		Multiplier:   2.0,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for i, expected := range want {
		if got := p.Delay(i + 1); got != expected {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, expected)
		}
	}
}

func TestJitter_Bounds(t *testing.T) {
	base := 1000 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := jitter(base)
		if d < base || d > base+base/10 {
			t.Fatalf("jitter out of [d, 1.1d] bounds: %v", d)
		}
	}
}

func TestDoValue(t *testing.T) {
	p := DefaultPolicy()
	p.Sleep = noSleep

	calls := 0
	got, err := DoValue(context.Background(), "test", p, func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", core.NewTimeoutError("astroengine", context.DeadlineExceeded)
		}
		return "chart", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "chart" {
		t.Errorf("expected %q, got %q", "chart", got)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
