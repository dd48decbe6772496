package quota

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"astrogate/internal/core"
)

func newTestTracker(t *testing.T, limit int, store SnapshotStore) (*Tracker, *time.Time) {
	t.Helper()
	tr, err := New(Config{
		Upstream:   "astroengine",
		DailyLimit: limit,
		Timezone:   "Asia/Kolkata",
		Store:      store,
	})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.clock = func() time.Time { return now }
	// Re-anchor the window to the fake clock.
	tr.window = Window{Start: tr.windowStart(now)}
	return tr, &now
}

func TestTryConsume_EnforcesLimit(t *testing.T) {
	tr, _ := newTestTracker(t, 3, nil)

	for i := 0; i < 3; i++ {
		if !tr.CanConsume() {
			t.Fatalf("expected budget remaining before call %d", i+1)
		}
		if err := tr.TryConsume(); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i+1, err)
		}
	}

	if tr.CanConsume() {
		t.Error("expected CanConsume to report exhaustion at the limit")
	}
	err := tr.TryConsume()
	var quotaErr *core.QuotaExhaustedError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExhaustedError, got %v", err)
	}
	if quotaErr.Limit != 3 {
		t.Errorf("expected limit 3 in error, got %d", quotaErr.Limit)
	}
}

func TestTryConsume_ConcurrentNeverOvershoots(t *testing.T) {
	tr, _ := newTestTracker(t, 50, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.TryConsume(); err == nil {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if consumed != 50 {
		t.Errorf("expected exactly 50 successful consumes, got %d", consumed)
	}
	if got := tr.Status().Used; got != 50 {
		t.Errorf("expected used=50, got %d", got)
	}
}

// recordingStore captures every Save in arrival order and serves the newest
// one back on Load.
type recordingStore struct {
	mu    sync.Mutex
	saves []Window
}

func (s *recordingStore) Load() (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return Window{}, false, nil
	}
	return s.saves[len(s.saves)-1], true, nil
}

func (s *recordingStore) Save(w Window) error {
	s.mu.Lock()
	s.saves = append(s.saves, w)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Close() error { return nil }

func TestTryConsume_ConcurrentSnapshotsStayOrdered(t *testing.T) {
	store := &recordingStore{}
	tr, err := New(Config{Upstream: "astroengine", DailyLimit: 100, Store: store})
	if err != nil {
		t.Fatal(err)
	}

	const consumers = 40
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.TryConsume(); err != nil {
				t.Errorf("TryConsume() error = %v", err)
			}
		}()
	}
	wg.Wait()

	store.mu.Lock()
	saves := append([]Window(nil), store.saves...)
	store.mu.Unlock()

	if len(saves) != consumers {
		t.Fatalf("expected %d saves, got %d", consumers, len(saves))
	}
	for i := 1; i < len(saves); i++ {
		if saves[i].Used <= saves[i-1].Used {
			t.Fatalf("snapshot %d persisted out of order: used=%d after used=%d",
				i, saves[i].Used, saves[i-1].Used)
		}
	}
	if got := saves[len(saves)-1].Used; got != consumers {
		t.Errorf("final snapshot used=%d, want %d", got, consumers)
	}

	// A restart restoring from the store must see the full count, never a
	// stale undercount that would let the budget overshoot.
	restored, err := New(Config{Upstream: "astroengine", DailyLimit: 100, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	if got := restored.Status().Used; got != consumers {
		t.Errorf("restored used=%d, want %d", got, consumers)
	}
}

func TestWindowRollover_ResetsHard(t *testing.T) {
	tr, now := newTestTracker(t, 2, nil)

	if err := tr.TryConsume(); err != nil {
		t.Fatal(err)
	}
	if err := tr.TryConsume(); err != nil {
		t.Fatal(err)
	}
	if tr.CanConsume() {
		t.Fatal("expected exhaustion")
	}

	// Cross midnight in the reference timezone.
	*now = now.Add(24 * time.Hour)
	status := tr.Status()
	if status.Used != 0 {
		t.Errorf("expected hard reset to 0 on rollover, got used=%d", status.Used)
	}
	if !tr.CanConsume() {
		t.Error("expected budget after rollover")
	}
}

func TestStatus_Fields(t *testing.T) {
	tr, _ := newTestTracker(t, 50, nil)

	if err := tr.TryConsume(); err != nil {
		t.Fatal(err)
	}
	status := tr.Status()
	if status.Limit != 50 || status.Used != 1 || status.Remaining != 49 {
		t.Errorf("unexpected status: %+v", status)
	}
	if !status.ResetAt.Equal(tr.window.Start.AddDate(0, 0, 1)) {
		t.Errorf("expected ResetAt at next midnight, got %v", status.ResetAt)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota", "astroengine.json")
	store := NewFileStore(path)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("expected empty load from missing file, got ok=%v err=%v", ok, err)
	}

	w := Window{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Used: 17}
	if err := store.Save(w); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("expected successful load, got ok=%v err=%v", ok, err)
	}
	if got.Used != 17 || !got.Start.Equal(w.Start) {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestNew_RestoresCurrentWindowSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	store := NewFileStore(path)

	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if err := store.Save(Window{Start: today, Used: 42}); err != nil {
		t.Fatal(err)
	}

	tr, err := New(Config{Upstream: "astroengine", DailyLimit: 50, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.Status().Used; got != 42 {
		t.Errorf("expected restored used=42, got %d", got)
	}
}

func TestNew_IgnoresStaleSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	store := NewFileStore(path)

	if err := store.Save(Window{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Used: 50}); err != nil {
		t.Fatal(err)
	}

	tr, err := New(Config{Upstream: "astroengine", DailyLimit: 50, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.Status().Used; got != 0 {
		t.Errorf("expected stale snapshot to be discarded, got used=%d", got)
	}
}
