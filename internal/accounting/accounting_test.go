package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"astrogate/internal/storage"
)

// mockStore implements Store for testing
type mockStore struct {
	records []*CallRecord
	mu      sync.Mutex
	closed  bool
}

func (m *mockStore) WriteBatch(_ context.Context, records []*CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *mockStore) Flush(_ context.Context) error {
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) getRecords() []*CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*CallRecord, len(m.records))
	copy(result, m.records)
	return result
}

func TestLogger(t *testing.T) {
	store := &mockStore{}
	cfg := Config{
		Enabled:       true,
		BufferSize:    100,
		FlushInterval: 100 * time.Millisecond,
	}

	logger := NewLogger(store, cfg)

	for i := 0; i < 5; i++ {
		logger.Write(&CallRecord{
			ID:        uuid.NewString(),
			RequestID: fmt.Sprintf("req-%d", i),
			Timestamp: time.Now(),
			Operation: "birth_chart",
			Upstream:  "astroengine",
			Outcome:   OutcomeSuccess,
			Attempts:  1,
		})
	}

	// Wait for flush interval
	time.Sleep(200 * time.Millisecond)

	records := store.getRecords()
	if len(records) != 5 {
		t.Errorf("expected 5 records, got %d", len(records))
	}

	if err := logger.Close(); err != nil {
		t.Errorf("logger close error: %v", err)
	}

	if !store.closed {
		t.Error("store should be closed")
	}
}

func TestLoggerClose(t *testing.T) {
	store := &mockStore{}
	cfg := Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 1 * time.Hour, // Long interval so flush is triggered by close
	}

	logger := NewLogger(store, cfg)

	for i := 0; i < 10; i++ {
		logger.Write(&CallRecord{
			ID:        uuid.NewString(),
			RequestID: fmt.Sprintf("req-%d", i),
			Timestamp: time.Now(),
		})
	}

	// Close immediately - should flush pending records
	if err := logger.Close(); err != nil {
		t.Errorf("logger close error: %v", err)
	}

	records := store.getRecords()
	if len(records) != 10 {
		t.Errorf("expected 10 records after close, got %d", len(records))
	}
}

func TestLoggerCloseIdempotent(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true})

	if err := logger.Close(); err != nil {
		t.Errorf("first close error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second close error: %v", err)
	}

	// Writes after close are dropped silently
	logger.Write(&CallRecord{ID: uuid.NewString()})
	if len(store.getRecords()) != 0 {
		t.Error("write after close should be dropped")
	}
}

func TestLoggerConcurrentWrites(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 50 * time.Millisecond,
	})

	const goroutines = 10
	const writesPerGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < writesPerGoroutine; j++ {
				logger.Write(&CallRecord{
					ID:        uuid.NewString(),
					RequestID: fmt.Sprintf("req-%d-%d", id, j),
					Timestamp: time.Now(),
				})
			}
		}(i)
	}
	wg.Wait()

	if err := logger.Close(); err != nil {
		t.Fatalf("logger close error: %v", err)
	}

	records := store.getRecords()
	if len(records) != goroutines*writesPerGoroutine {
		t.Errorf("expected %d records, got %d", goroutines*writesPerGoroutine, len(records))
	}
}

func TestNoopLogger(t *testing.T) {
	logger := &NoopLogger{}

	logger.Write(&CallRecord{ID: uuid.NewString()})
	logger.Write(nil)

	if logger.Config().Enabled {
		t.Error("noop logger config should report disabled")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("noop close error: %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	store, err := storage.NewSQLite(storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create SQLite storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store.SQLiteDB()
}

func TestSQLiteStoreWriteAndRead(t *testing.T) {
	db := openTestDB(t)

	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	records := []*CallRecord{
		{
			ID: uuid.NewString(), RequestID: "req-1", Timestamp: now.Add(-2 * time.Minute),
			Operation: "birth_chart", Upstream: "astroengine", Outcome: OutcomeSuccess,
			StatusCode: 200, Attempts: 1, DurationMS: 120, CacheKey: "birth_chart:abc",
		},
		{
			ID: uuid.NewString(), RequestID: "req-2", Timestamp: now.Add(-time.Minute),
			Operation: "panchang", Upstream: "freeastro", Outcome: OutcomeSuccess,
			StatusCode: 200, Attempts: 2, DurationMS: 840, CacheKey: "panchang:def",
		},
		{
			ID: uuid.NewString(), RequestID: "req-3", Timestamp: now,
			Operation: "panchang", Upstream: "astroengine", Outcome: OutcomeTimeout,
			StatusCode: 0, Attempts: 4, DurationMS: 40000, CacheKey: "panchang:def",
		},
	}

	if err := store.WriteBatch(context.Background(), records); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	reader := &sqliteReader{db: db}
	got, err := reader.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Newest first
	if got[0].RequestID != "req-3" {
		t.Errorf("first record = %s, want req-3", got[0].RequestID)
	}
	if got[0].Outcome != OutcomeTimeout {
		t.Errorf("outcome = %s, want timeout", got[0].Outcome)
	}
	if got[2].CacheKey != "birth_chart:abc" {
		t.Errorf("cache key = %s, want birth_chart:abc", got[2].CacheKey)
	}
}

func TestSQLiteStoreDuplicateIDsIgnored(t *testing.T) {
	db := openTestDB(t)

	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	id := uuid.NewString()
	rec := &CallRecord{ID: id, RequestID: "req-1", Timestamp: time.Now(), Operation: "birth_chart"}

	if err := store.WriteBatch(context.Background(), []*CallRecord{rec, rec}); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM calls").Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows, want 1 (duplicates ignored)", count)
	}
}

func TestSQLiteStoreChunking(t *testing.T) {
	db := openTestDB(t)

	store, err := NewSQLiteStore(db, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	// More records than fit in one parameter-limited batch.
	records := make([]*CallRecord, maxPerBatch*2+7)
	for i := range records {
		records[i] = &CallRecord{
			ID: uuid.NewString(), RequestID: fmt.Sprintf("req-%d", i),
			Timestamp: time.Now(), Operation: "chart_svg", Upstream: "astroengine",
			Outcome: OutcomeSuccess,
		}
	}

	if err := store.WriteBatch(context.Background(), records); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM calls").Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	if count != len(records) {
		t.Errorf("got %d rows, want %d", count, len(records))
	}
}

func TestReaderLimitClamped(t *testing.T) {
	if got := clampLimit(0); got != DefaultRecentLimit {
		t.Errorf("clampLimit(0) = %d, want %d", got, DefaultRecentLimit)
	}
	if got := clampLimit(-5); got != DefaultRecentLimit {
		t.Errorf("clampLimit(-5) = %d, want %d", got, DefaultRecentLimit)
	}
	if got := clampLimit(10_000); got != MaxRecentLimit {
		t.Errorf("clampLimit(10000) = %d, want %d", got, MaxRecentLimit)
	}
	if got := clampLimit(7); got != 7 {
		t.Errorf("clampLimit(7) = %d, want 7", got)
	}
}
