package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query (SQLITE_MAX_VARIABLE_NUMBER).
// With 10 columns per record, we can safely insert up to 99 records per batch (99 * 10 = 990).
const (
	maxSQLiteParams  = 999
	columnsPerRecord = 10
	maxPerBatch      = maxSQLiteParams / columnsPerRecord // 99 records
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates a new SQLite call record store.
// It creates the calls table if it doesn't exist and starts
// a background cleanup goroutine if retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			operation TEXT NOT NULL,
			upstream TEXT NOT NULL,
			outcome TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			cache_key TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create calls table: %w", err)
	}

	// Create indexes for common queries
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON calls(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_calls_request_id ON calls(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_calls_operation ON calls(operation)",
		"CREATE INDEX IF NOT EXISTS idx_calls_upstream ON calls(upstream)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	// Start background cleanup if retention is configured
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch writes multiple call records to SQLite using batch insert.
// Records are chunked to stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, records []*CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	for i := 0; i < len(records); i += maxPerBatch {
		end := i + maxPerBatch
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerRecord)

		for j, r := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				r.ID,
				r.RequestID,
				r.Timestamp.UTC().Format(time.RFC3339Nano),
				r.Operation,
				r.Upstream,
				r.Outcome,
				r.StatusCode,
				r.Attempts,
				r.DurationMS,
				r.CacheKey,
			)
		}

		query := `INSERT OR IGNORE INTO calls (id, request_id, timestamp, operation, upstream,
			outcome, status_code, attempts, duration_ms, cache_key) VALUES ` +
			strings.Join(placeholders, ",")

		_, err := s.db.ExecContext(ctx, query, values...)
		if err != nil {
			return fmt.Errorf("failed to insert call batch %d: %w", i/maxPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
// Note: We don't close the DB here as it's managed by the storage layer.
// Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes call records older than the retention period.
func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339Nano)

	result, err := s.db.Exec("DELETE FROM calls WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old call records", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old call records", "deleted", rowsAffected)
	}
}
