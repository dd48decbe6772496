package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates a new PostgreSQL call record store.
// It creates the calls table if it doesn't exist and starts
// a background cleanup goroutine if retention is configured.
func NewPostgreSQLStore(pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS calls (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			operation TEXT NOT NULL,
			upstream TEXT NOT NULL,
			outcome TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
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
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	// Start background cleanup if retention is configured
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch writes multiple call records to PostgreSQL.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, records []*CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	// For larger batches, use a transaction to ensure atomicity
	// For smaller batches, use individual inserts without transaction overhead
	if len(records) < 10 {
		return s.writeBatchSmall(ctx, records)
	}

	return s.writeBatchLarge(ctx, records)
}

// writeBatchSmall uses INSERT for small batches
func (s *PostgreSQLStore) writeBatchSmall(ctx context.Context, records []*CallRecord) error {
	var errs []error

	for _, r := range records {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO calls (id, request_id, timestamp, operation, upstream,
				outcome, status_code, attempts, duration_ms, cache_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.RequestID, r.Timestamp, r.Operation, r.Upstream,
			r.Outcome, r.StatusCode, r.Attempts, r.DurationMS, r.CacheKey)

		if err != nil {
			slog.Warn("failed to insert call record", "error", err, "id", r.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", r.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d call records: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// writeBatchLarge uses batch insert for larger batches
func (s *PostgreSQLStore) writeBatchLarge(ctx context.Context, records []*CallRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var errs []error

	for _, r := range records {
		_, err = tx.Exec(ctx, `
			INSERT INTO calls (id, request_id, timestamp, operation, upstream,
				outcome, status_code, attempts, duration_ms, cache_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.RequestID, r.Timestamp, r.Operation, r.Upstream,
			r.Outcome, r.StatusCode, r.Attempts, r.DurationMS, r.CacheKey)

		if err != nil {
			slog.Warn("failed to insert call record in batch", "error", err, "id", r.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", r.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d call records: %w", len(errs), len(records), errors.Join(errs...))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
// Note: We don't close the pool here as it's managed by the storage layer.
// Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes call records older than the retention period.
func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM calls WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old call records", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old call records", "deleted", result.RowsAffected())
	}
}
