// Package accounting records the outcome of every gateway computation for
// quota audits and debugging. Records are buffered in memory and flushed to
// storage in batches.
package accounting

import (
	"context"
	"time"
)

// Outcome constants for call records.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Store defines the interface for call record storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple call records to storage.
	// This is called by the Logger when flushing buffered records.
	WriteBatch(ctx context.Context, records []*CallRecord) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// CallRecord represents one completed gateway computation.
type CallRecord struct {
	// ID is a unique identifier for this record (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID links the record to the client request (X-Request-ID header)
	RequestID string `json:"request_id" bson:"request_id"`

	// Timestamp is when the computation completed
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// Operation is the computation kind (birth_chart, chart_svg, ...)
	Operation string `json:"operation" bson:"operation"`

	// Upstream names where the result came from: "astroengine", "freeastro",
	// or "cache"
	Upstream string `json:"upstream" bson:"upstream"`

	// Outcome is "success", "error", or "timeout"
	Outcome string `json:"outcome" bson:"outcome"`

	// StatusCode is the last upstream HTTP status, 0 when none was received
	StatusCode int `json:"status_code" bson:"status_code"`

	// Attempts counts upstream calls dispatched for this request
	Attempts int `json:"attempts" bson:"attempts"`

	// DurationMS is the total gateway-side latency in milliseconds
	DurationMS int64 `json:"duration_ms" bson:"duration_ms"`

	// CacheKey is the derived cache key for the request
	CacheKey string `json:"cache_key" bson:"cache_key"`
}

// Config holds call accounting configuration
type Config struct {
	// Enabled controls whether call accounting is active
	Enabled bool

	// BufferSize is the number of records to buffer before flushing
	BufferSize int

	// FlushInterval is how often to flush buffered records
	FlushInterval time.Duration

	// RetentionDays is how long to keep records (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
