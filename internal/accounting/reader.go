package accounting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"astrogate/internal/storage"
)

// DefaultRecentLimit caps how many records Recent returns when the caller
// does not specify a limit.
const DefaultRecentLimit = 50

// MaxRecentLimit is the hard ceiling for Recent queries.
const MaxRecentLimit = 500

// Reader provides read access to call records for the status API.
type Reader interface {
	// Recent returns the most recent call records, newest first.
	Recent(ctx context.Context, limit int) ([]CallRecord, error)
}

// NewReader creates the appropriate Reader for the given storage backend.
func NewReader(store storage.Storage) (Reader, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return &sqliteReader{db: store.SQLiteDB()}, nil
	case storage.TypePostgreSQL:
		pool, ok := store.PostgreSQLPool().(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("invalid PostgreSQL pool type: %T", store.PostgreSQLPool())
		}
		return &postgresReader{pool: pool}, nil
	case storage.TypeMongoDB:
		db, ok := store.MongoDatabase().(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("invalid MongoDB database type: %T", store.MongoDatabase())
		}
		return &mongoReader{collection: db.Collection("calls")}, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

type sqliteReader struct {
	db *sql.DB
}

func (r *sqliteReader) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, timestamp, operation, upstream, outcome,
			status_code, attempts, duration_ms, cache_key
		FROM calls ORDER BY timestamp DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer rows.Close()

	records := make([]CallRecord, 0)
	for rows.Next() {
		var rec CallRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.RequestID, &ts, &rec.Operation, &rec.Upstream,
			&rec.Outcome, &rec.StatusCode, &rec.Attempts, &rec.DurationMS, &rec.CacheKey); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = parsed
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type postgresReader struct {
	pool *pgxpool.Pool
}

func (r *postgresReader) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, timestamp, operation, upstream, outcome,
			status_code, attempts, duration_ms, cache_key
		FROM calls ORDER BY timestamp DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer rows.Close()

	records := make([]CallRecord, 0)
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Timestamp, &rec.Operation, &rec.Upstream,
			&rec.Outcome, &rec.StatusCode, &rec.Attempts, &rec.DurationMS, &rec.CacheKey); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type mongoReader struct {
	collection *mongo.Collection
}

func (r *mongoReader) Recent(ctx context.Context, limit int) ([]CallRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))

	cursor, err := r.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]CallRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode call records: %w", err)
	}
	return records, nil
}
