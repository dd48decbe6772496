//go:build integration

package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrogate/config"
	"astrogate/internal/accounting"
	"astrogate/internal/storage"
)

// newAccountingConfig returns an app config pointed at the given backend.
func newAccountingConfig(storageType string) *config.Config {
	return &config.Config{
		Accounting: config.AccountingConfig{
			Enabled:       true,
			BufferSize:    100,
			FlushInterval: 1,
			RetentionDays: 30,
		},
		Storage: config.StorageConfig{
			Type: storageType,
			PostgreSQL: config.PostgreSQLConfig{
				URL:      pgURL,
				MaxConns: 5,
			},
			MongoDB: config.MongoDBConfig{
				URL:      mongoURL,
				Database: "astrogate_test",
			},
		},
	}
}

// newRecord builds a call record for the given request id suffix.
func newRecord(seq int, ts time.Time) *accounting.CallRecord {
	return &accounting.CallRecord{
		ID:         uuid.NewString(),
		RequestID:  fmt.Sprintf("req-%d", seq),
		Timestamp:  ts,
		Operation:  "birth_chart",
		Upstream:   "astroengine",
		Outcome:    accounting.OutcomeSuccess,
		StatusCode: 200,
		Attempts:   1,
		DurationMS: 42,
		CacheKey:   fmt.Sprintf("birth_chart:%016d", seq),
	}
}

// waitForRecords polls the reader until it returns at least want records.
func waitForRecords(t *testing.T, reader accounting.Reader, want int) []accounting.CallRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		records, err := reader.Recent(testCtx, 100)
		require.NoError(t, err)
		if len(records) >= want {
			return records
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d accounting records", want)
	return nil
}

func TestPostgreSQLAccountingRoundTrip(t *testing.T) {
	store, err := storage.NewPostgreSQL(testCtx, storage.PostgreSQLConfig{URL: pgURL, MaxConns: 5})
	require.NoError(t, err)
	defer store.Close()

	result, err := accounting.NewWithSharedStorage(testCtx, newAccountingConfig("postgresql"), store)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		result.Logger.Write(newRecord(i, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, result.Logger.Close())

	records := waitForRecords(t, result.Reader, 5)
	require.GreaterOrEqual(t, len(records), 5)

	// Newest first.
	assert.Equal(t, "req-4", records[0].RequestID)
	assert.Equal(t, "birth_chart", records[0].Operation)
	assert.Equal(t, "astroengine", records[0].Upstream)
	assert.Equal(t, accounting.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, int64(42), records[0].DurationMS)
}

func TestPostgreSQLDuplicateIDsIgnored(t *testing.T) {
	acctStore, err := accounting.NewPostgreSQLStore(pgPool, 30)
	require.NoError(t, err)
	defer acctStore.Close()

	rec := newRecord(100, time.Now().UTC())
	require.NoError(t, acctStore.WriteBatch(testCtx, []*accounting.CallRecord{rec}))

	// Replaying the same batch must not error or duplicate.
	require.NoError(t, acctStore.WriteBatch(testCtx, []*accounting.CallRecord{rec}))

	var count int
	err = pgPool.QueryRow(testCtx, "SELECT COUNT(*) FROM calls WHERE id = $1", rec.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgreSQLLargeBatchUsesTransaction(t *testing.T) {
	acctStore, err := accounting.NewPostgreSQLStore(pgPool, 30)
	require.NoError(t, err)
	defer acctStore.Close()

	base := time.Now().UTC()
	batch := make([]*accounting.CallRecord, 50)
	for i := range batch {
		batch[i] = newRecord(200+i, base.Add(time.Duration(i)*time.Millisecond))
	}
	require.NoError(t, acctStore.WriteBatch(testCtx, batch))

	var count int
	err = pgPool.QueryRow(testCtx, "SELECT COUNT(*) FROM calls WHERE request_id LIKE 'req-2%'").Scan(&count)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 50)
}

func TestMongoDBAccountingRoundTrip(t *testing.T) {
	store, err := storage.NewMongoDB(testCtx, storage.MongoDBConfig{URL: mongoURL, Database: "astrogate_test"})
	require.NoError(t, err)
	defer store.Close()

	result, err := accounting.NewWithSharedStorage(testCtx, newAccountingConfig("mongodb"), store)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		result.Logger.Write(newRecord(300+i, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, result.Logger.Close())

	records := waitForRecords(t, result.Reader, 3)
	require.GreaterOrEqual(t, len(records), 3)
	assert.Equal(t, "req-302", records[0].RequestID)
}

func TestMongoDBTTLIndexCreated(t *testing.T) {
	_, err := accounting.NewMongoDBStore(mongoDatabase, 30)
	require.NoError(t, err)

	cursor, err := mongoDatabase.Collection("calls").Indexes().List(testCtx)
	require.NoError(t, err)

	var indexes []map[string]any
	require.NoError(t, cursor.All(testCtx, &indexes))

	found := false
	for _, idx := range indexes {
		if _, ok := idx["expireAfterSeconds"]; ok {
			found = true
			break
		}
	}
	assert.True(t, found, "expected a TTL index on the calls collection")
}
