package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"astrogate/config"
	"astrogate/internal/storage"
)

// Result holds the initialized accounting logger and its dependencies.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Logger  LoggerInterface
	Reader  Reader
	Storage storage.Storage
}

// Close releases all resources held by the accounting logger.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates an accounting logger from configuration.
// Returns a Result containing the logger, reader, and storage for lifecycle
// management. The caller must call Result.Close() during shutdown.
//
// If accounting is disabled in the config, returns a NoopLogger with nil
// reader and storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.Accounting.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	result, err := newWithStorage(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	result.Storage = store
	return result, nil
}

// NewWithSharedStorage creates an accounting logger using a shared storage
// connection. The caller is responsible for closing the storage separately.
func NewWithSharedStorage(_ context.Context, cfg *config.Config, store storage.Storage) (*Result, error) {
	if !cfg.Accounting.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required when accounting is enabled")
	}
	return newWithStorage(cfg, store)
}

func newWithStorage(cfg *config.Config, store storage.Storage) (*Result, error) {
	callStore, err := createStore(store, cfg.Accounting.RetentionDays)
	if err != nil {
		return nil, err
	}

	reader, err := NewReader(store)
	if err != nil {
		callStore.Close()
		return nil, err
	}

	return &Result{
		Logger: NewLogger(callStore, buildLoggerConfig(cfg.Accounting)),
		Reader: reader,
	}, nil
}

// buildStorageConfig creates a storage.Config from the application config.
func buildStorageConfig(cfg *config.Config) storage.Config {
	storageCfg := storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}

	// Apply defaults
	if storageCfg.Type == "" {
		storageCfg.Type = storage.TypeSQLite
	}
	if storageCfg.SQLite.Path == "" {
		storageCfg.SQLite.Path = ".cache/astrogate.db"
	}
	if storageCfg.MongoDB.Database == "" {
		storageCfg.MongoDB.Database = "astrogate"
	}

	return storageCfg
}

// createStore creates the appropriate Store for the given storage backend.
func createStore(store storage.Storage, retentionDays int) (Store, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)

	case storage.TypePostgreSQL:
		pool := store.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		pgxPool, ok := pool.(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("invalid PostgreSQL pool type: %T", pool)
		}
		return NewPostgreSQLStore(pgxPool, retentionDays)

	case storage.TypeMongoDB:
		db := store.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		mongoDB, ok := db.(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("invalid MongoDB database type: %T", db)
		}
		return NewMongoDBStore(mongoDB, retentionDays)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// buildLoggerConfig creates an accounting.Config from config.AccountingConfig.
func buildLoggerConfig(acctCfg config.AccountingConfig) Config {
	cfg := Config{
		Enabled:       acctCfg.Enabled,
		BufferSize:    acctCfg.BufferSize,
		FlushInterval: time.Duration(acctCfg.FlushInterval) * time.Second,
		RetentionDays: acctCfg.RetentionDays,
	}

	// Apply defaults
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	return cfg
}
