package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultRedisKey stores the quota window snapshot.
	defaultRedisKey = "astrogate:quota"

	// redisSnapshotTTL bounds how long a stale snapshot can linger: two days
	// covers any window that could still be current across a restart.
	redisSnapshotTTL = 48 * time.Hour

	redisOpTimeout = 5 * time.Second
)

// RedisStore persists the quota window in Redis, letting multiple gateway
// instances share one budget snapshot.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisConfig holds Redis snapshot store settings.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379/0").
	URL string

	// Key overrides the snapshot key (defaults to "astrogate:quota").
	Key string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}

	slog.Info("redis quota store connected", "key", key)
	return &RedisStore{client: client, key: key}, nil
}

// Load reads the persisted window. A missing key is not an error.
func (s *RedisStore) Load() (Window, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Window{}, false, nil
		}
		return Window{}, false, fmt.Errorf("failed to get quota snapshot from redis: %w", err)
	}

	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return Window{}, false, fmt.Errorf("failed to parse quota snapshot from redis: %w", err)
	}
	return w, true, nil
}

// Save writes the window with a bounded TTL.
func (s *RedisStore) Save(w Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal quota snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, redisSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save quota snapshot to redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
