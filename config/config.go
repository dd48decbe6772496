// Package config provides configuration management for the gateway.
//
// Precedence, highest first: ASTROGATE_* environment variables, an optional
// YAML file named by ASTROGATE_CONFIG_FILE, built-in defaults. A .env file in
// the working directory is loaded best-effort before anything else.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	AstroEngine AstroEngineConfig `yaml:"astroengine"`
	FreeAstro   FreeAstroConfig   `yaml:"freeastro"`
	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Cache       CacheConfig       `yaml:"cache"`
	Quota       QuotaConfig       `yaml:"quota"`
	Accounting  AccountingConfig  `yaml:"accounting"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string `yaml:"port"`
	BodySizeLimit string `yaml:"body_size_limit"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	// Format is "json", "pretty", or "auto" (pretty when stderr is a terminal)
	Format string `yaml:"format"`
	// Level is debug, info, warn, or error
	Level string `yaml:"level"`
}

// AstroEngineConfig holds primary upstream configuration
type AstroEngineConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// TimeoutSeconds is the hard per-call deadline
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// HealthTimeoutSeconds bounds the health probe
	HealthTimeoutSeconds int `yaml:"health_timeout_seconds"`
}

// FreeAstroConfig holds fallback upstream configuration
type FreeAstroConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RetryConfig holds retry executor configuration
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds"`
}

// CacheConfig holds cache store configuration. TTLs are per operation, in
// seconds.
type CacheConfig struct {
	BirthChartTTLSeconds    int `yaml:"birth_chart_ttl_seconds"`
	ChartSVGTTLSeconds      int `yaml:"chart_svg_ttl_seconds"`
	PanchangTTLSeconds      int `yaml:"panchang_ttl_seconds"`
	CompatibilityTTLSeconds int `yaml:"compatibility_ttl_seconds"`
	// FallbackTTLSeconds is the shorter TTL applied to fallback-sourced values
	FallbackTTLSeconds int `yaml:"fallback_ttl_seconds"`

	StaleGraceSeconds    int `yaml:"stale_grace_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	MaxEntries           int `yaml:"max_entries"`
}

// QuotaConfig holds the daily budget for the metered primary upstream
type QuotaConfig struct {
	DailyLimit int `yaml:"daily_limit"`
	// Timezone is the IANA zone the upstream bills in
	Timezone string `yaml:"timezone"`
	// SnapshotPath persists the window to a JSON file. Ignored when RedisURL
	// is set.
	SnapshotPath string `yaml:"snapshot_path"`
	// RedisURL selects the Redis snapshot backend (redis://...)
	RedisURL string `yaml:"redis_url"`
}

// AccountingConfig holds call accounting configuration
type AccountingConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	// FlushInterval is in seconds
	FlushInterval int `yaml:"flush_interval"`
	RetentionDays int `yaml:"retention_days"`
}

// StorageConfig holds database backend configuration
type StorageConfig struct {
	// Type is "sqlite", "postgresql", or "mongodb"
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Load reads configuration from .env (best effort), the optional YAML file,
// and environment overrides, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("ASTROGATE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
		},
		Log: LogConfig{
			Format: "auto",
			Level:  "info",
		},
		AstroEngine: AstroEngineConfig{
			BaseURL:              "http://localhost:4001",
			TimeoutSeconds:       10,
			HealthTimeoutSeconds: 5,
		},
		FreeAstro: FreeAstroConfig{
			BaseURL:        "https://json.freeastrologyapi.com",
			TimeoutSeconds: 10,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialDelayMS: 1000,
			MaxDelayMS:     10000,
			Multiplier:     2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			ResetTimeoutSeconds: 60,
		},
		Cache: CacheConfig{
			BirthChartTTLSeconds:    86400,
			ChartSVGTTLSeconds:      86400,
			PanchangTTLSeconds:      21600,
			CompatibilityTTLSeconds: 86400,
			FallbackTTLSeconds:      3600,
			StaleGraceSeconds:       3600,
			SweepIntervalSeconds:    300,
			MaxEntries:              10000,
		},
		Quota: QuotaConfig{
			DailyLimit: 50,
			Timezone:   "Asia/Kolkata",
		},
		Accounting: AccountingConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 90,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: ".cache/astrogate.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "astrogate",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

// applyEnv layers ASTROGATE_* environment variables over cfg.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ASTROGATE_PORT")
	setString(&cfg.Server.BodySizeLimit, "ASTROGATE_BODY_SIZE_LIMIT")

	setString(&cfg.Log.Format, "ASTROGATE_LOG_FORMAT")
	setString(&cfg.Log.Level, "ASTROGATE_LOG_LEVEL")

	setString(&cfg.AstroEngine.BaseURL, "ASTROGATE_ASTROENGINE_URL")
	setString(&cfg.AstroEngine.APIKey, "ASTROGATE_ASTROENGINE_API_KEY")
	setInt(&cfg.AstroEngine.TimeoutSeconds, "ASTROGATE_ASTROENGINE_TIMEOUT")
	setInt(&cfg.AstroEngine.HealthTimeoutSeconds, "ASTROGATE_ASTROENGINE_HEALTH_TIMEOUT")

	setString(&cfg.FreeAstro.BaseURL, "ASTROGATE_FREEASTRO_URL")
	setString(&cfg.FreeAstro.APIKey, "ASTROGATE_FREEASTRO_API_KEY")
	setInt(&cfg.FreeAstro.TimeoutSeconds, "ASTROGATE_FREEASTRO_TIMEOUT")

	setInt(&cfg.Retry.MaxRetries, "ASTROGATE_RETRY_MAX")
	setInt(&cfg.Retry.InitialDelayMS, "ASTROGATE_RETRY_INITIAL_DELAY_MS")
	setInt(&cfg.Retry.MaxDelayMS, "ASTROGATE_RETRY_MAX_DELAY_MS")
	setFloat(&cfg.Retry.Multiplier, "ASTROGATE_RETRY_MULTIPLIER")

	setInt(&cfg.Breaker.FailureThreshold, "ASTROGATE_BREAKER_THRESHOLD")
	setInt(&cfg.Breaker.ResetTimeoutSeconds, "ASTROGATE_BREAKER_RESET_TIMEOUT")

	setInt(&cfg.Cache.BirthChartTTLSeconds, "ASTROGATE_TTL_BIRTH_CHART")
	setInt(&cfg.Cache.ChartSVGTTLSeconds, "ASTROGATE_TTL_CHART_SVG")
	setInt(&cfg.Cache.PanchangTTLSeconds, "ASTROGATE_TTL_PANCHANG")
	setInt(&cfg.Cache.CompatibilityTTLSeconds, "ASTROGATE_TTL_COMPATIBILITY")
	setInt(&cfg.Cache.FallbackTTLSeconds, "ASTROGATE_TTL_FALLBACK")
	setInt(&cfg.Cache.StaleGraceSeconds, "ASTROGATE_CACHE_STALE_GRACE")
	setInt(&cfg.Cache.SweepIntervalSeconds, "ASTROGATE_CACHE_SWEEP_INTERVAL")
	setInt(&cfg.Cache.MaxEntries, "ASTROGATE_CACHE_MAX_ENTRIES")

	setInt(&cfg.Quota.DailyLimit, "ASTROGATE_QUOTA_DAILY_LIMIT")
	setString(&cfg.Quota.Timezone, "ASTROGATE_QUOTA_TIMEZONE")
	setString(&cfg.Quota.SnapshotPath, "ASTROGATE_QUOTA_SNAPSHOT_PATH")
	setString(&cfg.Quota.RedisURL, "ASTROGATE_QUOTA_REDIS_URL")

	setBool(&cfg.Accounting.Enabled, "ASTROGATE_ACCOUNTING_ENABLED")
	setInt(&cfg.Accounting.BufferSize, "ASTROGATE_ACCOUNTING_BUFFER_SIZE")
	setInt(&cfg.Accounting.FlushInterval, "ASTROGATE_ACCOUNTING_FLUSH_INTERVAL")
	setInt(&cfg.Accounting.RetentionDays, "ASTROGATE_ACCOUNTING_RETENTION_DAYS")

	setString(&cfg.Storage.Type, "ASTROGATE_STORAGE_TYPE")
	setString(&cfg.Storage.SQLite.Path, "ASTROGATE_SQLITE_PATH")
	setString(&cfg.Storage.PostgreSQL.URL, "ASTROGATE_POSTGRESQL_URL")
	setInt(&cfg.Storage.PostgreSQL.MaxConns, "ASTROGATE_POSTGRESQL_MAX_CONNS")
	setString(&cfg.Storage.MongoDB.URL, "ASTROGATE_MONGODB_URL")
	setString(&cfg.Storage.MongoDB.Database, "ASTROGATE_MONGODB_DATABASE")

	setBool(&cfg.Metrics.Enabled, "ASTROGATE_METRICS_ENABLED")
	setString(&cfg.Metrics.Endpoint, "ASTROGATE_METRICS_ENDPOINT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks the assembled configuration, returning every problem found
// joined into a single error.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port must not be empty"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry max must be non-negative, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry multiplier must be at least 1, got %g", c.Retry.Multiplier))
	}
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("breaker failure threshold must be positive, got %d", c.Breaker.FailureThreshold))
	}
	if c.Breaker.ResetTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("breaker reset timeout must be positive, got %d", c.Breaker.ResetTimeoutSeconds))
	}
	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, fmt.Errorf("quota daily limit must be positive, got %d", c.Quota.DailyLimit))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid quota timezone %q: %w", c.Quota.Timezone, err))
	}
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q (valid: sqlite, postgresql, mongodb)", c.Storage.Type))
	}
	if c.Storage.Type == "postgresql" && c.Storage.PostgreSQL.URL == "" {
		errs = append(errs, errors.New("postgresql storage requires a URL"))
	}
	if c.Storage.Type == "mongodb" && c.Storage.MongoDB.URL == "" {
		errs = append(errs, errors.New("mongodb storage requires a URL"))
	}

	return errors.Join(errs...)
}

// AstroEngineTimeout returns the primary upstream's per-call deadline.
func (c *Config) AstroEngineTimeout() time.Duration {
	return time.Duration(c.AstroEngine.TimeoutSeconds) * time.Second
}

// AstroEngineHealthTimeout returns the primary upstream's health probe deadline.
func (c *Config) AstroEngineHealthTimeout() time.Duration {
	return time.Duration(c.AstroEngine.HealthTimeoutSeconds) * time.Second
}

// FreeAstroTimeout returns the fallback upstream's per-call deadline.
func (c *Config) FreeAstroTimeout() time.Duration {
	return time.Duration(c.FreeAstro.TimeoutSeconds) * time.Second
}
