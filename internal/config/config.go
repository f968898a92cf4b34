// Package config loads worker and CLI configuration from the
// environment. A .env file in the working directory is honored for
// local runs; real deployments set the variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full runtime configuration.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `validate:"required"`

	// RedisURL optionally switches the analysis cache to Redis.
	// Empty keeps the cache in PostgreSQL.
	RedisURL string

	// Object storage. StorageDir selects the local filesystem backend
	// when S3Endpoint is empty.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	StorageDir  string

	// Analysis provider.
	GeminiAPIKey string
	GeminiModel  string

	// Worker tuning.
	WorkerID          string
	PollInterval      time.Duration `validate:"min=0"`
	MaxConcurrentJobs int           `validate:"min=0,max=64"`
	StaleJobThreshold time.Duration `validate:"min=0"`
	AdapterTimeout    time.Duration `validate:"min=0"`
	CacheTTL          time.Duration `validate:"min=0"`

	// MetricsAddr exposes Prometheus metrics when non-empty, e.g.
	// ":9090".
	MetricsAddr string

	// LogLevel is a logrus level name, defaulting to info.
	LogLevel string
}

// FromEnv reads configuration from the environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		S3Endpoint:   os.Getenv("S3_ENDPOINT"),
		S3AccessKey:  os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:  os.Getenv("S3_SECRET_KEY"),
		S3Bucket:     getEnv("S3_BUCKET", "prism-files"),
		S3UseSSL:     getEnvBool("S3_USE_SSL", false),
		StorageDir:   getEnv("STORAGE_DIR", "./data/files"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  os.Getenv("GEMINI_MODEL"),
		WorkerID:     os.Getenv("WORKER_ID"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollInterval, err = getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleJobThreshold, err = getEnvDuration("STALE_JOB_THRESHOLD", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AdapterTimeout, err = getEnvDuration("ADAPTER_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getEnvDuration("ANALYSIS_CACHE_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentJobs, err = getEnvInt("MAX_CONCURRENT_JOBS", 2); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings ("30s", "5m") and, for
// compatibility with older deployments, bare integers as seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
