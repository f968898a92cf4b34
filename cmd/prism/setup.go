package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/prism/internal/cache"
	"github.com/jonathan/prism/internal/config"
	"github.com/jonathan/prism/internal/db"
	"github.com/jonathan/prism/internal/scheduler"
	"github.com/jonathan/prism/internal/storage"
)

// newLogger builds the process logger from the configured level.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// connect loads config and opens the database.
func connect(ctx context.Context) (*config.Config, *db.DB, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, database, nil
}

// buildObjectStore picks MinIO/S3 when an endpoint is configured and
// the local filesystem otherwise.
func buildObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3Endpoint != "" {
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return storage.NewFS(cfg.StorageDir)
}

// buildCache picks Redis when configured, the database otherwise.
func buildCache(cfg *config.Config, database *db.DB) (scheduler.ResultCache, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return cache.NewRedis(redis.NewClient(opts), cfg.CacheTTL), nil
	}
	return cache.New(database, cfg.CacheTTL), nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
