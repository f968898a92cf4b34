package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/prism")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.StaleJobThreshold)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "prism-files", cfg.S3Bucket)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnvRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/prism")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("STALE_JOB_THRESHOLD", "600")
	t.Setenv("MAX_CONCURRENT_JOBS", "8")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	// Bare integers are seconds.
	assert.Equal(t, 10*time.Minute, cfg.StaleJobThreshold)
	assert.Equal(t, 8, cfg.MaxConcurrentJobs)
	assert.True(t, cfg.S3UseSSL)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/prism")
	t.Setenv("WORKER_POLL_INTERVAL", "soon")

	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("WORKER_POLL_INTERVAL", "5s")
	t.Setenv("MAX_CONCURRENT_JOBS", "many")
	_, err = FromEnv()
	assert.Error(t, err)
}
