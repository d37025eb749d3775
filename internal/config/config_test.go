package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "validation-jobs", cfg.StreamName)
	assert.Equal(t, "validation-workers", cfg.ConsumerGroup)
	assert.Equal(t, "geoval", cfg.DBName)
	assert.Equal(t, "validation_runs", cfg.RunTableName)
	assert.Equal(t, "validation_results", cfg.ResultTableName)
	assert.Equal(t, ":8081", cfg.ServerPort)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REDIS_URL", "redis.example:6380")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.example:6380", cfg.RedisURL)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
}
