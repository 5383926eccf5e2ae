package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 500, cfg.PoolSize)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
}

func TestLoadConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("DISPATCH_BENCH_POOL", "80")
	t.Setenv("DISPATCH_BENCH_OFFLINE", "true")
	t.Setenv("DISPATCH_BENCH_SEED", "9")
	t.Setenv("DISPATCH_DB_DSN", "postgres://bench@localhost/dispatch")

	cfg, err := loadConfig([]string{"-seed", "7", "-base-url", "http://api:9000/"})
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.PoolSize)
	assert.True(t, cfg.Offline)
	assert.Equal(t, int64(7), cfg.Seed, "command line wins over the environment")
	assert.Equal(t, "postgres://bench@localhost/dispatch", cfg.DSN)
	assert.Equal(t, "http://api:9000", cfg.BaseURL)
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	t.Setenv("DISPATCH_BENCH_TIMEOUT", "soon")
	_, err := loadConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_BENCH_TIMEOUT")
}
