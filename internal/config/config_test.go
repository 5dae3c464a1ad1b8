package config_test

import (
	"testing"
	"time"

	"github.com/dom/presence-registry/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "web_socket_adapter_table", cfg.TableName)
	assert.Equal(t, 30*time.Minute, cfg.ConnectionTTL)
	assert.Equal(t, 6, cfg.ActivityRetentionMonths)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, "active_connections", cfg.OnlinePolicy)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("TABLE_NAME", "presence_table")
	t.Setenv("CONNECTION_TTL_MINUTES", "5")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.BackendRedis, cfg.StoreBackend)
	assert.Equal(t, "presence_table", cfg.TableName)
	assert.Equal(t, 5*time.Minute, cfg.ConnectionTTL)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 0, cfg.RedisDB, "invalid ints fall back to the default")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing jwt secret",
			env:  map[string]string{"JWT_SECRET": ""},
		},
		{
			name: "unknown backend",
			env:  map[string]string{"JWT_SECRET": "s", "STORE_BACKEND": "cassandra"},
		},
		{
			name: "batch size above store limit",
			env:  map[string]string{"JWT_SECRET": "s", "BATCH_SIZE": "101"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
