package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownKeys = []string{
	"SERVER_HOST", "SERVER_PORT", "STORAGE_DRIVER",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD",
	"POSTGRES_DB", "POSTGRES_SSLMODE", "POSTGRES_MAX_CONNS", "TX_MAX_RETRIES",
	"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"JWT_SECRET", "ASSET_ISSUER", "CACHE_TICKET_TTL", "CACHE_LIST_TTL",
	"PURCHASE_RATE_LIMIT", "PURCHASE_RATE_WINDOW", "LOG_LEVEL",
}

// isolate clears the environment New reads and moves into an empty
// directory so no developer .env file is loaded.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range knownKeys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestNew_MemoryDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Cache.TicketTTL)
	assert.Equal(t, 5*time.Second, cfg.Cache.ListTTL)
	assert.Equal(t, 10, cfg.RateLimit.PurchaseLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.PurchaseWindow)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.Auth.AssetIssuer)
}

func TestNew_Postgres(t *testing.T) {
	isolate(t)
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("POSTGRES_USER", "tix")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "tixledger")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("POSTGRES_MAX_CONNS", "25")
	t.Setenv("TX_MAX_RETRIES", "3")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("ASSET_ISSUER", "treasury")
	t.Setenv("CACHE_LIST_TTL", "2s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, PostgresConfig{
		User:         "tix",
		Password:     "pw",
		Name:         "tixledger",
		Host:         "localhost",
		Port:         6543,
		SSLMode:      "disable",
		MaxConns:     25,
		TxMaxRetries: 3,
	}, cfg.Postgres)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "treasury", cfg.Auth.AssetIssuer)
	assert.Equal(t, 2*time.Second, cfg.Cache.ListTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"STORAGE_DRIVER": "memory"}},
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "sqlite", "JWT_SECRET": "x"}},
		{name: "postgres user", env: map[string]string{"STORAGE_DRIVER": "postgres", "JWT_SECRET": "x"}},
		{name: "bad port", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": "x", "SERVER_PORT": "http"}},
		{name: "bad ttl", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": "x", "CACHE_TICKET_TTL": "soon"}},
		{name: "bad bool", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": "x", "REDIS_ENABLED": "maybe"}},
		{name: "bad level", env: map[string]string{"STORAGE_DRIVER": "memory", "JWT_SECRET": "x", "LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := New()
			assert.Error(t, err)
		})
	}
}
