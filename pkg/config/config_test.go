package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colabrix/colabrix/pkg/observability"
	"github.com/colabrix/colabrix/pkg/storage"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: storage.Config{
			PostgresURL:      "postgres://localhost:5432/colabrix",
			PostgresMaxConns: 20,
			PostgresMinConns: 2,
			RedisURL:         "redis://localhost:6379/0",
		},
		Session: SessionConfig{TTL: 7 * 24 * time.Hour},
		Observability: ObservabilityConfig{
			LogLevel: observability.InfoLevel,
		},
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("COLABRIX_POSTGRES_URL", "postgres://localhost:5432/colabrix")
	t.Setenv("COLABRIX_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Storage.CacheTTL[storage.TTLPermissions])
	assert.Equal(t, 10*time.Minute, cfg.Storage.CacheTTL[storage.TTLEntitlements])
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.CacheTTL[storage.TTLUsage])
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("COLABRIX_POSTGRES_URL", "postgres://db:5432/colabrix")
	t.Setenv("COLABRIX_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("COLABRIX_PORT", "8888")
	t.Setenv("COLABRIX_SESSION_TTL", "24h")
	t.Setenv("COLABRIX_PERMISSIONS_TTL", "1m")
	t.Setenv("COLABRIX_LOG_LEVEL", "debug")
	t.Setenv("COLABRIX_POSTGRES_MAX_CONNS", "50")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8888", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, time.Minute, cfg.Storage.CacheTTL[storage.TTLPermissions])
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 50, cfg.Storage.PostgresMaxConns)
}

func TestLoadConfigMissingPostgres(t *testing.T) {
	t.Setenv("COLABRIX_REDIS_URL", "redis://localhost:6379/0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"missing redis", func(c *Config) { c.Storage.RedisURL = "" }, "redis URL"},
		{"min over max conns", func(c *Config) { c.Storage.PostgresMinConns = 100 }, "min connections"},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }, "session TTL"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "OpenTelemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"ERROR", observability.ErrorLevel},
		{"bogus", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.level))
		})
	}
}
