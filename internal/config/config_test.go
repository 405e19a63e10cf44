package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DATABASE_DRIVER", "DATABASE_URL", "REDIS_ADDR", "HTTP_ADDR", "PORT",
	"LOG_LEVEL", "ENVIRONMENT",
	"SCHEDULER_ENABLED", "SCHEDULER_SPEC", "SCHEDULER_MAX_CATCH_UP",
	"DISPATCH_MODE", "DISPATCH_WEBHOOK_URL", "DISPATCH_WEBHOOK_SECRET", "DISPATCH_TIMEOUT",
	"DISPATCH_RATE", "DISPATCH_BURST",
	"CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN",
	"DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	"HTTP_SHUTDOWN_TIMEOUT", "METRICS_ENABLED", "METRICS_PATH", "METRICS_PORT", "ANALYTICS_RETENTION",
}

// clearEnv blanks every key Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, "@every 30s", cfg.SchedulerSpec)
	assert.Equal(t, 1000, cfg.SchedulerMaxCatchUp)
	assert.Equal(t, "log", cfg.DispatchMode)
	assert.Equal(t, 15*time.Second, cfg.DispatchTimeout)
	assert.Zero(t, cfg.DispatchRate)
	assert.Equal(t, 1, cfg.DispatchBurst)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 2*time.Minute, cfg.CircuitBreakerCooldown)
	assert.Equal(t, 5*time.Second, cfg.DBOpTimeout)
	assert.Equal(t, 25, cfg.DBMaxOpenConns)
	assert.Equal(t, 5, cfg.DBMaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.DBConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.DBConnMaxIdleTime)
	assert.Equal(t, 10*time.Second, cfg.HTTPShutdownTimeout)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Equal(t, "9090", cfg.MetricsPort)
	assert.Equal(t, 720*time.Hour, cfg.AnalyticsRetention)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "orbitops.db")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("SCHEDULER_SPEC", "*/5 * * * *")
	t.Setenv("SCHEDULER_MAX_CATCH_UP", "10")
	t.Setenv("DISPATCH_MODE", "webhook")
	t.Setenv("DISPATCH_TIMEOUT", "3s")
	t.Setenv("DISPATCH_RATE", "2.5")
	t.Setenv("DISPATCH_BURST", "4")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")
	t.Setenv("DB_MAX_OPEN_CONNS", "50")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "20s")
	t.Setenv("METRICS_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, "*/5 * * * *", cfg.SchedulerSpec)
	assert.Equal(t, 10, cfg.SchedulerMaxCatchUp)
	assert.Equal(t, "webhook", cfg.DispatchMode)
	assert.Equal(t, 3*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 2.5, cfg.DispatchRate)
	assert.Equal(t, 4, cfg.DispatchBurst)
	assert.Equal(t, 0, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 50, cfg.DBMaxOpenConns)
	assert.Equal(t, 20*time.Second, cfg.HTTPShutdownTimeout)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoad_InvalidIntegersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_MAX_OPEN_CONNS", "-3")
	t.Setenv("SCHEDULER_MAX_CATCH_UP", "lots")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "x")

	cfg := Load()

	assert.Equal(t, 25, cfg.DBMaxOpenConns)
	assert.Equal(t, 1000, cfg.SchedulerMaxCatchUp)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")

	cfg := Load()
	assert.Equal(t, ":3000", cfg.HTTPAddr)
}

func TestMaskedJSON(t *testing.T) {
	cfg := Config{
		DatabaseDriver:        "postgres",
		DatabaseURL:           "postgres://user:pass@db/orbitops",
		DispatchWebhookURL:    "https://hooks.example.com/in",
		DispatchWebhookSecret: "s3cret",
		DispatchTimeoutStr:    "15s",
	}

	data, err := cfg.MaskedJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pass")
	assert.NotContains(t, string(data), "s3cret")

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "postgres://***", out["database_url"])
	assert.Equal(t, "***", out["dispatch_webhook_secret"])
	assert.Equal(t, "15s", out["dispatch_timeout"])
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"postgresql://u:p@h/db", "postgresql://***"},
		{"host=db password=x", "***"},
		{"orbitops.db", "orbitops.db"},
		{":memory:", ":memory:"},
		{"file:orbit?mode=memory", "file:orbit?mode=memory"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskSecret(tt.in), tt.in)
	}
}
