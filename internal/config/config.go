package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the orbitops application.
// Values are loaded from environment variables (and an optional .env file);
// see the root command's help for the full list.
type Config struct {
	DatabaseDriver string `json:"database_driver"`
	DatabaseURL    string `json:"database_url"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	HTTPAddr       string `json:"http_addr"`

	LogLevel    string `json:"log_level"`
	Environment string `json:"environment"`

	// SchedulerSpec is a robfig/cron spec such as "@every 30s" or "*/1 * * * *".
	SchedulerEnabled    bool   `json:"scheduler_enabled"`
	SchedulerSpec       string `json:"scheduler_spec"`
	SchedulerMaxCatchUp int    `json:"scheduler_max_catch_up"`

	// DispatchMode: "log" (write packages to the log) or "webhook".
	DispatchMode          string        `json:"dispatch_mode"`
	DispatchWebhookURL    string        `json:"dispatch_webhook_url,omitempty"`
	DispatchWebhookSecret string        `json:"-"`
	DispatchTimeout       time.Duration `json:"-"`
	DispatchTimeoutStr    string        `json:"dispatch_timeout"`

	// DispatchRate is sends per second; 0 disables rate limiting.
	DispatchRate    float64 `json:"dispatch_rate"`
	DispatchRateStr string  `json:"-"`
	DispatchBurst   int     `json:"dispatch_burst"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first; it never overrides
// variables already set in the environment.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseDriver:            strings.ToLower(os.Getenv("DATABASE_DRIVER")),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		LogLevel:                  strings.ToLower(os.Getenv("LOG_LEVEL")),
		Environment:               strings.ToLower(os.Getenv("ENVIRONMENT")),
		SchedulerEnabled:          os.Getenv("SCHEDULER_ENABLED") != "false",
		SchedulerSpec:             os.Getenv("SCHEDULER_SPEC"),
		DispatchMode:              strings.ToLower(os.Getenv("DISPATCH_MODE")),
		DispatchWebhookURL:        os.Getenv("DISPATCH_WEBHOOK_URL"),
		DispatchWebhookSecret:     os.Getenv("DISPATCH_WEBHOOK_SECRET"),
		DispatchTimeoutStr:        os.Getenv("DISPATCH_TIMEOUT"),
		DispatchRateStr:           os.Getenv("DISPATCH_RATE"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		AnalyticsRetentionStr:     os.Getenv("ANALYTICS_RETENTION"),
	}

	cfg.SchedulerMaxCatchUp = positiveInt("SCHEDULER_MAX_CATCH_UP", 1000)
	cfg.DispatchBurst = positiveInt("DISPATCH_BURST", 1)
	cfg.DBMaxOpenConns = positiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = positiveInt("DB_MAX_IDLE_CONNS", 5)

	if s := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			logrus.Warnf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", s)
			cfg.CircuitBreakerThreshold = 5
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	// Support PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.SchedulerSpec == "" {
		cfg.SchedulerSpec = "@every 30s"
	}
	if cfg.DispatchMode == "" {
		cfg.DispatchMode = "log"
	}
	if cfg.DispatchTimeoutStr == "" {
		cfg.DispatchTimeoutStr = "15s"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}

	if cfg.DispatchRateStr != "" {
		if r, err := strconv.ParseFloat(cfg.DispatchRateStr, 64); err == nil {
			cfg.DispatchRate = r
		}
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.DispatchTimeout = parseDuration(cfg.DispatchTimeoutStr)
	cfg.CircuitBreakerCooldown = parseDuration(cfg.CircuitBreakerCooldownStr)
	cfg.DBOpTimeout = parseDuration(cfg.DBOpTimeoutStr)
	cfg.DBConnMaxLifetime = parseDuration(cfg.DBConnMaxLifetimeStr)
	cfg.DBConnMaxIdleTime = parseDuration(cfg.DBConnMaxIdleTimeStr)
	cfg.HTTPShutdownTimeout = parseDuration(cfg.HTTPShutdownTimeoutStr)
	cfg.AnalyticsRetention = parseDuration(cfg.AnalyticsRetentionStr)

	return cfg
}

// positiveInt reads key as a positive integer, falling back to def.
func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		logrus.Warnf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	out := struct {
		Config
		DispatchWebhookSecret string `json:"dispatch_webhook_secret,omitempty"`
	}{
		Config: masked,
	}
	if c.DispatchWebhookSecret != "" {
		out.DispatchWebhookSecret = "***"
	}
	return json.MarshalIndent(out, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
// Plain file paths (sqlite) carry no credentials and are returned as is.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	if strings.HasPrefix(s, "file:") || strings.HasSuffix(s, ".db") || s == ":memory:" {
		return s
	}
	return "***"
}
