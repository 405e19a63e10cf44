package main

import (
	"github.com/spf13/cobra"

	"github.com/djlord-it/orbitops/internal/config"
	"github.com/djlord-it/orbitops/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "orbitops",
	Short: "OrbitOps - recurring team automation scheduler",
	Long: `OrbitOps fires recurring automations: each one renders a work template for a
set of associates on a daily or weekly schedule and dispatches it exactly once
per occurrence.

Configuration is read from the environment and an optional .env file:
  DATABASE_DRIVER           postgres or sqlite (default: "postgres")
  DATABASE_URL              connection string or sqlite file path (required)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  LOG_LEVEL                 debug, info, warn, error (default: "info")
  ENVIRONMENT               production and staging log JSON (default: "development")

  SCHEDULER_ENABLED         run engine passes on a timer (default: "true")
  SCHEDULER_SPEC            cron spec for the timer (default: "@every 30s")
  SCHEDULER_MAX_CATCH_UP    occurrences per automation per pass (default: "1000")

  DISPATCH_MODE             log or webhook (default: "log")
  DISPATCH_WEBHOOK_URL      receiver URL for webhook mode
  DISPATCH_WEBHOOK_SECRET   HMAC-SHA256 signing key
  DISPATCH_TIMEOUT          per-delivery timeout (default: "15s")
  DISPATCH_RATE             deliveries per second, 0 = unlimited
  DISPATCH_BURST            rate limiter burst (default: "1")
  CIRCUIT_BREAKER_THRESHOLD consecutive failures before opening, 0 = off (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  open state duration (default: "2m")

  DB_OP_TIMEOUT             database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         max open connections (default: "25")
  DB_MAX_IDLE_CONNS         max idle connections (default: "5")
  DB_CONN_MAX_LIFETIME      max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT     graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           serve Prometheus metrics (default: "false")
  METRICS_PATH              metrics endpoint path (default: "/metrics")
  METRICS_PORT              metrics server port (default: "9090")
  ANALYTICS_RETENTION       Redis counter TTL (default: "720h")`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the environment and initializes the logger.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		return cfg, invalidConfig(err)
	}
	logger.Init(cfg)
	return cfg, nil
}
