package main

import (
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/config"
)

// logConfigWarnings flags configurations that run but are probably not what
// an operator wants. P0 loses or fakes deliveries, P1 loses visibility.
func logConfigWarnings(log logrus.FieldLogger, cfg config.Config) {
	if cfg.DispatchMode == "" || cfg.DispatchMode == "log" {
		log.Warn("[P0] DISPATCH_MODE=log: work packages are written to the log and never delivered")
	}
	if cfg.DispatchMode == "webhook" && cfg.DispatchWebhookSecret == "" {
		log.Warn("[P0] DISPATCH_WEBHOOK_SECRET is empty: receivers cannot verify deliveries")
	}
	if !cfg.SchedulerEnabled {
		log.Warn("[P1] SCHEDULER_ENABLED=false: automations fire only through POST /scheduler/run")
	}
	if !cfg.MetricsEnabled {
		log.Warn("[P1] METRICS_ENABLED=false: no Prometheus metrics are exported")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Info("CIRCUIT_BREAKER_THRESHOLD=0: the dispatch circuit breaker is disabled")
	}
	if cfg.DatabaseDriver == "sqlite" {
		log.Info("DATABASE_DRIVER=sqlite: single connection; run one instance per database file")
	}
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set; analytics disabled")
	}
}
