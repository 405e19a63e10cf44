package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/djlord-it/orbitops/internal/api"
	"github.com/djlord-it/orbitops/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the scheduler",
	Long: `Start the HTTP API and, unless SCHEDULER_ENABLED=false, run an engine pass on
every tick of SCHEDULER_SPEC. The schema is migrated on startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Log
	logConfigWarnings(log, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		reg = prometheus.DefaultRegisterer
	}
	a, err := newApp(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	var metricsServer *http.Server
	if a.metrics != nil {
		log.Infof("orbitops: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Metrics get their own port.
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("orbitops: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("orbitops: metrics server error")
			}
		}()
	}

	handler := api.NewHandler(a.store, a.engine, log).WithHealthChecker(a.store)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("orbitops: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("orbitops: http server error")
			stop()
		}
	}()

	// The engine gets its own context so it can be stopped before the HTTP server.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	var schedulerWg sync.WaitGroup
	if cfg.SchedulerEnabled {
		schedulerWg.Add(1)
		go func() {
			defer schedulerWg.Done()
			if err := a.engine.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("orbitops: scheduler exited")
				stop()
			}
		}()
	}

	log.Infof("orbitops: started (scheduler=%t, spec=%q, http=%s)", cfg.SchedulerEnabled, cfg.SchedulerSpec, cfg.HTTPAddr)

	<-ctx.Done()
	log.Info("orbitops: shutting down")

	// Phase 1: stop the scheduler; an in-flight pass finishes its current occurrence.
	log.Info("orbitops: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Info("orbitops: scheduler stopped")

	// Phase 2: stop the HTTP server with graceful shutdown.
	log.Info("orbitops: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.WithError(err).Error("orbitops: http server shutdown error")
	}
	log.Info("orbitops: http server stopped")

	// Phase 3: stop the metrics server if running (with the same timeout).
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.WithError(err).Error("orbitops: metrics server shutdown error")
		}
		log.Info("orbitops: metrics server stopped")
	}

	log.Info("orbitops: stopped")
	return nil
}
