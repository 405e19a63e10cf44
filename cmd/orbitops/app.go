package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/analytics"
	"github.com/djlord-it/orbitops/internal/api"
	"github.com/djlord-it/orbitops/internal/circuitbreaker"
	"github.com/djlord-it/orbitops/internal/config"
	"github.com/djlord-it/orbitops/internal/dispatcher"
	"github.com/djlord-it/orbitops/internal/metrics"
	"github.com/djlord-it/orbitops/internal/scheduler"
	"github.com/djlord-it/orbitops/internal/seed"
	"github.com/djlord-it/orbitops/internal/store/postgres"
	"github.com/djlord-it/orbitops/internal/store/sqlite"

	_ "github.com/lib/pq"
)

// storage is what both store implementations provide to the binary.
type storage interface {
	scheduler.Store
	api.Store
	seed.Store
	Migrate(ctx context.Context) error
	Close() error
}

// postgresStorage owns the *sql.DB behind a postgres.Store.
type postgresStorage struct {
	*postgres.Store
	db *sql.DB
}

func (s *postgresStorage) Close() error { return s.db.Close() }

func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (storage, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		st, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.PingContext(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("sqlite: ping: %w", err)
		}
		log.WithField("path", cfg.DatabaseURL).Info("orbitops: sqlite store opened")
		return st, nil

	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		log.Infof("orbitops: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &postgresStorage{Store: postgres.New(db, cfg.DBOpTimeout), db: db}, nil
	}
}

// app is the wired scheduler: store, dispatcher, optional analytics and metrics.
type app struct {
	store   storage
	engine  *scheduler.Engine
	metrics *metrics.PrometheusSink // nil when metrics are disabled
	redis   *redis.Client           // nil when analytics are disabled
}

// newApp opens the store and wires the engine. A nil registerer disables metrics.
func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger, reg prometheus.Registerer) (*app, error) {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &app{store: st}

	if reg != nil {
		a.metrics = metrics.NewPrometheusSink(reg, log)
	}

	executor := scheduler.NewExecutor(st, newDispatcher(cfg, log, a.metrics), log)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		executor = executor.WithAnalytics(analytics.NewRedisSink(a.redis, cfg.AnalyticsRetention, log))
		log.Infof("orbitops: analytics enabled (redis=%s)", cfg.RedisAddr)
	}

	a.engine = scheduler.NewEngine(scheduler.Config{
		Spec:       cfg.SchedulerSpec,
		MaxCatchUp: cfg.SchedulerMaxCatchUp,
	}, st, executor, log)
	if a.metrics != nil {
		a.engine = a.engine.WithMetrics(a.metrics)
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}

func newDispatcher(cfg config.Config, log logrus.FieldLogger, sink *metrics.PrometheusSink) *dispatcher.Dispatcher {
	var sender dispatcher.Sender
	switch cfg.DispatchMode {
	case "webhook":
		sender = dispatcher.NewHTTPWebhookSender(cfg.DispatchWebhookURL, cfg.DispatchWebhookSecret)
	default:
		sender = dispatcher.NewLogSender(log)
	}

	d := dispatcher.New(sender, cfg.DispatchTimeout, log)
	if cfg.DispatchRate > 0 {
		d = d.WithRateLimit(cfg.DispatchRate, cfg.DispatchBurst)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		d = d.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if sink != nil {
		d = d.WithMetrics(sink)
	}
	return d
}
