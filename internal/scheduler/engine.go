// Package scheduler runs engine passes: it resolves the due set, fires each
// due occurrence exactly once and advances the automation's schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/recurrence"
)

const (
	DefaultSpec       = "@every 30s"
	DefaultMaxCatchUp = 1000
)

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PassStarted()
	PassCompleted(duration time.Duration, processed int, err error)
	DueSetSize(n int)
	RunRecorded(status string)
	OccurrenceSkipped()
	NextRunInitialized()
	AutomationRetired()
	AutomationErrored()
	FireLagObserve(lag time.Duration)
}

type Config struct {
	// Spec is the robfig/cron schedule that drives Run.
	Spec string
	// MaxCatchUp bounds the occurrences one automation may fire in a pass.
	MaxCatchUp int
}

// Summary counts what one pass did. Processed is Sent+Failed.
type Summary struct {
	Processed   int `json:"processed"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Initialized int `json:"initialized"`
	Retired     int `json:"retired"`
	Skipped     int `json:"skipped"`
	Errored     int `json:"errored"`
}

type Engine struct {
	config   Config
	store    Store
	resolver *Resolver
	executor *Executor
	log      logrus.FieldLogger
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled
}

func NewEngine(config Config, store Store, executor *Executor, log logrus.FieldLogger) *Engine {
	if config.Spec == "" {
		config.Spec = DefaultSpec
	}
	if config.MaxCatchUp <= 0 {
		config.MaxCatchUp = DefaultMaxCatchUp
	}
	return &Engine{
		config:   config,
		store:    store,
		resolver: NewResolver(store),
		executor: executor,
		log:      log,
		clock:    time.Now,
	}
}

func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// Run invokes RunOnce on every tick of the configured cron spec until ctx is
// cancelled. A tick that arrives while the previous pass is still running is
// skipped.
func (e *Engine) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.PrintfLogger(e.log)), cron.SkipIfStillRunning(cron.PrintfLogger(e.log))),
	)
	if _, err := c.AddFunc(e.config.Spec, func() { e.tick(ctx) }); err != nil {
		return fmt.Errorf("scheduler: invalid spec %q: %w", e.config.Spec, err)
	}

	e.log.Infof("scheduler: started, spec=%q", e.config.Spec)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	e.log.Info("scheduler: stopped")
	return ctx.Err()
}

func (e *Engine) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := e.RunOnce(ctx)
	if err != nil {
		e.log.WithError(err).Error("scheduler: pass failed")
		return
	}
	if sum != (Summary{}) {
		e.log.WithFields(logrus.Fields{
			"processed":   sum.Processed,
			"sent":        sum.Sent,
			"failed":      sum.Failed,
			"initialized": sum.Initialized,
			"retired":     sum.Retired,
			"skipped":     sum.Skipped,
			"errored":     sum.Errored,
		}).Info("scheduler: pass complete")
	}
}

// RunOnce performs a single pass at the current clock reading.
//
// Failures are isolated per automation. The pass fails only when the store
// cannot be reached: the due set cannot be read, or a ping after a
// per-automation store error fails; no summary is reported then. If ctx is
// cancelled the pass stops before the next automation and returns the
// summary so far with ctx.Err(); automations not reached stay due.
func (e *Engine) RunOnce(ctx context.Context) (sum Summary, err error) {
	start := e.clock()
	now := start.UTC()
	if e.metrics != nil {
		e.metrics.PassStarted()
		defer func() { e.metrics.PassCompleted(e.clock().Sub(start), sum.Processed, err) }()
	}

	due, err := e.resolver.Due(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("store unavailable: %w", err)
	}
	if e.metrics != nil {
		e.metrics.DueSetSize(len(due))
	}

	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		perr := e.process(ctx, a, now, &sum)
		if perr == nil {
			continue
		}

		sum.Errored++
		if e.metrics != nil {
			e.metrics.AutomationErrored()
		}
		log := e.log.WithField("automation_id", a.ID).WithError(perr)

		var cfgErr *recurrence.ConfigurationError
		if errors.As(perr, &cfgErr) {
			log.Warn("scheduler: invalid recurrence, automation skipped")
			continue
		}
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		log.Error("scheduler: automation failed")
		if pingErr := e.store.PingContext(ctx); pingErr != nil {
			return Summary{}, fmt.Errorf("store unavailable: %w", pingErr)
		}
	}

	return sum, nil
}

func (e *Engine) process(ctx context.Context, a domain.Automation, now time.Time, sum *Summary) error {
	rule, err := recurrence.FromAutomation(a)
	if err != nil {
		return err
	}

	if a.NextRunAt == nil {
		return e.initialize(ctx, a, rule, now, sum)
	}

	due := *a.NextRunAt
	for i := 0; i < e.config.MaxCatchUp; i++ {
		fired, err := e.executor.Fire(ctx, a, rule, due, now)
		if errors.Is(err, ErrOccurrenceClaimed) {
			sum.Skipped++
			if e.metrics != nil {
				e.metrics.OccurrenceSkipped()
			}
			e.log.WithField("automation_id", a.ID).Debug("scheduler: occurrence claimed elsewhere, skipping")
			return nil
		}
		if err != nil {
			return err
		}

		sum.Processed++
		switch fired.Run.Status {
		case domain.RunStatusSent:
			sum.Sent++
		default:
			sum.Failed++
		}
		if e.metrics != nil {
			e.metrics.RunRecorded(string(fired.Run.Status))
			e.metrics.FireLagObserve(now.Sub(due))
		}

		if fired.Next == nil {
			sum.Retired++
			if e.metrics != nil {
				e.metrics.AutomationRetired()
			}
			e.log.WithField("automation_id", a.ID).Info("scheduler: automation retired")
			return nil
		}
		if fired.Next.After(now) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		due = *fired.Next
	}

	e.log.WithField("automation_id", a.ID).Warnf("scheduler: catch-up limit %d reached, remaining occurrences left for the next pass", e.config.MaxCatchUp)
	return nil
}

func (e *Engine) initialize(ctx context.Context, a domain.Automation, rule recurrence.Rule, now time.Time, sum *Summary) error {
	var next *time.Time
	if n, ok := rule.Next(now); ok {
		next = &n
	}

	err := e.store.InitializeNextRun(ctx, a.ID, next)
	if errors.Is(err, ErrOccurrenceClaimed) {
		sum.Skipped++
		if e.metrics != nil {
			e.metrics.OccurrenceSkipped()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("initialize next run: %w", err)
	}

	log := e.log.WithField("automation_id", a.ID)
	if next == nil {
		sum.Retired++
		if e.metrics != nil {
			e.metrics.AutomationRetired()
		}
		log.Info("scheduler: automation has no occurrences, retired")
		return nil
	}

	sum.Initialized++
	if e.metrics != nil {
		e.metrics.NextRunInitialized()
	}
	log.WithField("next_run_at", next.Format(time.RFC3339)).Info("scheduler: next run initialized")
	return nil
}
