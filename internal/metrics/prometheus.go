package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PrometheusSink implements Sink on the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logrus.FieldLogger

	// Engine metrics
	passesTotal      prometheus.Counter
	passErrorsTotal  prometheus.Counter
	passDuration     prometheus.Histogram
	processedTotal   prometheus.Counter
	dueSetSize       prometheus.Gauge
	runsTotal        *prometheus.CounterVec
	staleClaimsTotal prometheus.Counter
	lazyInitsTotal   prometheus.Counter
	retirementsTotal prometheus.Counter
	erroredTotal     prometheus.Counter
	fireLag          prometheus.Histogram

	// Dispatch metrics
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  prometheus.Histogram
	dispatchOutcomes  *prometheus.CounterVec
	dispatchRejection *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log logrus.FieldLogger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initEngineMetrics(reg)
	s.initDispatchMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.passesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_passes_total",
		Help: "Total number of scheduler engine passes.",
	})
	s.passErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_pass_errors_total",
		Help: "Total number of scheduler passes that ended with an error.",
	})
	s.passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitops_scheduler_pass_duration_seconds",
		Help:    "Duration of each scheduler pass in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.processedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_occurrences_processed_total",
		Help: "Total number of due occurrences that produced a run.",
	})
	s.dueSetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitops_scheduler_due_set_size",
		Help: "Number of automations due at the start of the last pass.",
	})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitops_scheduler_runs_total",
		Help: "Total number of runs recorded, by status.",
	}, []string{"status"})
	s.staleClaimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_stale_claims_total",
		Help: "Occurrences skipped because a concurrent pass already claimed them.",
	})
	s.lazyInitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_next_run_initialized_total",
		Help: "Automations whose first next_run_at was computed.",
	})
	s.retirementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_retirements_total",
		Help: "Automations retired after their end date.",
	})
	s.erroredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitops_scheduler_automation_errors_total",
		Help: "Automations skipped in a pass because of invalid configuration or store errors.",
	})
	s.fireLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitops_scheduler_fire_lag_seconds",
		Help:    "Delay between an occurrence's scheduled instant and its firing.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 3600, 86400},
	})

	s.register(reg, s.passesTotal, "orbitops_scheduler_passes_total")
	s.register(reg, s.passErrorsTotal, "orbitops_scheduler_pass_errors_total")
	s.register(reg, s.passDuration, "orbitops_scheduler_pass_duration_seconds")
	s.register(reg, s.processedTotal, "orbitops_scheduler_occurrences_processed_total")
	s.register(reg, s.dueSetSize, "orbitops_scheduler_due_set_size")
	s.register(reg, s.runsTotal, "orbitops_scheduler_runs_total")
	s.register(reg, s.staleClaimsTotal, "orbitops_scheduler_stale_claims_total")
	s.register(reg, s.lazyInitsTotal, "orbitops_scheduler_next_run_initialized_total")
	s.register(reg, s.retirementsTotal, "orbitops_scheduler_retirements_total")
	s.register(reg, s.erroredTotal, "orbitops_scheduler_automation_errors_total")
	s.register(reg, s.fireLag, "orbitops_scheduler_fire_lag_seconds")
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitops_dispatch_attempts_total",
		Help: "Total number of dispatch attempts, by sender and status class.",
	}, []string{"sender", "status_class"})
	s.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitops_dispatch_duration_seconds",
		Help:    "Dispatch latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.dispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitops_dispatch_outcomes_total",
		Help: "Final dispatch outcome per run.",
	}, []string{"outcome"})
	s.dispatchRejection = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitops_dispatch_rejections_total",
		Help: "Dispatches refused before reaching the sender.",
	}, []string{"reason"})

	s.register(reg, s.dispatchTotal, "orbitops_dispatch_attempts_total")
	s.register(reg, s.dispatchDuration, "orbitops_dispatch_duration_seconds")
	s.register(reg, s.dispatchOutcomes, "orbitops_dispatch_outcomes_total")
	s.register(reg, s.dispatchRejection, "orbitops_dispatch_rejections_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.WithError(err).Warnf("metrics: failed to register %s", name)
	}
}

func (s *PrometheusSink) PassStarted() {
	s.passesTotal.Inc()
}

func (s *PrometheusSink) PassCompleted(duration time.Duration, processed int, err error) {
	s.passDuration.Observe(duration.Seconds())
	s.processedTotal.Add(float64(processed))
	if err != nil {
		s.passErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) DueSetSize(n int) {
	s.dueSetSize.Set(float64(n))
}

func (s *PrometheusSink) RunRecorded(status string) {
	s.runsTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) OccurrenceSkipped() {
	s.staleClaimsTotal.Inc()
}

func (s *PrometheusSink) NextRunInitialized() {
	s.lazyInitsTotal.Inc()
}

func (s *PrometheusSink) AutomationRetired() {
	s.retirementsTotal.Inc()
}

func (s *PrometheusSink) AutomationErrored() {
	s.erroredTotal.Inc()
}

func (s *PrometheusSink) FireLagObserve(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	s.fireLag.Observe(lag.Seconds())
}

func (s *PrometheusSink) DispatchCompleted(sender, statusClass string, duration time.Duration) {
	s.dispatchTotal.WithLabelValues(sender, statusClass).Inc()
	s.dispatchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchOutcome(outcome string) {
	s.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) DispatchRejected(reason string) {
	s.dispatchRejection.WithLabelValues(reason).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
