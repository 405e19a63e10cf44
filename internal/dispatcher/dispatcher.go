// Package dispatcher delivers rendered work packages to their recipients.
//
// A Dispatcher makes exactly one delivery attempt per call. Failed runs are
// recorded by the scheduler and never retried here.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/djlord-it/orbitops/internal/metrics"
	"github.com/djlord-it/orbitops/internal/render"
)

// Sender performs one delivery. Name labels metrics and keys the circuit breaker.
type Sender interface {
	Name() string
	Send(ctx context.Context, env Envelope) Result
}

// Breaker is satisfied by *circuitbreaker.Breaker.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// MetricsSink defines the interface for recording dispatch metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DispatchCompleted(sender, statusClass string, duration time.Duration)
	DispatchOutcome(outcome string)
	DispatchRejected(reason string)
}

type Recipient struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Envelope is one run's delivery: the rendered package and who receives it.
type Envelope struct {
	RunID        uuid.UUID
	AutomationID uuid.UUID
	Automation   string
	ScheduledFor time.Time
	Recipients   []Recipient
	Package      render.Package
}

// Result of a single Send. StatusCode is zero for senders that have none.
type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	if r.Error != nil {
		return false
	}
	return r.StatusCode == 0 || (r.StatusCode >= 200 && r.StatusCode < 300)
}

// DispatchError reports a delivery that did not succeed.
type DispatchError struct {
	Sender     string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch via %s: %v", e.Sender, e.Err)
	}
	return fmt.Sprintf("dispatch via %s: status %d", e.Sender, e.StatusCode)
}

func (e *DispatchError) Unwrap() error { return e.Err }

type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     logrus.FieldLogger

	limiter *rate.Limiter // optional, nil = unlimited
	breaker Breaker       // optional, nil = disabled
	metrics MetricsSink   // optional, nil = disabled
}

// New returns a dispatcher bounding each Send by timeout. A zero timeout
// leaves the caller's context as the only bound.
func New(sender Sender, timeout time.Duration, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		log:     log,
	}
}

// WithRateLimit caps dispatches at r per second with the given burst.
// A non-positive r disables limiting.
func (d *Dispatcher) WithRateLimit(r float64, burst int) *Dispatcher {
	if r <= 0 {
		d.limiter = nil
		return d
	}
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(r), burst)
	return d
}

func (d *Dispatcher) WithCircuitBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Dispatch makes one delivery attempt. Any outcome other than success,
// including a circuit-open or rate-limit rejection, is a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	name := d.sender.Name()
	log := d.log.WithFields(logrus.Fields{
		"automation_id": env.AutomationID,
		"run_id":        env.RunID,
		"sender":        name,
	})

	if d.breaker != nil {
		if err := d.breaker.Allow(name); err != nil {
			d.reject(metrics.ReasonCircuitOpen)
			log.Warn("dispatcher: circuit open, delivery refused")
			return &DispatchError{Sender: name, Err: err}
		}
	}

	// The timeout covers the rate-limit wait as well as the send.
	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(sendCtx); err != nil {
			d.reject(metrics.ReasonRateLimited)
			return &DispatchError{Sender: name, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	start := time.Now()
	res := d.sender.Send(sendCtx, env)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	if res.Error == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) && !res.IsSuccess() {
		res.Error = sendCtx.Err()
	}

	if d.metrics != nil {
		class := metrics.StatusClassOK
		if res.StatusCode != 0 || res.Error != nil {
			class = metrics.ClassifyStatus(res.StatusCode, res.Error)
		}
		d.metrics.DispatchCompleted(name, class, res.Duration)
	}

	if res.IsSuccess() {
		if d.breaker != nil {
			d.breaker.RecordSuccess(name)
		}
		d.outcome(metrics.OutcomeSuccess)
		log.WithField("duration", res.Duration).Debug("dispatcher: delivered")
		return nil
	}

	if d.breaker != nil {
		d.breaker.RecordFailure(name)
	}
	d.outcome(metrics.OutcomeFailed)
	log.WithFields(logrus.Fields{"status": res.StatusCode, "error": res.Error}).Warn("dispatcher: delivery failed")
	return &DispatchError{Sender: name, StatusCode: res.StatusCode, Err: res.Error}
}

func (d *Dispatcher) reject(reason string) {
	if d.metrics != nil {
		d.metrics.DispatchRejected(reason)
		d.metrics.DispatchOutcome(metrics.OutcomeRejected)
	}
}

func (d *Dispatcher) outcome(o string) {
	if d.metrics != nil {
		d.metrics.DispatchOutcome(o)
	}
}
