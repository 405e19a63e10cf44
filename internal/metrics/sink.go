package metrics

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sink records scheduler and dispatch metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Engine metrics
	PassStarted()
	PassCompleted(duration time.Duration, processed int, err error)
	DueSetSize(n int)
	RunRecorded(status string)
	OccurrenceSkipped()
	NextRunInitialized()
	AutomationRetired()
	AutomationErrored()
	FireLagObserve(lag time.Duration)

	// Dispatch metrics
	DispatchCompleted(sender, statusClass string, duration time.Duration)
	DispatchOutcome(outcome string)
	DispatchRejected(reason string)
}

// Outcome constants for DispatchOutcome.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Reason constants for DispatchRejected.
const (
	ReasonCircuitOpen = "circuit_open"
	ReasonRateLimited = "rate_limited"
)

// StatusClass constants for DispatchCompleted.
const (
	StatusClassOK              = "ok"
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return StatusClassTimeout
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
