package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (NoopSink) PassStarted()                                    {}
func (NoopSink) PassCompleted(time.Duration, int, error)         {}
func (NoopSink) DueSetSize(int)                                  {}
func (NoopSink) RunRecorded(string)                              {}
func (NoopSink) OccurrenceSkipped()                              {}
func (NoopSink) NextRunInitialized()                             {}
func (NoopSink) AutomationRetired()                              {}
func (NoopSink) AutomationErrored()                              {}
func (NoopSink) FireLagObserve(time.Duration)                    {}
func (NoopSink) DispatchCompleted(string, string, time.Duration) {}
func (NoopSink) DispatchOutcome(string)                          {}
func (NoopSink) DispatchRejected(string)                         {}

var _ Sink = NoopSink{}
