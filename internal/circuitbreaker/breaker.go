// Package circuitbreaker guards a dispatch endpoint after repeated failures.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type endpoint struct {
	state    circuitState
	failures int
	openedAt time.Time
}

// Breaker tracks consecutive failures per endpoint key. After threshold
// failures the key opens; once cooldown has elapsed a single probe is let
// through, and its outcome closes or re-opens the key.
type Breaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow reports ErrCircuitOpen while key is open or its probe is in flight.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		return nil
	}

	switch e.state {
	case stateOpen:
		if b.clock().Sub(e.openedAt) >= b.cooldown {
			e.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.endpoints[key]; ok {
		e.state = stateClosed
		e.failures = 0
	}
}

func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		e = &endpoint{}
		b.endpoints[key] = e
	}

	e.failures++
	if e.state == stateHalfOpen || e.failures >= b.threshold {
		e.state = stateOpen
		e.openedAt = b.clock()
	}
}

// stateOf returns the current state of key without transitioning it.
func (b *Breaker) stateOf(key string) circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.endpoints[key]; ok {
		return e.state
	}
	return stateClosed
}
