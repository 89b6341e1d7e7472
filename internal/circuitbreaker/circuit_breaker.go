// Package circuitbreaker guards the outbound dependencies of the
// retrieval service: the metadata store, the embedding cache, and the
// HTTP backends. A breaker trips after a run of failures, rejects calls
// while open, and lets a limited number of probes through before
// closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < StateClosed || s > StateOpen {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrCircuitBreakerOpen rejects calls while the breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open probe quota.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker.
type Config struct {
	// MaxRequests caps in-flight probes while half-open.
	MaxRequests uint32
	// Interval resets the closed-state tally; zero keeps it forever.
	Interval time.Duration
	// Timeout is how long an open breaker waits before probing.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that trips
	// a closed breaker.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive-success count that closes
	// a half-open breaker.
	SuccessThreshold uint32
	// OnStateChange is invoked after every transition.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig works for most backends: trip after 5 straight
// failures, probe after 10 seconds, close after 2 good probes.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts is the request tally of the current cycle.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker serializes state decisions around a guarded call.
// Counts belong to a cycle; every transition (and the closed-state
// interval rollover) starts a fresh cycle so a late completion from an
// earlier cycle cannot flip the state.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mutex  sync.RWMutex
	state  State
	cycle  uint64
	counts Counts
	// deadline is the next scheduled event: tally reset while closed,
	// probe admission while open.
	deadline time.Time
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:     name,
		config:   config,
		logger:   logger,
		state:    StateClosed,
		deadline: time.Now().Add(config.Interval),
	}
}

// Execute runs fn under the breaker. Open breakers fail fast; a panic in
// fn is counted as a failure and re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cycle, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(cycle, false)
			panic(r)
		}
	}()

	err = fn()
	cb.settle(cycle, err == nil)
	return err
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Counts returns the tally of the current cycle.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.counts
}

// admit decides whether a call may proceed and records it.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, cycle := cb.advance(now)

	switch {
	case state == StateOpen:
		return cycle, ErrCircuitBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return cycle, ErrTooManyRequests
	}

	cb.counts.Requests++
	return cycle, nil
}

// settle records a call outcome. Outcomes from a superseded cycle are
// dropped.
func (cb *CircuitBreaker) settle(cycle uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if current != cycle {
		return
	}

	if success {
		cb.recordSuccess(state, now)
	} else {
		cb.recordFailure(state, now)
	}
}

// advance applies any due scheduled event and returns the state.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.beginCycle(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.cycle
}

func (cb *CircuitBreaker) recordSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		if cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) recordFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// One failed probe reopens immediately.
		cb.transition(StateOpen, now)
	}
}

func (cb *CircuitBreaker) transition(next State, now time.Time) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.beginCycle(now)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, next)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}

// beginCycle zeroes the tally and schedules the next event for the
// current state.
func (cb *CircuitBreaker) beginCycle(now time.Time) {
	cb.cycle++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.config.Interval == 0 {
			cb.deadline = time.Time{}
		} else {
			cb.deadline = now.Add(cb.config.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.config.Timeout)
	default:
		// Half-open has no scheduled event; it leaves on probe results.
		cb.deadline = time.Time{}
	}
}
