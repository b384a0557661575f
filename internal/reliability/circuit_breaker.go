package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called after every state transition
type StateChangeFunc func(name string, from, to State, reason string)

// CircuitBreaker stops calling a failing dependency for a cool-down period,
// then lets a limited number of probes through before closing again
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	halfOpenProbes   int
	isFailure        func(error) bool
	onStateChange    StateChangeFunc
	logger           *slog.Logger
	now              func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	inFlight    int
	openedAt    time.Time
	totalCalls  int64
	totalFailed int64
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithOpenTimeout sets how long the circuit stays open
func WithOpenTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.openTimeout = timeout
	}
}

// WithHalfOpenProbes limits concurrent calls while half-open
func WithHalfOpenProbes(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenProbes = n
	}
}

// WithFailurePredicate decides which errors count as failures. By default
// every error except context cancellation does.
func WithFailurePredicate(fn func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// WithStateChangeFunc registers a state transition callback
func WithStateChangeFunc(fn StateChangeFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(name string, options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 2,
		openTimeout:      30 * time.Second,
		halfOpenProbes:   1,
		isFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(cb)
	}
	if cb.logger == nil {
		cb.logger = slog.Default()
	}
	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the circuit rejects the call
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.record(probe, err)
	return err
}

// State returns the current state, moving an expired open circuit to half-open
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.state
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed, "reset")
}

// Metrics is a snapshot of breaker counters
type Metrics struct {
	Name        string
	State       State
	Failures    int
	TotalCalls  int64
	TotalFailed int64
}

// Metrics returns the breaker counters
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return Metrics{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		TotalCalls:  cb.totalCalls,
		TotalFailed: cb.totalFailed,
	}
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.expireLocked()

	switch cb.state {
	case StateOpen:
		return false, &CircuitBreakerError{
			Name:             cb.name,
			State:            StateOpen,
			Failures:         cb.failures,
			FailureThreshold: cb.failureThreshold,
			NextRetry:        cb.openedAt.Add(cb.openTimeout),
		}
	case StateHalfOpen:
		if cb.inFlight >= cb.halfOpenProbes {
			return false, &CircuitBreakerError{Name: cb.name, State: StateHalfOpen}
		}
		cb.inFlight++
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.inFlight--
	}

	if err != nil && cb.isFailure(err) {
		cb.totalFailed++
		cb.failures++
		switch {
		case cb.state == StateHalfOpen:
			cb.transitionLocked(StateOpen, "probe failed")
		case cb.state == StateClosed && cb.failures >= cb.failureThreshold:
			cb.transitionLocked(StateOpen, fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transitionLocked(StateClosed, fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold))
		}
	}
}

func (cb *CircuitBreaker) expireLocked() {
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.openTimeout)) {
		cb.transitionLocked(StateHalfOpen, "open timeout expired")
	}
}

func (cb *CircuitBreaker) transitionLocked(to State, reason string) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.inFlight = 0

	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}

	if from == to {
		return
	}
	cb.logger.Warn("circuit breaker state changed",
		"name", cb.name,
		"from", from.String(),
		"to", to.String(),
		"reason", reason)
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to, reason)
	}
}
