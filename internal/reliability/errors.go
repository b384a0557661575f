package reliability

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker: circuit is open")

// CircuitBreakerError describes a rejected call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker %s: half-open probe limit reached", e.Name)
	}
	return fmt.Sprintf("circuit breaker %s open (failures=%d/%d, retry in %v)",
		e.Name, e.Failures, e.FailureThreshold, time.Until(e.NextRetry).Round(time.Millisecond))
}

func (e *CircuitBreakerError) Unwrap() error {
	return ErrCircuitOpen
}
