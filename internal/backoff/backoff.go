// Package backoff provides the delay policies used by reconnect and polling loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy computes the delay before an attempt
type Policy interface {
	// NextDelay returns the delay before retry number attempt (zero based)
	NextDelay(attempt int) time.Duration
}

// Exponential grows the delay by Multiplier per attempt up to MaxInterval
type Exponential struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponential creates an exponential policy with jitter
func NewExponential(initial, max time.Duration, multiplier float64) *Exponential {
	return &Exponential{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          true,
	}
}

// NextDelay implements Policy
func (e *Exponential) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15%
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// Fixed always waits the same delay
type Fixed time.Duration

// NextDelay implements Policy
func (f Fixed) NextDelay(int) time.Duration {
	return time.Duration(f)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs fn until it succeeds, maxAttempts is reached or ctx is done. A
// maxAttempts of zero or less means no limit. It returns the last error.
func Retry(ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt+1 >= maxAttempts {
			return err
		}

		if err := Sleep(ctx, policy.NextDelay(attempt)); err != nil {
			return err
		}
	}
}
