package broker

import (
	"context"
	"errors"

	"github.com/glimte/mmate-channels/internal/reliability"
	"github.com/glimte/mmate-channels/message"
)

// GuardedClient routes polls and publishes through a circuit breaker so a
// failing broker is not hammered by every receive loop. Selector rejections
// and cancellations do not count against the broker.
type GuardedClient struct {
	client  Client
	breaker *reliability.CircuitBreaker
}

var _ Client = (*GuardedClient)(nil)

// Guard wraps client with breaker
func Guard(client Client, breaker *reliability.CircuitBreaker) *GuardedClient {
	return &GuardedClient{client: client, breaker: breaker}
}

// NewBreaker creates a breaker that ignores errors caused by the caller
func NewBreaker(name string, options ...reliability.CircuitBreakerOption) *reliability.CircuitBreaker {
	opts := append([]reliability.CircuitBreakerOption{
		reliability.WithFailurePredicate(IsBrokerFailure),
	}, options...)
	return reliability.NewCircuitBreaker(name, opts...)
}

// IsBrokerFailure reports whether err points at the broker rather than the caller
func IsBrokerFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrSelectorNotSupported),
		errors.Is(err, ErrClientClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Breaker returns the guarding breaker
func (g *GuardedClient) Breaker() *reliability.CircuitBreaker {
	return g.breaker
}

// Poll implements Client
func (g *GuardedClient) Poll(ctx context.Context, req PollRequest) (any, error) {
	var result any
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = g.client.Poll(ctx, req)
		return err
	})
	return result, err
}

// Publish implements Client
func (g *GuardedClient) Publish(ctx context.Context, msg *message.Message) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.client.Publish(ctx, msg)
	})
}

// Close implements Client
func (g *GuardedClient) Close() error {
	return g.client.Close()
}
