package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-channels/internal/reliability"
	"github.com/glimte/mmate-channels/message"
)

type scriptedClient struct {
	pollErr    error
	publishErr error
	polls      int
	published  []*message.Message
	closed     bool
}

func (c *scriptedClient) Poll(context.Context, PollRequest) (any, error) {
	c.polls++
	if c.pollErr != nil {
		return nil, c.pollErr
	}
	return "payload", nil
}

func (c *scriptedClient) Publish(_ context.Context, msg *message.Message) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *scriptedClient) Close() error {
	c.closed = true
	return nil
}

func TestGuardedClientPassesThrough(t *testing.T) {
	inner := &scriptedClient{}
	g := Guard(inner, NewBreaker("test"))
	ctx := context.Background()

	got, err := g.Poll(ctx, PollRequest{})
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	msg := message.WithPayload("x").Build()
	require.NoError(t, g.Publish(ctx, msg))
	assert.Equal(t, []*message.Message{msg}, inner.published)

	require.NoError(t, g.Close())
	assert.True(t, inner.closed)
}

func TestGuardedClientOpensOnBrokerFailures(t *testing.T) {
	inner := &scriptedClient{pollErr: errors.New("connection reset")}
	g := Guard(inner, NewBreaker("test",
		reliability.WithFailureThreshold(2),
		reliability.WithOpenTimeout(time.Hour)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Poll(ctx, PollRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, reliability.StateOpen, g.Breaker().State())

	_, err := g.Poll(ctx, PollRequest{})
	assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
	assert.Equal(t, 2, inner.polls)

	err = g.Publish(ctx, message.WithPayload("x").Build())
	assert.ErrorIs(t, err, reliability.ErrCircuitOpen)
}

func TestGuardedClientIgnoresCallerErrors(t *testing.T) {
	inner := &scriptedClient{pollErr: ErrSelectorNotSupported}
	g := Guard(inner, NewBreaker("test", reliability.WithFailureThreshold(1)))

	for i := 0; i < 3; i++ {
		_, err := g.Poll(context.Background(), PollRequest{Selector: "a = 1"})
		assert.ErrorIs(t, err, ErrSelectorNotSupported)
	}
	assert.Equal(t, reliability.StateClosed, g.Breaker().State())
	assert.Equal(t, 3, inner.polls)
}

func TestIsBrokerFailure(t *testing.T) {
	assert.False(t, IsBrokerFailure(nil))
	assert.False(t, IsBrokerFailure(ErrClientClosed))
	assert.False(t, IsBrokerFailure(context.DeadlineExceeded))
	assert.True(t, IsBrokerFailure(errors.New("io")))
}
