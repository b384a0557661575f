package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
)

// BrokerChannel is a pollable channel backed by a broker client. Each receive
// carries its own timeout to the client, so a timed receive never changes
// the wait of any other receive.
type BrokerChannel struct {
	base
	client broker.Client

	mu       sync.RWMutex
	selector string
}

// NewBrokerChannel creates a broker channel using client
func NewBrokerChannel(name string, client broker.Client, opts ...Option) (*BrokerChannel, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	o := newOptions(opts)
	return &BrokerChannel{
		base:     newBase(name, o),
		client:   client,
		selector: o.selector,
	}, nil
}

// Selector returns the current selector expression
func (c *BrokerChannel) Selector() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selector
}

// SetSelector replaces the selector used by subsequent receives
func (c *BrokerChannel) SetSelector(selector string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selector = selector
}

// Send publishes msg through the client
func (c *BrokerChannel) Send(ctx context.Context, msg *message.Message) (bool, error) {
	return c.send(ctx, c, msg, func(ctx context.Context, msg *message.Message) (bool, error) {
		if err := c.client.Publish(ctx, msg); err != nil {
			return false, fmt.Errorf("failed to publish to %s: %w", c.name, err)
		}
		return true, nil
	})
}

// Receive polls with the client's configured receive timeout
func (c *BrokerChannel) Receive(ctx context.Context) (*message.Message, error) {
	return c.receive(ctx, 0)
}

// ReceiveTimeout polls waiting at most timeout. A timeout of zero or less
// polls without waiting.
func (c *BrokerChannel) ReceiveTimeout(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	if timeout <= 0 {
		timeout = broker.NoWait
	}
	return c.receive(ctx, timeout)
}

func (c *BrokerChannel) receive(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	req := broker.PollRequest{
		Selector: c.Selector(),
		Timeout:  timeout,
	}

	return c.interceptors.Receive(ctx, c, func(ctx context.Context) (*message.Message, error) {
		result, err := c.client.Poll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to poll %s: %w", c.name, err)
		}
		return asMessage(result), nil
	})
}

// asMessage wraps a bare payload into a message
func asMessage(result any) *message.Message {
	switch v := result.(type) {
	case nil:
		return nil
	case *message.Message:
		return v
	default:
		return message.WithPayload(v).Build()
	}
}
