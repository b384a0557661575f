package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/internal/backoff"
	"github.com/glimte/mmate-channels/message"
)

const (
	defaultReceiveTimeout = time.Second
	defaultPollInterval   = 50 * time.Millisecond
)

// Client polls a single queue with basic.get and publishes to an exchange.
// It implements broker.Client.
type Client struct {
	pool           *ChannelPool
	ownsPool       bool
	manager        *ConnectionManager
	queue          string
	exchange       string
	routingKey     string
	declare        bool
	receiveTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger

	declareOnce sync.Once
	declareErr  error

	mu     sync.Mutex
	closed bool
}

var _ broker.Client = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithExchange sets the exchange and routing key used by Publish. The default
// publishes to the queue through the default exchange.
func WithExchange(exchange, routingKey string) ClientOption {
	return func(c *Client) {
		c.exchange = exchange
		c.routingKey = routingKey
	}
}

// WithReceiveTimeout sets the wait used when a poll does not specify one.
// Zero waits indefinitely.
func WithReceiveTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.receiveTimeout = timeout
	}
}

// WithPollInterval sets the delay between basic.get attempts on an empty queue
func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pollInterval = interval
	}
}

// WithDeclareQueue declares the queue as durable before first use
func WithDeclareQueue(declare bool) ClientOption {
	return func(c *Client) {
		c.declare = declare
	}
}

// WithChannelPool shares an existing pool instead of creating one
func WithChannelPool(pool *ChannelPool) ClientOption {
	return func(c *Client) {
		c.pool = pool
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for queue. The manager must be connected unless
// a pool is supplied with WithChannelPool.
func NewClient(manager *ConnectionManager, queue string, options ...ClientOption) (*Client, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: connection manager is required", ErrInvalidConfiguration)
	}
	if queue == "" {
		return nil, fmt.Errorf("%w: queue name is required", ErrInvalidConfiguration)
	}

	c := &Client{
		manager:        manager,
		queue:          queue,
		routingKey:     queue,
		receiveTimeout: defaultReceiveTimeout,
		pollInterval:   defaultPollInterval,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("queue", queue)
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}

	if c.pool == nil {
		pool, err := NewChannelPool(manager, WithPoolLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.pool = pool
		c.ownsPool = true
	}

	return c, nil
}

// Queue returns the polled queue name
func (c *Client) Queue() string {
	return c.queue
}

// Poll fetches one message. Selectors are not supported by basic.get.
func (c *Client) Poll(ctx context.Context, req broker.PollRequest) (any, error) {
	if req.Selector != "" {
		return nil, broker.ErrSelectorNotSupported
	}
	if c.isClosed() {
		return nil, broker.ErrClientClosed
	}
	if err := c.ensureQueue(ctx); err != nil {
		return nil, err
	}

	wait, indefinite := broker.ResolveTimeout(req, c.receiveTimeout)
	deadline := time.Now().Add(wait)

	for {
		msg, err := c.get(ctx)
		if err != nil || msg != nil {
			return msg, err
		}

		if !indefinite {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if err := backoff.Sleep(ctx, min(c.pollInterval, remaining)); err != nil {
				return nil, err
			}
			continue
		}
		if err := backoff.Sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (c *Client) get(ctx context.Context) (*message.Message, error) {
	var msg *message.Message

	err := c.pool.Execute(ctx, func(ch *amqp.Channel) error {
		d, ok, err := ch.Get(c.queue, true)
		if err != nil || !ok {
			return err
		}

		msg, err = decode(d)
		if err != nil {
			// already acked; the delivery cannot be returned
			c.logger.Error("dropping undecodable delivery",
				"messageId", d.MessageId,
				"contentType", d.ContentType,
				"error", err)
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, &PollError{Queue: c.queue, Err: err, Timestamp: time.Now()}
	}
	return msg, nil
}

// Publish sends msg to the configured exchange and routing key
func (c *Client) Publish(ctx context.Context, msg *message.Message) error {
	if c.isClosed() {
		return broker.ErrClientClosed
	}
	if err := c.ensureQueue(ctx); err != nil {
		return err
	}

	pub, err := encode(msg)
	if err != nil {
		return &PublishError{Exchange: c.exchange, RoutingKey: c.routingKey, Err: err, Timestamp: time.Now()}
	}

	err = c.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, c.exchange, c.routingKey, false, false, pub)
	})
	if err != nil {
		return &PublishError{Exchange: c.exchange, RoutingKey: c.routingKey, Err: err, Timestamp: time.Now()}
	}

	c.logger.Debug("published message", "messageId", msg.ID(), "exchange", c.exchange, "routingKey", c.routingKey)
	return nil
}

// Depth returns the number of ready messages in the queue
func (c *Client) Depth(ctx context.Context) (int, error) {
	var depth int
	err := c.pool.Execute(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclarePassive(c.queue, true, false, false, false, nil)
		if err != nil {
			return err
		}
		depth = q.Messages
		return nil
	})
	return depth, err
}

func (c *Client) ensureQueue(ctx context.Context) error {
	if !c.declare {
		return nil
	}
	c.declareOnce.Do(func() {
		c.declareErr = c.pool.Execute(ctx, func(ch *amqp.Channel) error {
			_, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
			return err
		})
		if c.declareErr != nil {
			c.declareErr = fmt.Errorf("failed to declare queue %s: %w", c.queue, c.declareErr)
		}
	})
	return c.declareErr
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the client's channel pool if it created one. The connection
// manager is left to its owner.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.ownsPool {
		if err := c.pool.Close(); err != nil && !errors.Is(err, ErrChannelPoolClosed) {
			return err
		}
	}
	return nil
}
