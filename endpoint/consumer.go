// Package endpoint drives message handling from pollable channels.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/internal/backoff"
	"github.com/glimte/mmate-channels/message"
)

var (
	// ErrAlreadyRunning is returned by Start on a running consumer
	ErrAlreadyRunning = errors.New("endpoint: consumer already running")

	// ErrNotRunning is returned by Stop on a stopped consumer
	ErrNotRunning = errors.New("endpoint: consumer not running")
)

// ConsumerStats contains consumer counters
type ConsumerStats struct {
	MessagesProcessed int64
	MessagesFailed    int64
	ReceiveErrors     int64
	LastMessageTime   time.Time
}

// PollingConsumer receives from a pollable channel and hands each message
// to a handler
type PollingConsumer struct {
	input          channel.PollableChannel
	handler        Handler
	errorHandler   ErrorHandler
	receiveTimeout time.Duration
	concurrency    int
	retryPolicy    backoff.Policy
	logger         *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed     atomic.Int64
	failed        atomic.Int64
	receiveErrors atomic.Int64
	lastMessage   atomic.Value
}

// ConsumerOption configures a PollingConsumer
type ConsumerOption func(*PollingConsumer)

// WithReceiveTimeout sets how long each poll waits
func WithReceiveTimeout(timeout time.Duration) ConsumerOption {
	return func(c *PollingConsumer) {
		c.receiveTimeout = timeout
	}
}

// WithConcurrency sets the number of polling workers
func WithConcurrency(n int) ConsumerOption {
	return func(c *PollingConsumer) {
		c.concurrency = n
	}
}

// WithRetryPolicy sets the delay policy applied after receive errors
func WithRetryPolicy(policy backoff.Policy) ConsumerOption {
	return func(c *PollingConsumer) {
		c.retryPolicy = policy
	}
}

// WithErrorHandler sets the handler for failed messages
func WithErrorHandler(handler ErrorHandler) ConsumerOption {
	return func(c *PollingConsumer) {
		c.errorHandler = handler
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *PollingConsumer) {
		c.logger = logger
	}
}

// NewPollingConsumer creates a consumer for input
func NewPollingConsumer(input channel.PollableChannel, handler Handler, options ...ConsumerOption) (*PollingConsumer, error) {
	if input == nil {
		return nil, errors.New("endpoint: input channel is required")
	}
	if handler == nil {
		return nil, errors.New("endpoint: handler is required")
	}

	c := &PollingConsumer{
		input:          input,
		handler:        handler,
		receiveTimeout: time.Second,
		concurrency:    1,
		retryPolicy:    backoff.NewExponential(100*time.Millisecond, 30*time.Second, 2.0),
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.concurrency < 1 {
		return nil, fmt.Errorf("endpoint: concurrency must be at least 1, got %d", c.concurrency)
	}
	if c.receiveTimeout <= 0 {
		return nil, fmt.Errorf("endpoint: receive timeout must be positive, got %v", c.receiveTimeout)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("input", input.Name())

	if c.errorHandler == nil {
		c.errorHandler = func(_ context.Context, msg *message.Message, err error) {
			c.logger.Error("failed to handle message", "messageId", msg.ID(), "error", err)
		}
	}

	return c, nil
}

// Start launches the polling workers. They run until Stop is called or ctx
// is done.
func (c *PollingConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.poll(ctx, i)
	}

	c.logger.Info("polling consumer started", "workers", c.concurrency)
	return nil
}

// Stop cancels the workers and waits for in-flight messages to finish
func (c *PollingConsumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()

	c.logger.Info("polling consumer stopped",
		"messagesProcessed", c.processed.Load(),
		"messagesFailed", c.failed.Load())
	return nil
}

// IsRunning reports whether the consumer is started
func (c *PollingConsumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns the consumer counters
func (c *PollingConsumer) Stats() ConsumerStats {
	stats := ConsumerStats{
		MessagesProcessed: c.processed.Load(),
		MessagesFailed:    c.failed.Load(),
		ReceiveErrors:     c.receiveErrors.Load(),
	}
	if t, ok := c.lastMessage.Load().(time.Time); ok {
		stats.LastMessageTime = t
	}
	return stats
}

func (c *PollingConsumer) poll(ctx context.Context, worker int) {
	defer c.wg.Done()

	attempt := 0
	for ctx.Err() == nil {
		msg, err := c.input.ReceiveTimeout(ctx, c.receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.receiveErrors.Add(1)
			delay := c.retryPolicy.NextDelay(attempt)
			attempt++
			c.logger.Warn("receive failed",
				"worker", worker,
				"error", err,
				"retryIn", delay)
			if backoff.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		attempt = 0

		if msg == nil {
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *PollingConsumer) handle(ctx context.Context, msg *message.Message) {
	start := time.Now()
	err := c.safeHandle(ctx, msg)
	c.lastMessage.Store(time.Now())

	if err != nil {
		c.failed.Add(1)
		c.errorHandler(ctx, msg, err)
		return
	}

	c.processed.Add(1)
	c.logger.Debug("message handled", "messageId", msg.ID(), "duration", time.Since(start))
}

func (c *PollingConsumer) safeHandle(ctx context.Context, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, msg)
}
