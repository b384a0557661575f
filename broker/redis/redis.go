// Package redis implements broker.Client over a Redis list.
//
// Messages are pushed with RPUSH as envelope JSON and popped from the other
// end, so a key behaves as a FIFO queue shared by every client using it.
// Lists have no server-side filtering; polls with a selector fail with
// broker.ErrSelectorNotSupported.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/internal/backoff"
	"github.com/glimte/mmate-channels/message"
)

var (
	// ErrKeyRequired is returned when no list key is configured
	ErrKeyRequired = errors.New("redis: list key is required")

	// ErrURLRequired is returned by Dial without an address
	ErrURLRequired = errors.New("redis: url is required")
)

const (
	defaultReceiveTimeout = time.Second
	defaultPollInterval   = 50 * time.Millisecond

	// BLPOP takes whole seconds; longer waits are split into blocks of this size
	blockChunk = time.Second
)

// Client pops messages from a Redis list
type Client struct {
	rdb            goredis.UniversalClient
	ownsConn       bool
	key            string
	receiveTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ broker.Client = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithReceiveTimeout sets the wait used when a poll does not specify one.
// Zero waits indefinitely.
func WithReceiveTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.receiveTimeout = timeout
	}
}

// WithPollInterval sets the LPOP interval used for waits shorter than a second
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the list at key. The caller keeps ownership
// of rdb.
func NewClient(rdb goredis.UniversalClient, key string, options ...Option) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis: client is required")
	}
	if key == "" {
		return nil, ErrKeyRequired
	}

	c := &Client{
		rdb:            rdb,
		key:            key,
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
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	c.logger = c.logger.With("key", key)

	return c, nil
}

// Dial connects to url and creates a client that owns the connection. url is
// either a redis:// URL or a bare host:port.
func Dial(url, key string, options ...Option) (*Client, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	var opts *goredis.Options
	if strings.Contains(url, "://") {
		parsed, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: url}
	}

	rdb := goredis.NewClient(opts)
	c, err := NewClient(rdb, key, options...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	c.ownsConn = true
	return c, nil
}

// Key returns the list key
func (c *Client) Key() string {
	return c.key
}

// Publish appends msg to the list
func (c *Client) Publish(ctx context.Context, msg *message.Message) error {
	if c.isClosed() {
		return broker.ErrClientClosed
	}

	data, err := broker.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.rdb.RPush(ctx, c.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", c.key, err)
	}

	c.logger.Debug("published message", "messageId", msg.ID())
	return nil
}

// Poll pops one message, waiting as the request's timeout allows
func (c *Client) Poll(ctx context.Context, req broker.PollRequest) (any, error) {
	if req.Selector != "" {
		return nil, broker.ErrSelectorNotSupported
	}
	if c.isClosed() {
		return nil, broker.ErrClientClosed
	}

	wait, indefinite := broker.ResolveTimeout(req, c.receiveTimeout)
	if !indefinite && wait == 0 {
		return c.pop(ctx)
	}

	deadline := time.Now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		switch {
		case indefinite || remaining >= blockChunk:
			msg, err := c.blockingPop(ctx, blockChunk)
			if err != nil || msg != nil {
				return msg, err
			}
		case remaining > 0:
			msg, err := c.pop(ctx)
			if err != nil || msg != nil {
				return msg, err
			}
			if err := backoff.Sleep(ctx, min(c.pollInterval, remaining)); err != nil {
				return nil, err
			}
		default:
			return c.pop(ctx)
		}
	}
}

func (c *Client) pop(ctx context.Context) (*message.Message, error) {
	data, err := c.rdb.LPop(ctx, c.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lpop %s: %w", c.key, err)
	}
	return c.decode(data)
}

func (c *Client) blockingPop(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	res, err := c.rdb.BLPop(ctx, timeout, c.key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", c.key, err)
	}
	// [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("blpop %s: unexpected reply of length %d", c.key, len(res))
	}
	return c.decode([]byte(res[1]))
}

func (c *Client) decode(data []byte) (*message.Message, error) {
	msg, err := broker.Unmarshal(data)
	if err != nil {
		// the entry is already popped
		c.logger.Error("dropping undecodable entry", "error", err, "size", len(data))
		return nil, nil
	}
	return msg, nil
}

// Len returns the number of queued entries
func (c *Client) Len(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, c.key).Result()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close marks the client closed and closes the connection if Dial opened it
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.ownsConn {
		return c.rdb.Close()
	}
	return nil
}
