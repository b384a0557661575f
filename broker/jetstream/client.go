// Package jetstream implements broker.Client on NATS JetStream pull consumers.
//
// Publish sends to the client's subject. Poll fetches from a durable pull
// consumer whose filter subject is the poll's selector, or the client subject
// when no selector is given, so selectors use NATS subject syntax including
// the * and > wildcards. Consumers are created on first use per filter.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
)

var (
	// ErrStreamRequired is returned when no stream name is configured
	ErrStreamRequired = errors.New("jetstream: stream name is required")

	// ErrSubjectRequired is returned when no subject is configured
	ErrSubjectRequired = errors.New("jetstream: subject is required")
)

const (
	defaultReceiveTimeout = time.Second
	defaultDurablePrefix  = "mchannel"

	// indefinite polls re-issue pull requests of this length
	maxFetchWait = 5 * time.Second
)

// Client polls a JetStream stream
type Client struct {
	js             jetstream.JetStream
	nc             *nats.Conn
	stream         string
	subject        string
	streamSubjects []string
	durablePrefix  string
	receiveTimeout time.Duration
	logger         *slog.Logger

	ensureOnce sync.Once
	ensureErr  error

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
	closed    bool
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

// WithStreamSubjects creates or updates the stream with these subjects before
// first use
func WithStreamSubjects(subjects ...string) Option {
	return func(c *Client) {
		c.streamSubjects = subjects
	}
}

// WithDurablePrefix sets the prefix of durable consumer names
func WithDurablePrefix(prefix string) Option {
	return func(c *Client) {
		c.durablePrefix = prefix
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for stream publishing to subject
func NewClient(js jetstream.JetStream, stream, subject string, options ...Option) (*Client, error) {
	if js == nil {
		return nil, errors.New("jetstream: context is required")
	}
	if stream == "" {
		return nil, ErrStreamRequired
	}
	if subject == "" {
		return nil, ErrSubjectRequired
	}

	c := &Client{
		js:             js,
		stream:         stream,
		subject:        subject,
		durablePrefix:  defaultDurablePrefix,
		receiveTimeout: defaultReceiveTimeout,
		logger:         slog.Default(),
		consumers:      make(map[string]jetstream.Consumer),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("stream", stream)

	return c, nil
}

// Dial connects to url and creates a client that owns the connection
func Dial(url, stream, subject string, options ...Option) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	c, err := NewClient(js, stream, subject, options...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.nc = nc
	return c, nil
}

// Publish sends msg to the client subject. The message id doubles as the
// JetStream deduplication id.
func (c *Client) Publish(ctx context.Context, msg *message.Message) error {
	if c.isClosed() {
		return broker.ErrClientClosed
	}
	if err := c.ensureStream(ctx); err != nil {
		return err
	}

	out, err := encode(c.subject, msg)
	if err != nil {
		return err
	}
	ack, err := c.js.PublishMsg(ctx, out)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.subject, err)
	}

	c.logger.Debug("published message",
		"messageId", msg.ID(),
		"subject", c.subject,
		"sequence", ack.Sequence,
		"duplicate", ack.Duplicate)
	return nil
}

// Poll fetches one message from the consumer for the request's filter
func (c *Client) Poll(ctx context.Context, req broker.PollRequest) (any, error) {
	if c.isClosed() {
		return nil, broker.ErrClientClosed
	}
	if err := c.ensureStream(ctx); err != nil {
		return nil, err
	}

	filter := req.Selector
	if filter == "" {
		filter = c.subject
	}
	cons, err := c.consumer(ctx, filter)
	if err != nil {
		return nil, err
	}

	wait, indefinite := broker.ResolveTimeout(req, c.receiveTimeout)
	if !indefinite && wait == 0 {
		batch, err := cons.FetchNoWait(1)
		if err != nil {
			return nil, fmt.Errorf("fetch from %s: %w", filter, err)
		}
		return c.first(batch)
	}

	deadline := time.Now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk := maxFetchWait
		if !indefinite {
			chunk = min(time.Until(deadline), maxFetchWait)
			if chunk <= 0 {
				return nil, nil
			}
		}

		batch, err := cons.Fetch(1, jetstream.FetchMaxWait(chunk))
		if err != nil {
			return nil, fmt.Errorf("fetch from %s: %w", filter, err)
		}
		msg, err := c.first(batch)
		if err != nil || msg != nil {
			return msg, err
		}
	}
}

// first drains batch and returns its message, acknowledging it
func (c *Client) first(batch jetstream.MessageBatch) (*message.Message, error) {
	var out *message.Message
	for m := range batch.Messages() {
		if out != nil {
			// only one was requested; leave extras for redelivery
			_ = m.Nak()
			continue
		}

		decoded, err := decode(m.Headers(), m.Data())
		if err != nil {
			c.logger.Error("terminating undecodable message", "subject", m.Subject(), "error", err)
			_ = m.Term()
			continue
		}
		if err := m.Ack(); err != nil {
			return nil, fmt.Errorf("ack %s: %w", m.Subject(), err)
		}
		out = decoded
	}

	if err := batch.Error(); err != nil && out == nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) consumer(ctx context.Context, filter string) (jetstream.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cons, ok := c.consumers[filter]; ok {
		return cons, nil
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       durableName(c.durablePrefix, filter),
		FilterSubject: filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", filter, err)
	}

	c.consumers[filter] = cons
	c.logger.Debug("created pull consumer", "filter", filter)
	return cons, nil
}

var durableReplacer = strings.NewReplacer(".", "_", "*", "star", ">", "all", " ", "_")

// durableName derives a valid durable consumer name from a filter subject
func durableName(prefix, filter string) string {
	return prefix + "_" + durableReplacer.Replace(filter)
}

func (c *Client) ensureStream(ctx context.Context) error {
	if len(c.streamSubjects) == 0 {
		return nil
	}
	c.ensureOnce.Do(func() {
		_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     c.stream,
			Subjects: c.streamSubjects,
		})
		if err != nil {
			c.ensureErr = fmt.Errorf("failed to create stream %s: %w", c.stream, err)
		}
	})
	return c.ensureErr
}

// Ping reports whether the client's connection is usable
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.js.Stream(ctx, c.stream)
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close forgets cached consumers and closes the connection if Dial opened
// it. Durable consumers stay on the server.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.consumers = nil
	c.mu.Unlock()

	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}
