// Package memory provides an in-process broker client. It evaluates
// selectors against message headers, making it the reference for how
// server-side selection behaves.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/message"
	"github.com/glimte/mmate-channels/selector"
)

// ErrNilEntry is returned when publishing a nil message or enqueueing a nil payload
var ErrNilEntry = errors.New("memory: nil message or payload")

// Option configures a Broker
type Option func(*Broker)

// WithReceiveTimeout sets the wait used by polls that carry no timeout.
// Zero waits indefinitely.
func WithReceiveTimeout(d time.Duration) Option {
	return func(b *Broker) {
		b.receiveTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// Broker is an in-memory FIFO queue implementing broker.Client
type Broker struct {
	mu             sync.Mutex
	entries        []any
	signal         chan struct{}
	closed         bool
	selectors      selector.Cache
	receiveTimeout time.Duration
	logger         *slog.Logger
}

// New creates an empty broker
func New(opts ...Option) *Broker {
	b := &Broker{
		signal:         make(chan struct{}),
		receiveTimeout: time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Publish implements broker.Client
func (b *Broker) Publish(_ context.Context, msg *message.Message) error {
	if msg == nil {
		return ErrNilEntry
	}
	return b.push(msg)
}

// Enqueue adds a bare payload value. Bare values carry no headers, so they
// are only returned by polls without a selector.
func (b *Broker) Enqueue(payload any) error {
	return b.push(payload)
}

func (b *Broker) push(entry any) error {
	if msg, ok := entry.(*message.Message); entry == nil || (ok && msg == nil) {
		return ErrNilEntry
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClientClosed
	}
	b.entries = append(b.entries, entry)
	close(b.signal)
	b.signal = make(chan struct{})
	return nil
}

// Poll implements broker.Client. It returns the oldest entry matching the
// selector, waiting for one as long as the request's timeout allows.
func (b *Broker) Poll(ctx context.Context, req broker.PollRequest) (any, error) {
	var sel *selector.Selector
	if req.Selector != "" {
		var err error
		if sel, err = b.selectors.Get(req.Selector); err != nil {
			return nil, err
		}
	}

	wait, indefinite := broker.ResolveTimeout(req, b.receiveTimeout)
	var deadline <-chan time.Time
	if !indefinite && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		entry, signal, err := b.take(sel)
		if err != nil || entry != nil {
			return entry, err
		}
		if !indefinite && wait == 0 {
			return nil, nil
		}

		select {
		case <-signal:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// take removes the first matching entry. With nothing to take it returns the
// signal that is closed on the next publish.
func (b *Broker) take(sel *selector.Selector) (any, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, broker.ErrClientClosed
	}

	for i, entry := range b.entries {
		if !matches(sel, entry) {
			continue
		}
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		return entry, nil, nil
	}
	return nil, b.signal, nil
}

func matches(sel *selector.Selector, entry any) bool {
	if sel == nil {
		return true
	}
	msg, ok := entry.(*message.Message)
	if !ok || msg == nil {
		return false
	}
	return sel.Matches(msg.Headers())
}

// Len returns the number of queued entries
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close implements broker.Client. Pending polls return ErrClientClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	dropped := len(b.entries)
	b.entries = nil
	close(b.signal)

	if dropped > 0 {
		b.logger.Warn("memory broker closed with pending entries", "dropped", dropped)
	}
	return nil
}

var _ broker.Client = (*Broker)(nil)
