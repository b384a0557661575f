package channel

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/glimte/mmate-channels/convert"
	"github.com/glimte/mmate-channels/message"
)

// Channel is an endpoint messages are sent to
type Channel interface {
	// Name identifies the channel in logs and errors
	Name() string

	// Send delivers a message. It returns false when the message was not
	// sent without an error, e.g. an interceptor vetoed it or a bounded
	// buffer stayed full.
	Send(ctx context.Context, msg *message.Message) (bool, error)
}

// PollableChannel is a channel messages are actively received from
type PollableChannel interface {
	Channel

	// Receive waits for the next message. A nil message with a nil error
	// means no message was available.
	Receive(ctx context.Context) (*message.Message, error)

	// ReceiveTimeout waits at most timeout for the next message. A timeout
	// of zero or less does not wait.
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (*message.Message, error)
}

// Option configures a channel
type Option func(*options)

type options struct {
	interceptors []Interceptor
	datatypes    []reflect.Type
	converter    convert.Service
	selector     string
	logger       *slog.Logger
}

// WithInterceptors adds interceptors in declaration order
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(o *options) {
		o.interceptors = append(o.interceptors, interceptors...)
	}
}

// WithDatatypes restricts accepted payloads to values assignable to one of
// the given types
func WithDatatypes(types ...reflect.Type) Option {
	return func(o *options) {
		o.datatypes = append(o.datatypes, types...)
	}
}

// WithConversionService sets the service used to convert payloads that do
// not match an accepted datatype
func WithConversionService(svc convert.Service) Option {
	return func(o *options) {
		o.converter = svc
	}
}

// WithSelector sets the broker-side selector expression of a BrokerChannel
func WithSelector(selector string) Option {
	return func(o *options) {
		o.selector = selector
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// base holds what every channel implementation shares
type base struct {
	name         string
	interceptors *InterceptorList
	datatypes    *datatypes
	logger       *slog.Logger
}

func newBase(name string, o *options) base {
	logger := o.logger.With("channel", name)
	return base{
		name:         name,
		interceptors: NewInterceptorList(logger, o.interceptors...),
		datatypes:    newDatatypes(o.datatypes, o.converter),
		logger:       logger,
	}
}

// Name implements Channel
func (b *base) Name() string {
	return b.name
}

// Interceptors returns the channel's interceptor list
func (b *base) Interceptors() *InterceptorList {
	return b.interceptors
}

// AddInterceptor appends an interceptor
func (b *base) AddInterceptor(interceptor Interceptor) {
	b.interceptors.Add(interceptor)
}

// Datatypes returns the accepted payload types
func (b *base) Datatypes() []reflect.Type {
	return append([]reflect.Type(nil), b.datatypes.types...)
}

// send applies datatype acceptance and then the interceptor protocol
func (b *base) send(ctx context.Context, ch Channel, msg *message.Message, op SendFunc) (bool, error) {
	if msg == nil {
		return false, ErrNilMessage
	}
	accepted, err := b.datatypes.accept(b.name, msg)
	if err != nil {
		return false, err
	}
	return b.interceptors.Send(ctx, ch, accepted, op)
}
