package transformer

import (
	"context"
	"fmt"
	"reflect"

	"github.com/glimte/mmate-channels/convert"
	"github.com/glimte/mmate-channels/message"
)

// MessageProcessor computes a result from a message. The result may be nil,
// a *message.Message, a header mapping or a new payload.
type MessageProcessor interface {
	Process(ctx context.Context, msg *message.Message) (any, error)
}

// ProcessorFunc adapts a function to MessageProcessor
type ProcessorFunc func(ctx context.Context, msg *message.Message) (any, error)

// Process implements MessageProcessor
func (f ProcessorFunc) Process(ctx context.Context, msg *message.Message) (any, error) {
	return f(ctx, msg)
}

// ConversionAware is implemented by processors that need a conversion
// service. Transformers hand theirs over at construction.
type ConversionAware interface {
	SetConversionService(svc convert.Service)
}

// PayloadProcessor calls a typed function with the message payload,
// converting the payload to T when it is not one already
type PayloadProcessor[T any] struct {
	fn        func(ctx context.Context, payload T) (any, error)
	converter convert.Service
}

var _ ConversionAware = (*PayloadProcessor[string])(nil)

// NewPayloadProcessor creates a processor for payloads of type T
func NewPayloadProcessor[T any](fn func(ctx context.Context, payload T) (any, error)) *PayloadProcessor[T] {
	return &PayloadProcessor[T]{fn: fn}
}

// SetConversionService implements ConversionAware
func (p *PayloadProcessor[T]) SetConversionService(svc convert.Service) {
	p.converter = svc
}

// Process implements MessageProcessor
func (p *PayloadProcessor[T]) Process(ctx context.Context, msg *message.Message) (any, error) {
	if typed, ok := msg.Payload().(T); ok {
		return p.fn(ctx, typed)
	}

	target := convert.TypeOf[T]()
	if p.converter == nil || !p.converter.CanConvert(msg.Payload(), target) {
		return nil, fmt.Errorf("payload of type %T is not %v", msg.Payload(), target)
	}
	converted, err := p.converter.Convert(msg.Payload(), target)
	if err != nil {
		return nil, err
	}
	typed, ok := converted.(T)
	if !ok {
		return nil, fmt.Errorf("converter returned %s for %v", reflect.TypeOf(converted), target)
	}
	return p.fn(ctx, typed)
}
