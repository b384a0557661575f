// Package transformer turns the result of a processing step back into a
// message.
//
// A Transformer runs a MessageProcessor and normalizes whatever it returns:
//
//   - nil (including typed nil pointers, maps and slices) drops the message
//   - a *message.Message is passed through untouched
//   - a message.Properties, or any other map, becomes header updates on a copy
//     of the input, unless the input payload is itself of that kind
//   - anything else becomes the payload of a new message carrying the input's
//     headers
package transformer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/glimte/mmate-channels/convert"
	"github.com/glimte/mmate-channels/message"
)

// ErrNilProcessor is returned by New without a processor
var ErrNilProcessor = errors.New("transformer: processor is required")

type resultKind int

const (
	resultAbsent resultKind = iota
	resultMessage
	resultHeaders
	resultPayload
)

func (k resultKind) String() string {
	switch k {
	case resultAbsent:
		return "absent"
	case resultMessage:
		return "message"
	case resultHeaders:
		return "headers"
	default:
		return "payload"
	}
}

var propertiesType = reflect.TypeOf(message.Properties(nil))

// classify picks the branch for result given the input payload
func classify(result, payload any) resultKind {
	if isNil(result) {
		return resultAbsent
	}
	if _, ok := result.(*message.Message); ok {
		return resultMessage
	}

	resultType := reflect.TypeOf(result)
	if resultType == propertiesType {
		if reflect.TypeOf(payload) != propertiesType {
			return resultHeaders
		}
		return resultPayload
	}
	if resultType.Kind() == reflect.Map {
		if payload == nil || reflect.TypeOf(payload).Kind() != reflect.Map {
			return resultHeaders
		}
	}
	return resultPayload
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Transformer normalizes processor results into output messages
type Transformer struct {
	name      string
	processor MessageProcessor
	converter convert.Service
	logger    *slog.Logger
}

// Option configures a Transformer
type Option func(*Transformer)

// WithConversionService hands svc to processors implementing ConversionAware
func WithConversionService(svc convert.Service) Option {
	return func(t *Transformer) {
		t.converter = svc
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transformer) {
		t.logger = logger
	}
}

// New creates a transformer. name identifies it in errors.
func New(name string, processor MessageProcessor, opts ...Option) (*Transformer, error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}

	t := &Transformer{
		name:      name,
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("transformer", name)

	if aware, ok := processor.(ConversionAware); ok && t.converter != nil {
		aware.SetConversionService(t.converter)
	}

	return t, nil
}

// Name returns the transformer name
func (t *Transformer) Name() string {
	return t.name
}

// Transform processes msg and returns the output message, or nil when the
// processor produced no result
func (t *Transformer) Transform(ctx context.Context, msg *message.Message) (*message.Message, error) {
	result, err := t.processor.Process(ctx, msg)
	if err != nil {
		var handling *message.HandlingError
		if errors.As(err, &handling) {
			return nil, err
		}
		return nil, &message.HandlingError{Component: t.name, Message: msg, Err: err}
	}

	kind := classify(result, msg.Payload())
	t.logger.Debug("processor result", "messageId", msg.ID(), "kind", kind)

	switch kind {
	case resultAbsent:
		return nil, nil
	case resultMessage:
		return result.(*message.Message), nil
	case resultHeaders:
		return t.applyHeaders(msg, result)
	default:
		return message.WithPayload(result).CopyHeaders(msg.Headers()).Build(), nil
	}
}

func (t *Transformer) applyHeaders(msg *message.Message, result any) (*message.Message, error) {
	if props, ok := result.(message.Properties); ok {
		b := message.FromMessage(msg)
		for k, v := range props {
			b.SetHeader(k, v)
		}
		return b.Build(), nil
	}

	rv := reflect.ValueOf(result)
	if rv.Type().Key().Kind() != reflect.String {
		// an interface key type can still hold only strings
		if rv.Type().Key().Kind() != reflect.Interface {
			return nil, t.keyError(msg, rv.Type().Key())
		}
		for _, key := range rv.MapKeys() {
			if elem := key.Elem(); !elem.IsValid() {
				return nil, t.keyError(msg, nil)
			} else if elem.Kind() != reflect.String {
				return nil, t.keyError(msg, elem.Type())
			}
		}
	}

	b := message.FromMessage(msg)
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key()
		if key.Kind() == reflect.Interface {
			key = key.Elem()
		}
		b.SetHeader(key.String(), iter.Value().Interface())
	}
	return b.Build(), nil
}

func (t *Transformer) keyError(msg *message.Message, keyType reflect.Type) error {
	return &message.HandlingError{
		Component: t.name,
		Message:   msg,
		Err:       fmt.Errorf("%w, got %v", message.ErrHeaderKeyNotString, keyType),
	}
}
