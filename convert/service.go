package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrConverterNotFound is returned when no converter handles a source/target pair
	ErrConverterNotFound = errors.New("convert: no converter found")

	// ErrNilValue is returned when asked to convert nil
	ErrNilValue = errors.New("convert: value is nil")
)

// Service converts values between runtime types
type Service interface {
	// CanConvert reports whether value can be converted to target
	CanConvert(value any, target reflect.Type) bool

	// Convert converts value to target
	Convert(value any, target reflect.Type) (any, error)
}

// ConverterFunc converts a single value. The value is guaranteed to be
// assignable to the source type the function was registered for.
type ConverterFunc func(value any) (any, error)

// ConversionError describes a failed conversion
type ConversionError struct {
	Source reflect.Type
	Target reflect.Type
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert: %v to %v: %v", e.Source, e.Target, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

type typePair struct {
	source reflect.Type
	target reflect.Type
}

// Registry is a Service backed by converters registered per source/target pair
type Registry struct {
	converters map[typePair]ConverterFunc
	order      []typePair
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		converters: make(map[typePair]ConverterFunc),
	}
}

// TypeOf returns the reflect.Type of T, including interface types
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Add registers a converter for the given source and target types
func (r *Registry) Add(source, target reflect.Type, fn ConverterFunc) error {
	if source == nil || target == nil {
		return fmt.Errorf("convert: source and target types are required")
	}
	if fn == nil {
		return fmt.Errorf("convert: converter for %v to %v cannot be nil", source, target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := typePair{source: source, target: target}
	if _, exists := r.converters[key]; !exists {
		r.order = append(r.order, key)
	}
	r.converters[key] = fn
	return nil
}

// Register adds a typed converter from S to T
func Register[S, T any](r *Registry, fn func(S) (T, error)) error {
	return r.Add(TypeOf[S](), TypeOf[T](), func(value any) (any, error) {
		return fn(value.(S))
	})
}

// lookup finds a converter for the source type. An exact source match wins,
// then the first registered converter whose source the type is assignable to.
func (r *Registry) lookup(source, target reflect.Type) (ConverterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.converters[typePair{source: source, target: target}]; ok {
		return fn, true
	}
	for _, key := range r.order {
		if key.target == target && source.AssignableTo(key.source) {
			return r.converters[key], true
		}
	}
	return nil, false
}

// CanConvert implements Service
func (r *Registry) CanConvert(value any, target reflect.Type) bool {
	if value == nil || target == nil {
		return false
	}
	source := reflect.TypeOf(value)
	if source.AssignableTo(target) {
		return true
	}
	_, ok := r.lookup(source, target)
	return ok
}

// Convert implements Service
func (r *Registry) Convert(value any, target reflect.Type) (any, error) {
	if value == nil {
		return nil, &ConversionError{Target: target, Err: ErrNilValue}
	}
	source := reflect.TypeOf(value)
	if source.AssignableTo(target) {
		return value, nil
	}

	fn, ok := r.lookup(source, target)
	if !ok {
		return nil, &ConversionError{Source: source, Target: target, Err: ErrConverterNotFound}
	}

	result, err := fn(value)
	if err != nil {
		return nil, &ConversionError{Source: source, Target: target, Err: err}
	}
	return result, nil
}

// Types lists the registered source/target pairs in registration order
func (r *Registry) Types() [][2]reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([][2]reflect.Type, 0, len(r.order))
	for _, key := range r.order {
		pairs = append(pairs, [2]reflect.Type{key.source, key.target})
	}
	return pairs
}
