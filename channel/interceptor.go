package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-channels/message"
)

// Interceptor hooks before and after channel operations. Every interceptor
// whose pre-hook ran receives exactly one AfterCompletion call for that
// operation, in reverse order of engagement.
type Interceptor interface {
	// PreSend runs before a message is sent. Returning a nil message aborts
	// the send; returning an error fails it.
	PreSend(ctx context.Context, msg *message.Message, ch Channel) (*message.Message, error)

	// PostSend runs after the underlying send returned without error
	PostSend(ctx context.Context, msg *message.Message, ch Channel, sent bool)

	// PreReceive runs before a receive. Returning false aborts the receive
	// with no message.
	PreReceive(ctx context.Context, ch Channel) bool

	// PostReceive runs after a message was received and may replace it.
	// Returning nil drops the message.
	PostReceive(ctx context.Context, msg *message.Message, ch Channel) *message.Message

	// AfterCompletion runs once the operation finished, with the final
	// message (nil if none) and the error that ended it, if any.
	AfterCompletion(ctx context.Context, msg *message.Message, ch Channel, err error)
}

// InterceptorAdapter implements every hook as a no-op. Embed it to override
// only the hooks you need.
type InterceptorAdapter struct{}

// PreSend implements Interceptor
func (InterceptorAdapter) PreSend(_ context.Context, msg *message.Message, _ Channel) (*message.Message, error) {
	return msg, nil
}

// PostSend implements Interceptor
func (InterceptorAdapter) PostSend(context.Context, *message.Message, Channel, bool) {}

// PreReceive implements Interceptor
func (InterceptorAdapter) PreReceive(context.Context, Channel) bool {
	return true
}

// PostReceive implements Interceptor
func (InterceptorAdapter) PostReceive(_ context.Context, msg *message.Message, _ Channel) *message.Message {
	return msg
}

// AfterCompletion implements Interceptor
func (InterceptorAdapter) AfterCompletion(context.Context, *message.Message, Channel, error) {}

// PanicError carries a recovered panic to completion hooks
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("channel: panic during operation: %v", e.Value)
}

// SendFunc performs the underlying send of a channel
type SendFunc func(ctx context.Context, msg *message.Message) (bool, error)

// ReceiveFunc performs the underlying receive of a channel. A nil message
// with a nil error means nothing was available.
type ReceiveFunc func(ctx context.Context) (*message.Message, error)

// InterceptorList is an ordered set of interceptors and the protocol that
// wraps channel operations with them. It is safe for concurrent use; each
// invocation works on a snapshot of the list.
type InterceptorList struct {
	interceptors []Interceptor
	mu           sync.RWMutex
	logger       *slog.Logger
}

// NewInterceptorList creates a list holding the given interceptors
func NewInterceptorList(logger *slog.Logger, interceptors ...Interceptor) *InterceptorList {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorList{
		interceptors: append([]Interceptor(nil), interceptors...),
		logger:       logger,
	}
}

// Add appends interceptors to the list
func (l *InterceptorList) Add(interceptors ...Interceptor) *InterceptorList {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]Interceptor, 0, len(l.interceptors)+len(interceptors))
	next = append(next, l.interceptors...)
	l.interceptors = append(next, interceptors...)
	return l
}

// Set replaces all interceptors
func (l *InterceptorList) Set(interceptors ...Interceptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interceptors = append([]Interceptor(nil), interceptors...)
}

// Interceptors returns a copy of the current interceptors
func (l *InterceptorList) Interceptors() []Interceptor {
	return append([]Interceptor(nil), l.snapshot()...)
}

// Len returns the number of interceptors
func (l *InterceptorList) Len() int {
	return len(l.snapshot())
}

// snapshot returns the current slice. Writers never modify a published
// slice in place, so it can be read without holding the lock.
func (l *InterceptorList) snapshot() []Interceptor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.interceptors
}

// Send runs the send protocol around op
func (l *InterceptorList) Send(ctx context.Context, ch Channel, msg *message.Message, op SendFunc) (sent bool, err error) {
	interceptors := l.snapshot()
	if len(interceptors) == 0 {
		return op(ctx, msg)
	}

	ctx = withScope(ctx)
	engaged := make([]Interceptor, 0, len(interceptors))
	defer func() {
		if r := recover(); r != nil {
			l.afterCompletion(ctx, engaged, msg, ch, &PanicError{Value: r})
			panic(r)
		}
	}()

	for _, interceptor := range interceptors {
		out, preErr := interceptor.PreSend(ctx, msg, ch)
		engaged = append(engaged, interceptor)
		if preErr != nil {
			l.afterCompletion(ctx, engaged, msg, ch, preErr)
			return false, preErr
		}
		if out == nil {
			l.logger.Debug("send aborted by interceptor",
				"channel", ch.Name(),
				"interceptor", fmt.Sprintf("%T", interceptor),
			)
			l.afterCompletion(ctx, engaged, msg, ch, nil)
			return false, nil
		}
		msg = out
	}

	sent, err = op(ctx, msg)
	if err != nil {
		l.afterCompletion(ctx, engaged, msg, ch, err)
		return false, err
	}

	for _, interceptor := range interceptors {
		interceptor.PostSend(ctx, msg, ch, sent)
	}

	l.afterCompletion(ctx, engaged, msg, ch, nil)
	return sent, nil
}

// Receive runs the receive protocol around op
func (l *InterceptorList) Receive(ctx context.Context, ch Channel, op ReceiveFunc) (msg *message.Message, err error) {
	interceptors := l.snapshot()
	if len(interceptors) == 0 {
		return op(ctx)
	}

	ctx = withScope(ctx)
	engaged := make([]Interceptor, 0, len(interceptors))
	defer func() {
		if r := recover(); r != nil {
			l.afterCompletion(ctx, engaged, nil, ch, &PanicError{Value: r})
			panic(r)
		}
	}()

	for _, interceptor := range interceptors {
		proceed := interceptor.PreReceive(ctx, ch)
		engaged = append(engaged, interceptor)
		if !proceed {
			l.logger.Debug("receive aborted by interceptor",
				"channel", ch.Name(),
				"interceptor", fmt.Sprintf("%T", interceptor),
			)
			l.afterCompletion(ctx, engaged, nil, ch, nil)
			return nil, nil
		}
	}

	msg, err = op(ctx)
	if err != nil {
		l.afterCompletion(ctx, engaged, nil, ch, err)
		return nil, err
	}

	if msg != nil {
		for _, interceptor := range interceptors {
			msg = interceptor.PostReceive(ctx, msg, ch)
			if msg == nil {
				break
			}
		}
	}

	l.afterCompletion(ctx, engaged, msg, ch, nil)
	return msg, nil
}

// afterCompletion invokes completion hooks in reverse engagement order. A
// panicking hook is logged and does not stop the remaining hooks.
func (l *InterceptorList) afterCompletion(ctx context.Context, engaged []Interceptor, msg *message.Message, ch Channel, err error) {
	for i := len(engaged) - 1; i >= 0; i-- {
		l.complete(ctx, engaged[i], msg, ch, err)
	}
}

func (l *InterceptorList) complete(ctx context.Context, interceptor Interceptor, msg *message.Message, ch Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("interceptor completion panicked",
				"channel", ch.Name(),
				"interceptor", fmt.Sprintf("%T", interceptor),
				"panic", r,
			)
		}
	}()
	interceptor.AfterCompletion(ctx, msg, ch, err)
}
