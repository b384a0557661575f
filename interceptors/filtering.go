package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/message"
	"github.com/glimte/mmate-channels/selector"
)

// MessageFilter defines the interface for message filtering
type MessageFilter interface {
	// ShouldProcess returns true if the message should pass
	ShouldProcess(ctx context.Context, msg *message.Message) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, msg *message.Message) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, msg *message.Message) (bool, error) {
	return f(ctx, msg)
}

// SkipBehavior defines what happens to a message that is filtered out on send
type SkipBehavior int

const (
	// SkipSilently aborts the send without error
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the send with a FilteredError
	SkipWithError
	// SkipWithLog aborts the send and logs it
	SkipWithLog
)

// FilteredError is returned for sends rejected by a filter with SkipWithError
type FilteredError struct {
	Channel   string
	MessageID string
}

func (e *FilteredError) Error() string {
	return fmt.Sprintf("message filtered: channel=%s, id=%s", e.Channel, e.MessageID)
}

// FilteringInterceptor passes only messages accepted by its filter. On send a
// rejected message is skipped according to the skip behavior; on receive it
// is dropped.
type FilteringInterceptor struct {
	channel.InterceptorAdapter
	filter       MessageFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter, skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// PreSend implements channel.Interceptor
func (i *FilteringInterceptor) PreSend(ctx context.Context, msg *message.Message, ch channel.Channel) (*message.Message, error) {
	ok, err := i.filter.ShouldProcess(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}
	if ok {
		return msg, nil
	}

	switch i.skipBehavior {
	case SkipWithError:
		return nil, &FilteredError{Channel: ch.Name(), MessageID: msg.ID()}
	case SkipWithLog:
		i.logger.Info("message filtered",
			"channel", ch.Name(),
			"messageId", msg.ID(),
		)
	}
	return nil, nil
}

// PostReceive implements channel.Interceptor
func (i *FilteringInterceptor) PostReceive(ctx context.Context, msg *message.Message, ch channel.Channel) *message.Message {
	ok, err := i.filter.ShouldProcess(ctx, msg)
	if err != nil {
		i.logger.Warn("filter error, dropping message",
			"channel", ch.Name(),
			"messageId", msg.ID(),
			"error", err,
		)
		return nil
	}
	if !ok {
		if i.skipBehavior == SkipWithLog {
			i.logger.Info("received message filtered",
				"channel", ch.Name(),
				"messageId", msg.ID(),
			)
		}
		return nil
	}
	return msg
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []MessageFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...MessageFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, msg *message.Message) (bool, error) {
	for _, filter := range f.filters {
		ok, err := filter.ShouldProcess(ctx, msg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []MessageFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...MessageFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, msg *message.Message) (bool, error) {
	for _, filter := range f.filters {
		ok, err := filter.ShouldProcess(ctx, msg)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HeaderFilter passes messages whose header equals the expected value
type HeaderFilter struct {
	key      string
	expected any
}

// NewHeaderFilter creates a header equality filter
func NewHeaderFilter(key string, expected any) *HeaderFilter {
	return &HeaderFilter{key: key, expected: expected}
}

// ShouldProcess implements MessageFilter
func (f *HeaderFilter) ShouldProcess(_ context.Context, msg *message.Message) (bool, error) {
	value, ok := msg.Header(f.key)
	return ok && reflect.DeepEqual(value, f.expected), nil
}

// SelectorFilter passes messages whose headers match a selector expression
type SelectorFilter struct {
	selector *selector.Selector
}

// NewSelectorFilter compiles expr into a filter
func NewSelectorFilter(expr string) (*SelectorFilter, error) {
	sel, err := selector.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &SelectorFilter{selector: sel}, nil
}

// ShouldProcess implements MessageFilter
func (f *SelectorFilter) ShouldProcess(_ context.Context, msg *message.Message) (bool, error) {
	return f.selector.Matches(msg.Headers()), nil
}

// ConditionalInterceptor applies an interceptor's send hooks only to messages
// accepted by a condition. The wrapped interceptor's completion runs only for
// sends it was engaged in.
type ConditionalInterceptor struct {
	channel.InterceptorAdapter
	condition   MessageFilter
	interceptor channel.Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition MessageFilter, interceptor channel.Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

type engagedKey struct{ owner any }

// PreSend implements channel.Interceptor
func (i *ConditionalInterceptor) PreSend(ctx context.Context, msg *message.Message, ch channel.Channel) (*message.Message, error) {
	ok, err := i.condition.ShouldProcess(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return msg, nil
	}
	if scope, found := channel.ScopeFrom(ctx); found {
		scope.Set(engagedKey{i}, true)
	}
	return i.interceptor.PreSend(ctx, msg, ch)
}

// PostSend implements channel.Interceptor
func (i *ConditionalInterceptor) PostSend(ctx context.Context, msg *message.Message, ch channel.Channel, sent bool) {
	if i.engaged(ctx) {
		i.interceptor.PostSend(ctx, msg, ch, sent)
	}
}

// AfterCompletion implements channel.Interceptor
func (i *ConditionalInterceptor) AfterCompletion(ctx context.Context, msg *message.Message, ch channel.Channel, err error) {
	if i.engaged(ctx) {
		i.interceptor.AfterCompletion(ctx, msg, ch, err)
	}
}

func (i *ConditionalInterceptor) engaged(ctx context.Context) bool {
	scope, ok := channel.ScopeFrom(ctx)
	if !ok {
		return false
	}
	_, engaged := scope.Get(engagedKey{i})
	return engaged
}
