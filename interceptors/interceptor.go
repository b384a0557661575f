package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/message"
)

// Operation names the channel operation an interceptor observed
type Operation string

const (
	OperationSend    Operation = "send"
	OperationReceive Operation = "receive"
)

// startKey scopes an operation's start time to one interceptor instance
type startKey struct{ owner any }

// sentKey records that PostSend saw a successful send
type sentKey struct{ owner any }

type opKey struct{ owner any }

func markStart(ctx context.Context, owner any) {
	if scope, ok := channel.ScopeFrom(ctx); ok {
		scope.Set(startKey{owner}, time.Now())
	}
}

func elapsed(ctx context.Context, owner any) time.Duration {
	scope, ok := channel.ScopeFrom(ctx)
	if !ok {
		return 0
	}
	v, ok := scope.Get(startKey{owner})
	if !ok {
		return 0
	}
	start, _ := v.(time.Time)
	return time.Since(start)
}

func markSent(ctx context.Context, owner any, sent bool) {
	if scope, ok := channel.ScopeFrom(ctx); ok {
		scope.Set(sentKey{owner}, sent)
	}
}

func wasSent(ctx context.Context, owner any) bool {
	scope, ok := channel.ScopeFrom(ctx)
	if !ok {
		return false
	}
	v, _ := scope.Get(sentKey{owner})
	sent, _ := v.(bool)
	return sent
}

// operationOf tells send from receive in AfterCompletion
func operationOf(ctx context.Context, owner any) Operation {
	scope, ok := channel.ScopeFrom(ctx)
	if !ok {
		return OperationSend
	}
	if v, ok := scope.Get(opKey{owner}); ok {
		if op, ok := v.(Operation); ok {
			return op
		}
	}
	return OperationSend
}

func markOperation(ctx context.Context, owner any, op Operation) {
	if scope, ok := channel.ScopeFrom(ctx); ok {
		scope.Set(opKey{owner}, op)
	}
}

// LoggingInterceptor logs channel operations with timing information
type LoggingInterceptor struct {
	channel.InterceptorAdapter
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// PreSend implements channel.Interceptor
func (i *LoggingInterceptor) PreSend(ctx context.Context, msg *message.Message, ch channel.Channel) (*message.Message, error) {
	markStart(ctx, i)
	markOperation(ctx, i, OperationSend)

	i.logger.Debug("sending message",
		"channel", ch.Name(),
		"messageId", msg.ID(),
		"correlationId", msg.CorrelationID(),
	)
	return msg, nil
}

// PostSend implements channel.Interceptor
func (i *LoggingInterceptor) PostSend(ctx context.Context, _ *message.Message, _ channel.Channel, sent bool) {
	markSent(ctx, i, sent)
}

// PreReceive implements channel.Interceptor
func (i *LoggingInterceptor) PreReceive(ctx context.Context, _ channel.Channel) bool {
	markStart(ctx, i)
	markOperation(ctx, i, OperationReceive)
	return true
}

// AfterCompletion implements channel.Interceptor
func (i *LoggingInterceptor) AfterCompletion(ctx context.Context, msg *message.Message, ch channel.Channel, err error) {
	op := operationOf(ctx, i)
	attrs := []any{
		"channel", ch.Name(),
		"operation", op,
		"duration", elapsed(ctx, i),
	}
	if msg != nil {
		attrs = append(attrs, "messageId", msg.ID())
	}

	switch {
	case err != nil:
		i.logger.Error("channel operation failed", append(attrs, "error", err)...)
	case op == OperationSend && !wasSent(ctx, i):
		i.logger.Info("message not sent", attrs...)
	case op == OperationReceive && msg == nil:
		i.logger.Debug("no message received", attrs...)
	default:
		i.logger.Info("channel operation completed", attrs...)
	}
}

// MessageValidator validates messages passing through a channel
type MessageValidator interface {
	Validate(ctx context.Context, msg *message.Message) error
}

// ValidatorFunc is a function adapter for MessageValidator
type ValidatorFunc func(ctx context.Context, msg *message.Message) error

// Validate implements MessageValidator
func (f ValidatorFunc) Validate(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

// ValidationInterceptor fails sends of invalid messages and drops invalid
// received messages
type ValidationInterceptor struct {
	channel.InterceptorAdapter
	validator MessageValidator
	logger    *slog.Logger
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor(validator MessageValidator, logger *slog.Logger) *ValidationInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationInterceptor{validator: validator, logger: logger}
}

// PreSend implements channel.Interceptor
func (i *ValidationInterceptor) PreSend(ctx context.Context, msg *message.Message, _ channel.Channel) (*message.Message, error) {
	if err := i.validator.Validate(ctx, msg); err != nil {
		return nil, fmt.Errorf("message validation failed: %w", err)
	}
	return msg, nil
}

// PostReceive implements channel.Interceptor
func (i *ValidationInterceptor) PostReceive(ctx context.Context, msg *message.Message, ch channel.Channel) *message.Message {
	if err := i.validator.Validate(ctx, msg); err != nil {
		i.logger.Warn("dropping invalid message",
			"channel", ch.Name(),
			"messageId", msg.ID(),
			"error", err,
		)
		return nil
	}
	return msg
}

// WireTapInterceptor copies sent and received messages to a secondary channel
type WireTapInterceptor struct {
	channel.InterceptorAdapter
	tap    channel.Channel
	filter MessageFilter
	logger *slog.Logger
}

// NewWireTapInterceptor creates a wire tap. A nil filter taps every message.
func NewWireTapInterceptor(tap channel.Channel, filter MessageFilter, logger *slog.Logger) *WireTapInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WireTapInterceptor{tap: tap, filter: filter, logger: logger}
}

// PostSend implements channel.Interceptor
func (i *WireTapInterceptor) PostSend(ctx context.Context, msg *message.Message, ch channel.Channel, sent bool) {
	if sent {
		i.copy(ctx, msg, ch)
	}
}

// PostReceive implements channel.Interceptor
func (i *WireTapInterceptor) PostReceive(ctx context.Context, msg *message.Message, ch channel.Channel) *message.Message {
	i.copy(ctx, msg, ch)
	return msg
}

func (i *WireTapInterceptor) copy(ctx context.Context, msg *message.Message, ch channel.Channel) {
	if i.filter != nil {
		ok, err := i.filter.ShouldProcess(ctx, msg)
		if err != nil || !ok {
			return
		}
	}

	if _, err := i.tap.Send(ctx, msg); err != nil {
		i.logger.Warn("wire tap send failed",
			"channel", ch.Name(),
			"tap", i.tap.Name(),
			"messageId", msg.ID(),
			"error", err,
		)
	}
}

// ChainBuilder assembles interceptors in the order they should run
type ChainBuilder struct {
	interceptors []channel.Interceptor
	logger       *slog.Logger
}

// NewChainBuilder creates a new builder
func NewChainBuilder(logger *slog.Logger) *ChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChainBuilder{logger: logger}
}

// WithLogging adds a logging interceptor
func (b *ChainBuilder) WithLogging() *ChainBuilder {
	return b.WithCustom(NewLoggingInterceptor(b.logger))
}

// WithMetrics adds a metrics interceptor
func (b *ChainBuilder) WithMetrics(collector MetricsCollector) *ChainBuilder {
	return b.WithCustom(NewMetricsInterceptor(collector))
}

// WithValidation adds a validation interceptor
func (b *ChainBuilder) WithValidation(validator MessageValidator) *ChainBuilder {
	return b.WithCustom(NewValidationInterceptor(validator, b.logger))
}

// WithFilter adds a filtering interceptor
func (b *ChainBuilder) WithFilter(filter MessageFilter, behavior SkipBehavior) *ChainBuilder {
	return b.WithCustom(NewFilteringInterceptor(filter, behavior, b.logger))
}

// WithWireTap adds a wire tap to tap
func (b *ChainBuilder) WithWireTap(tap channel.Channel) *ChainBuilder {
	return b.WithCustom(NewWireTapInterceptor(tap, nil, b.logger))
}

// WithCustom adds any interceptor
func (b *ChainBuilder) WithCustom(interceptor channel.Interceptor) *ChainBuilder {
	b.interceptors = append(b.interceptors, interceptor)
	return b
}

// Build returns the interceptors, ready for channel.WithInterceptors
func (b *ChainBuilder) Build() []channel.Interceptor {
	return append([]channel.Interceptor(nil), b.interceptors...)
}
