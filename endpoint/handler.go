package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/message"
	"github.com/glimte/mmate-channels/transformer"
)

// ErrNotDelivered is returned when the output channel did not accept a message
var ErrNotDelivered = errors.New("endpoint: output channel did not accept the message")

// Handler processes received messages
type Handler interface {
	Handle(ctx context.Context, msg *message.Message) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *message.Message) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

// ErrorHandler is called when handling a message fails
type ErrorHandler func(ctx context.Context, msg *message.Message, err error)

// TransformingHandler transforms messages and sends the results to an
// output channel. Messages the transformer drops are not forwarded.
type TransformingHandler struct {
	transformer *transformer.Transformer
	output      channel.Channel
	logger      *slog.Logger
}

// NewTransformingHandler creates a handler forwarding to output
func NewTransformingHandler(t *transformer.Transformer, output channel.Channel, logger *slog.Logger) (*TransformingHandler, error) {
	if t == nil {
		return nil, errors.New("endpoint: transformer is required")
	}
	if output == nil {
		return nil, errors.New("endpoint: output channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransformingHandler{
		transformer: t,
		output:      output,
		logger:      logger.With("transformer", t.Name(), "output", output.Name()),
	}, nil
}

// Handle implements Handler
func (h *TransformingHandler) Handle(ctx context.Context, msg *message.Message) error {
	out, err := h.transformer.Transform(ctx, msg)
	if err != nil {
		return err
	}
	if out == nil {
		h.logger.Debug("transformer produced no result", "messageId", msg.ID())
		return nil
	}

	sent, err := h.output.Send(ctx, out)
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", h.output.Name(), err)
	}
	if !sent {
		return fmt.Errorf("%w: %s", ErrNotDelivered, h.output.Name())
	}
	return nil
}
