package broker

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/mmate-channels/message"
)

// NoWait requests a poll that returns immediately when nothing is available
const NoWait time.Duration = -1

var (
	// ErrSelectorNotSupported is returned by clients that cannot filter on the server side
	ErrSelectorNotSupported = errors.New("broker: selector not supported")

	// ErrClientClosed is returned when a closed client is used
	ErrClientClosed = errors.New("broker: client is closed")
)

// PollRequest describes a single poll
type PollRequest struct {
	// Selector is an optional server-side filter expression. Its syntax is
	// defined by the client.
	Selector string

	// Timeout bounds the wait for this poll only. Zero uses the client's
	// configured receive timeout; NoWait (or any negative value) does not wait.
	Timeout time.Duration
}

// Client is the capability a broker channel consumes
type Client interface {
	// Poll retrieves at most one message. The result is either a
	// *message.Message or a bare payload value; nil means nothing was available.
	Poll(ctx context.Context, req PollRequest) (any, error)

	// Publish sends a message to the broker
	Publish(ctx context.Context, msg *message.Message) error

	// Close releases client resources
	Close() error
}

// ResolveTimeout resolves the wait for req against a client's configured
// receive timeout. A client default of zero waits indefinitely. The result is
// a positive duration to wait, zero for no wait, or indefinite set to true.
func ResolveTimeout(req PollRequest, defaultTimeout time.Duration) (wait time.Duration, indefinite bool) {
	timeout := req.Timeout
	if timeout == 0 {
		if defaultTimeout == 0 {
			return 0, true
		}
		timeout = defaultTimeout
	}
	if timeout < 0 {
		return 0, false
	}
	return timeout, false
}
