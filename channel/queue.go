package channel

import (
	"context"
	"time"

	"github.com/glimte/mmate-channels/message"
)

// DefaultQueueCapacity is used when a QueueChannel is created without a positive capacity
const DefaultQueueCapacity = 1000

// QueueChannel is an in-process pollable channel backed by a bounded buffer
type QueueChannel struct {
	base
	queue chan *message.Message
}

// NewQueueChannel creates a queue channel holding at most capacity messages
func NewQueueChannel(name string, capacity int, opts ...Option) *QueueChannel {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &QueueChannel{
		base:  newBase(name, newOptions(opts)),
		queue: make(chan *message.Message, capacity),
	}
}

// Send enqueues msg, blocking while the queue is full
func (q *QueueChannel) Send(ctx context.Context, msg *message.Message) (bool, error) {
	return q.send(ctx, q, msg, func(ctx context.Context, msg *message.Message) (bool, error) {
		select {
		case q.queue <- msg:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
}

// SendTimeout enqueues msg, waiting at most timeout for room. It returns
// false if the queue stayed full.
func (q *QueueChannel) SendTimeout(ctx context.Context, msg *message.Message, timeout time.Duration) (bool, error) {
	return q.send(ctx, q, msg, func(ctx context.Context, msg *message.Message) (bool, error) {
		if timeout <= 0 {
			select {
			case q.queue <- msg:
				return true, nil
			default:
				return false, nil
			}
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case q.queue <- msg:
			return true, nil
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
}

// Receive waits until a message is available or ctx is done
func (q *QueueChannel) Receive(ctx context.Context) (*message.Message, error) {
	return q.interceptors.Receive(ctx, q, func(ctx context.Context) (*message.Message, error) {
		select {
		case msg := <-q.queue:
			return msg, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// ReceiveTimeout waits at most timeout for a message
func (q *QueueChannel) ReceiveTimeout(ctx context.Context, timeout time.Duration) (*message.Message, error) {
	return q.interceptors.Receive(ctx, q, func(ctx context.Context) (*message.Message, error) {
		if timeout <= 0 {
			select {
			case msg := <-q.queue:
				return msg, nil
			default:
				return nil, nil
			}
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case msg := <-q.queue:
			return msg, nil
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// QueueSize returns the number of buffered messages
func (q *QueueChannel) QueueSize() int {
	return len(q.queue)
}

// RemainingCapacity returns how many more messages fit
func (q *QueueChannel) RemainingCapacity() int {
	return cap(q.queue) - len(q.queue)
}

// Clear drops all buffered messages and returns them
func (q *QueueChannel) Clear() []*message.Message {
	var drained []*message.Message
	for {
		select {
		case msg := <-q.queue:
			drained = append(drained, msg)
		default:
			return drained
		}
	}
}
