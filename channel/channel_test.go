package channel

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/glimte/mmate-channels/broker"
	"github.com/glimte/mmate-channels/convert"
	"github.com/glimte/mmate-channels/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type temporary interface {
	Temporary() bool
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Temporary() bool { return true }

type resetErr struct{}

func (resetErr) Error() string   { return "reset" }
func (resetErr) Temporary() bool { return true }

func TestQueueChannelDatatypes(t *testing.T) {
	ctx := context.Background()

	t.Run("untyped channel accepts anything", func(t *testing.T) {
		ch := NewQueueChannel("any", 10)
		sent, err := ch.Send(ctx, message.WithPayload(struct{}{}).Build())
		require.NoError(t, err)
		assert.True(t, sent)
		assert.Equal(t, 1, ch.QueueSize())
	})

	t.Run("exact type is delivered unchanged", func(t *testing.T) {
		ch := NewQueueChannel("ints", 10, WithDatatypes(reflect.TypeOf(0)))
		msg := message.WithPayload(42).Build()

		sent, err := ch.Send(ctx, msg)
		require.NoError(t, err)
		assert.True(t, sent)

		got, err := ch.ReceiveTimeout(ctx, 0)
		require.NoError(t, err)
		assert.Same(t, msg, got)
	})

	t.Run("implementation of an accepted interface is delivered", func(t *testing.T) {
		ch := NewQueueChannel("temps", 10,
			WithDatatypes(reflect.TypeOf((*temporary)(nil)).Elem()))

		sent, err := ch.Send(ctx, message.WithPayload(timeoutErr{}).Build())
		require.NoError(t, err)
		assert.True(t, sent)
	})

	t.Run("broader type than accepted is rejected", func(t *testing.T) {
		ch := NewQueueChannel("timeouts", 10, WithDatatypes(reflect.TypeOf(timeoutErr{})))

		var broad error = resetErr{}
		msg := message.WithPayload(broad).Build()
		sent, err := ch.Send(ctx, msg)

		assert.False(t, sent)
		assert.ErrorIs(t, err, message.ErrDeliveryRejected)

		var deliveryErr *message.DeliveryError
		require.ErrorAs(t, err, &deliveryErr)
		assert.Equal(t, "timeouts", deliveryErr.Channel)
		assert.Equal(t, "channel.resetErr", deliveryErr.PayloadType)
		assert.Same(t, msg, deliveryErr.Message)
		assert.Equal(t, 0, ch.QueueSize())
	})

	t.Run("multiple accepted types", func(t *testing.T) {
		ch := NewQueueChannel("mixed", 10, WithDatatypes(reflect.TypeOf(""), reflect.TypeOf(0)))

		for _, payload := range []any{"text", 7} {
			sent, err := ch.Send(ctx, message.WithPayload(payload).Build())
			require.NoError(t, err)
			assert.True(t, sent)
		}

		_, err := ch.Send(ctx, message.WithPayload(true).Build())
		assert.ErrorIs(t, err, message.ErrDeliveryRejected)
	})

	t.Run("converts when no type matches", func(t *testing.T) {
		ch := NewQueueChannel("ints", 10,
			WithDatatypes(reflect.TypeOf(0)),
			WithConversionService(convert.NewDefaultService()))

		msg := message.WithPayload(true).SetHeader("origin", "test").Build()
		sent, err := ch.Send(ctx, msg)
		require.NoError(t, err)
		assert.True(t, sent)

		got, err := ch.ReceiveTimeout(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Payload())
		origin, _ := got.Header("origin")
		assert.Equal(t, "test", origin)
	})

	t.Run("first convertible accepted type wins", func(t *testing.T) {
		svc := convert.NewDefaultService()

		intFirst := NewQueueChannel("a", 10,
			WithDatatypes(reflect.TypeOf(0), reflect.TypeOf(float64(0))),
			WithConversionService(svc))
		_, err := intFirst.Send(ctx, message.WithPayload("7").Build())
		require.NoError(t, err)
		got, _ := intFirst.ReceiveTimeout(ctx, 0)
		assert.Equal(t, 7, got.Payload())

		floatFirst := NewQueueChannel("b", 10,
			WithDatatypes(reflect.TypeOf(float64(0)), reflect.TypeOf(0)),
			WithConversionService(svc))
		_, err = floatFirst.Send(ctx, message.WithPayload("7").Build())
		require.NoError(t, err)
		got, _ = floatFirst.ReceiveTimeout(ctx, 0)
		assert.Equal(t, float64(7), got.Payload())
	})

	t.Run("unconvertible payload is rejected", func(t *testing.T) {
		ch := NewQueueChannel("ints", 10,
			WithDatatypes(reflect.TypeOf(0)),
			WithConversionService(convert.NewDefaultService()))

		_, err := ch.Send(ctx, message.WithPayload(struct{}{}).Build())
		assert.ErrorIs(t, err, message.ErrDeliveryRejected)
	})

	t.Run("failed conversion is rejected with its cause", func(t *testing.T) {
		ch := NewQueueChannel("ints", 10,
			WithDatatypes(reflect.TypeOf(0)),
			WithConversionService(convert.NewDefaultService()))

		_, err := ch.Send(ctx, message.WithPayload("not a number").Build())
		assert.ErrorIs(t, err, message.ErrDeliveryRejected)

		var convErr *convert.ConversionError
		assert.ErrorAs(t, err, &convErr)
		assert.Equal(t, 0, ch.QueueSize())
	})

	t.Run("rejection happens before interceptors engage", func(t *testing.T) {
		rec := newRecorder()
		ch := NewQueueChannel("ints", 10,
			WithDatatypes(reflect.TypeOf(0)),
			WithInterceptors(&recordingInterceptor{name: "a", rec: rec}))

		_, err := ch.Send(ctx, message.WithPayload("x").Build())
		assert.ErrorIs(t, err, message.ErrDeliveryRejected)
		assert.Empty(t, rec.Events())
	})

	t.Run("nil message", func(t *testing.T) {
		ch := NewQueueChannel("any", 10)
		_, err := ch.Send(ctx, nil)
		assert.ErrorIs(t, err, ErrNilMessage)
	})
}

func TestQueueChannelBuffering(t *testing.T) {
	ctx := context.Background()

	t.Run("default capacity", func(t *testing.T) {
		ch := NewQueueChannel("q", 0)
		assert.Equal(t, DefaultQueueCapacity, ch.RemainingCapacity())
	})

	t.Run("send timeout on full queue", func(t *testing.T) {
		ch := NewQueueChannel("q", 1)
		sent, err := ch.Send(ctx, message.WithPayload(1).Build())
		require.NoError(t, err)
		require.True(t, sent)

		sent, err = ch.SendTimeout(ctx, message.WithPayload(2).Build(), 0)
		require.NoError(t, err)
		assert.False(t, sent)

		sent, err = ch.SendTimeout(ctx, message.WithPayload(2).Build(), 10*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, sent)
		assert.Equal(t, 0, ch.RemainingCapacity())
	})

	t.Run("blocking send respects context", func(t *testing.T) {
		ch := NewQueueChannel("q", 1)
		_, _ = ch.Send(ctx, message.WithPayload(1).Build())

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		sent, err := ch.Send(cctx, message.WithPayload(2).Build())
		assert.False(t, sent)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("receive timeout on empty queue is not an error", func(t *testing.T) {
		ch := NewQueueChannel("q", 1)
		got, err := ch.ReceiveTimeout(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("receive waits for a sender", func(t *testing.T) {
		ch := NewQueueChannel("q", 1)
		go func() {
			time.Sleep(5 * time.Millisecond)
			_, _ = ch.Send(ctx, message.WithPayload("late").Build())
		}()

		got, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "late", got.Payload())
	})

	t.Run("clear drains the queue", func(t *testing.T) {
		ch := NewQueueChannel("q", 5)
		for i := 0; i < 3; i++ {
			_, _ = ch.Send(ctx, message.WithPayload(i).Build())
		}

		drained := ch.Clear()
		assert.Len(t, drained, 3)
		assert.Equal(t, 0, ch.QueueSize())
	})
}

// mockClient records poll requests
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Poll(ctx context.Context, req broker.PollRequest) (any, error) {
	args := m.Called(ctx, req)
	return args.Get(0), args.Error(1)
}

func (m *mockClient) Publish(ctx context.Context, msg *message.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockClient) Close() error {
	return m.Called().Error(0)
}

// timeoutClient records the timeout of every poll
type timeoutClient struct {
	mu       sync.Mutex
	timeouts []time.Duration
	err      error
}

func (c *timeoutClient) Poll(_ context.Context, req broker.PollRequest) (any, error) {
	c.mu.Lock()
	c.timeouts = append(c.timeouts, req.Timeout)
	c.mu.Unlock()
	return nil, c.err
}

func (c *timeoutClient) Publish(context.Context, *message.Message) error { return nil }

func (c *timeoutClient) Close() error { return nil }

func TestBrokerChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a client", func(t *testing.T) {
		_, err := NewBrokerChannel("in", nil)
		assert.ErrorIs(t, err, ErrNilClient)
	})

	t.Run("receive passes selector and default timeout", func(t *testing.T) {
		client := new(mockClient)
		msg := message.WithPayload("ready").Build()
		client.On("Poll", mock.Anything, broker.PollRequest{Selector: "region = 'eu'"}).Return(msg, nil)

		ch, err := NewBrokerChannel("in", client, WithSelector("region = 'eu'"))
		require.NoError(t, err)

		got, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Same(t, msg, got)
		client.AssertExpectations(t)
	})

	t.Run("bare payload is wrapped", func(t *testing.T) {
		client := new(mockClient)
		client.On("Poll", mock.Anything, mock.Anything).Return("raw", nil)

		ch, _ := NewBrokerChannel("in", client)
		got, err := ch.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "raw", got.Payload())
		assert.NotEmpty(t, got.ID())
	})

	t.Run("nothing available is no message", func(t *testing.T) {
		client := new(mockClient)
		client.On("Poll", mock.Anything, mock.Anything).Return(nil, nil)

		ch, _ := NewBrokerChannel("in", client)
		got, err := ch.ReceiveTimeout(ctx, time.Second)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("poll error surfaces and reaches completions", func(t *testing.T) {
		pollErr := errors.New("connection reset")
		client := new(mockClient)
		client.On("Poll", mock.Anything, mock.Anything).Return(nil, pollErr)

		rec := newRecorder()
		a := &recordingInterceptor{name: "a", rec: rec}
		ch, _ := NewBrokerChannel("in", client, WithInterceptors(a))

		_, err := ch.ReceiveTimeout(ctx, time.Second)
		assert.ErrorIs(t, err, pollErr)
		require.Len(t, a.completionErrs, 1)
		assert.ErrorIs(t, a.completionErrs[0], pollErr)
	})

	t.Run("timed receive does not leak into later receives", func(t *testing.T) {
		client := &timeoutClient{}
		ch, _ := NewBrokerChannel("in", client)

		_, _ = ch.ReceiveTimeout(ctx, 250*time.Millisecond)
		_, _ = ch.Receive(ctx)
		_, _ = ch.ReceiveTimeout(ctx, 0)
		_, _ = ch.Receive(ctx)

		assert.Equal(t, []time.Duration{250 * time.Millisecond, 0, broker.NoWait, 0}, client.timeouts)
	})

	t.Run("timed receive does not leak after an error", func(t *testing.T) {
		client := &timeoutClient{err: errors.New("poll failed")}
		ch, _ := NewBrokerChannel("in", client)

		_, err := ch.ReceiveTimeout(ctx, time.Second)
		assert.Error(t, err)

		client.err = nil
		_, err = ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{time.Second, 0}, client.timeouts)
	})

	t.Run("concurrent receives keep their own timeouts", func(t *testing.T) {
		client := &timeoutClient{}
		ch, _ := NewBrokerChannel("in", client)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = ch.ReceiveTimeout(ctx, time.Minute)
			}()
			go func() {
				defer wg.Done()
				_, _ = ch.Receive(ctx)
			}()
		}
		wg.Wait()

		var timed, plain int
		for _, d := range client.timeouts {
			switch d {
			case time.Minute:
				timed++
			case 0:
				plain++
			}
		}
		assert.Equal(t, 50, timed)
		assert.Equal(t, 50, plain)
	})

	t.Run("selector can be replaced", func(t *testing.T) {
		client := new(mockClient)
		client.On("Poll", mock.Anything, broker.PollRequest{Selector: "b", Timeout: broker.NoWait}).Return(nil, nil)

		ch, _ := NewBrokerChannel("in", client, WithSelector("a"))
		ch.SetSelector("b")
		assert.Equal(t, "b", ch.Selector())

		_, err := ch.ReceiveTimeout(ctx, -time.Second)
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("send publishes through the client", func(t *testing.T) {
		client := new(mockClient)
		msg := message.WithPayload("out").Build()
		client.On("Publish", mock.Anything, msg).Return(nil).Once()

		ch, _ := NewBrokerChannel("out", client)
		sent, err := ch.Send(ctx, msg)
		require.NoError(t, err)
		assert.True(t, sent)
		client.AssertExpectations(t)
	})

	t.Run("send failure is wrapped", func(t *testing.T) {
		pubErr := errors.New("channel closed")
		client := new(mockClient)
		client.On("Publish", mock.Anything, mock.Anything).Return(pubErr)

		ch, _ := NewBrokerChannel("out", client)
		sent, err := ch.Send(ctx, message.WithPayload("out").Build())
		assert.False(t, sent)
		assert.ErrorIs(t, err, pubErr)
	})
}
