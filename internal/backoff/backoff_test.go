package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	t.Run("grows and caps without jitter", func(t *testing.T) {
		e := NewExponential(100*time.Millisecond, time.Second, 2.0)
		e.Jitter = false

		assert.Equal(t, 100*time.Millisecond, e.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, e.NextDelay(1))
		assert.Equal(t, 800*time.Millisecond, e.NextDelay(3))
		assert.Equal(t, time.Second, e.NextDelay(10))
	})

	t.Run("jitter stays within 15 percent", func(t *testing.T) {
		e := NewExponential(time.Second, time.Minute, 2.0)
		for i := 0; i < 100; i++ {
			d := e.NextDelay(0)
			assert.GreaterOrEqual(t, d, 850*time.Millisecond)
			assert.LessOrEqual(t, d, 1150*time.Millisecond)
		}
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("stops on success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, Fixed(time.Millisecond), 5, func(int) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, Fixed(time.Millisecond), 3, func(attempt int) error {
			calls++
			return errors.New("fail")
		})
		assert.EqualError(t, err, "fail")
		assert.Equal(t, 3, calls)
	})

	t.Run("honors context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		err := Retry(cctx, Fixed(time.Hour), -1, func(int) error {
			cancel()
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
