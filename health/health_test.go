package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-channels/broker/rabbitmq"
	"github.com/glimte/mmate-channels/broker/redis"
	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/endpoint"
	"github.com/glimte/mmate-channels/internal/reliability"
	"github.com/glimte/mmate-channels/message"
)

func fixed(name string, status Status) Checker {
	return NewCheckerFunc(name, func(context.Context) CheckResult {
		return CheckResult{Name: name, Status: status}
	})
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("empty registry is healthy", func(t *testing.T) {
		h := NewRegistry().Check(ctx)
		assert.Equal(t, StatusHealthy, h.Status)
		assert.Empty(t, h.Checks)
	})

	t.Run("worst status wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("a", StatusHealthy))
		r.Register(fixed("b", StatusDegraded))
		assert.Equal(t, StatusDegraded, r.Check(ctx).Status)

		r.Register(fixed("c", StatusUnhealthy))
		h := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, h.Status)
		assert.Len(t, h.Checks, 3)

		r.Unregister("c")
		assert.Equal(t, StatusDegraded, r.Check(ctx).Status)
	})

	t.Run("metadata is reported", func(t *testing.T) {
		r := NewRegistry()
		r.SetMetadata("version", "1.0")
		assert.Equal(t, "1.0", r.Check(ctx).Metadata["version"])
	})

	t.Run("slow checks time out", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("fast", StatusHealthy))
		r.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		}))

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		h := r.Check(cctx)
		assert.Equal(t, StatusUnhealthy, h.Status)
		assert.Equal(t, StatusHealthy, h.Checks["fast"].Status)
		assert.Equal(t, "check timed out", h.Checks["slow"].Message)
	})
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.Register(fixed("a", StatusDegraded))
	h := NewHandler(r, time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusDegraded, body.Status)

	r.Register(fixed("b", StatusUnhealthy))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, "alive", rec.Body.String())
}

func TestRabbitMQCheckers(t *testing.T) {
	ctx := context.Background()
	cm := rabbitmq.NewConnectionManager("amqp://localhost")

	res := NewRabbitMQChecker(cm).Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)

	pool, err := rabbitmq.NewChannelPool(cm, rabbitmq.WithMinSize(0))
	require.NoError(t, err)
	defer pool.Close()

	res = NewChannelPoolChecker(pool).Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, 0, res.Details["pool_size"])
}

func TestPingChecker(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := redis.Dial(mr.Addr(), "orders")
	require.NoError(t, err)
	defer client.Close()

	checker := NewPingChecker("redis", client.Ping)
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	mr.SetError("LOADING")
	res := checker.Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "LOADING")
}

func TestBacklogChecker(t *testing.T) {
	ctx := context.Background()
	depth := int64(0)
	checker := NewBacklogChecker("orders", func(context.Context) (int64, error) {
		return depth, nil
	}, 10, 100)

	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	depth = 10
	assert.Equal(t, StatusDegraded, checker.Check(ctx).Status)

	depth = 100
	res := checker.Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, int64(100), res.Details["message_count"])

	failing := NewBacklogChecker("orders", func(context.Context) (int64, error) {
		return 0, errors.New("no broker")
	}, 0, 0)
	assert.Equal(t, StatusUnhealthy, failing.Check(ctx).Status)
}

func TestQueueChannelChecker(t *testing.T) {
	ctx := context.Background()
	q := channel.NewQueueChannel("work", 4)
	checker := NewQueueChannelChecker(q, 0.5)
	assert.Equal(t, "channel_work", checker.Name())

	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	for i := 0; i < 2; i++ {
		_, err := q.Send(ctx, message.WithPayload(i).Build())
		require.NoError(t, err)
	}
	assert.Equal(t, StatusDegraded, checker.Check(ctx).Status)

	for i := 0; i < 2; i++ {
		_, err := q.Send(ctx, message.WithPayload(i).Build())
		require.NoError(t, err)
	}
	res := checker.Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, 4, res.Details["capacity"])
}

func TestConsumerChecker(t *testing.T) {
	ctx := context.Background()
	q := channel.NewQueueChannel("in", 4)
	consumer, err := endpoint.NewPollingConsumer(q,
		endpoint.HandlerFunc(func(context.Context, *message.Message) error { return nil }),
		endpoint.WithReceiveTimeout(10*time.Millisecond))
	require.NoError(t, err)

	checker := NewConsumerChecker("consumer", consumer, time.Minute)
	assert.Equal(t, StatusUnhealthy, checker.Check(ctx).Status)

	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)
}

func TestCircuitBreakerChecker(t *testing.T) {
	breaker := reliability.NewCircuitBreaker("redis",
		reliability.WithFailureThreshold(1),
		reliability.WithOpenTimeout(time.Hour))
	checker := NewCircuitBreakerChecker(breaker)
	assert.Equal(t, "breaker_redis", checker.Name())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "closed", result.Details["state"])

	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return errors.New("down")
	})

	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "open", result.Details["state"])
	assert.Equal(t, int64(1), result.Details["total_failed"])
}
