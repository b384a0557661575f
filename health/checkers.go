package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/mmate-channels/broker/rabbitmq"
	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/endpoint"
	"github.com/glimte/mmate-channels/internal/reliability"
)

// RabbitMQChecker checks a RabbitMQ connection by opening a channel on it
type RabbitMQChecker struct {
	connManager *rabbitmq.ConnectionManager
}

// NewRabbitMQChecker creates a RabbitMQ connection checker
func NewRabbitMQChecker(connManager *rabbitmq.ConnectionManager) *RabbitMQChecker {
	return &RabbitMQChecker{connManager: connManager}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())

	conn, err := c.connManager.GetConnection()
	if err != nil {
		return result.fail(StatusUnhealthy, "connection not available", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return result.fail(StatusUnhealthy, "failed to open channel", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclarePassive("amq.direct", "direct", true, false, false, false, nil); err != nil {
		return result.fail(StatusDegraded, "exchange check failed", err)
	}

	result.Details["connection_open"] = !conn.IsClosed()
	return result.ok("connection is healthy")
}

// ChannelPoolChecker checks that a pool can hand out a channel
type ChannelPoolChecker struct {
	pool *rabbitmq.ChannelPool
}

// NewChannelPoolChecker creates a channel pool checker
func NewChannelPoolChecker(pool *rabbitmq.ChannelPool) *ChannelPoolChecker {
	return &ChannelPoolChecker{pool: pool}
}

func (c *ChannelPoolChecker) Name() string {
	return "channel_pool"
}

func (c *ChannelPoolChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())
	result.Details["pool_size"] = c.pool.Size()

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return result.fail(StatusUnhealthy, "failed to get channel from pool", err)
	}
	c.pool.Put(ch)

	return result.ok("channel pool is healthy")
}

// PingChecker checks a connection through a ping function, such as the
// Ping method of the redis and jetstream clients
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker creates a ping checker
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.name)
	if err := c.ping(ctx); err != nil {
		return result.fail(StatusUnhealthy, "ping failed", err)
	}
	result.Details["response_time_ms"] = time.Since(result.Timestamp).Milliseconds()
	return result.ok("reachable")
}

// BacklogChecker reports a queue degraded or unhealthy when its depth
// reaches the warning or critical threshold. A threshold of zero is ignored.
type BacklogChecker struct {
	name     string
	depth    func(ctx context.Context) (int64, error)
	warning  int64
	critical int64
}

// NewBacklogChecker creates a backlog checker
func NewBacklogChecker(name string, depth func(ctx context.Context) (int64, error), warning, critical int64) *BacklogChecker {
	return &BacklogChecker{
		name:     name,
		depth:    depth,
		warning:  warning,
		critical: critical,
	}
}

func (c *BacklogChecker) Name() string {
	return c.name
}

func (c *BacklogChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.name)

	depth, err := c.depth(ctx)
	if err != nil {
		return result.fail(StatusUnhealthy, "failed to read queue depth", err)
	}
	result.Details["message_count"] = depth

	switch {
	case c.critical > 0 && depth >= c.critical:
		return result.fail(StatusUnhealthy, fmt.Sprintf("backlog of %d messages", depth), nil)
	case c.warning > 0 && depth >= c.warning:
		return result.fail(StatusDegraded, fmt.Sprintf("high backlog of %d messages", depth), nil)
	}
	return result.ok("backlog is normal")
}

// QueueChannelChecker reports a queue channel degraded when it is nearly
// full and unhealthy when it is full
type QueueChannelChecker struct {
	queue     *channel.QueueChannel
	threshold float64
}

// NewQueueChannelChecker creates a checker; threshold is the fill ratio
// (0 to 1) at which the channel counts as degraded
func NewQueueChannelChecker(queue *channel.QueueChannel, threshold float64) *QueueChannelChecker {
	return &QueueChannelChecker{queue: queue, threshold: threshold}
}

func (c *QueueChannelChecker) Name() string {
	return "channel_" + c.queue.Name()
}

func (c *QueueChannelChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())

	size := c.queue.QueueSize()
	capacity := size + c.queue.RemainingCapacity()
	result.Details["queue_size"] = size
	result.Details["capacity"] = capacity

	if capacity == 0 {
		return result.ok("unbuffered channel")
	}

	fill := float64(size) / float64(capacity)
	result.Details["fill_ratio"] = fill

	switch {
	case size >= capacity:
		return result.fail(StatusUnhealthy, "channel is full", nil)
	case fill >= c.threshold:
		return result.fail(StatusDegraded, fmt.Sprintf("channel is %.0f%% full", fill*100), nil)
	}
	return result.ok("channel has capacity")
}

// ConsumerChecker reports whether a polling consumer is running and how
// recently it handled a message
type ConsumerChecker struct {
	name     string
	consumer *endpoint.PollingConsumer
	idle     time.Duration
}

// NewConsumerChecker creates a consumer checker. A consumer that handled no
// message for longer than idle is degraded; zero disables the idle check.
func NewConsumerChecker(name string, consumer *endpoint.PollingConsumer, idle time.Duration) *ConsumerChecker {
	return &ConsumerChecker{name: name, consumer: consumer, idle: idle}
}

func (c *ConsumerChecker) Name() string {
	return c.name
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.name)

	stats := c.consumer.Stats()
	result.Details["messages_processed"] = stats.MessagesProcessed
	result.Details["messages_failed"] = stats.MessagesFailed
	result.Details["receive_errors"] = stats.ReceiveErrors

	if !c.consumer.IsRunning() {
		return result.fail(StatusUnhealthy, "consumer is not running", nil)
	}
	if c.idle > 0 && !stats.LastMessageTime.IsZero() && time.Since(stats.LastMessageTime) > c.idle {
		return result.fail(StatusDegraded, "no messages handled recently", nil)
	}
	return result.ok("consumer is running")
}

// CircuitBreakerChecker reports an open breaker as unhealthy and a half-open
// one as degraded
type CircuitBreakerChecker struct {
	breaker *reliability.CircuitBreaker
}

// NewCircuitBreakerChecker creates a circuit breaker checker
func NewCircuitBreakerChecker(breaker *reliability.CircuitBreaker) *CircuitBreakerChecker {
	return &CircuitBreakerChecker{breaker: breaker}
}

func (c *CircuitBreakerChecker) Name() string {
	return "breaker_" + c.breaker.Name()
}

func (c *CircuitBreakerChecker) Check(ctx context.Context) CheckResult {
	result := newResult(c.Name())

	m := c.breaker.Metrics()
	result.Details["state"] = m.State.String()
	result.Details["consecutive_failures"] = m.Failures
	result.Details["total_calls"] = m.TotalCalls
	result.Details["total_failed"] = m.TotalFailed

	switch m.State {
	case reliability.StateOpen:
		return result.fail(StatusUnhealthy, "circuit is open", nil)
	case reliability.StateHalfOpen:
		return result.fail(StatusDegraded, "circuit is half-open", nil)
	}
	return result.ok("circuit is closed")
}
