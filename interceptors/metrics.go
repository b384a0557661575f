package interceptors

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/message"
)

// MetricsCollector defines the interface for collecting channel metrics
type MetricsCollector interface {
	IncrementMessageCount(channelName string, op Operation)
	RecordProcessingTime(channelName string, op Operation, duration time.Duration)
	IncrementErrorCount(channelName string, op Operation, errorType string)
}

// Error types reported to collectors
const (
	ErrorTypePanic    = "panic"
	ErrorTypeTimeout  = "timeout"
	ErrorTypeCanceled = "canceled"
	ErrorTypeRejected = "rejected"
	ErrorTypeFailure  = "failure"
)

// MetricsInterceptor collects metrics about channel operations
type MetricsInterceptor struct {
	channel.InterceptorAdapter
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	if collector == nil {
		collector = NoOpMetricsCollector{}
	}
	return &MetricsInterceptor{collector: collector}
}

// PreSend implements channel.Interceptor
func (i *MetricsInterceptor) PreSend(ctx context.Context, msg *message.Message, _ channel.Channel) (*message.Message, error) {
	markStart(ctx, i)
	markOperation(ctx, i, OperationSend)
	return msg, nil
}

// PostSend implements channel.Interceptor
func (i *MetricsInterceptor) PostSend(ctx context.Context, _ *message.Message, _ channel.Channel, sent bool) {
	markSent(ctx, i, sent)
}

// PreReceive implements channel.Interceptor
func (i *MetricsInterceptor) PreReceive(ctx context.Context, _ channel.Channel) bool {
	markStart(ctx, i)
	markOperation(ctx, i, OperationReceive)
	return true
}

// AfterCompletion implements channel.Interceptor
func (i *MetricsInterceptor) AfterCompletion(ctx context.Context, msg *message.Message, ch channel.Channel, err error) {
	op := operationOf(ctx, i)
	i.collector.RecordProcessingTime(ch.Name(), op, elapsed(ctx, i))

	if err != nil {
		i.collector.IncrementErrorCount(ch.Name(), op, classifyError(err))
		return
	}

	switch op {
	case OperationSend:
		if wasSent(ctx, i) {
			i.collector.IncrementMessageCount(ch.Name(), op)
		}
	case OperationReceive:
		if msg != nil {
			i.collector.IncrementMessageCount(ch.Name(), op)
		}
	}
}

func classifyError(err error) string {
	var panicErr *channel.PanicError
	switch {
	case errors.As(err, &panicErr):
		return ErrorTypePanic
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, message.ErrDeliveryRejected):
		return ErrorTypeRejected
	default:
		return ErrorTypeFailure
	}
}

// NoOpMetricsCollector discards all metrics
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) IncrementMessageCount(string, Operation)               {}
func (NoOpMetricsCollector) RecordProcessingTime(string, Operation, time.Duration) {}
func (NoOpMetricsCollector) IncrementErrorCount(string, Operation, string)         {}

const maxSamples = 100

// SimpleMetricsCollector keeps metrics in memory, keyed by channel and operation
type SimpleMetricsCollector struct {
	mu              sync.RWMutex
	messageCounters map[string]int64
	errorCounters   map[string]map[string]int64
	processingTimes map[string]*timeStats
}

type timeStats struct {
	count   int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		messageCounters: make(map[string]int64),
		errorCounters:   make(map[string]map[string]int64),
		processingTimes: make(map[string]*timeStats),
	}
}

func metricKey(channelName string, op Operation) string {
	return channelName + "/" + string(op)
}

// IncrementMessageCount implements MetricsCollector
func (c *SimpleMetricsCollector) IncrementMessageCount(channelName string, op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCounters[metricKey(channelName, op)]++
}

// RecordProcessingTime implements MetricsCollector
func (c *SimpleMetricsCollector) RecordProcessingTime(channelName string, op Operation, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metricKey(channelName, op)
	stats, exists := c.processingTimes[key]
	if !exists {
		stats = &timeStats{min: duration, max: duration, samples: make([]time.Duration, 0, maxSamples)}
		c.processingTimes[key] = stats
	}

	stats.count++
	stats.total += duration
	stats.min = min(stats.min, duration)
	stats.max = max(stats.max, duration)

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(channelName string, op Operation, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := metricKey(channelName, op)
	if c.errorCounters[key] == nil {
		c.errorCounters[key] = make(map[string]int64)
	}
	c.errorCounters[key][errorType]++
}

// MetricsSummary is a snapshot of collected metrics keyed by "channel/operation"
type MetricsSummary struct {
	MessageCounts   map[string]int64            `json:"message_counts" yaml:"message_counts"`
	ErrorCounts     map[string]map[string]int64 `json:"error_counts" yaml:"error_counts"`
	ProcessingStats map[string]ProcessingStats  `json:"processing_stats" yaml:"processing_stats"`
}

// ProcessingStats summarizes operation durations
type ProcessingStats struct {
	Count int64         `json:"count" yaml:"count"`
	Avg   time.Duration `json:"avg" yaml:"avg"`
	Min   time.Duration `json:"min" yaml:"min"`
	Max   time.Duration `json:"max" yaml:"max"`
	P50   time.Duration `json:"p50" yaml:"p50"`
	P95   time.Duration `json:"p95" yaml:"p95"`
	P99   time.Duration `json:"p99" yaml:"p99"`
}

// Summary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) Summary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		MessageCounts:   make(map[string]int64, len(c.messageCounters)),
		ErrorCounts:     make(map[string]map[string]int64, len(c.errorCounters)),
		ProcessingStats: make(map[string]ProcessingStats, len(c.processingTimes)),
	}

	for key, count := range c.messageCounters {
		summary.MessageCounts[key] = count
	}
	for key, errs := range c.errorCounters {
		summary.ErrorCounts[key] = make(map[string]int64, len(errs))
		for errorType, count := range errs {
			summary.ErrorCounts[key][errorType] = count
		}
	}
	for key, stats := range c.processingTimes {
		ps := ProcessingStats{Count: stats.count, Min: stats.min, Max: stats.max}
		if stats.count > 0 {
			ps.Avg = stats.total / time.Duration(stats.count)
		}
		if len(stats.samples) > 0 {
			sorted := slices.Clone(stats.samples)
			slices.Sort(sorted)
			ps.P50 = percentile(sorted, 0.50)
			ps.P95 = percentile(sorted, 0.95)
			ps.P99 = percentile(sorted, 0.99)
		}
		summary.ProcessingStats[key] = ps
	}

	return summary
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageCounters = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.processingTimes = make(map[string]*timeStats)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

var (
	_ MetricsCollector = (*SimpleMetricsCollector)(nil)
	_ MetricsCollector = NoOpMetricsCollector{}
)
