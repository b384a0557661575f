package interceptors

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports channel metrics to Prometheus
type PrometheusCollector struct {
	messages *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusCollector creates the collector and registers its metrics
// with reg. Metrics already registered by an equivalent collector are reused.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &PrometheusCollector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "messages_total",
			Help:      "Messages sent or received per channel",
		}, []string{"channel", "operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "errors_total",
			Help:      "Failed channel operations by error type",
		}, []string{"channel", "operation", "error_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "operation_duration_seconds",
			Help:      "Duration of channel operations including interceptors",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel", "operation"}),
	}

	var err error
	if c.messages, err = register(reg, c.messages); err != nil {
		return nil, err
	}
	if c.errors, err = register(reg, c.errors); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, c.duration); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegErr) {
			if existing, ok := alreadyRegErr.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("failed to register channel metrics: %w", err)
	}
	return collector, nil
}

// IncrementMessageCount implements MetricsCollector
func (c *PrometheusCollector) IncrementMessageCount(channelName string, op Operation) {
	c.messages.WithLabelValues(channelName, string(op)).Inc()
}

// RecordProcessingTime implements MetricsCollector
func (c *PrometheusCollector) RecordProcessingTime(channelName string, op Operation, duration time.Duration) {
	c.duration.WithLabelValues(channelName, string(op)).Observe(duration.Seconds())
}

// IncrementErrorCount implements MetricsCollector
func (c *PrometheusCollector) IncrementErrorCount(channelName string, op Operation, errorType string) {
	c.errors.WithLabelValues(channelName, string(op), errorType).Inc()
}

var _ MetricsCollector = (*PrometheusCollector)(nil)
