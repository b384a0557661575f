// Package interceptors provides ready-made channel interceptors.
//
// Built-in interceptors:
//   - LoggingInterceptor: logs every operation with its duration
//   - MetricsInterceptor: reports counts, durations and error types to a MetricsCollector
//   - ValidationInterceptor: fails invalid sends and drops invalid received messages
//   - FilteringInterceptor: passes only messages accepted by a MessageFilter
//   - ConditionalInterceptor: applies another interceptor to matching messages only
//   - WireTapInterceptor: copies traffic to a secondary channel
//
// Collectors: SimpleMetricsCollector keeps metrics in memory and
// PrometheusCollector exports them.
//
// Example usage:
//
//	collector, _ := interceptors.NewPrometheusCollector(prometheus.DefaultRegisterer, "app")
//	chain := interceptors.NewChainBuilder(logger).
//		WithLogging().
//		WithMetrics(collector).
//		WithValidation(validator).
//		Build()
//
//	ch := channel.NewQueueChannel("orders", 100, channel.WithInterceptors(chain...))
//
// Interceptors that need state between a pre-hook and their completion keep it
// in the operation's channel.Scope, so one instance can serve concurrent
// operations.
package interceptors
