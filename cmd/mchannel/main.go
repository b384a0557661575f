package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/glimte/mmate-channels/channel"
	"github.com/glimte/mmate-channels/endpoint"
	"github.com/glimte/mmate-channels/health"
	"github.com/glimte/mmate-channels/interceptors"
	"github.com/glimte/mmate-channels/message"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg     brokerConfig
		output  string
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:   "mchannel",
		Short: "Send, poll and watch messages on broker-backed channels",
		Long: `mchannel drives message channels backed by RabbitMQ, Redis or NATS JetStream.
Messages pass through the same interceptors and datatype checks an application uses.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			cfg.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfg.kind, "broker", "b", "rabbitmq", "Broker type: rabbitmq, redis or jetstream")
	flags.StringVarP(&cfg.url, "url", "u", "", "Broker URL (defaults per broker type)")
	flags.StringVarP(&cfg.queue, "queue", "q", "mchannel", "Queue name, list key or subject")
	flags.StringVar(&cfg.stream, "stream", "MCHANNEL", "JetStream stream name")
	flags.DurationVar(&cfg.timeout, "receive-timeout", time.Second, "Default receive timeout of the broker client")
	flags.StringVarP(&output, "output", "o", "json", "Output format: json or yaml")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newSendCmd(&cfg, &output),
		newPollCmd(&cfg, &output),
		newConsumeCmd(&cfg, &output),
		newHealthCmd(&cfg, &output),
	)
	return rootCmd
}

func newBrokerChannel(cfg *brokerConfig, conn *connection, opts ...channel.Option) (*channel.BrokerChannel, error) {
	opts = append([]channel.Option{channel.WithLogger(cfg.logger)}, opts...)
	return channel.NewBrokerChannel(cfg.queue, conn.client, opts...)
}

func newSendCmd(cfg *brokerConfig, output *string) *cobra.Command {
	var (
		headers       []string
		correlationID string
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			payload, err := parsePayload(args[0], asJSON)
			if err != nil {
				return err
			}
			hdrs, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			conn, err := openBroker(ctx, *cfg)
			if err != nil {
				return fmt.Errorf("failed to open broker: %w", err)
			}
			defer conn.Close()

			ch, err := newBrokerChannel(cfg, conn,
				channel.WithInterceptors(interceptors.NewLoggingInterceptor(cfg.logger)))
			if err != nil {
				return err
			}

			b := message.WithPayload(payload).CopyHeaders(hdrs)
			if correlationID != "" {
				b.SetCorrelationID(correlationID)
			}
			msg := b.Build()

			sent, err := ch.Send(ctx, msg)
			if err != nil {
				return err
			}
			if !sent {
				return errors.New("message was not sent")
			}
			return render(cmd.OutOrStdout(), *output, viewOf(msg))
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Header as key=value (repeatable)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Parse the payload as JSON")
	return cmd
}

func newPollCmd(cfg *brokerConfig, output *string) *cobra.Command {
	var (
		selector string
		timeout  time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Receive messages",
		Long:  "Receive up to --count messages, waiting at most --timeout for each.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			conn, err := openBroker(ctx, *cfg)
			if err != nil {
				return fmt.Errorf("failed to open broker: %w", err)
			}
			defer conn.Close()

			ch, err := newBrokerChannel(cfg, conn,
				channel.WithSelector(selector),
				channel.WithInterceptors(interceptors.NewLoggingInterceptor(cfg.logger)))
			if err != nil {
				return err
			}

			var received []messageView
			for i := 0; i < count; i++ {
				msg, err := ch.ReceiveTimeout(ctx, timeout)
				if err != nil {
					return err
				}
				if msg == nil {
					break
				}
				received = append(received, viewOf(msg))
			}
			if len(received) == 0 {
				cfg.logger.Info("no messages available", "queue", cfg.queue)
			}
			return render(cmd.OutOrStdout(), *output, received)
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "s", "", "Broker-side selector (JetStream filter subject)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "Wait per message; 0 or less does not wait")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Maximum number of messages")
	return cmd
}

func newConsumeCmd(cfg *brokerConfig, output *string) *cobra.Command {
	var (
		listen      string
		filter      string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume messages until interrupted",
		Long: `Consume messages continuously, printing each one. Prometheus metrics are
served on /metrics and consumer health on /health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			conn, err := openBroker(ctx, *cfg)
			if err != nil {
				return fmt.Errorf("failed to open broker: %w", err)
			}
			defer conn.Close()
			conn.guard(cfg.kind, cfg.logger)

			reg := prometheus.NewRegistry()
			collector, err := interceptors.NewPrometheusCollector(reg, "mchannel")
			if err != nil {
				return err
			}

			chain := interceptors.NewChainBuilder(cfg.logger).
				WithLogging().
				WithMetrics(collector)
			if filter != "" {
				sel, err := interceptors.NewSelectorFilter(filter)
				if err != nil {
					return err
				}
				chain.WithFilter(sel, interceptors.SkipWithLog)
			}

			ch, err := newBrokerChannel(cfg, conn, channel.WithInterceptors(chain.Build()...))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			consumer, err := endpoint.NewPollingConsumer(ch,
				endpoint.HandlerFunc(func(_ context.Context, msg *message.Message) error {
					return render(out, *output, viewOf(msg))
				}),
				endpoint.WithConcurrency(concurrency),
				endpoint.WithReceiveTimeout(cfg.timeout),
				endpoint.WithLogger(cfg.logger))
			if err != nil {
				return err
			}

			registry := health.NewRegistry()
			registry.SetMetadata("version", version)
			registry.Register(health.NewConsumerChecker("consumer", consumer, 0))
			for _, c := range conn.checkers {
				registry.Register(c)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.Handle("/health", health.NewHandler(registry, 5*time.Second))
			mux.Handle("/live", health.LivenessHandler())
			server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					cfg.logger.Error("http server failed", "error", err)
					cancel()
				}
			}()

			if err := consumer.Start(ctx); err != nil {
				return err
			}
			cfg.logger.Info("consuming", "queue", cfg.queue, "listen", listen)

			<-ctx.Done()

			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = server.Shutdown(shutdownCtx)
			return consumer.Stop()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9090", "Address for /metrics and /health")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Client-side selector expression, e.g. \"priority > 3\"")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Number of polling workers")
	return cmd
}

func newHealthCmd(cfg *brokerConfig, output *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check broker health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := openBroker(ctx, *cfg)
			if err != nil {
				return fmt.Errorf("failed to open broker: %w", err)
			}
			defer conn.Close()

			registry := health.NewRegistry()
			for _, c := range conn.checkers {
				registry.Register(c)
			}

			result := registry.Check(ctx)
			if err := render(cmd.OutOrStdout(), *output, result); err != nil {
				return err
			}
			if result.Status == health.StatusUnhealthy {
				return fmt.Errorf("broker is %s", result.Status)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Overall timeout")
	return cmd
}
