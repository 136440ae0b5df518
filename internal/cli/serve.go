package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/events"
	"github.com/roach88/pulse/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr         string
	RedisAddr    string
	RedisChannel string
	Rate         float64
	Burst        int
	AllowOrigins []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger over HTTP",
		Long: `Start the HTTP API on top of the ledger database.

Commands and queries are served under /v1; committed events can be
streamed over WebSocket from /v1/events. With --redis-addr every
committed event is also published to a Redis channel.

The server shuts down gracefully on SIGINT or SIGTERM.

Example:
  pulse serve --db ./pulse.db --addr :8080
  pulse serve --redis-addr localhost:6379 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address (env "+EnvAddr+")")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis-addr", "", "relay events to this Redis server (env "+EnvRedisAddr+")")
	cmd.Flags().StringVar(&opts.RedisChannel, "redis-channel", events.DefaultChannel, "Redis pub/sub channel")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 10, "requests per second per participant (0 disables limiting)")
	cmd.Flags().IntVar(&opts.Burst, "burst", 20, "request burst per participant")
	cmd.Flags().StringSliceVar(&opts.AllowOrigins, "allow-origin", nil, "CORS origins (default all)")

	return cmd
}

func (o *ServeOptions) loadEnv(cmd *cobra.Command) {
	if !cmd.Flags().Changed("addr") {
		if v := os.Getenv(EnvAddr); v != "" {
			o.Addr = v
		}
	}
	if !cmd.Flags().Changed("redis-addr") {
		if v := os.Getenv(EnvRedisAddr); v != "" {
			o.RedisAddr = v
		}
	}
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	opts.loadEnv(cmd)

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	logger.Info("opening database", "path", opts.Database)
	s, err := opts.openLedger(ctx, cmd, engine.WithPublisher(bus), engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer s.Close()

	relayDone := make(chan struct{})
	if opts.RedisAddr != "" {
		client, err := events.NewRedisClient(ctx, opts.RedisAddr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		defer client.Close()

		relay := events.NewRedisRelay(client, opts.RedisChannel)
		sub := bus.Subscribe(events.Filter{})
		go func() {
			defer close(relayDone)
			if err := relay.Run(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
	} else {
		close(relayDone)
	}

	server := httpapi.NewServer(s.engine, bus, httpapi.Config{
		AllowOrigins: opts.AllowOrigins,
		Rate:         rate.Limit(opts.Rate),
		Burst:        opts.Burst,
		Logger:       logger,
	})
	if err := server.Run(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}

	<-relayDone
	return nil
}
