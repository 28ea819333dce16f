package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-clmm-go/cmd/clmmd/config"
	"github.com/defistate/defistate-clmm-go/events"
	"github.com/defistate/defistate-clmm-go/events/postgres"
	"github.com/defistate/defistate-clmm-go/exchange"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/server"
	"github.com/defistate/defistate-clmm-go/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:          "clmmd",
		Short:        "Concentrated liquidity exchange daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the exchange over json-rpc and stream its state",
		RunE:  runServe,
	}
	config.RegisterFlags(serveCmd.Flags())
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex, authority, err := exchange.New(exchange.Config{
		Logger:   rootLogger.With("component", "exchange"),
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("creating exchange: %w", err)
	}

	ops, err := stateops.NewStateOps(rootLogger.With("component", "stateops"), registry)
	if err != nil {
		return fmt.Errorf("creating state ops: %w", err)
	}

	streamer, err := server.NewStreamer(server.StreamerConfig{
		Source:   ex,
		Differ:   ops,
		Logger:   rootLogger.With("component", "streamer"),
		Interval: cfg.DiffInterval,
		Buffer:   cfg.StreamBuffer,
	})
	if err != nil {
		return fmt.Errorf("creating streamer: %w", err)
	}

	var admin *server.AdminAPI
	if cfg.AdminEnabled {
		admin = server.NewAdminAPI(ex, authority, exchange.NewAddressReceiver(cfg.Treasury))
	}
	rpcServer, err := server.NewServer(server.Config{
		Addr:           cfg.RPCAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		Public:         server.NewPublicAPI(ex, streamer, rootLogger.With("component", "rpc")),
		Admin:          admin,
		Logger:         rootLogger.With("component", "rpc"),
	})
	if err != nil {
		return fmt.Errorf("creating rpc server: %w", err)
	}

	recorder, closeSinks, err := newRecorder(ctx, cfg, ex.Bus(), rootLogger.With("component", "recorder"))
	if err != nil {
		return err
	}
	defer closeSinks()
	if recorder != nil {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "clmm_recorder_missed_events_total",
			Help: "Events the recorder never received because the bus dropped them.",
		}, func() float64 { return float64(recorder.Missed()) }))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := streamer.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(rpcServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return rpcServer.Stop(shutdownCtx)
	})
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	if cfg.MetricsAddr != "" {
		metrics := newMetricsServer(cfg.MetricsAddr, registry)
		g.Go(func() error {
			rootLogger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			return metrics.start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return metrics.stop(shutdownCtx)
		})
	}

	rootLogger.Info("clmmd started", "version", version, "rpc", cfg.RPCAddr, "admin", cfg.AdminEnabled)
	err = g.Wait()
	rootLogger.Info("clmmd stopped", "error", err)
	return err
}

// newRecorder wires the configured sinks. It returns a nil recorder when no sink is
// configured.
func newRecorder(ctx context.Context, cfg config.Config, bus *events.Bus, logger *slog.Logger) (*events.Recorder, func(), error) {
	if !cfg.Recording() {
		return nil, func() {}, nil
	}

	var (
		sinks   []events.Sink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.EventsFile != "" {
		file, err := events.NewFileSink(cfg.EventsFile)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, file)
		closers = append(closers, func() {
			if err := file.Close(); err != nil {
				logger.Error("closing event log", "error", err)
			}
		})
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("creating event schema: %w", err)
		}
		sinks = append(sinks, store)
	}

	recorder := events.NewRecorder(bus, events.RecorderConfig{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
		MaxRetries:    cfg.Recorder.MaxRetries,
		RetryDelay:    cfg.Recorder.RetryDelay,
		Buffer:        cfg.Recorder.Buffer,
	}, logger, sinks...)
	return recorder, closeAll, nil
}
