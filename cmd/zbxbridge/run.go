package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weewx-zbxsender/bridge/internal/buffer"
	"github.com/weewx-zbxsender/bridge/internal/collector"
	"github.com/weewx-zbxsender/bridge/internal/config"
	"github.com/weewx-zbxsender/bridge/internal/encoder"
	"github.com/weewx-zbxsender/bridge/internal/forwarder"
	"github.com/weewx-zbxsender/bridge/internal/metrics"
	"github.com/weewx-zbxsender/bridge/internal/models"
	"github.com/weewx-zbxsender/bridge/internal/scheduler"
	"github.com/weewx-zbxsender/bridge/internal/sender"
	"github.com/weewx-zbxsender/bridge/internal/service"
	"github.com/weewx-zbxsender/bridge/internal/source"
	"github.com/weewx-zbxsender/bridge/internal/spool"
)

// shutdownGrace is added to the relay timeout for the final flush.
const shutdownGrace = 5 * time.Second

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted or the input closes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			logger := initLogger(cfg, os.Stderr)
			defer logger.Sync()

			if service.IsWindowsService() {
				logger.Info("Running as Windows service")
				return service.New(logger, func(ctx context.Context) error {
					return runBridge(ctx, cfg, os.Stdin, logger)
				}).Run()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, cfg, os.Stdin, logger)
		},
	}
}

// newEncoder builds the encoder from the encoding section.
func newEncoder(cfg *config.Config) (*encoder.Encoder, error) {
	rules := make(map[string]encoder.Rule, len(cfg.Encoding.Rules))
	for name, s := range cfg.Encoding.Rules {
		r, err := encoder.ParseRule(s)
		if err != nil {
			return nil, &models.ConfigError{Field: "encoding.rules." + name, Err: err}
		}
		rules[name] = r
	}
	return encoder.New(cfg.Encoding.Prefix, cfg.Encoding.SourceHost, rules, cfg.Encoding.Exclude), nil
}

// runBridge checks the relay, wires the components and runs them until
// ctx is cancelled or the input closes, then makes the final flush.
// Configuration and relay problems are returned before any observation
// is accepted.
func runBridge(ctx context.Context, cfg *config.Config, stdin io.Reader, logger *zap.Logger) error {
	logger.Info("Starting zbxbridge",
		zap.String("version", version),
		zap.String("relay", cfg.Relay.Type),
		zap.String("relay_target", cfg.Relay.Target),
		zap.String("server", cfg.Relay.Server),
		zap.String("prefix", cfg.Encoding.Prefix),
		zap.String("source_host", cfg.Encoding.SourceHost),
		zap.Int("max_batch_size", cfg.Batch.MaxBatchSize),
		zap.Duration("max_batch_age", cfg.MaxBatchAge()),
		zap.Int("max_retry_count", cfg.Retry.MaxRetryCount),
		zap.Duration("backoff_base", cfg.BackoffBase()),
		zap.Duration("backoff_max", cfg.BackoffMax()),
		zap.String("input", cfg.Input.Mode))

	enc, err := newEncoder(cfg)
	if err != nil {
		return err
	}
	client, err := sender.New(cfg.Relay, logger)
	if err != nil {
		return err
	}
	if err := client.Check(ctx); err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
	}

	var sp *spool.Spool
	if cfg.Spool.Dir != "" {
		sp, err = spool.New(cfg.Spool.Dir, cfg.Spool.MaxSizeMB, logger)
		if err != nil {
			return &models.ConfigError{Field: "spool.dir", Err: err}
		}
	}

	fwd := forwarder.New(enc, client, forwarder.Options{
		Buffer: buffer.Options{
			MaxBatchSize: cfg.Batch.MaxBatchSize,
			MaxBatchAge:  cfg.MaxBatchAge(),
			MaxBuffered:  cfg.Batch.MaxBufferedSamples,
		},
		QueueSize:              cfg.Batch.QueueSize,
		MaxRetryCount:          cfg.Retry.MaxRetryCount,
		BackoffBase:            cfg.BackoffBase(),
		BackoffMax:             cfg.BackoffMax(),
		MaxDeliveriesPerSecond: cfg.Retry.MaxDeliveriesPerSecond,
		Metrics:                m,
		Spool:                  sp,
	}, logger)
	fwd.Restore()

	var station scheduler.Observer
	if cfg.Station.Enabled {
		station = collector.NewStation(collector.DefaultRegistry(logger.Named("collector")),
			cfg.Station.Source, nil, logger.Named("station"))
	}
	sched := scheduler.New(cfg.Batch.FlushInterval.Duration, station, cfg.Station.Interval.Duration, logger)
	sched.OnFlushTick(fwd.OnFlushTick)
	sched.OnObservation(fwd.OnObservation)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fwd.Run(gctx)
	})
	g.Go(func() error {
		return sched.Start(gctx)
	})
	if m != nil {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Listen, logger)
		})
	}
	switch cfg.Input.Mode {
	case config.InputStdin:
		reader := source.NewReader(stdin, cfg.Input.Source, nil, logger)
		g.Go(func() error {
			return reader.Run(gctx, fwd.OnObservation)
		})
	case config.InputNATS:
		sub := source.NewSubscriber(cfg.Input, nil, logger)
		g.Go(func() error {
			return sub.Run(gctx, fwd.OnObservation)
		})
	}

	logger.Info("Bridge running")
	runErr := g.Wait()
	if isInputClosed(runErr) {
		logger.Info("Input closed, shutting down")
		runErr = nil
	} else if runErr == nil {
		logger.Info("Shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.Timeout.Duration+shutdownGrace)
	defer cancel()
	if err := fwd.OnShutdown(shutdownCtx); err != nil {
		logger.Warn("Final flush incomplete", zap.Error(err))
	}

	logger.Info("Bridge stopped")
	if runErr != nil {
		return fmt.Errorf("bridge: %w", runErr)
	}
	return nil
}

// isInputClosed reports whether err means the packet stream ended.
func isInputClosed(err error) bool {
	return errors.Is(err, io.EOF)
}
