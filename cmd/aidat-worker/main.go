package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"aidat/internal/amqp"
	"aidat/internal/backend"
	"aidat/internal/cli"
	applog "aidat/internal/log"
	"aidat/internal/metrics"
	"aidat/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)

	logger.Info("Starting aidat-worker")

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	// The worker consumes change events itself and never publishes.
	backendConfig.AMQPURL = ""

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	res, err := backend.NewFactory(logger).CreateBackend(startCtx, backendConfig)
	startCancel()
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if res.Mirror == nil {
		logger.Error("No mirror configured: set GOOGLE_SPREADSHEET_ID with a non-sheets DATA_BACKEND")
		_ = res.Close()
		os.Exit(1)
	}

	m := metrics.New()
	mirror := worker.NewMirrorWorker(res.Store, res.Mirror, m)

	var consumer *amqp.Client
	if cfg.AMQPURL != "" {
		consumer, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, relying on periodic sweeps", applog.FieldError, err)
			consumer = nil
		}
	} else {
		logger.Info("AMQP disabled - mirroring on interval only", "interval", cfg.MirrorInterval)
	}

	var metricsSrv *http.Server
	if cfg.WorkerMetricsPort != "" {
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown error", applog.FieldError, err)
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mirror.Run(gctx, cfg.MirrorInterval)
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.ConsumeSlotChanges(gctx, mirror.HandleSlotChanged)
		})
	}
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("Serving worker metrics", "port", cfg.WorkerMetricsPort)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	if consumer != nil {
		if cerr := consumer.Close(); cerr != nil {
			logger.Warn("AMQP close error", applog.FieldError, cerr)
		}
	}
	if cerr := res.Close(); cerr != nil {
		logger.Warn("Backend cleanup failed", applog.FieldError, cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}

	<-done
	logger.Info("Worker stopped gracefully")
}
