package main

import (
	"context"
	"os"
	"time"

	"aidat/internal/backend"
	"aidat/internal/cache"
	"aidat/internal/cli"
	apphttp "aidat/internal/http"
	applog "aidat/internal/log"
	"aidat/internal/metrics"
	"aidat/internal/services"
)

const (
	shutdownTimeout    = 30 * time.Second
	cacheSweepInterval = time.Minute
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	res, err := backend.NewFactory(logger).CreateBackend(startCtx, backendConfig)
	if err != nil {
		startCancel()
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	m := metrics.New()
	opts := []services.Option{
		services.WithMetrics(m),
		services.WithSummaryCache(cfg.SummaryCacheTTL),
	}
	if res.Publisher != nil {
		opts = append(opts, services.WithPublisher(res.Publisher))
	}
	ledger := services.NewLedgerService(startCtx, res.Store, opts...)
	startCancel()

	if n := ledger.NotifyOverdue(context.Background()); n > 0 {
		logger.Info("Overdue dues reported", "count", n)
	}

	srv := apphttp.NewServer(":"+cfg.Port, ledger, apphttp.Options{
		Logger:             logger,
		Metrics:            m,
		Ready:              res.Ready,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	// The backend closes only after in-flight requests have drained.
	stopped := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
		}
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	})

	caches := cache.NewManager()
	caches.Register(ledger)
	caches.Start(ctx, cacheSweepInterval)

	logger.Info("Starting aidat server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"mirror", res.Mirror != nil,
		"amqp", res.Publisher != nil,
	)
	if err := srv.Run(ctx, shutdownTimeout); err != nil {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		_ = res.Close()
		os.Exit(1)
	}
	close(stopped)

	caches.Wait()
	<-done
	logger.Info("Server stopped gracefully")
}
