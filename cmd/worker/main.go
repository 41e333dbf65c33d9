package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/medibot/internal/bootstrap"
	"github.com/kirillkom/medibot/internal/config"
	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger, logCloser := logging.NewLogger("worker", logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{WithQueue: true, Service: "worker"})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.IngestionMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIngestionRequested(ctx, func(handlerCtx context.Context, req domain.IngestionRequest) error {
		runCtx, cancel := context.WithTimeout(handlerCtx, cfg.IngestTimeout)
		defer cancel()

		if req.RunID != "" {
			if queued, err := app.Runs.GetByID(runCtx, req.RunID); err == nil {
				app.IngestionMetrics.ObserveQueueLag(time.Since(queued.CreatedAt))
			}
		}

		start := time.Now()
		app.IngestionMetrics.StartRun()
		run, err := app.IngestUC.Ingest(runCtx, req)
		app.IngestionMetrics.FinishRun(run, time.Since(start), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}
}
