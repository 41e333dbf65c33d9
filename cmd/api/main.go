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

	httpadapter "github.com/kirillkom/medibot/internal/adapters/http"
	"github.com/kirillkom/medibot/internal/bootstrap"
	"github.com/kirillkom/medibot/internal/config"
	"github.com/kirillkom/medibot/internal/core/ports"
	"github.com/kirillkom/medibot/internal/observability/logging"
	"github.com/kirillkom/medibot/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger, logCloser := logging.NewLogger("api", logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{WithQueue: true, Service: "api"})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	var scheduler ports.IngestionScheduler
	if app.ScheduleUC != nil {
		scheduler = app.ScheduleUC
	}
	router := httpadapter.NewRouter(cfg, app.QueryUC, scheduler, app.Runs, metrics.NewHTTPServerMetrics("api")).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
