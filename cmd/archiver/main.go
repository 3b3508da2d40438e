package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/bootstrap"
	"github.com/kirillkom/safety-report-tracker/internal/config"
	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/observability/logging"
	"github.com/kirillkom/safety-report-tracker/internal/observability/metrics"
)

const serviceName = "archiver"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archiver, err := bootstrap.NewArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer archiver.Close()

	archiverMetrics := metrics.NewArchiverMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ArchiverMetricsPort,
		Handler:           archiverMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("archiver_subscribed", "subject", cfg.NATSSubject)
	err = archiver.Queue.SubscribeReportCompleted(ctx, func(handlerCtx context.Context, payload domain.CompletionPayload) error {
		archiveCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		archiverMetrics.StartArchive()
		started := time.Now()
		err := archiver.Archive.SaveCompleted(archiveCtx, payload)
		archiverMetrics.FinishArchive(serviceName, time.Since(started), err)
		if !payload.CompletedAt.IsZero() {
			archiverMetrics.ObserveCompletionLag(serviceName, time.Since(payload.CompletedAt))
		}
		if err != nil {
			logger.Error("archive_failed", "request_id", payload.RequestID, "error", err)
			return err
		}
		logger.Info("report_archived", "request_id", payload.RequestID)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("archiver_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
