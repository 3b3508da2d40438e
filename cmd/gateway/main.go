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

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/safety-report-tracker/internal/adapters/http"
	"github.com/kirillkom/safety-report-tracker/internal/bootstrap"
	"github.com/kirillkom/safety-report-tracker/internal/config"
	"github.com/kirillkom/safety-report-tracker/internal/observability/logging"
	"github.com/kirillkom/safety-report-tracker/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("gateway", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("gateway")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:  "gateway",
		Logger:   logger,
		Registry: httpMetrics.Registry(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	router := httpadapter.NewRouter(app.Workflow, httpadapter.RouterOptions{
		Service:       "gateway",
		UploadField:   cfg.BackendUploadField,
		MaxImageBytes: int64(cfg.MaxImageBytes),
		RateLimit:     cfg.GatewayRateLimit,
		RateBurst:     cfg.GatewayRateBurst,
		MaxInFlight:   cfg.GatewayMaxInFlight,
		QueueTimeout:  cfg.GatewayQueueTimeout,
		Metrics:       httpMetrics,
		Logger:        logger,
	})

	apiServer := &http.Server{
		Addr:         ":" + cfg.GatewayPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", httpMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.GatewayMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gateway_listening", "addr", apiServer.Addr)
		return serve(apiServer)
	})
	group.Go(func() error {
		logger.Info("metrics_listening", "addr", metricsServer.Addr)
		return serve(metricsServer)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := app.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := group.Wait(); err != nil {
		logger.Error("gateway_stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway_stopped")
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
