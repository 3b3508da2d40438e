package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/safety-report-tracker/internal/config"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
	"github.com/kirillkom/safety-report-tracker/internal/core/usecase"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/auth"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/backend"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/pdfcheck"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/queue/nats"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/resilience"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/schema"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/storage/minio"
	"github.com/kirillkom/safety-report-tracker/internal/observability/metrics"
)

type Options struct {
	Service string
	Logger  *slog.Logger
	// Registry receives workflow metrics; a private registry is used when nil.
	Registry *prometheus.Registry
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Metrics     *metrics.WorkflowMetrics
	Credentials *auth.Provider
	Backend     *backend.Client
	Archive     *postgres.ReportArchive

	Submitter *usecase.SubmitImageUseCase
	Tracker   *usecase.Tracker
	History   *usecase.HistoryCache
	Actions   *usecase.ReportActionsUseCase
	Workflow  *usecase.WorkflowUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, options Options) (*App, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	workflowMetrics := metrics.NewWorkflowMetrics(options.Service, registry)

	executor := resilience.NewExecutor(resilienceConfig(cfg),
		resilience.WithLogger(logger),
		resilience.WithRetryObserver(workflowMetrics.ObserveRetry),
	)

	client := backend.NewWithOptions(cfg.BackendBaseURL, backend.Options{
		UploadPath:         cfg.BackendUploadPath,
		HistoryPath:        cfg.BackendHistoryPath,
		UploadField:        cfg.BackendUploadField,
		Timeout:            cfg.BackendTimeout,
		RateLimit:          cfg.BackendRateLimit,
		RateBurst:          cfg.BackendRateBurst,
		ResilienceExecutor: executor,
	})
	credentials := auth.NewProvider(cfg.AuthToken, cfg.AuthTokenFile)

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	dispatcherOptions := usecase.DispatcherOptions{
		Observer:    workflowMetrics,
		Logger:      logger,
		SinkTimeout: cfg.SinkTimeout,
	}
	if cfg.NATSEnabled {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ClientName:         options.Service,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		closers = append(closers, queue.Close)
		dispatcherOptions.Publisher = queue
	}

	var archive *postgres.ReportArchive
	if cfg.ArchiveEnabled {
		var db *sql.DB
		var err error
		archive, db, err = openArchive(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		dispatcherOptions.Archive = archive
	}

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, err
	}

	trackerOptions := usecase.TrackerOptions{
		PollInterval:   cfg.PollInterval,
		SettleDelay:    cfg.SettleDelay,
		MaxWait:        cfg.MaxWait,
		RetainFinished: cfg.RetainFinished,
		Observer:       workflowMetrics,
		Logger:         logger,
	}
	if cfg.ValidateReports {
		validator, err := schema.NewValidator()
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init report validator: %w", err)
		}
		trackerOptions.Validator = validator
	}

	submitter := usecase.NewSubmitImageUseCase(client, credentials, workflowMetrics, usecase.SubmitOptions{
		RequireAuth:   cfg.RequireUploadAuth,
		MaxImageBytes: cfg.MaxImageBytes,
	})
	dispatcher := usecase.NewCompletionDispatcher(dispatcherOptions)
	tracker := usecase.NewTracker(client, credentials, dispatcher, trackerOptions)
	history := usecase.NewHistoryCache(client, credentials, xlsx.New(),
		usecase.WithHistoryLogger(logger),
		usecase.WithHistoryObserver(workflowMetrics),
	)
	actions := usecase.NewReportActionsUseCase(client, credentials, history, storage, pdfcheck.New())

	return &App{
		Config: cfg,
		Logger: logger,

		Metrics:     workflowMetrics,
		Credentials: credentials,
		Backend:     client,
		Archive:     archive,

		Submitter: submitter,
		Tracker:   tracker,
		History:   history,
		Actions:   actions,
		Workflow:  usecase.NewWorkflowUseCase(submitter, tracker, history, actions),

		closeFn: closeAll,
	}, nil
}

// Shutdown cancels live sessions and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Tracker.Shutdown(ctx)
	a.Close()
	return err
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
		a.closeFn = nil
	}
}

// Archiver is the consumer side of completion events.
type Archiver struct {
	Config  config.Config
	Queue   *nats.Queue
	Archive *postgres.ReportArchive

	closeFn func()
}

func NewArchiver(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	archive, db, err := openArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg), resilience.WithLogger(logger))
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ClientName:         "archiver",
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	return &Archiver{
		Config:  cfg,
		Queue:   queue,
		Archive: archive,
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *Archiver) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openArchive(ctx context.Context, cfg config.Config) (*postgres.ReportArchive, *sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	archive := postgres.NewReportArchive(db)
	if err := archive.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return archive, db, nil
}

func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "minio":
		storage, err := minio.New(minio.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return storage, nil
	default:
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     cfg.RetryInitialBackoff,
		RetryMaxBackoff:         cfg.RetryMaxBackoff,
		RetryMultiplier:         cfg.RetryMultiplier,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
	}
}
