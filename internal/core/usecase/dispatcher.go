package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
)

const defaultSinkTimeout = 10 * time.Second

type DispatcherOptions struct {
	Publisher   ports.CompletionPublisher
	Archive     ports.ReportArchive
	Observer    ports.WorkflowObserver
	Logger      *slog.Logger
	SinkTimeout time.Duration
}

// CompletionDispatcher turns a terminal report into a CompletionPayload and hands it to the
// caller's continuation, then to the optional completion sinks.
type CompletionDispatcher struct {
	publisher   ports.CompletionPublisher
	archive     ports.ReportArchive
	observer    ports.WorkflowObserver
	logger      *slog.Logger
	sinkTimeout time.Duration
	now         func() time.Time
}

func NewCompletionDispatcher(options DispatcherOptions) *CompletionDispatcher {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := options.SinkTimeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &CompletionDispatcher{
		publisher:   options.Publisher,
		archive:     options.Archive,
		observer:    observerOrNop(options.Observer),
		logger:      logger,
		sinkTimeout: timeout,
		now:         time.Now,
	}
}

// Bind registers the continuation of one session.
func (d *CompletionDispatcher) Bind(continuation func(domain.CompletionPayload)) *Completion {
	return &Completion{dispatcher: d, continuation: continuation}
}

// Completion is the per-session handle; its continuation runs at most once.
type Completion struct {
	dispatcher   *CompletionDispatcher
	continuation func(domain.CompletionPayload)
	once         sync.Once
}

func (c *Completion) Payload(report domain.TaskReport) domain.CompletionPayload {
	return domain.NewCompletionPayload(report, c.dispatcher.now())
}

// Deliver invokes the continuation unless it already ran. It reports whether this call ran it.
func (c *Completion) Deliver(payload domain.CompletionPayload) bool {
	fired := false
	c.once.Do(func() {
		fired = true
		if c.continuation != nil {
			c.continuation(payload)
		}
	})
	return fired
}

// Fanout forwards payload to the configured sinks. Sink failures are logged and counted only.
func (c *Completion) Fanout(ctx context.Context, payload domain.CompletionPayload) {
	d := c.dispatcher
	if d.publisher == nil && d.archive == nil {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sinkTimeout)
	defer cancel()

	if d.publisher != nil {
		if err := d.publisher.PublishReportCompleted(sinkCtx, payload); err != nil {
			d.observer.ObserveSinkFailure("publisher")
			d.logger.Error("completion_sink_failed", "sink", "publisher", "request_id", payload.RequestID, "error", err)
		}
	}
	if d.archive != nil {
		if err := d.archive.SaveCompleted(sinkCtx, payload); err != nil {
			d.observer.ObserveSinkFailure("archive")
			d.logger.Error("completion_sink_failed", "sink", "archive", "request_id", payload.RequestID, "error", err)
		}
	}
}
