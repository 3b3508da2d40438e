package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultSettleDelay    = 800 * time.Millisecond
	DefaultMaxWait        = 5 * time.Minute
	DefaultRetainFinished = 15 * time.Minute
)

type TrackerOptions struct {
	PollInterval time.Duration
	// SettleDelay is waited between observing the terminal status and dispatching completion.
	SettleDelay    time.Duration
	MaxWait        time.Duration
	RetainFinished time.Duration

	Validator ports.ReportValidator
	Observer  ports.WorkflowObserver
	Logger    *slog.Logger
}

func DefaultTrackerOptions() TrackerOptions {
	return TrackerOptions{
		PollInterval:   DefaultPollInterval,
		SettleDelay:    DefaultSettleDelay,
		MaxWait:        DefaultMaxWait,
		RetainFinished: DefaultRetainFinished,
	}
}

// Tracker polls the backend for submitted requests. At most one session runs per request id.
type Tracker struct {
	backend     ports.ReportBackend
	credentials ports.CredentialProvider
	dispatcher  *CompletionDispatcher
	validator   ports.ReportValidator
	observer    ports.WorkflowObserver
	logger      *slog.Logger
	options     TrackerOptions

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewTracker(
	backend ports.ReportBackend,
	credentials ports.CredentialProvider,
	dispatcher *CompletionDispatcher,
	options TrackerOptions,
) *Tracker {
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.SettleDelay < 0 {
		options.SettleDelay = 0
	}
	if options.MaxWait <= 0 {
		options.MaxWait = DefaultMaxWait
	}
	if options.RetainFinished <= 0 {
		options.RetainFinished = DefaultRetainFinished
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = NewCompletionDispatcher(DispatcherOptions{Observer: options.Observer, Logger: logger})
	}
	return &Tracker{
		backend:     backend,
		credentials: credentials,
		dispatcher:  dispatcher,
		validator:   options.Validator,
		observer:    observerOrNop(options.Observer),
		logger:      logger,
		options:     options,
		sessions:    make(map[string]*Session),
	}
}

// Track starts polling requestID. A session already tracking the same id is cancelled first.
// Cancelling ctx cancels the session.
func (t *Tracker) Track(ctx context.Context, requestID string, callbacks domain.TrackCallbacks) (*Session, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "track report", fmt.Errorf("request id is empty"))
	}

	session := newSession(ctx, requestID, callbacks, t.dispatcher.Bind(callbacks.OnComplete), t.sessionFinished(requestID))

	t.mu.Lock()
	prev := t.sessions[requestID]
	t.sessions[requestID] = session
	t.pruneLocked(time.Now().Add(-t.options.RetainFinished))
	t.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		// Waiting from inside one of prev's own callbacks would deadlock.
		if !prev.dispatching.Load() {
			<-prev.Done()
		}
	}

	session.start()
	t.observer.SessionStarted()
	t.logger.Info("session_started", "request_id", requestID, "poll_interval_ms", t.options.PollInterval.Milliseconds())
	go t.run(session)
	return session, nil
}

func (t *Tracker) Session(requestID string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[requestID]
	return session, ok
}

func (t *Tracker) Active(requestID string) bool {
	session, ok := t.Session(requestID)
	return ok && !session.State().IsTerminal()
}

// Cancel stops the session tracking requestID and reports whether one was running.
func (t *Tracker) Cancel(requestID string) bool {
	session, ok := t.Session(requestID)
	if !ok || session.State().IsTerminal() {
		return false
	}
	session.Cancel()
	return true
}

// Shutdown cancels every session and waits for their goroutines to exit.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, session := range t.sessions {
		sessions = append(sessions, session)
	}
	t.mu.Unlock()

	for _, session := range sessions {
		session.Cancel()
	}
	for _, session := range sessions {
		select {
		case <-session.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Tracker) pruneLocked(cutoff time.Time) {
	for id, session := range t.sessions {
		if session.finishedBefore(cutoff) {
			delete(t.sessions, id)
		}
	}
}

func (t *Tracker) sessionFinished(requestID string) func(domain.SessionState, time.Duration) {
	return func(state domain.SessionState, elapsed time.Duration) {
		t.observer.SessionFinished(state, elapsed)
		t.logger.Info("session_finished", "request_id", requestID, "state", string(state), "duration_ms", elapsed.Milliseconds())
	}
}

func (t *Tracker) run(s *Session) {
	defer func() {
		// A parent cancel can land between a check and a delivery.
		if !s.State().IsTerminal() {
			s.markCancelled()
		}
		close(s.done)
	}()

	waitCtx, cancelWait := context.WithTimeout(s.ctx, t.options.MaxWait)
	defer cancelWait()

	for {
		if t.stopped(s, waitCtx) {
			return
		}

		report, found, err := t.poll(waitCtx, s.requestID)
		if t.stopped(s, waitCtx) {
			return
		}
		if err != nil {
			t.observer.ObservePoll("error")
			t.logger.Warn("poll_failed", "request_id", s.requestID, "error", err)
			s.fail(err)
			return
		}

		if found {
			t.observer.ObservePoll("visible")
			flags := domain.DeriveStages(report)
			t.logger.Debug("poll_tick", "request_id", s.requestID, "stages", flags.String())
			if stage, regressed := flags.RegressionFrom(s.LastProgress()); regressed {
				s.fail(domain.WrapError(domain.ErrProtocol, "track report",
					fmt.Errorf("stage %s reverted for request %s", stage, s.requestID)))
				return
			}
			s.setProgress(flags)
			if report.IsTerminal() {
				t.finish(s, report)
				return
			}
		} else {
			t.observer.ObservePoll("not_visible")
			t.logger.Debug("poll_tick", "request_id", s.requestID, "visible", false)
		}

		timer := time.NewTimer(t.options.PollInterval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// stopped settles the session when it was cancelled or ran out of time.
func (t *Tracker) stopped(s *Session, waitCtx context.Context) bool {
	if s.ctx.Err() != nil {
		s.markCancelled()
		return true
	}
	if waitCtx.Err() != nil {
		t.observer.ObservePoll("timeout")
		s.fail(domain.WrapError(domain.ErrTimeout, "track report",
			fmt.Errorf("request %s not complete after %s", s.requestID, t.options.MaxWait)))
		return true
	}
	return false
}

func (t *Tracker) poll(ctx context.Context, requestID string) (domain.TaskReport, bool, error) {
	credential := ""
	if t.credentials != nil {
		token, err := t.credentials.Credential(ctx)
		if err != nil {
			return domain.TaskReport{}, false, domain.WrapError(domain.ErrUnauthorized, "resolve credential", err)
		}
		credential = token
	}

	reports, err := t.backend.ListReports(ctx, credential)
	if err != nil {
		return domain.TaskReport{}, false, err
	}
	for _, report := range reports {
		if report.RequestID != requestID {
			continue
		}
		if report.DecodeErr != nil {
			t.observer.ObserveMalformedReport("tracker")
			return domain.TaskReport{}, false, domain.WrapError(domain.ErrProtocol, "track report", report.DecodeErr)
		}
		return report, true, nil
	}
	return domain.TaskReport{}, false, nil
}

func (t *Tracker) finish(s *Session, report domain.TaskReport) {
	if t.validator != nil {
		if err := t.validator.ValidateFinalReport(report.FinalReport); err != nil {
			s.fail(err)
			return
		}
	}

	if t.options.SettleDelay > 0 {
		timer := time.NewTimer(t.options.SettleDelay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.markCancelled()
			return
		case <-timer.C:
		}
	}

	payload := s.completion.Payload(report)
	if !s.complete(payload) {
		s.markCancelled()
		return
	}
	s.completion.Fanout(s.ctx, payload)
}
