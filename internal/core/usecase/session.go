package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

// Session is the handle of one polling loop. All callbacks run on the session goroutine.
type Session struct {
	requestID  string
	callbacks  domain.TrackCallbacks
	completion *Completion
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// onFinish is invoked once with the terminal state.
	onFinish func(domain.SessionState, time.Duration)

	mu         sync.Mutex
	state      domain.SessionState
	progress   domain.StageFlags
	err        error
	finishedAt time.Time
	result     *domain.CompletionPayload

	// deliverMu serializes callback delivery against Cancel.
	deliverMu   sync.Mutex
	dispatching atomic.Bool
}

func newSession(
	parent context.Context,
	requestID string,
	callbacks domain.TrackCallbacks,
	completion *Completion,
	onFinish func(domain.SessionState, time.Duration),
) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		requestID:  requestID,
		callbacks:  callbacks,
		completion: completion,
		startedAt:  time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		onFinish:   onFinish,
		state:      domain.SessionIdle,
	}
}

func (s *Session) RequestID() string {
	return s.requestID
}

// Done is closed once the polling goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) LastProgress() domain.StageFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.SessionStatus{
		RequestID: s.requestID,
		State:     s.state,
		Progress:  s.progress,
		StartedAt: s.startedAt,
		Result:    s.result,
	}
	if s.err != nil {
		status.Error = s.err.Error()
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		status.FinishedAt = &finished
	}
	return status
}

// Cancel stops the loop. Once it returns no further callback will start; a callback that was
// already running when Cancel was called may still be finishing. Calling Cancel from inside a
// callback is allowed.
func (s *Session) Cancel() {
	s.cancel()
	if !s.dispatching.Load() {
		s.deliverMu.Lock()
		s.deliverMu.Unlock()
	}
	s.markCancelled()
}

func (s *Session) finishedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsTerminal() && !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff)
}

func (s *Session) start() {
	s.mu.Lock()
	if s.state == domain.SessionIdle {
		s.state = domain.SessionPolling
	}
	s.mu.Unlock()
}

// setProgress records flags and emits OnProgress unless the session was cancelled.
func (s *Session) setProgress(flags domain.StageFlags) {
	s.deliver(func() {
		s.mu.Lock()
		s.progress = flags
		s.mu.Unlock()
	}, func() {
		if s.callbacks.OnProgress != nil {
			s.callbacks.OnProgress(flags)
		}
	})
}

func (s *Session) fail(err error) {
	s.deliver(func() {
		s.transition(domain.SessionFailed, err, nil)
	}, func() {
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(err)
		}
	})
}

func (s *Session) complete(payload domain.CompletionPayload) bool {
	return s.deliver(func() {
		s.transition(domain.SessionCompleted, nil, &payload)
	}, func() {
		s.completion.Deliver(payload)
	})
}

func (s *Session) markCancelled() {
	s.transition(domain.SessionCancelled, context.Canceled, nil)
}

// deliver applies update and then runs callback, both skipped when the session is cancelled.
func (s *Session) deliver(update func(), callback func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	update()
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	callback()
	return true
}

func (s *Session) transition(state domain.SessionState, err error, result *domain.CompletionPayload) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	s.result = result
	s.finishedAt = time.Now().UTC()
	elapsed := s.finishedAt.Sub(s.startedAt)
	s.mu.Unlock()

	s.cancel()
	if s.onFinish != nil {
		s.onFinish(state, elapsed)
	}
}
