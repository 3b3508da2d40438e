package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

type callbackRecorder struct {
	mu        sync.Mutex
	progress  []domain.StageFlags
	completed []domain.CompletionPayload
	errs      []error
	progressC chan domain.StageFlags
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{progressC: make(chan domain.StageFlags, 64)}
}

func (r *callbackRecorder) callbacks() domain.TrackCallbacks {
	return domain.TrackCallbacks{
		OnProgress: func(flags domain.StageFlags) {
			r.mu.Lock()
			r.progress = append(r.progress, flags)
			r.mu.Unlock()
			select {
			case r.progressC <- flags:
			default:
			}
		},
		OnComplete: func(payload domain.CompletionPayload) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, payload)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *callbackRecorder) counts() (progress, completed, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress), len(r.completed), len(r.errs)
}

func (r *callbackRecorder) waitProgress(t *testing.T) domain.StageFlags {
	t.Helper()
	select {
	case flags := <-r.progressC:
		return flags
	case <-time.After(2 * time.Second):
		t.Fatalf("no progress reported")
		return domain.StageFlags{}
	}
}

func fastOptions() TrackerOptions {
	return TrackerOptions{
		PollInterval:   5 * time.Millisecond,
		SettleDelay:    5 * time.Millisecond,
		MaxWait:        2 * time.Second,
		RetainFinished: time.Minute,
	}
}

func pendingListing(t *testing.T) []listingStep {
	return []listingStep{{reports: []domain.TaskReport{
		taskReport(t, `{"request_id":"abc123","detection":{"brand":"x"},"status":"pending"}`),
	}}}
}

func TestTrackerReportsStagesAndCompletesOnce(t *testing.T) {
	backend := &backendFake{listings: []listingStep{
		{reports: []domain.TaskReport{
			taskReport(t, `{"request_id":"other","status":"pending"}`),
			taskReport(t, `{"request_id":"abc123","detection":{"brand":"x"},"status":"pending"}`),
		}},
		{reports: []domain.TaskReport{
			taskReport(t, `{"request_id":"abc123","detection":{"brand":"x"},"final_report":{"deep_search":{"queries":3}},"status":"pending"}`),
		}},
		{reports: []domain.TaskReport{
			taskReport(t, `{"request_id":"abc123","detection":{"brand":"x"},"final_report":{"title":"Energy","deep_search":{"queries":3}},"status":"complete","image_url":"https://cdn/abc123.jpg"}`),
		}},
	}}
	observer := &observerFake{}
	options := fastOptions()
	options.Observer = observer
	tracker := NewTracker(backend, staticCredentials("tok"), nil, options)
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	want := []domain.StageFlags{
		{Detect: true},
		{Detect: true, DeepSearch: true},
		{Detect: true, DeepSearch: true, Writer: true},
	}
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.progress) != len(want) {
		t.Fatalf("expected %d progress events, got %+v", len(want), recorder.progress)
	}
	for i := range want {
		if recorder.progress[i] != want[i] {
			t.Fatalf("progress[%d] = %+v, want %+v", i, recorder.progress[i], want[i])
		}
	}
	if len(recorder.completed) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(recorder.completed))
	}
	payload := recorder.completed[0]
	if payload.RequestID != "abc123" || payload.ImageURL != "https://cdn/abc123.jpg" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Report.FinalReport == nil || payload.Report.FinalReport.Title != "Energy" {
		t.Fatalf("expected final report in payload, got %+v", payload.Report.FinalReport)
	}
	if len(recorder.errs) != 0 {
		t.Fatalf("unexpected errors %v", recorder.errs)
	}
	if session.State() != domain.SessionCompleted {
		t.Fatalf("expected completed state, got %s", session.State())
	}
	if backend.calls() != 3 {
		t.Fatalf("expected polling to stop after terminal status, got %d queries", backend.calls())
	}
	if backend.credentials[0] != "tok" {
		t.Fatalf("expected credential on poll, got %q", backend.credentials[0])
	}
	if status := session.Status(); status.Result == nil || status.FinishedAt == nil {
		t.Fatalf("expected result in status, got %+v", status)
	}
	if observer.started != 1 || len(observer.finished) != 1 || observer.finished[0] != domain.SessionCompleted {
		t.Fatalf("unexpected observer state started=%d finished=%v", observer.started, observer.finished)
	}
}

func TestTrackerSkipsProgressWhileEntryIsNotVisible(t *testing.T) {
	backend := &backendFake{listings: []listingStep{
		{reports: nil},
		{reports: []domain.TaskReport{taskReport(t, `{"request_id":"someone-else"}`)}},
		{reports: []domain.TaskReport{taskReport(t, `{"request_id":"abc123","status":"complete"}`)}},
	}}
	tracker := NewTracker(backend, nil, nil, fastOptions())
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	progress, completed, errs := recorder.counts()
	if progress != 1 || completed != 1 || errs != 0 {
		t.Fatalf("unexpected callbacks progress=%d completed=%d errors=%d", progress, completed, errs)
	}
}

func TestTrackerProgressSequence(t *testing.T) {
	tests := []struct {
		name          string
		listings      []string
		wantProgress  []domain.StageFlags
		wantQueries   int
		wantCompleted int
	}{
		{
			name: "detection then complete",
			listings: []string{
				`{"request_id":"abc123","detection":null}`,
				`{"request_id":"abc123","detection":{},"status":"pending"}`,
				`{"request_id":"abc123","detection":{},"final_report":{"title":"Energy"},"status":"complete"}`,
				`{"request_id":"abc123","detection":{},"final_report":{"title":"Energy"},"status":"complete"}`,
			},
			wantProgress: []domain.StageFlags{
				{},
				{Detect: true},
				{Detect: true, DeepSearch: true, Writer: true},
			},
			wantQueries:   3,
			wantCompleted: 1,
		},
		{
			name: "terminal on first visible poll",
			listings: []string{
				`{"request_id":"abc123","status":"complete"}`,
				`{"request_id":"abc123","status":"complete"}`,
			},
			wantProgress: []domain.StageFlags{
				{Detect: true, DeepSearch: true, Writer: true},
			},
			wantQueries:   1,
			wantCompleted: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]listingStep, 0, len(tt.listings))
			for _, raw := range tt.listings {
				steps = append(steps, listingStep{reports: []domain.TaskReport{taskReport(t, raw)}})
			}
			backend := &backendFake{listings: steps}
			tracker := NewTracker(backend, nil, nil, fastOptions())
			recorder := newCallbackRecorder()

			session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
			if err != nil {
				t.Fatalf("Track() error = %v", err)
			}
			waitDone(t, session)
			time.Sleep(20 * time.Millisecond)

			recorder.mu.Lock()
			defer recorder.mu.Unlock()
			if len(recorder.progress) != len(tt.wantProgress) {
				t.Fatalf("expected %d progress events, got %+v", len(tt.wantProgress), recorder.progress)
			}
			for i := range tt.wantProgress {
				if recorder.progress[i] != tt.wantProgress[i] {
					t.Fatalf("progress[%d] = %+v, want %+v", i, recorder.progress[i], tt.wantProgress[i])
				}
			}
			if len(recorder.completed) != tt.wantCompleted {
				t.Fatalf("expected %d completions, got %d", tt.wantCompleted, len(recorder.completed))
			}
			if len(recorder.errs) != 0 {
				t.Fatalf("unexpected errors %v", recorder.errs)
			}
			if backend.calls() != tt.wantQueries {
				t.Fatalf("expected %d queries, got %d", tt.wantQueries, backend.calls())
			}
		})
	}
}

func TestTrackerIgnoresMalformedEntriesForOtherRequests(t *testing.T) {
	malformed := domain.TaskReport{RequestID: "other", DecodeErr: errors.New("decode report 0: bad created_at")}
	backend := &backendFake{listings: []listingStep{
		{reports: []domain.TaskReport{malformed, taskReport(t, `{"request_id":"abc123","detection":{}}`)}},
		{reports: []domain.TaskReport{malformed, taskReport(t, `{"request_id":"abc123","status":"complete"}`)}},
	}}
	observer := &observerFake{}
	options := fastOptions()
	options.Observer = observer
	tracker := NewTracker(backend, nil, nil, options)
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	_, completed, errs := recorder.counts()
	if completed != 1 || errs != 0 {
		t.Fatalf("expected completion despite malformed neighbour, completed=%d errors=%d", completed, errs)
	}
	if session.State() != domain.SessionCompleted {
		t.Fatalf("expected completed state, got %s", session.State())
	}
	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.malformed) != 0 {
		t.Fatalf("expected other request's entry not to be counted, got %v", observer.malformed)
	}
}

func TestTrackerFailsOnMalformedTrackedEntry(t *testing.T) {
	backend := &backendFake{listings: []listingStep{{reports: []domain.TaskReport{
		taskReport(t, `{"request_id":"other","status":"pending"}`),
		{RequestID: "abc123", DecodeErr: errors.New("decode report 1: bad created_at")},
	}}}}
	observer := &observerFake{}
	options := fastOptions()
	options.Observer = observer
	tracker := NewTracker(backend, nil, nil, options)
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	if !domain.IsKind(session.Err(), domain.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", session.Err())
	}
	if _, _, errs := recorder.counts(); errs != 1 {
		t.Fatalf("expected OnError once, got %d", errs)
	}
	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.malformed) != 1 || observer.malformed[0] != "tracker" {
		t.Fatalf("expected malformed entry to be counted, got %v", observer.malformed)
	}
}

func TestTrackerCancelStopsCallbacks(t *testing.T) {
	backend := &backendFake{listings: pendingListing(t)}
	tracker := NewTracker(backend, nil, nil, fastOptions())
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	recorder.waitProgress(t)

	session.Cancel()
	progressAtCancel, _, _ := recorder.counts()
	callsAtCancel := backend.calls()
	waitDone(t, session)
	time.Sleep(30 * time.Millisecond)

	progress, completed, errs := recorder.counts()
	if progress != progressAtCancel || completed != 0 || errs != 0 {
		t.Fatalf("callbacks after cancel: progress %d -> %d, completed=%d errors=%d", progressAtCancel, progress, completed, errs)
	}
	if backend.calls() > callsAtCancel+1 {
		t.Fatalf("polling continued after cancel: %d -> %d", callsAtCancel, backend.calls())
	}
	if session.State() != domain.SessionCancelled {
		t.Fatalf("expected cancelled state, got %s", session.State())
	}
	if tracker.Active("abc123") {
		t.Fatalf("cancelled session must not be active")
	}
}

func TestTrackerCancelDuringSettleDelaySuppressesCompletion(t *testing.T) {
	backend := &backendFake{listings: []listingStep{{reports: []domain.TaskReport{
		taskReport(t, `{"request_id":"abc123","status":"complete"}`),
	}}}}
	options := fastOptions()
	options.SettleDelay = 500 * time.Millisecond
	tracker := NewTracker(backend, nil, nil, options)
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	recorder.waitProgress(t)
	session.Cancel()
	waitDone(t, session)

	if _, completed, _ := recorder.counts(); completed != 0 {
		t.Fatalf("completion must not fire after cancel")
	}
	if session.State() != domain.SessionCancelled {
		t.Fatalf("expected cancelled state, got %s", session.State())
	}
}

func TestTrackerCancelFromCallbackDoesNotDeadlock(t *testing.T) {
	backend := &backendFake{listings: pendingListing(t)}
	tracker := NewTracker(backend, nil, nil, fastOptions())

	var session *Session
	ready := make(chan struct{})
	callbacks := domain.TrackCallbacks{
		OnProgress: func(domain.StageFlags) {
			<-ready
			session.Cancel()
		},
	}
	session, err := tracker.Track(context.Background(), "abc123", callbacks)
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	close(ready)
	waitDone(t, session)

	if session.State() != domain.SessionCancelled {
		t.Fatalf("expected cancelled state, got %s", session.State())
	}
}

func TestTrackerReplacesSessionForSameRequest(t *testing.T) {
	backend := &backendFake{listings: pendingListing(t)}
	tracker := NewTracker(backend, nil, nil, fastOptions())
	first := newCallbackRecorder()
	second := newCallbackRecorder()

	firstSession, err := tracker.Track(context.Background(), "abc123", first.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	first.waitProgress(t)

	secondSession, err := tracker.Track(context.Background(), "abc123", second.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if firstSession.State() != domain.SessionCancelled {
		t.Fatalf("expected first session cancelled, got %s", firstSession.State())
	}
	firstCount, _, _ := first.counts()

	second.waitProgress(t)
	second.waitProgress(t)

	if got, _, _ := first.counts(); got != firstCount {
		t.Fatalf("replaced session kept reporting: %d -> %d", firstCount, got)
	}
	if current, ok := tracker.Session("abc123"); !ok || current != secondSession {
		t.Fatalf("expected the second session to be registered")
	}

	if err := tracker.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.maxInFlight != 1 {
		t.Fatalf("expected no overlapping queries, got %d in flight", backend.maxInFlight)
	}
}

func TestTrackerTimesOut(t *testing.T) {
	backend := &backendFake{listings: pendingListing(t)}
	options := fastOptions()
	options.MaxWait = 40 * time.Millisecond
	tracker := NewTracker(backend, nil, nil, options)
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	_, completed, errs := recorder.counts()
	if completed != 0 || errs != 1 {
		t.Fatalf("expected one error and no completion, got completed=%d errors=%d", completed, errs)
	}
	if !errors.Is(session.Err(), domain.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", session.Err())
	}
	if session.State() != domain.SessionFailed {
		t.Fatalf("expected failed state, got %s", session.State())
	}
}

func TestTrackerFailsOnStageRegression(t *testing.T) {
	backend := &backendFake{listings: []listingStep{
		{reports: []domain.TaskReport{taskReport(t, `{"request_id":"abc123","detection":{},"final_report":{"deep_search":{"q":1}}}`)}},
		{reports: []domain.TaskReport{taskReport(t, `{"request_id":"abc123","detection":{}}`)}},
	}}
	tracker := NewTracker(backend, nil, nil, fastOptions())
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	if !errors.Is(session.Err(), domain.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", session.Err())
	}
	progress, _, errs := recorder.counts()
	if progress != 1 || errs != 1 {
		t.Fatalf("expected one progress and one error, got progress=%d errors=%d", progress, errs)
	}
}

func TestTrackerFailsOnceOnQueryError(t *testing.T) {
	backend := &backendFake{listings: []listingStep{{err: domain.WrapError(domain.ErrTemporary, "list reports", errors.New("502"))}}}
	tracker := NewTracker(backend, nil, nil, fastOptions())
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)
	time.Sleep(20 * time.Millisecond)

	_, _, errs := recorder.counts()
	if errs != 1 {
		t.Fatalf("expected OnError once, got %d", errs)
	}
	if !errors.Is(session.Err(), domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", session.Err())
	}
	if backend.calls() != 1 {
		t.Fatalf("expected polling to stop after failure, got %d queries", backend.calls())
	}
}

func TestTrackerRejectsInvalidFinalReport(t *testing.T) {
	backend := &backendFake{listings: []listingStep{{reports: []domain.TaskReport{
		taskReport(t, `{"request_id":"abc123","status":"complete","final_report":{"title":"x"}}`),
	}}}}
	options := fastOptions()
	options.Validator = validatorFake{err: domain.WrapError(domain.ErrProtocol, "validate", errors.New("bad shape"))}
	tracker := NewTracker(backend, nil, nil, options)
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	if _, completed, _ := recorder.counts(); completed != 0 {
		t.Fatalf("invalid report must not complete")
	}
	if !errors.Is(session.Err(), domain.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", session.Err())
	}
}

func TestTrackerFansOutToSinks(t *testing.T) {
	backend := &backendFake{listings: []listingStep{{reports: []domain.TaskReport{
		taskReport(t, `{"request_id":"abc123","status":"complete"}`),
	}}}}
	publisher := &publisherFake{}
	archive := &archiveFake{err: errors.New("db down")}
	observer := &observerFake{}
	dispatcher := NewCompletionDispatcher(DispatcherOptions{Publisher: publisher, Archive: archive, Observer: observer})
	tracker := NewTracker(backend, nil, dispatcher, fastOptions())
	recorder := newCallbackRecorder()

	session, err := tracker.Track(context.Background(), "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	waitDone(t, session)

	if _, completed, _ := recorder.counts(); completed != 1 {
		t.Fatalf("expected one completion, got %d", completed)
	}
	if len(publisher.published) != 1 || publisher.published[0].RequestID != "abc123" {
		t.Fatalf("expected published payload, got %+v", publisher.published)
	}
	if len(observer.sinkFailures) != 1 || observer.sinkFailures[0] != "archive" {
		t.Fatalf("expected archive failure to be counted, got %v", observer.sinkFailures)
	}
	if session.State() != domain.SessionCompleted {
		t.Fatalf("sink failure must not change state, got %s", session.State())
	}
}

func TestTrackerParentContextCancelsSession(t *testing.T) {
	backend := &backendFake{listings: pendingListing(t)}
	tracker := NewTracker(backend, nil, nil, fastOptions())
	recorder := newCallbackRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	session, err := tracker.Track(ctx, "abc123", recorder.callbacks())
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	recorder.waitProgress(t)
	cancel()
	waitDone(t, session)

	if session.State() != domain.SessionCancelled {
		t.Fatalf("expected cancelled state, got %s", session.State())
	}
}

func TestTrackRejectsEmptyRequestID(t *testing.T) {
	tracker := NewTracker(&backendFake{}, nil, nil, fastOptions())
	if _, err := tracker.Track(context.Background(), " ", domain.TrackCallbacks{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCompletionDeliversOnce(t *testing.T) {
	calls := 0
	completion := NewCompletionDispatcher(DispatcherOptions{}).Bind(func(domain.CompletionPayload) { calls++ })
	payload := completion.Payload(domain.TaskReport{RequestID: "abc123", ImageURL: "u"})

	if !completion.Deliver(payload) {
		t.Fatalf("first delivery must fire")
	}
	if completion.Deliver(payload) {
		t.Fatalf("second delivery must not fire")
	}
	if calls != 1 {
		t.Fatalf("expected one continuation call, got %d", calls)
	}
	if payload.RequestID != "abc123" || payload.ImageURL != "u" || payload.CompletedAt.IsZero() {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
