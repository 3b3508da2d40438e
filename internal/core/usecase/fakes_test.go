package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

type listingStep struct {
	reports []domain.TaskReport
	err     error
}

// backendFake serves scripted listings; the last step repeats once the script is exhausted.
type backendFake struct {
	mu sync.Mutex

	uploadID  string
	uploadErr error
	uploads   []domain.UploadRequest

	listings    []listingStep
	listCalls   int
	inFlight    int
	maxInFlight int
	credentials []string

	deleted   []string
	deleteErr error
	pdf       []byte
	pdfErr    error
}

func (f *backendFake) UploadImage(_ context.Context, req domain.UploadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return f.uploadID, nil
}

func (f *backendFake) ListReports(ctx context.Context, credential string) ([]domain.TaskReport, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.credentials = append(f.credentials, credential)
	step := listingStep{}
	if len(f.listings) > 0 {
		idx := min(f.listCalls, len(f.listings)-1)
		step = f.listings[idx]
	}
	f.listCalls++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return step.reports, step.err
}

func (f *backendFake) DeleteReport(_ context.Context, _ string, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, requestID)
	return nil
}

func (f *backendFake) FetchReportPDF(context.Context, string, string) ([]byte, error) {
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return f.pdf, nil
}

func (f *backendFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type staticCredentials string

func (s staticCredentials) Credential(context.Context) (string, error) {
	return string(s), nil
}

type failingCredentials struct{}

func (failingCredentials) Credential(context.Context) (string, error) {
	return "", errors.New("token store locked")
}

type observerFake struct {
	mu           sync.Mutex
	uploads      []string
	polls        []string
	started      int
	finished     []domain.SessionState
	sinkFailures []string
	malformed    []string
}

func (o *observerFake) ObserveUpload(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads = append(o.uploads, outcome)
}

func (o *observerFake) ObservePoll(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls = append(o.polls, outcome)
}

func (o *observerFake) SessionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerFake) SessionFinished(state domain.SessionState, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, state)
}

func (o *observerFake) ObserveSinkFailure(sink string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinkFailures = append(o.sinkFailures, sink)
}

func (o *observerFake) ObserveMalformedReport(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.malformed = append(o.malformed, source)
}

type publisherFake struct {
	mu        sync.Mutex
	published []domain.CompletionPayload
	err       error
}

func (p *publisherFake) PublishReportCompleted(_ context.Context, payload domain.CompletionPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, payload)
	return nil
}

type archiveFake struct {
	mu    sync.Mutex
	saved []domain.CompletionPayload
	err   error
}

func (a *archiveFake) SaveCompleted(_ context.Context, payload domain.CompletionPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.saved = append(a.saved, payload)
	return nil
}

func (a *archiveFake) ListCompleted(context.Context, int) ([]domain.CompletionPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.CompletionPayload(nil), a.saved...), nil
}

type storageFake struct {
	saved map[string][]byte
	err   error
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if s.err != nil {
		return s.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[key] = raw
	return nil
}

func (s *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type inspectorFake struct {
	pages int
	err   error
}

func (i inspectorFake) PageCount([]byte) (int, error) {
	return i.pages, i.err
}

type validatorFake struct {
	err error
}

func (v validatorFake) ValidateFinalReport(*domain.FinalReport) error {
	return v.err
}

type exporterFake struct {
	entries []domain.HistoryEntry
}

func (e *exporterFake) Export(w io.Writer, entries []domain.HistoryEntry) error {
	e.entries = entries
	_, err := w.Write([]byte("xlsx"))
	return err
}

func taskReport(t *testing.T, raw string) domain.TaskReport {
	t.Helper()
	var r domain.TaskReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return r
}

func waitDone(t *testing.T, session *Session) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish, state=%s", session.RequestID(), session.State())
	}
}
