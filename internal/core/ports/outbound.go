package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

// ReportBackend is the processing backend's REST surface.
type ReportBackend interface {
	UploadImage(ctx context.Context, req domain.UploadRequest) (string, error)
	ListReports(ctx context.Context, credential string) ([]domain.TaskReport, error)
	DeleteReport(ctx context.Context, credential, requestID string) error
	FetchReportPDF(ctx context.Context, credential, requestID string) ([]byte, error)
}

// CredentialProvider resolves the bearer token for the current call. An empty token means none is available.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// ReportValidator checks a final report against the expected document shape.
type ReportValidator interface {
	ValidateFinalReport(report *domain.FinalReport) error
}

// CompletionPublisher announces finished reports to other processes.
type CompletionPublisher interface {
	PublishReportCompleted(ctx context.Context, payload domain.CompletionPayload) error
}

// ReportArchive durably stores finished reports.
type ReportArchive interface {
	SaveCompleted(ctx context.Context, payload domain.CompletionPayload) error
	ListCompleted(ctx context.Context, limit int) ([]domain.CompletionPayload, error)
}

// ObjectStorage stores downloaded report documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PDFInspector verifies that a payload is a readable PDF document.
type PDFInspector interface {
	PageCount(data []byte) (int, error)
}

// HistoryExporter renders history entries into a document.
type HistoryExporter interface {
	Export(w io.Writer, entries []domain.HistoryEntry) error
}

// WorkflowObserver receives workflow measurements.
type WorkflowObserver interface {
	ObserveUpload(outcome string, duration time.Duration)
	ObservePoll(outcome string)
	SessionStarted()
	SessionFinished(state domain.SessionState, duration time.Duration)
	ObserveSinkFailure(sink string)
	ObserveMalformedReport(source string)
}
