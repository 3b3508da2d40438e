package ports

import (
	"context"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

// ImageSubmitter is the inbound contract for image uploads.
type ImageSubmitter interface {
	Submit(ctx context.Context, req domain.UploadRequest) (string, error)
}

// HistoryReader is the inbound read model for report history.
type HistoryReader interface {
	Refresh(ctx context.Context) ([]domain.HistoryEntry, error)
	Entries() []domain.HistoryEntry
}

// WorkflowService is the inbound contract used by the gateway.
type WorkflowService interface {
	SubmitAndTrack(ctx context.Context, req domain.UploadRequest) (string, error)
	SessionStatus(requestID string) (domain.SessionStatus, error)
	CancelSession(requestID string) bool
	History(ctx context.Context) ([]domain.HistoryEntry, error)
	DeleteReport(ctx context.Context, requestID string) error
	ReportPDF(ctx context.Context, requestID string) ([]byte, error)
}
