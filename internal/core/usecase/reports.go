package usecase

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
)

type ReportActionsUseCase struct {
	backend     ports.ReportBackend
	credentials ports.CredentialProvider
	history     *HistoryCache
	storage     ports.ObjectStorage
	inspector   ports.PDFInspector
}

func NewReportActionsUseCase(
	backend ports.ReportBackend,
	credentials ports.CredentialProvider,
	history *HistoryCache,
	storage ports.ObjectStorage,
	inspector ports.PDFInspector,
) *ReportActionsUseCase {
	return &ReportActionsUseCase{
		backend:     backend,
		credentials: credentials,
		history:     history,
		storage:     storage,
		inspector:   inspector,
	}
}

// Delete removes the report on the backend and then from the history cache. It is not retried.
func (uc *ReportActionsUseCase) Delete(ctx context.Context, requestID string) error {
	requestID, err := requireRequestID(requestID, "delete report")
	if err != nil {
		return err
	}
	credential, err := requireCredential(ctx, uc.credentials, "delete report")
	if err != nil {
		return err
	}
	if err := uc.backend.DeleteReport(ctx, credential, requestID); err != nil {
		return err
	}
	if uc.history != nil {
		uc.history.Remove(requestID)
	}
	return nil
}

// FetchPDF downloads the rendered report and checks that it is a readable PDF.
func (uc *ReportActionsUseCase) FetchPDF(ctx context.Context, requestID string) ([]byte, error) {
	requestID, err := requireRequestID(requestID, "fetch report pdf")
	if err != nil {
		return nil, err
	}
	credential, err := requireCredential(ctx, uc.credentials, "fetch report pdf")
	if err != nil {
		return nil, err
	}
	data, err := uc.backend.FetchReportPDF(ctx, credential, requestID)
	if err != nil {
		return nil, err
	}
	if uc.inspector != nil {
		pages, err := uc.inspector.PageCount(data)
		if err != nil {
			return nil, domain.WrapError(domain.ErrProtocol, "fetch report pdf", err)
		}
		if pages < 1 {
			return nil, domain.WrapError(domain.ErrProtocol, "fetch report pdf", fmt.Errorf("pdf has no pages"))
		}
	}
	return data, nil
}

// DownloadPDF fetches the report PDF and stores it as "<requestID>.pdf". It returns the storage key.
func (uc *ReportActionsUseCase) DownloadPDF(ctx context.Context, requestID string) (string, error) {
	if uc.storage == nil {
		return "", fmt.Errorf("object storage is not configured")
	}
	data, err := uc.FetchPDF(ctx, requestID)
	if err != nil {
		return "", err
	}
	key := sanitizeKey(strings.TrimSpace(requestID)) + ".pdf"
	if err := uc.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("save report pdf: %w", err)
	}
	return key, nil
}

func requireRequestID(requestID, operation string) (string, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, operation, fmt.Errorf("request id is empty"))
	}
	return requestID, nil
}

func sanitizeKey(name string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if key == "" {
		return "report"
	}
	return key
}
