package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
)

const DefaultMaxImageBytes = 5 << 20

type SubmitOptions struct {
	// RequireAuth rejects uploads when no credential can be resolved.
	RequireAuth   bool
	MaxImageBytes int
}

type SubmitImageUseCase struct {
	backend     ports.ReportBackend
	credentials ports.CredentialProvider
	observer    ports.WorkflowObserver
	options     SubmitOptions
}

func NewSubmitImageUseCase(
	backend ports.ReportBackend,
	credentials ports.CredentialProvider,
	observer ports.WorkflowObserver,
	options SubmitOptions,
) *SubmitImageUseCase {
	if options.MaxImageBytes <= 0 {
		options.MaxImageBytes = DefaultMaxImageBytes
	}
	return &SubmitImageUseCase{
		backend:     backend,
		credentials: credentials,
		observer:    observerOrNop(observer),
		options:     options,
	}
}

// Submit uploads one image and returns the backend's request id. It never retries.
func (uc *SubmitImageUseCase) Submit(ctx context.Context, req domain.UploadRequest) (string, error) {
	if err := uc.validate(req); err != nil {
		uc.observer.ObserveUpload("invalid", 0)
		return "", err
	}

	if strings.TrimSpace(req.Credential) == "" && uc.credentials != nil {
		token, err := uc.credentials.Credential(ctx)
		if err != nil {
			return "", domain.WrapError(domain.ErrUnauthorized, "resolve credential", err)
		}
		req.Credential = token
	}
	if uc.options.RequireAuth && strings.TrimSpace(req.Credential) == "" {
		uc.observer.ObserveUpload("unauthorized", 0)
		return "", domain.WrapError(domain.ErrUnauthorized, "submit image", fmt.Errorf("no credential available"))
	}
	if strings.TrimSpace(req.FileName) == "" {
		req.FileName = defaultFileName(req.MimeType)
	}

	started := time.Now()
	requestID, err := uc.backend.UploadImage(ctx, req)
	uc.observer.ObserveUpload(outcomeOf(err), time.Since(started))
	if err != nil {
		return "", err
	}
	return requestID, nil
}

func (uc *SubmitImageUseCase) validate(req domain.UploadRequest) error {
	switch {
	case len(req.Image) == 0:
		return domain.WrapError(domain.ErrInvalidInput, "submit image", fmt.Errorf("image is empty"))
	case !strings.HasPrefix(strings.ToLower(strings.TrimSpace(req.MimeType)), "image/"):
		return domain.WrapError(domain.ErrInvalidInput, "submit image", fmt.Errorf("mime type %q is not an image", req.MimeType))
	case len(req.Image) > uc.options.MaxImageBytes:
		return domain.WrapError(domain.ErrInvalidInput, "submit image",
			fmt.Errorf("image is %d bytes, limit is %d", len(req.Image), uc.options.MaxImageBytes))
	}
	return nil
}

func defaultFileName(mimeType string) string {
	subtype := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
	switch subtype {
	case "jpeg", "jpg", "":
		return "upload.jpg"
	default:
		return "upload." + subtype
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "unauthorized"
	case domain.IsKind(err, domain.ErrNetwork):
		return "network_error"
	case domain.IsKind(err, domain.ErrProtocol):
		return "protocol_error"
	case domain.IsKind(err, domain.ErrTimeout):
		return "timeout"
	default:
		if _, ok := domain.StatusCode(err); ok {
			return "server_error"
		}
		return "error"
	}
}
