package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

// WorkflowUseCase composes upload, tracking, history and report actions for the gateway.
type WorkflowUseCase struct {
	submitter *SubmitImageUseCase
	tracker   *Tracker
	history   *HistoryCache
	actions   *ReportActionsUseCase
}

func NewWorkflowUseCase(
	submitter *SubmitImageUseCase,
	tracker *Tracker,
	history *HistoryCache,
	actions *ReportActionsUseCase,
) *WorkflowUseCase {
	return &WorkflowUseCase{
		submitter: submitter,
		tracker:   tracker,
		history:   history,
		actions:   actions,
	}
}

// SubmitAndTrack uploads the image and starts a session for the returned request id.
// The session lives as long as ctx.
func (uc *WorkflowUseCase) SubmitAndTrack(ctx context.Context, req domain.UploadRequest) (string, error) {
	requestID, err := uc.submitter.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	if _, err := uc.tracker.Track(ctx, requestID, domain.TrackCallbacks{}); err != nil {
		return "", fmt.Errorf("track %s: %w", requestID, err)
	}
	return requestID, nil
}

func (uc *WorkflowUseCase) SessionStatus(requestID string) (domain.SessionStatus, error) {
	session, ok := uc.tracker.Session(requestID)
	if !ok {
		return domain.SessionStatus{}, domain.WrapError(domain.ErrNotFound, "session status", fmt.Errorf("no session for %q", requestID))
	}
	return session.Status(), nil
}

func (uc *WorkflowUseCase) CancelSession(requestID string) bool {
	return uc.tracker.Cancel(requestID)
}

func (uc *WorkflowUseCase) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	return uc.history.Refresh(ctx)
}

func (uc *WorkflowUseCase) DeleteReport(ctx context.Context, requestID string) error {
	return uc.actions.Delete(ctx, requestID)
}

func (uc *WorkflowUseCase) ReportPDF(ctx context.Context, requestID string) ([]byte, error) {
	return uc.actions.FetchPDF(ctx, requestID)
}
