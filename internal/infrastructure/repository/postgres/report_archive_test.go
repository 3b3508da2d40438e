package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

func TestReportArchiveSaveCompletedUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	completed := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	payload := domain.CompletionPayload{
		RequestID:   "abc123",
		ImageURL:    "https://cdn/abc123.jpg",
		Report:      domain.TaskReport{RequestID: "abc123", Status: domain.TaskStatusComplete},
		CompletedAt: completed,
	}

	mock.ExpectExec("ON CONFLICT \\(request_id\\) DO UPDATE").
		WithArgs("abc123", "https://cdn/abc123.jpg", "complete", sqlmock.AnyArg(), nil, completed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewReportArchive(db).SaveCompleted(context.Background(), payload); err != nil {
		t.Fatalf("SaveCompleted() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReportArchiveListCompletedDecodesReports(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	completed := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"request_id", "image_url", "report", "completed_at"}).
		AddRow("abc123", "https://cdn/abc123.jpg", []byte(`{"request_id":"abc123","status":"complete","final_report":{"title":"Energy"}}`), completed)

	mock.ExpectQuery("FROM completed_reports").
		WithArgs(int64(defaultListLimit)).
		WillReturnRows(rows)

	payloads, err := NewReportArchive(db).ListCompleted(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListCompleted() error = %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(payloads))
	}
	if payloads[0].Report.FinalReport == nil || payloads[0].Report.FinalReport.Title != "Energy" {
		t.Fatalf("expected decoded final report, got %+v", payloads[0].Report)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReportArchiveEnsureSchemaTakesLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS completed_reports").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := NewReportArchive(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
