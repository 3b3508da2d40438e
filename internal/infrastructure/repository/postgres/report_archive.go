package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

const defaultListLimit = 50

// ReportArchive keeps completed reports in the completed_reports table.
type ReportArchive struct {
	db *sql.DB
}

func NewReportArchive(db *sql.DB) *ReportArchive {
	return &ReportArchive{db: db}
}

func (r *ReportArchive) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across archiver replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2025030401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS completed_reports (
	request_id TEXT PRIMARY KEY,
	image_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	report JSONB NOT NULL,
	created_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_completed_reports_completed_at ON completed_reports(completed_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveCompleted upserts payload; a redelivered event overwrites the earlier row.
func (r *ReportArchive) SaveCompleted(ctx context.Context, payload domain.CompletionPayload) error {
	report, err := json.Marshal(payload.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO completed_reports (request_id, image_url, status, report, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (request_id) DO UPDATE
SET image_url = EXCLUDED.image_url,
	status = EXCLUDED.status,
	report = EXCLUDED.report,
	created_at = EXCLUDED.created_at,
	completed_at = EXCLUDED.completed_at
`, payload.RequestID, payload.ImageURL, string(payload.Report.Status), report, nullableTime(payload.Report.CreatedAt.Time), payload.CompletedAt)
	if err != nil {
		return fmt.Errorf("save completed report: %w", err)
	}
	return nil
}

func (r *ReportArchive) ListCompleted(ctx context.Context, limit int) ([]domain.CompletionPayload, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT request_id, image_url, report, completed_at
FROM completed_reports
ORDER BY completed_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed reports: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CompletionPayload, 0)
	for rows.Next() {
		var (
			payload domain.CompletionPayload
			raw     []byte
		)
		if err := rows.Scan(&payload.RequestID, &payload.ImageURL, &raw, &payload.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan completed report: %w", err)
		}
		if err := json.Unmarshal(raw, &payload.Report); err != nil {
			return nil, fmt.Errorf("decode completed report %s: %w", payload.RequestID, err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed reports: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
