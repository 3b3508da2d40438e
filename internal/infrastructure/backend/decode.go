package backend

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

// decodeReportList accepts both listing shapes the backend has served: a bare array
// and an object wrapping the array under "reports".
func decodeReportList(raw []byte) ([]domain.TaskReport, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty report listing")
	}

	switch trimmed[0] {
	case '[':
		return decodeReportArray(trimmed)
	case '{':
		var envelope struct {
			Reports json.RawMessage `json:"reports"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode report envelope: %w", err)
		}
		if len(envelope.Reports) == 0 {
			return nil, fmt.Errorf("report envelope has no reports field")
		}
		if bytes.Equal(bytes.TrimSpace(envelope.Reports), []byte("null")) {
			return []domain.TaskReport{}, nil
		}
		return decodeReportArray(envelope.Reports)
	default:
		return nil, fmt.Errorf("unexpected report listing starting with %q", trimmed[0])
	}
}

// decodeReportArray decodes each entry on its own so one malformed report does not
// hide the rest of the listing. Entries that fail but still name a request id are
// kept with DecodeErr set; entries without a readable id are dropped.
func decodeReportArray(raw []byte) ([]domain.TaskReport, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode report array: %w", err)
	}

	reports := make([]domain.TaskReport, 0, len(entries))
	for i, entry := range entries {
		var report domain.TaskReport
		err := json.Unmarshal(entry, &report)
		if err == nil {
			reports = append(reports, report)
			continue
		}

		var id struct {
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(entry, &id) != nil || id.RequestID == "" {
			continue
		}
		reports = append(reports, domain.TaskReport{
			RequestID: id.RequestID,
			DecodeErr: fmt.Errorf("decode report %d: %w", i, err),
		})
	}
	return reports, nil
}
