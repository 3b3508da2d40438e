package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusComplete TaskStatus = "complete"
)

// TerminalStatus is the status value the backend sets once the writer stage has produced the final report.
const TerminalStatus = TaskStatusComplete

// TaskReport is a read-only snapshot of one backend task as returned by the listing endpoint.
type TaskReport struct {
	RequestID   string          `json:"request_id"`
	Detection   json.RawMessage `json:"detection,omitempty"`
	Status      TaskStatus      `json:"status,omitempty"`
	FinalReport *FinalReport    `json:"final_report,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   Timestamp       `json:"created_at"`

	// DecodeErr is set when the listing entry could not be decoded; only RequestID is then valid.
	DecodeErr error `json:"-"`
}

func (r TaskReport) IsTerminal() bool {
	return r.Status == TerminalStatus
}

// HistoryEntry is a report as listed in the user's history.
type HistoryEntry = TaskReport

// Timestamp decodes the time formats the backend has been observed to emit:
// RFC 3339, naive ISO-8601 (treated as UTC) and unix seconds.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if raw[0] != '"' {
		secs, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return fmt.Errorf("parse timestamp %s: %w", raw, err)
		}
		whole := int64(secs)
		t.Time = time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return parsed.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}

// hasValue mirrors the backend's loose notion of "present": null, false, 0 and "" are absent,
// any object or array (even empty) is present.
func hasValue(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "false", "0", `""`:
		return false
	default:
		return true
	}
}
