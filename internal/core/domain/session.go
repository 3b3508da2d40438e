package domain

import "time"

type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionPolling   SessionState = "polling"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
	SessionFailed    SessionState = "failed"
)

func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return true
	default:
		return false
	}
}

// TrackCallbacks receive the events of one polling session. Nil callbacks are skipped.
type TrackCallbacks struct {
	OnProgress func(StageFlags)
	OnComplete func(CompletionPayload)
	OnError    func(error)
}

// CompletionPayload is the finished report merged with its correlation metadata.
type CompletionPayload struct {
	RequestID   string     `json:"request_id"`
	ImageURL    string     `json:"image_url,omitempty"`
	Report      TaskReport `json:"report"`
	CompletedAt time.Time  `json:"completed_at"`
}

func NewCompletionPayload(report TaskReport, completedAt time.Time) CompletionPayload {
	return CompletionPayload{
		RequestID:   report.RequestID,
		ImageURL:    report.ImageURL,
		Report:      report,
		CompletedAt: completedAt.UTC(),
	}
}

// SessionStatus is a point-in-time view of a polling session.
type SessionStatus struct {
	RequestID  string             `json:"request_id"`
	State      SessionState       `json:"state"`
	Progress   StageFlags         `json:"progress"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Result     *CompletionPayload `json:"result,omitempty"`
}
