package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrNetwork      = errors.New("network failure")
	ErrProtocol     = errors.New("protocol violation")
	ErrTimeout      = errors.New("timeout")
	ErrTemporary    = errors.New("temporary failure")
)

// ServerError reports a non-success HTTP status returned by the report backend.
type ServerError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *ServerError) Error() string {
	if e == nil {
		return "server error"
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("backend %s status: %s", e.Operation, status)
	}
	return fmt.Sprintf("backend %s status: %s: %s", e.Operation, status, body)
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StatusCode extracts the backend HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode, true
	}
	return 0, false
}
