package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"abc123.pdf":   "application/pdf",
		"history.XLSX": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"blob":         "application/octet-stream",
	}
	for key, want := range cases {
		if got := contentTypeFor(key); got != want {
			t.Fatalf("contentTypeFor(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestMapErrorClassifiesResponses(t *testing.T) {
	missing := mapError("stat object", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})
	if !domain.IsKind(missing, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", missing)
	}
	denied := mapError("put object", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})
	if !domain.IsKind(denied, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", denied)
	}
	other := mapError("put object", errors.New("connection reset"))
	if domain.IsKind(other, domain.ErrNotFound) || domain.IsKind(other, domain.ErrUnauthorized) {
		t.Fatalf("unexpected classification %v", other)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(Options{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
