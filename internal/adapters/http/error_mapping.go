package httpadapter

import (
	"net/http"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrNetwork), domain.IsKind(err, domain.ErrProtocol):
		return http.StatusBadGateway
	}
	if _, ok := domain.StatusCode(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
