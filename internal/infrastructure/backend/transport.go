package backend

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

const defaultResponseLimit = 8 << 20

func (c *Client) doRaw(req *http.Request, credential, operation string, limit int64) ([]byte, error) {
	ctx := req.Context()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("backend %s rate limit: %w", operation, err)
		}
	}
	if credential = strings.TrimSpace(credential); credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("backend %s request: %w", operation, ctxErr)
		}
		return nil, domain.WrapError(domain.ErrNetwork, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, formatBackendHTTPError(operation, resp)
	}

	if limit <= 0 {
		limit = defaultResponseLimit
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("backend %s read: %w", operation, ctxErr)
		}
		return nil, domain.WrapError(domain.ErrNetwork, operation, fmt.Errorf("read response: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, domain.WrapError(domain.ErrProtocol, operation, fmt.Errorf("response exceeds %d bytes", limit))
	}
	return body, nil
}

func formatBackendHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	serverErr := &domain.ServerError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, operation, serverErr)
	case http.StatusNotFound:
		return domain.WrapError(domain.ErrNotFound, operation, serverErr)
	default:
		return serverErr
	}
}
