package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/resilience"
)

const (
	defaultUploadPath  = "/api/upload"
	defaultHistoryPath = "/reports"
	defaultUploadField = "file"
	maxPDFBytes        = 32 << 20
)

type Options struct {
	UploadPath  string
	HistoryPath string
	UploadField string
	Timeout     time.Duration

	// RateLimit caps outbound requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int

	ResilienceExecutor *resilience.Executor
	HTTPClient         *http.Client
}

// Client talks to the report processing backend.
type Client struct {
	baseURL     string
	uploadPath  string
	historyPath string
	uploadField string
	httpClient  *http.Client
	limiter     *rate.Limiter
	executor    *resilience.Executor
}

func New(baseURL string) *Client {
	return NewWithOptions(baseURL, Options{})
}

func NewWithOptions(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if options.RateLimit > 0 {
		burst := options.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RateLimit), burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		uploadPath:  normalizePath(options.UploadPath, defaultUploadPath),
		historyPath: normalizePath(options.HistoryPath, defaultHistoryPath),
		uploadField: firstNonEmpty(options.UploadField, defaultUploadField),
		httpClient:  httpClient,
		limiter:     limiter,
		executor:    options.ResilienceExecutor,
	}
}

// UploadImage sends exactly one multipart request. Failures are never retried here.
func (c *Client) UploadImage(ctx context.Context, upload domain.UploadRequest) (string, error) {
	const operation = "upload"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.uploadField, upload.FileName))
	header.Set("Content-Type", upload.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create %s form part: %w", operation, err)
	}
	if _, err := part.Write(upload.Image); err != nil {
		return "", fmt.Errorf("write %s form part: %w", operation, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close %s form: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.uploadPath, &body)
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var response struct {
		RequestID string `json:"request_id"`
	}
	if err := c.doJSON(req, upload.Credential, operation, &response); err != nil {
		return "", err
	}
	requestID := strings.TrimSpace(response.RequestID)
	if requestID == "" {
		return "", domain.WrapError(domain.ErrProtocol, operation, fmt.Errorf("response has no request_id"))
	}
	return requestID, nil
}

// ListReports fetches every report visible to the credential, retrying transient failures.
func (c *Client) ListReports(ctx context.Context, credential string) ([]domain.TaskReport, error) {
	const operation = "list_reports"

	var reports []domain.TaskReport
	call := func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+c.historyPath, nil)
		if err != nil {
			return fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Accept", "application/json")

		raw, err := c.doRaw(req, credential, operation, 0)
		if err != nil {
			return err
		}
		decoded, err := decodeReportList(raw)
		if err != nil {
			return domain.WrapError(domain.ErrProtocol, operation, err)
		}
		reports = decoded
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "backend."+operation, call, classifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded(operation, err)
	}
	return reports, nil
}

func (c *Client) DeleteReport(ctx context.Context, credential, requestID string) error {
	const operation = "delete_report"

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/report/"+url.PathEscape(requestID), nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	_, err = c.doRaw(req, credential, operation, 0)
	return err
}

// FetchReportPDF downloads the rendered report with GET /report-pdf/{id}.
func (c *Client) FetchReportPDF(ctx context.Context, credential, requestID string) ([]byte, error) {
	const operation = "fetch_report_pdf"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/report-pdf/"+url.PathEscape(requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/pdf")
	return c.doRaw(req, credential, operation, maxPDFBytes)
}

func (c *Client) doJSON(req *http.Request, credential, operation string, out any) error {
	raw, err := c.doRaw(req, credential, operation, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.WrapError(domain.ErrProtocol, operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func normalizePath(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
