package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
	"github.com/kirillkom/safety-report-tracker/internal/infrastructure/auth"
	"github.com/kirillkom/safety-report-tracker/internal/observability/metrics"
)

const (
	defaultMaxImageBytes = 5 << 20
	multipartOverhead    = 1 << 20
)

type RouterOptions struct {
	Service       string
	UploadField   string
	MaxImageBytes int64

	// RateLimit is requests per second across the process; zero disables it.
	RateLimit float64
	RateBurst int

	MaxInFlight  int
	QueueTimeout time.Duration

	Metrics *metrics.HTTPServerMetrics
	Logger  *slog.Logger
}

type Router struct {
	workflow ports.WorkflowService
	options  RouterOptions
	logger   *slog.Logger
}

func NewRouter(workflow ports.WorkflowService, options RouterOptions) *Router {
	if options.Service == "" {
		options.Service = "gateway"
	}
	if strings.TrimSpace(options.UploadField) == "" {
		options.UploadField = "file"
	}
	if options.MaxImageBytes <= 0 {
		options.MaxImageBytes = defaultMaxImageBytes
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		workflow: workflow,
		options:  options,
		logger:   logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/uploads", rt.upload)
	mux.HandleFunc("GET /v1/sessions/{id}", rt.sessionStatus)
	mux.HandleFunc("DELETE /v1/sessions/{id}", rt.cancelSession)
	mux.HandleFunc("GET /v1/history", rt.history)
	mux.HandleFunc("DELETE /v1/reports/{id}", rt.deleteReport)
	mux.HandleFunc("GET /v1/reports/{id}/pdf", rt.reportPDF)

	var handler http.Handler = mux
	handler = credentialMiddleware(handler)
	handler = backpressureMiddleware(handler, rt.options.MaxInFlight, rt.options.QueueTimeout)
	handler = rateLimitMiddleware(handler, rt.options.RateLimit, rt.options.RateBurst, rt.onRateLimited)
	if rt.options.Metrics != nil {
		handler = rt.options.Metrics.Middleware(rt.options.Service, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onRateLimited(r *http.Request) {
	if rt.options.Metrics != nil {
		rt.options.Metrics.RecordRateLimited(rt.options.Service, r.URL.Path)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.options.MaxImageBytes+multipartOverhead)

	file, fileHeader, err := r.FormFile(rt.options.UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart field '%s' is required", rt.options.UploadField))
		return
	}
	defer file.Close()

	// One extra byte lets the submitter see an oversized image and reject it.
	image, err := io.ReadAll(io.LimitReader(file, rt.options.MaxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}

	credential, _ := auth.CredentialFromContext(r.Context())
	// The session outlives the request; only request-scoped values are kept.
	requestID, err := rt.workflow.SubmitAndTrack(context.WithoutCancel(r.Context()), domain.UploadRequest{
		Image:      image,
		FileName:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get("Content-Type"),
		Credential: credential,
	})
	if err != nil {
		rt.writeDomainError(w, r, "upload", err)
		return
	}
	if rt.options.Metrics != nil {
		rt.options.Metrics.RecordUpload(rt.options.Service, len(image))
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}

func (rt *Router) sessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.workflow.SessionStatus(r.PathValue("id"))
	if err != nil {
		rt.writeDomainError(w, r, "session_status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) cancelSession(w http.ResponseWriter, r *http.Request) {
	if !rt.workflow.CancelSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.workflow.History(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, "history", err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": entries})
}

func (rt *Router) deleteReport(w http.ResponseWriter, r *http.Request) {
	if err := rt.workflow.DeleteReport(r.Context(), r.PathValue("id")); err != nil {
		rt.writeDomainError(w, r, "delete_report", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) reportPDF(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := rt.workflow.ReportPDF(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, "report_pdf", err)
		return
	}
	if rt.options.Metrics != nil {
		rt.options.Metrics.RecordPDFServed(rt.options.Service, len(body))
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"operation", operation,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
