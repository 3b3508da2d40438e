package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
	"github.com/kirillkom/safety-report-tracker/internal/core/ports"
)

// HistoryCache is the volatile list of the user's reports, newest first.
type HistoryCache struct {
	backend     ports.ReportBackend
	credentials ports.CredentialProvider
	exporter    ports.HistoryExporter
	observer    ports.WorkflowObserver
	logger      *slog.Logger

	mu          sync.RWMutex
	entries     []domain.HistoryEntry
	refreshedAt time.Time
}

type HistoryOption func(*HistoryCache)

func WithHistoryLogger(logger *slog.Logger) HistoryOption {
	return func(c *HistoryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHistoryObserver(observer ports.WorkflowObserver) HistoryOption {
	return func(c *HistoryCache) {
		c.observer = observerOrNop(observer)
	}
}

func NewHistoryCache(
	backend ports.ReportBackend,
	credentials ports.CredentialProvider,
	exporter ports.HistoryExporter,
	opts ...HistoryOption,
) *HistoryCache {
	c := &HistoryCache{
		backend:     backend,
		credentials: credentials,
		exporter:    exporter,
		observer:    nopObserver{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh replaces the cached list with the backend's. On error the previous list is kept.
// Entries the backend returned in an undecodable shape are skipped.
func (c *HistoryCache) Refresh(ctx context.Context) ([]domain.HistoryEntry, error) {
	credential, err := requireCredential(ctx, c.credentials, "refresh history")
	if err != nil {
		return nil, err
	}

	reports, err := c.backend.ListReports(ctx, credential)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.HistoryEntry, 0, len(reports))
	for _, report := range reports {
		if report.DecodeErr != nil {
			c.observer.ObserveMalformedReport("history")
			c.logger.Warn("history_entry_skipped", "request_id", report.RequestID, "error", report.DecodeErr)
			continue
		}
		entries = append(entries, report)
	}
	sortNewestFirst(entries)

	c.mu.Lock()
	c.entries = entries
	c.refreshedAt = time.Now().UTC()
	c.mu.Unlock()

	return slices.Clone(entries), nil
}

func (c *HistoryCache) Entries() []domain.HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

func (c *HistoryCache) Get(requestID string) (domain.HistoryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entry := range c.entries {
		if entry.RequestID == requestID {
			return entry, true
		}
	}
	return domain.HistoryEntry{}, false
}

// Remove drops requestID from the cache and reports whether it was present.
func (c *HistoryCache) Remove(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.entries = slices.DeleteFunc(c.entries, func(entry domain.HistoryEntry) bool {
		return entry.RequestID == requestID
	})
	return len(c.entries) != before
}

func (c *HistoryCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// Export writes the cached entries with the configured exporter.
func (c *HistoryCache) Export(w io.Writer) error {
	if c.exporter == nil {
		return fmt.Errorf("history exporter is not configured")
	}
	if err := c.exporter.Export(w, c.Entries()); err != nil {
		return fmt.Errorf("export history: %w", err)
	}
	return nil
}

// sortNewestFirst orders by CreatedAt descending; equal timestamps keep backend order.
func sortNewestFirst(entries []domain.HistoryEntry) {
	slices.SortStableFunc(entries, func(a, b domain.HistoryEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt.Time)
	})
}

func requireCredential(ctx context.Context, provider ports.CredentialProvider, operation string) (string, error) {
	if provider == nil {
		return "", domain.WrapError(domain.ErrUnauthorized, operation, fmt.Errorf("no credential provider"))
	}
	token, err := provider.Credential(ctx)
	if err != nil {
		return "", domain.WrapError(domain.ErrUnauthorized, operation, err)
	}
	if strings.TrimSpace(token) == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, operation, fmt.Errorf("no credential available"))
	}
	return token, nil
}
