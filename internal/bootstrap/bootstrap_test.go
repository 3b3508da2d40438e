package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/config"
)

func TestResilienceConfigCopiesRetryAndBreakerSettings(t *testing.T) {
	got := resilienceConfig(config.Config{
		RetryMaxAttempts:        4,
		RetryInitialBackoff:     10 * time.Millisecond,
		RetryMaxBackoff:         time.Second,
		RetryMultiplier:         3,
		BreakerEnabled:          true,
		BreakerMinRequests:      7,
		BreakerFailureRatio:     0.25,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: -1,
	})
	if got.RetryMaxAttempts != 4 || got.RetryMultiplier != 3 || got.BreakerMinRequests != 7 {
		t.Fatalf("unexpected resilience config %+v", got)
	}
	if got.BreakerHalfOpenMaxCalls != 0 {
		t.Fatalf("expected negative half-open calls to clamp to zero, got %d", got.BreakerHalfOpenMaxCalls)
	}
}

func TestNewWiresWorkflowWithLocalStorage(t *testing.T) {
	cfg := config.Config{
		BackendBaseURL: "http://127.0.0.1:1",
		StorageBackend: "localfs",
		StoragePath:    t.TempDir(),
		PollInterval:   time.Second,
		MaxWait:        time.Minute,
	}

	app, err := New(context.Background(), cfg, Options{Service: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if app.Workflow == nil || app.Tracker == nil || app.History == nil || app.Actions == nil {
		t.Fatalf("expected workflow components to be wired: %+v", app)
	}
	if app.Archive != nil {
		t.Fatalf("expected archive to stay disabled")
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
