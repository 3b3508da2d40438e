package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesWorkflowDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("SETTLE_DELAY", "")
	t.Setenv("MAX_WAIT", "")
	t.Setenv("BACKEND_UPLOAD_FIELD", "")
	t.Setenv("MAX_IMAGE_BYTES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected default poll interval 2s, got %s", cfg.PollInterval)
	}
	if cfg.SettleDelay != 800*time.Millisecond {
		t.Fatalf("expected default settle delay 800ms, got %s", cfg.SettleDelay)
	}
	if cfg.MaxWait != 5*time.Minute {
		t.Fatalf("expected default max wait 5m, got %s", cfg.MaxWait)
	}
	if cfg.BackendUploadField != "file" {
		t.Fatalf("expected default upload field file, got %q", cfg.BackendUploadField)
	}
	if cfg.MaxImageBytes != 5<<20 {
		t.Fatalf("expected default image limit 5MiB, got %d", cfg.MaxImageBytes)
	}
}

func TestLoadParsesDurationOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "1500")
	t.Setenv("SETTLE_DELAY", "0")
	t.Setenv("MAX_WAIT", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms poll interval, got %s", cfg.PollInterval)
	}
	if cfg.SettleDelay != 0 {
		t.Fatalf("expected settle delay override to zero, got %s", cfg.SettleDelay)
	}
	if cfg.MaxWait != 90*time.Second {
		t.Fatalf("expected 90s max wait, got %s", cfg.MaxWait)
	}
}

func TestLoadReadsConfigFileBelowEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	content := []byte("backend_base_url: https://reports.example.com\nbackend_history_path: /api/reports\nnats_enabled: true\ngateway_rate_burst: 7\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BACKEND_BASE_URL", "")
	t.Setenv("BACKEND_HISTORY_PATH", "/override")
	t.Setenv("NATS_ENABLED", "")
	t.Setenv("GATEWAY_RATE_BURST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackendBaseURL != "https://reports.example.com" {
		t.Fatalf("expected base url from file, got %q", cfg.BackendBaseURL)
	}
	if cfg.BackendHistoryPath != "/override" {
		t.Fatalf("expected environment to win, got %q", cfg.BackendHistoryPath)
	}
	if !cfg.NATSEnabled || cfg.GatewayRateBurst != 7 {
		t.Fatalf("expected typed values from file, got nats=%v burst=%d", cfg.NATSEnabled, cfg.GatewayRateBurst)
	}
}

func TestLoadRejectsUnknownStorageBackend(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_BACKEND", "tape")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown storage backend")
	}
}

func TestLoadFailsOnMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Config{AuthToken: "secret", MinioSecretKey: "key"}.Redacted()
	if cfg.AuthToken != "***" || cfg.MinioSecretKey != "***" {
		t.Fatalf("expected secrets to be redacted, got %+v", cfg)
	}
}
