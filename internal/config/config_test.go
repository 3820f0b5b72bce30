package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port %d", cfg.Server.Port)
	}
	if !cfg.PII.Enabled {
		t.Error("pii disabled by default")
	}
	if cfg.PII.MaxBatchChars != 2000 {
		t.Errorf("max batch chars %d", cfg.PII.MaxBatchChars)
	}
	if cfg.PII.DetectionTimeout != 5*time.Second {
		t.Errorf("detection timeout %v", cfg.PII.DetectionTimeout)
	}
	if cfg.PII.StorageMode != StorageModeDetections {
		t.Errorf("storage mode %q", cfg.PII.StorageMode)
	}
	if len(cfg.PII.EnabledTypes) != 7 {
		t.Errorf("enabled types %v", cfg.PII.EnabledTypes)
	}
	if cfg.Limits.RequestsPerMinute != 20 || cfg.Limits.DailyTokenQuota != 200000 {
		t.Errorf("limits %+v", cfg.Limits)
	}
	if cfg.Context.MaxMessages != 20 {
		t.Errorf("context max messages %d", cfg.Context.MaxMessages)
	}
	if cfg.Address() != "0.0.0.0:8080" {
		t.Errorf("address %q", cfg.Address())
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
pii:
  enabled: false
  storage_mode: tags
limits:
  max_message_chars: 123
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port %d", cfg.Server.Port)
	}
	if cfg.PII.Enabled {
		t.Error("pii still enabled")
	}
	if cfg.PII.StorageMode != StorageModeTags {
		t.Errorf("storage mode %q", cfg.PII.StorageMode)
	}
	if cfg.Limits.MaxMessageChars != 123 {
		t.Errorf("max message chars %d", cfg.Limits.MaxMessageChars)
	}
	// Untouched sections keep defaults
	if cfg.Database.Path != "./data/veilchat.db" {
		t.Errorf("database path %q", cfg.Database.Path)
	}
}

func TestLoad_InvalidStorageMode(t *testing.T) {
	path := writeConfig(t, "pii:\n  storage_mode: relational\n")
	if _, err := Load(path); err == nil {
		t.Error("invalid storage mode accepted")
	}
}
