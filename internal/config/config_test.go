package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.StructuredFlushInterval.Std() != 5*time.Second {
		t.Errorf("StructuredFlushInterval = %s, want 5s", cfg.StructuredFlushInterval.Std())
	}
	if cfg.SubscriberBufferSize != 256 {
		t.Errorf("SubscriberBufferSize = %d, want 256", cfg.SubscriberBufferSize)
	}
}

func TestLoadEnvConfigParsesStructuredFlushInterval(t *testing.T) {
	t.Setenv("ROO_STRUCTURED_FLUSH_INTERVAL", "30s")
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	if cfg.StructuredFlushInterval.Std() != 30*time.Second {
		t.Errorf("StructuredFlushInterval = %s, want 30s", cfg.StructuredFlushInterval.Std())
	}
}

func TestLoadEnvConfigRejectsInvalidStructuredFlushInterval(t *testing.T) {
	t.Setenv("ROO_STRUCTURED_FLUSH_INTERVAL", "not-a-duration")
	if _, err := LoadEnvConfig(); err == nil {
		t.Fatal("expected an error for a malformed duration")
	}
}

func TestLoadFileOverlayAppliesStructuredFlushInterval(t *testing.T) {
	base, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "roo.yaml")
	yaml := "structured_flush_interval: 1m\nsubscriber_buffer_size: 64\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write overlay file: %v", err)
	}

	merged, err := LoadFileOverlay(path, base)
	if err != nil {
		t.Fatalf("LoadFileOverlay: %v", err)
	}
	if merged.StructuredFlushInterval.Std() != time.Minute {
		t.Errorf("StructuredFlushInterval = %s, want 1m", merged.StructuredFlushInterval.Std())
	}
	if merged.SubscriberBufferSize != 64 {
		t.Errorf("SubscriberBufferSize = %d, want 64", merged.SubscriberBufferSize)
	}
}

func TestValidateRejectsNonPositiveStructuredFlushInterval(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	cfg.StructuredFlushInterval = Duration(0)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a zero StructuredFlushInterval")
	}
}
