package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Store != "file" {
		t.Errorf("Store = %q, want file", cfg.Store)
	}
	if cfg.Pipeline.HardLimitBytes != 25<<20 {
		t.Errorf("HardLimitBytes = %d, want %d", cfg.Pipeline.HardLimitBytes, 25<<20)
	}
	if cfg.Pipeline.TargetBytes != 24<<20 {
		t.Errorf("TargetBytes = %d, want %d", cfg.Pipeline.TargetBytes, 24<<20)
	}
	if cfg.Pipeline.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.AuthEnabled() {
		t.Error("auth should be disabled when no pin is configured")
	}
	if cfg.HasValidAPI() {
		t.Error("HasValidAPI should be false without an api key")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("STORE", "postgres")
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("PIPELINE_MAX_CONCURRENT", "5")
	t.Setenv("CLEANUP_MAX_AGE_HOURS", "48")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Port)
	}
	if cfg.Store != "postgres" {
		t.Errorf("Store = %q, want postgres", cfg.Store)
	}
	if !cfg.HasValidAPI() {
		t.Error("HasValidAPI should be true with key and base url")
	}
	if cfg.Pipeline.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", cfg.Pipeline.MaxConcurrent)
	}
	if cfg.Cleanup.MaxAgeHours != 48 {
		t.Errorf("MaxAgeHours = %d, want 48", cfg.Cleanup.MaxAgeHours)
	}
}

func TestInvalidStoreRejected(t *testing.T) {
	t.Setenv("STORE", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject an unknown store backend")
	} else if !strings.Contains(strings.ToLower(err.Error()), "store") {
		t.Errorf("error should name the offending key, got %v", err)
	}
}

func TestPinRequiresSecret(t *testing.T) {
	t.Setenv("PIN", "4242")
	if _, err := Load(); err == nil {
		t.Fatal("Load should require a jwt secret when a pin is set")
	}

	t.Setenv("JWT_SECRET", "topsecret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed with pin and secret: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("auth should be enabled when a pin is configured")
	}
}

func TestTargetMustNotExceedHardLimit(t *testing.T) {
	t.Setenv("PIPELINE_TARGET_BYTES", "99999999999")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject target size above the hard limit")
	}
}
