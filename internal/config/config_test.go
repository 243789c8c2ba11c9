package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SUPABASE_BUCKET", "")
	t.Setenv("CONFIDENCE_THRESHOLD", "")
	cfg := Load()
	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("expected default http address, got %q", cfg.HTTPAddress)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
	if cfg.SupabaseBucket != "session-audio" {
		t.Fatalf("expected default bucket, got %q", cfg.SupabaseBucket)
	}
	if cfg.ConfidenceThreshold != 0.55 {
		t.Fatalf("expected default confidence threshold, got %v", cfg.ConfidenceThreshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	cfg := Load()
	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.HTTPAddress)
	}
	if cfg.ConfidenceThreshold != 0.7 {
		t.Fatalf("expected 0.7, got %v", cfg.ConfidenceThreshold)
	}
}

func TestLoad_InvalidThresholdIgnored(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "nope")
	cfg := Load()
	if cfg.ConfidenceThreshold != 0.55 {
		t.Fatalf("expected fallback threshold, got %v", cfg.ConfidenceThreshold)
	}
}
