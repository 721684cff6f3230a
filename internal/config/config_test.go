package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("CLASSIFIER_URL", "http://classifier:8000/predict")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.MaxUploadSize != DefaultMaxUploadSize {
		t.Errorf("expected default upload size, got %d", cfg.MaxUploadSize)
	}
	if cfg.ClassifierTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.ClassifierTimeout)
	}
	if cfg.BenignLabel != "Benign" {
		t.Errorf("expected Benign label, got %q", cfg.BenignLabel)
	}
	if cfg.Theme != DefaultTheme() {
		t.Errorf("expected default theme, got %+v", cfg.Theme)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("CLASSIFIER_URL", "https://api.example.com/predict")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("THEME_PRIMARY", "#123456")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("expected 5m session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.Theme.Primary != "#123456" {
		t.Errorf("expected themed primary, got %q", cfg.Theme.Primary)
	}
	if cfg.Theme.Failure != DefaultTheme().Failure {
		t.Errorf("expected untouched failure token, got %q", cfg.Theme.Failure)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("expected redis addr, got %q", cfg.RedisAddr)
	}
}

func TestLoadAcceptsLegacyEndpointVariable(t *testing.T) {
	t.Setenv("CLASSIFIER_URL", "")
	t.Setenv("REACT_APP_API_URL", "http://localhost:8000/predict")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.ClassifierURL != "http://localhost:8000/predict" {
		t.Fatalf("unexpected classifier url %q", cfg.ClassifierURL)
	}
}

func TestLoadRequiresClassifierURL(t *testing.T) {
	t.Setenv("CLASSIFIER_URL", "")
	t.Setenv("REACT_APP_API_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when endpoint is missing")
	}
}

func TestValidateRejectsRelativeURL(t *testing.T) {
	cfg := &Config{
		ClassifierURL:     "/predict",
		ClassifierTimeout: time.Second,
		MaxUploadSize:     1,
		SessionTTL:        time.Minute,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected relative URL to be rejected")
	}
}
