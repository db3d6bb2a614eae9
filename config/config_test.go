package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docchat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  generate_url: http://localhost:8080/generate
  turn_timeout: 2m
limits:
  max_query_runes: 500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.GenerateURL != "http://localhost:8080/generate" {
		t.Fatalf("generate_url not applied: %q", cfg.Endpoint.GenerateURL)
	}
	if cfg.Endpoint.TurnTimeout != 2*time.Minute {
		t.Fatalf("turn_timeout not applied: %v", cfg.Endpoint.TurnTimeout)
	}
	if cfg.Limits.MaxQueryRunes != 500 {
		t.Fatalf("max_query_runes not applied: %d", cfg.Limits.MaxQueryRunes)
	}
	// Untouched values keep their defaults.
	if cfg.Endpoint.FirstByteTimeout != 30*time.Second {
		t.Fatalf("default first_byte_timeout lost: %v", cfg.Endpoint.FirstByteTimeout)
	}
	if cfg.Limits.MaxTitleRunes != 200 {
		t.Fatalf("default max_title_runes lost: %d", cfg.Limits.MaxTitleRunes)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  generate_url: http://from-file/generate
`)
	t.Setenv("DOCCHAT_GENERATE_URL", "http://from-env/generate")
	t.Setenv("DOCCHAT_TURN_TIMEOUT", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.GenerateURL != "http://from-env/generate" {
		t.Fatalf("env override lost: %q", cfg.Endpoint.GenerateURL)
	}
	if cfg.Endpoint.TurnTimeout != 90*time.Second {
		t.Fatalf("env duration override lost: %v", cfg.Endpoint.TurnTimeout)
	}
}

func TestValidateRejectsMissingEndpoint(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("config without generate_url validated")
	}
	cfg.Endpoint.GenerateURL = "http://localhost/generate"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.GenerateURL = "http://localhost/generate"
	cfg.Limits.MaxQueryRunes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero query limit validated")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing explicit config path should fail")
	}
}
