package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("expected empty database URL (memory store), got %q", cfg.DatabaseURL)
	}
	if cfg.LLMProvider != "static" {
		t.Errorf("expected default provider static, got %q", cfg.LLMProvider)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("expected 15m access TTL, got %s", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 168*time.Hour {
		t.Errorf("expected 168h refresh TTL, got %s", cfg.RefreshTokenTTL)
	}
	if cfg.IdempotencyTTL != time.Hour {
		t.Errorf("expected 1h idempotency TTL, got %s", cfg.IdempotencyTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TAZUNA_PORT", "9090")
	t.Setenv("TAZUNA_REQUEST_TIMEOUT", "10s")
	t.Setenv("TAZUNA_ADAPTATION_ARBITRATED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("expected 10s request timeout, got %s", cfg.RequestTimeout)
	}
	if !cfg.ArbitratedAdaptation {
		t.Error("expected arbitrated adaptation enabled")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	t.Setenv("TAZUNA_LLM_PROVIDER", "mystery")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown LLM provider")
	}
}

func TestValidateRequiresOpenAIKey(t *testing.T) {
	t.Setenv("TAZUNA_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when provider is openai without an API key")
	}
}

func TestValidateRequiresKeyPairTogether(t *testing.T) {
	t.Setenv("TAZUNA_JWT_PRIVATE_KEY", "/tmp/priv.pem")
	t.Setenv("TAZUNA_JWT_PUBLIC_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when only one JWT key path is set")
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Errorf("expected fallback 7, got %d", v)
	}
	t.Setenv("TEST_DUR_BAD", "soon")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Errorf("expected fallback 1m, got %s", v)
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if v := envBool("TEST_BOOL_BAD", true); !v {
		t.Error("expected fallback true")
	}
}
