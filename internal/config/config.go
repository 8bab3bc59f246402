// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // per-request deadline propagated to handlers

	// Database settings. Empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration

	// Admin bootstrap. When both are set, an admin user is seeded at startup.
	AdminUsername string
	AdminPassword string

	// LLM provider settings.
	LLMProvider    string // "static", "openai", or "ollama"
	OpenAIAPIKey   string
	OpenAIModel    string
	OllamaURL      string
	OllamaModel    string
	BreakerMaxFail int           // consecutive failures before the circuit opens
	BreakerOpenFor time.Duration // open interval before a half-open probe

	// Adaptation and feedback settings.
	SuggestionThreshold int  // feedback entries per agent before analysis runs
	ArbitratedAdaptation bool // route allowed adaptations through arbitration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel              string
	IdempotencyTTL        time.Duration
	ConflictSweepInterval time.Duration
	JournalBufferSize     int
	JournalFlushInterval  time.Duration
	MaxRequestBodyBytes   int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                  envInt("TAZUNA_PORT", 8080),
		ReadTimeout:           envDuration("TAZUNA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:          envDuration("TAZUNA_WRITE_TIMEOUT", 30*time.Second),
		RequestTimeout:        envDuration("TAZUNA_REQUEST_TIMEOUT", 30*time.Second),
		DatabaseURL:           envStr("TAZUNA_DATABASE_URL", ""),
		JWTPrivateKeyPath:     envStr("TAZUNA_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:      envStr("TAZUNA_JWT_PUBLIC_KEY", ""),
		AccessTokenTTL:        envDuration("TAZUNA_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:       envDuration("TAZUNA_REFRESH_TOKEN_TTL", 168*time.Hour),
		AdminUsername:         envStr("TAZUNA_ADMIN_USERNAME", ""),
		AdminPassword:         envStr("TAZUNA_ADMIN_PASSWORD", ""),
		LLMProvider:           envStr("TAZUNA_LLM_PROVIDER", "static"),
		OpenAIAPIKey:          envStr("OPENAI_API_KEY", ""),
		OpenAIModel:           envStr("TAZUNA_OPENAI_MODEL", "gpt-4o-mini"),
		OllamaURL:             envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:           envStr("OLLAMA_MODEL", "llama3.1"),
		BreakerMaxFail:        envInt("TAZUNA_BREAKER_MAX_FAILURES", 5),
		BreakerOpenFor:        envDuration("TAZUNA_BREAKER_OPEN_INTERVAL", 30*time.Second),
		SuggestionThreshold:   envInt("TAZUNA_SUGGESTION_THRESHOLD", 5),
		ArbitratedAdaptation:  envBool("TAZUNA_ADAPTATION_ARBITRATED", false),
		OTELEndpoint:          envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:           envStr("OTEL_SERVICE_NAME", "tazuna"),
		LogLevel:              envStr("TAZUNA_LOG_LEVEL", "info"),
		IdempotencyTTL:        envDuration("TAZUNA_IDEMPOTENCY_TTL", time.Hour),
		ConflictSweepInterval: envDuration("TAZUNA_CONFLICT_SWEEP_INTERVAL", 15*time.Second),
		JournalBufferSize:     envInt("TAZUNA_JOURNAL_BUFFER_SIZE", 1000),
		JournalFlushInterval:  envDuration("TAZUNA_JOURNAL_FLUSH_INTERVAL", time.Second),
		MaxRequestBodyBytes:   int64(envInt("TAZUNA_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "static", "openai", "ollama":
	default:
		return fmt.Errorf("config: TAZUNA_LLM_PROVIDER must be static, openai, or ollama (got %q)", c.LLMProvider)
	}
	if c.LLMProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required when TAZUNA_LLM_PROVIDER=openai")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		return fmt.Errorf("config: TAZUNA_JWT_PRIVATE_KEY and TAZUNA_JWT_PUBLIC_KEY must be set together")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("config: token TTLs must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: TAZUNA_REQUEST_TIMEOUT must be positive")
	}
	if c.SuggestionThreshold <= 0 {
		return fmt.Errorf("config: TAZUNA_SUGGESTION_THRESHOLD must be positive")
	}
	if c.BreakerMaxFail <= 0 {
		return fmt.Errorf("config: TAZUNA_BREAKER_MAX_FAILURES must be positive")
	}
	if c.JournalBufferSize <= 0 {
		return fmt.Errorf("config: TAZUNA_JOURNAL_BUFFER_SIZE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TAZUNA_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
