// Package llm defines the language-model port used by agent governance,
// plus provider implementations for OpenAI-compatible APIs and local
// Ollama servers.
//
// All providers return a Completion carrying token usage, latency, and
// cost so callers can record AI metadata without provider-specific code.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable signals that the provider cannot serve requests right
// now (circuit open, connection refused). Callers should fall back to
// rule-based behavior rather than retry.
var ErrUnavailable = errors.New("llm: provider unavailable")

// TokenUsage counts tokens consumed by one request.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Completion is the result of one model invocation.
type Completion struct {
	Content    string     `json:"content"`
	Confidence float64    `json:"confidence"`
	Model      string     `json:"model"`
	LatencyMs  int64      `json:"latencyMs"`
	CostUSD    float64    `json:"costUsd"`
	Tokens     TokenUsage `json:"tokens"`
}

// Options tunes a single Generate call. Zero values mean provider
// defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client is the provider port. Implementations must be safe for
// concurrent use.
type Client interface {
	// Generate runs the prompt and returns the completion.
	Generate(ctx context.Context, prompt string, opts Options) (*Completion, error)

	// HealthCheck reports whether the provider is reachable.
	HealthCheck(ctx context.Context) bool
}
