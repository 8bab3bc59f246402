package llm

import (
	"context"
	"sync"
)

// StaticClient returns canned completions. Used in tests and when no
// provider is configured but AI-enabled code paths must still execute.
type StaticClient struct {
	Content    string
	Confidence float64
	Model      string
	Err        error
	Unhealthy  bool

	mu         sync.Mutex
	calls      int
	lastPrompt string
}

// NewStaticClient creates a client that always returns the given content
// and confidence.
func NewStaticClient(content string, confidence float64) *StaticClient {
	return &StaticClient{Content: content, Confidence: confidence, Model: "static"}
}

// Generate returns the canned completion, or Err when set.
func (c *StaticClient) Generate(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	c.mu.Lock()
	c.calls++
	c.lastPrompt = prompt
	c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}
	model := c.Model
	if model == "" {
		model = "static"
	}
	return &Completion{
		Content:    c.Content,
		Confidence: c.Confidence,
		Model:      model,
		LatencyMs:  0,
		CostUSD:    0,
	}, nil
}

// HealthCheck reports the configured health.
func (c *StaticClient) HealthCheck(ctx context.Context) bool {
	return !c.Unhealthy
}

// Calls returns how many times Generate ran.
func (c *StaticClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// LastPrompt returns the most recent prompt passed to Generate.
func (c *StaticClient) LastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPrompt
}
