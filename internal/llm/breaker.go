package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// BreakerConfig tunes the circuit breaker around a provider.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Defaults to 5.
	FailureThreshold uint32

	// OpenInterval is how long the circuit stays open before allowing
	// half-open probes. Defaults to 30s.
	OpenInterval time.Duration

	// HalfOpenProbes is the number of requests let through while
	// half-open. Defaults to 1.
	HalfOpenProbes uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenInterval == 0 {
		c.OpenInterval = 30 * time.Second
	}
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = 1
	}
	return c
}

// BreakerClient wraps a Client with a circuit breaker. While the circuit
// is open, Generate fails fast with ErrUnavailable so governance falls
// back to rules instead of waiting on a dead provider.
type BreakerClient struct {
	inner  Client
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger

	breakerState metric.Int64Gauge
}

// NewBreakerClient wraps inner with a circuit breaker.
func NewBreakerClient(inner Client, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	cfg = cfg.withDefaults()

	meter := telemetry.Meter("tazuna/llm")
	stateGauge, _ := meter.Int64Gauge("tazuna.llm.breaker_state",
		metric.WithDescription("LLM circuit breaker state (0=closed, 1=half-open, 2=open)"),
	)

	b := &BreakerClient{
		inner:        inner,
		logger:       logger,
		breakerState: stateGauge,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.HalfOpenProbes,
		Timeout:     cfg.OpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm: circuit breaker state change",
				"from", from.String(), "to", to.String())
			b.breakerState.Record(context.Background(), stateValue(to))
		},
	})

	b.breakerState.Record(context.Background(), stateValue(gobreaker.StateClosed))
	return b
}

func stateValue(s gobreaker.State) int64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Generate forwards to the wrapped client unless the circuit is open.
func (b *BreakerClient) Generate(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.Generate(ctx, prompt, opts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("llm: circuit open: %w", ErrUnavailable)
		}
		return nil, err
	}
	comp, ok := res.(*Completion)
	if !ok {
		return nil, fmt.Errorf("llm: unexpected breaker result type %T", res)
	}
	return comp, nil
}

// HealthCheck reports false while the circuit is open, otherwise defers
// to the wrapped client.
func (b *BreakerClient) HealthCheck(ctx context.Context) bool {
	if b.cb.State() == gobreaker.StateOpen {
		return false
	}
	return b.inner.HealthCheck(ctx)
}

// State returns the current breaker state as a string for health
// reporting.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
