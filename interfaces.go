package tazuna

import "context"

// LLMClient generates completions for agent governance. When provided
// via WithLLMClient it replaces the provider configured through
// TAZUNA_LLM_PROVIDER; the circuit breaker still wraps it.
// Implementations must be safe for concurrent use.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts LLMOptions) (*LLMCompletion, error)
	HealthCheck(ctx context.Context) bool
}

// Agent is a custom advisor registered via WithAgent. It receives the
// events named by Events and answers with zero or more proposal drafts;
// every draft goes through governance, conflict detection, and
// arbitration exactly like the built-in agents' proposals.
type Agent interface {
	Name() string
	Events() []string
	Handle(ctx context.Context, ev Event) ([]ProposalDraft, error)
}

// EventHook receives async notifications when the plane settles
// proposals. Hook methods run in goroutines with a bounded context —
// they must not block indefinitely. Failures are logged and never fail
// the originating operation.
type EventHook interface {
	OnArbitrationResolved(ctx context.Context, a Arbitration) error
	OnActionSuppressed(ctx context.Context, s Suppression) error
	OnEscalation(ctx context.Context, e Escalation) error
}
