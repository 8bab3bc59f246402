// Package governance enforces per-agent policies around AI usage: action
// cooldowns, suggestion budgets, and the generate-with-fallback flow that
// turns unreliable LLM calls into recorded, explainable decisions.
package governance

import (
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/llm"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// Service holds agent policies and the per-process governance state:
// cooldown timestamps keyed agent:aggregateId and suggestion counts
// keyed agent:eventId.
type Service struct {
	decisions store.Decisions
	client    llm.Client
	logger    *slog.Logger
	now       func() time.Time

	mu               sync.Mutex
	policies         map[string]model.AgentPolicy
	cooldowns        map[string]time.Time
	suggestionCounts map[string]int

	aiRequests  metric.Int64Counter
	aiTokens    metric.Int64Counter
	aiCost      metric.Float64Counter
	aiFallbacks metric.Int64Counter
	aiLatency   metric.Float64Histogram
}

// New creates a governance service. client may be nil when no provider
// is configured; Generate then behaves as if every call failed and takes
// the fallback path.
func New(decisions store.Decisions, client llm.Client, logger *slog.Logger) *Service {
	meter := telemetry.Meter("tazuna/governance")
	aiRequests, _ := meter.Int64Counter("tazuna.ai.requests",
		metric.WithDescription("LLM requests by agent and outcome"),
	)
	aiTokens, _ := meter.Int64Counter("tazuna.ai.tokens",
		metric.WithDescription("LLM tokens consumed by agent and kind"),
	)
	aiCost, _ := meter.Float64Counter("tazuna.ai.cost_usd",
		metric.WithDescription("LLM spend in USD by agent"),
		metric.WithUnit("USD"),
	)
	aiFallbacks, _ := meter.Int64Counter("tazuna.ai.fallbacks",
		metric.WithDescription("Rule fallbacks by agent and reason"),
	)
	aiLatency, _ := meter.Float64Histogram("tazuna.ai.latency",
		metric.WithDescription("LLM call latency (ms)"),
		metric.WithUnit("ms"),
	)

	return &Service{
		decisions:        decisions,
		client:           client,
		logger:           logger,
		now:              time.Now,
		policies:         make(map[string]model.AgentPolicy),
		cooldowns:        make(map[string]time.Time),
		suggestionCounts: make(map[string]int),
		aiRequests:       aiRequests,
		aiTokens:         aiTokens,
		aiCost:           aiCost,
		aiFallbacks:      aiFallbacks,
		aiLatency:        aiLatency,
	}
}

// RegisterPolicy installs or replaces the policy for an agent.
func (s *Service) RegisterPolicy(p model.AgentPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.AgentName] = p
}

// Policy returns the registered policy for an agent.
func (s *Service) Policy(agent string) (model.AgentPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[agent]
	return p, ok
}

// Policies returns all registered policies keyed by agent name.
func (s *Service) Policies() map[string]model.AgentPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.AgentPolicy, len(s.policies))
	for k, v := range s.policies {
		out[k] = v
	}
	return out
}

// CanTakeAction reports whether the agent's cooldown for the aggregate
// has elapsed. Read-only; racing callers may both see true. Hot paths
// must use TryTakeAction instead.
func (s *Service) CanTakeAction(agent, aggregateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownElapsedLocked(agent, aggregateID)
}

// TryTakeAction checks the cooldown and, when elapsed, records the
// action timestamp in the same critical section so concurrent callers
// cannot double-fire.
func (s *Service) TryTakeAction(agent, aggregateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cooldownElapsedLocked(agent, aggregateID) {
		return false
	}
	s.cooldowns[agent+":"+aggregateID] = s.now()
	return true
}

func (s *Service) cooldownElapsedLocked(agent, aggregateID string) bool {
	policy, ok := s.policies[agent]
	if !ok || policy.Cooldown <= 0 {
		return true
	}
	last, ok := s.cooldowns[agent+":"+aggregateID]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= policy.Cooldown
}

// CanMakeSuggestion reports whether the agent is under its suggestion
// budget for the event.
func (s *Service) CanMakeSuggestion(agent, eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[agent]
	if !ok || policy.MaxSuggestionsPerEvent <= 0 {
		return true
	}
	return s.suggestionCounts[agent+":"+eventID] < policy.MaxSuggestionsPerEvent
}

// RecordSuggestion counts one suggestion against the agent's budget for
// the event.
func (s *Service) RecordSuggestion(agent, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestionCounts[agent+":"+eventID]++
}

// Clear resets cooldowns and suggestion counts. For tests.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns = make(map[string]time.Time)
	s.suggestionCounts = make(map[string]int)
}
