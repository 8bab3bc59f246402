package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/llm"
	"github.com/tazuna-ai/tazuna/internal/model"
)

// ErrLowConfidence signals a completion below the agent's confidence
// threshold when the policy forbids falling back to rules.
var ErrLowConfidence = errors.New("governance: completion confidence below threshold")

// FallbackFunc produces the rule-based content used when the AI path is
// unavailable or rejected.
type FallbackFunc func() string

// Generation is the outcome of one governed generate call.
type Generation struct {
	Content        string
	Source         model.ReasoningSource
	FallbackReason string
	AI             *model.AIMetadata
}

// RecordInput identifies what a decision record is about.
type RecordInput struct {
	TriggeringEventType string
	TriggeringEventID   string
	AggregateType       string
	AggregateID         string
	DecisionType        string
}

// Generate runs the governed AI flow for an agent: policy gate, template
// render, LLM call, confidence gate. Each failure either falls back to
// the rule path (policy.FallbackToRules) or surfaces as an error.
func (s *Service) Generate(ctx context.Context, agent string, tmpl *PromptTemplate, tctx map[string]any, fallback FallbackFunc, opts llm.Options) (*Generation, error) {
	policy, ok := s.Policy(agent)
	if !ok {
		return nil, fmt.Errorf("governance: no policy registered for agent %s", agent)
	}

	if !policy.AIEnabled || s.client == nil {
		return s.fallbackGeneration(ctx, agent, "disabled", fallback, nil), nil
	}

	prompt, err := tmpl.Render(tctx)
	if err != nil {
		if !errors.Is(err, ErrTemplateValidation) {
			return nil, err
		}
		if policy.FallbackToRules {
			reason := "missing fields: " + strings.Join(tmpl.Missing(tctx), ", ")
			return s.fallbackGeneration(ctx, agent, reason, fallback, nil), nil
		}
		return nil, err
	}

	agentAttr := metric.WithAttributes(attribute.String("agent", agent))
	start := time.Now()
	comp, err := s.client.Generate(ctx, prompt, opts)
	s.aiLatency.Record(ctx, float64(time.Since(start).Milliseconds()), agentAttr)
	if err != nil {
		s.aiRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("outcome", "error"),
		))
		s.logger.Warn("governance: llm call failed",
			"agent", agent, "template", tmpl.Name(), "error", err)
		if policy.FallbackToRules {
			return s.fallbackGeneration(ctx, agent, "AI error: "+err.Error(), fallback, nil), nil
		}
		return nil, fmt.Errorf("governance: llm generate: %w", err)
	}

	s.aiRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("outcome", "success"),
	))
	s.aiTokens.Add(ctx, int64(comp.Tokens.Prompt), metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("kind", "prompt"),
	))
	s.aiTokens.Add(ctx, int64(comp.Tokens.Completion), metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("kind", "completion"),
	))
	s.aiCost.Add(ctx, comp.CostUSD, agentAttr)

	ai := &model.AIMetadata{
		Model:            comp.Model,
		Confidence:       comp.Confidence,
		PromptTokens:     comp.Tokens.Prompt,
		CompletionTokens: comp.Tokens.Completion,
		TotalTokens:      comp.Tokens.Total,
		CostUSD:          comp.CostUSD,
		LatencyMs:        comp.LatencyMs,
	}

	if comp.Confidence < policy.ConfidenceThreshold {
		if policy.FallbackToRules {
			reason := fmt.Sprintf("low confidence: %.2f below threshold %.2f", comp.Confidence, policy.ConfidenceThreshold)
			return s.fallbackGeneration(ctx, agent, reason, fallback, ai), nil
		}
		return nil, fmt.Errorf("%w: %.2f below threshold %.2f", ErrLowConfidence, comp.Confidence, policy.ConfidenceThreshold)
	}

	return &Generation{Content: comp.Content, Source: model.ReasoningLLM, AI: ai}, nil
}

// fallbackGeneration builds a fallback generation and records its metrics. The
// reason label on the counter is normalized; the full reason text goes
// on the generation.
func (s *Service) fallbackGeneration(ctx context.Context, agent, reason string, fallback FallbackFunc, ai *model.AIMetadata) *Generation {
	s.aiFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("reason", fallbackLabel(reason)),
	))
	s.logger.Debug("governance: falling back to rules", "agent", agent, "reason", reason)
	return &Generation{
		Content:        fallback(),
		Source:         model.ReasoningFallback,
		FallbackReason: reason,
		AI:             ai,
	}
}

// fallbackLabel collapses free-text reasons into a bounded label set so
// the fallback counter stays low-cardinality.
func fallbackLabel(reason string) string {
	switch {
	case reason == "disabled":
		return "disabled"
	case strings.HasPrefix(reason, "missing fields"):
		return "missing_fields"
	case strings.HasPrefix(reason, "AI error"):
		return "ai_error"
	case strings.HasPrefix(reason, "low confidence"):
		return "low_confidence"
	default:
		return "other"
	}
}

// GenerateWithRecord runs Generate and persists a decision record for
// the outcome, carrying AI metadata whenever the model was invoked.
func (s *Service) GenerateWithRecord(ctx context.Context, agent string, tmpl *PromptTemplate, tctx map[string]any, fallback FallbackFunc, opts llm.Options, rec RecordInput) (*Generation, *model.DecisionRecord, error) {
	gen, err := s.Generate(ctx, agent, tmpl, tctx, fallback, opts)
	if err != nil {
		return nil, nil, err
	}

	record := &model.DecisionRecord{
		ID:                  uuid.New(),
		AgentName:           agent,
		TriggeringEventType: rec.TriggeringEventType,
		TriggeringEventID:   rec.TriggeringEventID,
		AggregateType:       rec.AggregateType,
		AggregateID:         rec.AggregateID,
		DecisionType:        rec.DecisionType,
		ReasoningSource:     gen.Source,
		DecisionContent:     gen.Content,
		FallbackReason:      gen.FallbackReason,
		AI:                  gen.AI,
		CreatedAt:           s.now().UTC(),
	}
	if err := s.decisions.CreateDecision(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("governance: persist decision record: %w", err)
	}
	return gen, record, nil
}

// CreateDecisionRecord persists a record for a rule or heuristic
// decision made without the AI path.
func (s *Service) CreateDecisionRecord(ctx context.Context, agent string, rec RecordInput, content string, source model.ReasoningSource) (*model.DecisionRecord, error) {
	record := &model.DecisionRecord{
		ID:                  uuid.New(),
		AgentName:           agent,
		TriggeringEventType: rec.TriggeringEventType,
		TriggeringEventID:   rec.TriggeringEventID,
		AggregateType:       rec.AggregateType,
		AggregateID:         rec.AggregateID,
		DecisionType:        rec.DecisionType,
		ReasoningSource:     source,
		DecisionContent:     content,
		CreatedAt:           s.now().UTC(),
	}
	if err := s.decisions.CreateDecision(ctx, record); err != nil {
		return nil, fmt.Errorf("governance: persist decision record: %w", err)
	}
	return record, nil
}
