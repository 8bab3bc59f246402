// Package explain produces unified human-readable accounts of the
// decisions the plane has made: arbitrations, auto-adaptation attempts,
// and governed decision records.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// Service resolves an id across the three decision-bearing stores and
// renders an explanation.
type Service struct {
	arbitrations store.ArbitrationDecisions
	attempts     store.Attempts
	decisions    store.Decisions
	proposals    store.Proposals
	logger       *slog.Logger
}

// New creates an explanation service.
func New(arbitrations store.ArbitrationDecisions, attempts store.Attempts, decisions store.Decisions, proposals store.Proposals, logger *slog.Logger) *Service {
	return &Service{
		arbitrations: arbitrations,
		attempts:     attempts,
		decisions:    decisions,
		proposals:    proposals,
		logger:       logger,
	}
}

// ExplainDecision looks the id up across arbitration decisions, then
// adaptation attempts, then decision records. Returns store.ErrNotFound
// when the id matches nothing.
func (s *Service) ExplainDecision(ctx context.Context, id string) (*model.Explanation, error) {
	if parsed, err := uuid.Parse(id); err == nil {
		if d, err := s.arbitrations.GetArbitrationDecision(ctx, parsed); err == nil {
			return s.explainArbitration(ctx, d)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("explain: load arbitration decision: %w", err)
		}
		if d, err := s.decisions.GetDecision(ctx, parsed); err == nil {
			return s.explainDecisionRecord(d), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("explain: load decision record: %w", err)
		}
	}
	if a, err := s.attempts.GetAttempt(ctx, id); err == nil {
		return s.explainAttempt(a), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("explain: load attempt: %w", err)
	}
	return nil, store.ErrNotFound
}

func (s *Service) explainArbitration(ctx context.Context, d *model.ArbitrationDecision) (*model.Explanation, error) {
	ex := &model.Explanation{
		DecisionID:       d.ID.String(),
		DecisionType:     model.ExplainArbitration,
		Summary:          d.ReasoningSummary,
		PoliciesInvolved: []string{d.PolicyName},
		DecidedAt:        d.CreatedAt,
	}
	for _, f := range d.DecisionFactors {
		ex.ContributingFactors = append(ex.ContributingFactors, model.ContributingFactor{
			Factor: f.Factor,
			Value:  f.Value,
			Impact: f.Impact,
		})
	}

	props, err := s.proposals.ListProposalsByIDs(ctx, d.ProposalIDs())
	if err != nil {
		return nil, fmt.Errorf("explain: load proposals: %w", err)
	}
	byID := make(map[string]*model.Proposal, len(props))
	for _, p := range props {
		byID[p.ID] = p
	}

	for _, id := range d.VetoedProposalIDs {
		ex.AlternativesConsidered = append(ex.AlternativesConsidered, alternative(byID[id], id, "Vetoed by policy rule"))
	}
	for _, id := range d.SuppressedProposalIDs {
		ex.AlternativesConsidered = append(ex.AlternativesConsidered, alternative(byID[id], id, lossReason(d.StrategyUsed)))
	}
	if len(d.SuppressedProposalIDs) > 0 {
		ex.WhyOthersLost = lossReason(d.StrategyUsed)
	}
	if d.Outcome == model.OutcomeEscalated {
		ex.WhyOthersLost = fmt.Sprintf("Escalated to human review: %s", d.EscalationReason)
	}
	return ex, nil
}

// alternative tolerates proposals that have since been pruned from the
// store; the id and reason still carry the audit trail.
func alternative(p *model.Proposal, id, reason string) model.AlternativeConsidered {
	alt := model.AlternativeConsidered{ProposalID: id, Reason: reason}
	if p != nil {
		alt.AgentName = p.AgentName
		alt.Value = p.ProposedValue
	}
	return alt
}

func lossReason(strategy model.ResolutionStrategy) string {
	switch strategy {
	case model.StrategyPriority:
		return "Lower agent priority than the winning proposal"
	case model.StrategyWeighted:
		return "Lower weighted score than the winning proposal"
	case model.StrategyConsensus:
		return "Did not match the consensus value"
	default:
		return "Lower confidence than the winning proposal"
	}
}

func (s *Service) explainAttempt(a *model.AdaptationAttempt) *model.Explanation {
	ex := &model.Explanation{
		DecisionID:   a.ID,
		DecisionType: model.ExplainAdaptation,
		PoliciesInvolved: []string{
			fmt.Sprintf("adaptation policy for %s", a.AgentName),
		},
		DecidedAt: a.Timestamp,
	}

	ex.ContributingFactors = append(ex.ContributingFactors,
		model.ContributingFactor{
			Factor: "confidence",
			Value:  fmt.Sprintf("%.2f (threshold %.2f)", a.Confidence, a.PolicySnapshot.MinConfidence),
			Impact: impactIf(a.Confidence >= a.PolicySnapshot.MinConfidence),
		},
		model.ContributingFactor{
			Factor: "risk_level",
			Value:  string(a.RiskLevel),
			Impact: impactIf(riskAllowed(a)),
		},
		model.ContributingFactor{
			Factor: "user_opted_in",
			Value:  fmt.Sprintf("%t", a.PolicySnapshot.UserOptedIn),
			Impact: impactIf(a.PolicySnapshot.UserOptedIn),
		},
	)

	target := a.Category + "." + a.Key
	switch a.Result {
	case model.AttemptApplied:
		ex.Summary = fmt.Sprintf("Automatically changed %s to %v for %s (confidence %.2f)",
			target, a.SuggestedValue, a.AgentName, a.Confidence)
		if a.RolledBack {
			reason := ""
			if a.RollbackReason != nil {
				reason = ": " + *a.RollbackReason
			}
			ex.Summary += fmt.Sprintf("; later rolled back%s", reason)
		}
	case model.AttemptSkipped:
		ex.Summary = fmt.Sprintf("Skipped changing %s for %s: already at the suggested value", target, a.AgentName)
	default:
		ex.Summary = fmt.Sprintf("Blocked changing %s for %s: %s", target, a.AgentName,
			strings.ReplaceAll(string(a.BlockReason), "_", " "))
	}
	return ex
}

func riskAllowed(a *model.AdaptationAttempt) bool {
	for _, lv := range a.PolicySnapshot.AllowedRiskLevels {
		if lv == a.RiskLevel {
			return true
		}
	}
	return false
}

func impactIf(positive bool) model.FactorImpact {
	if positive {
		return model.ImpactPositive
	}
	return model.ImpactNegative
}

func (s *Service) explainDecisionRecord(d *model.DecisionRecord) *model.Explanation {
	ex := &model.Explanation{
		DecisionID:   d.ID.String(),
		DecisionType: model.ExplainDecision,
		Summary: fmt.Sprintf("%s decided %q via %s reasoning after %s",
			d.AgentName, d.DecisionType, d.ReasoningSource, d.TriggeringEventType),
		PoliciesInvolved: []string{fmt.Sprintf("agent policy for %s", d.AgentName)},
		DecidedAt:        d.CreatedAt,
	}

	ex.ContributingFactors = append(ex.ContributingFactors, model.ContributingFactor{
		Factor: "reasoning_source",
		Value:  string(d.ReasoningSource),
		Impact: model.ImpactNeutral,
	})
	if d.FallbackReason != "" {
		ex.ContributingFactors = append(ex.ContributingFactors, model.ContributingFactor{
			Factor: "fallback_reason",
			Value:  d.FallbackReason,
			Impact: model.ImpactNegative,
		})
	}
	if d.AI != nil {
		ex.ContributingFactors = append(ex.ContributingFactors,
			model.ContributingFactor{
				Factor: "model",
				Value:  d.AI.Model,
				Impact: model.ImpactNeutral,
			},
			model.ContributingFactor{
				Factor: "model_confidence",
				Value:  fmt.Sprintf("%.2f", d.AI.Confidence),
				Impact: model.ImpactNeutral,
			},
		)
		// A fallback taken after a completed call means the model's
		// answer was considered and rejected.
		if d.ReasoningSource == model.ReasoningFallback {
			ex.AlternativesConsidered = append(ex.AlternativesConsidered, model.AlternativeConsidered{
				AgentName: d.AgentName,
				Reason:    fmt.Sprintf("Model output discarded: %s", d.FallbackReason),
			})
		}
	}
	if d.Outcome != nil {
		verdict := "rejected"
		if d.Outcome.UserAccepted {
			verdict = "accepted"
		}
		ex.Summary += fmt.Sprintf("; user later %s it", verdict)
	}
	return ex
}
