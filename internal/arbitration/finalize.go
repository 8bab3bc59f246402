package arbitration

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/integrity"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/proposal"
)

// factorFn builds the strategy-specific decision factor for one
// proposal.
type factorFn func(policy *model.ArbitrationPolicy, p *model.Proposal, winner bool) model.DecisionFactor

func factorPriority(policy *model.ArbitrationPolicy, p *model.Proposal, winner bool) model.DecisionFactor {
	impact := model.ImpactNegative
	if winner {
		impact = model.ImpactPositive
	}
	return model.DecisionFactor{
		ProposalID: p.ID,
		AgentName:  p.AgentName,
		Factor:     "priority_index",
		Value:      strconv.Itoa(policy.PriorityIndex(p.AgentName)),
		Impact:     impact,
	}
}

func factorScore(policy *model.ArbitrationPolicy, p *model.Proposal, winner bool) model.DecisionFactor {
	impact := model.ImpactNegative
	if winner {
		impact = model.ImpactPositive
	}
	return model.DecisionFactor{
		ProposalID: p.ID,
		AgentName:  p.AgentName,
		Factor:     "score",
		Value:      fmt.Sprintf("%.4f", score(policy, p)),
		Impact:     impact,
	}
}

func factorConfidence(_ *model.ArbitrationPolicy, p *model.Proposal, winner bool) model.DecisionFactor {
	impact := model.ImpactNegative
	if winner {
		impact = model.ImpactPositive
	}
	return model.DecisionFactor{
		ProposalID: p.ID,
		AgentName:  p.AgentName,
		Factor:     "confidence",
		Value:      fmt.Sprintf("%.2f", p.Confidence),
		Impact:     impact,
	}
}

func factorConsensus(_ *model.ArbitrationPolicy, p *model.Proposal, winner bool) model.DecisionFactor {
	impact := model.ImpactNeutral
	if winner {
		impact = model.ImpactPositive
	}
	return model.DecisionFactor{
		ProposalID: p.ID,
		AgentName:  p.AgentName,
		Factor:     "consensus_value",
		Value:      proposal.CanonicalValue(p.ProposedValue),
		Impact:     impact,
	}
}

func factorVetoed(p *model.Proposal, ruleName string) model.DecisionFactor {
	return model.DecisionFactor{
		ProposalID: p.ID,
		AgentName:  p.AgentName,
		Factor:     "veto_rule",
		Value:      ruleName,
		Impact:     model.ImpactNegative,
	}
}

func factorEscalated(p *model.Proposal, reason string) model.DecisionFactor {
	return model.DecisionFactor{
		ProposalID: p.ID,
		AgentName:  p.AgentName,
		Factor:     "escalation",
		Value:      reason,
		Impact:     model.ImpactNeutral,
	}
}

// finalizeWinner builds, persists, and announces a winner_selected (or
// no_conflict for a lone proposal) decision.
func (a *Arbiter) finalizeWinner(ctx context.Context, c *model.Conflict, policy *model.ArbitrationPolicy, props []*model.Proposal, st *settled, winner *model.Proposal, factor factorFn) (*model.ArbitrationDecision, error) {
	outcome := model.OutcomeWinnerSelected
	if c == nil && len(props) == 1 {
		outcome = model.OutcomeNoConflict
	}

	d := a.newDecision(c, policy, outcome)
	winnerID := winner.ID
	d.WinningProposalID = &winnerID

	var suppressed []*model.Proposal
	for _, p := range props {
		if ruleName, vetoed := st.vetoed[p.ID]; vetoed {
			d.VetoedProposalIDs = append(d.VetoedProposalIDs, p.ID)
			d.DecisionFactors = append(d.DecisionFactors, factorVetoed(p, ruleName))
			continue
		}
		isWinner := p.ID == winner.ID
		d.DecisionFactors = append(d.DecisionFactors, factor(policy, p, isWinner))
		if !isWinner {
			d.SuppressedProposalIDs = append(d.SuppressedProposalIDs, p.ID)
			suppressed = append(suppressed, p)
		}
	}
	d.ReasoningSummary = fmt.Sprintf("%s strategy selected %s's proposal %s; %d suppressed, %d vetoed",
		policy.Strategy, winner.AgentName, winner.ID, len(d.SuppressedProposalIDs), len(d.VetoedProposalIDs))

	if err := a.persistDecision(ctx, c, d); err != nil {
		return nil, err
	}

	if err := a.setStatus(ctx, winner.ID, model.ProposalApproved, d.ID); err != nil {
		return nil, err
	}
	for _, id := range d.SuppressedProposalIDs {
		if err := a.setStatus(ctx, id, model.ProposalSuppressed, d.ID); err != nil {
			return nil, err
		}
	}
	for _, id := range d.VetoedProposalIDs {
		if err := a.setStatus(ctx, id, model.ProposalVetoed, d.ID); err != nil {
			return nil, err
		}
	}

	a.publishResolved(ctx, d)
	for _, p := range suppressed {
		a.publishSuppressed(ctx, d, policy, p, winner)
	}
	return d, nil
}

// finalizeAllVetoed builds a decision where every proposal tripped a
// veto rule: no winner, no human approval required.
func (a *Arbiter) finalizeAllVetoed(ctx context.Context, c *model.Conflict, policy *model.ArbitrationPolicy, props []*model.Proposal, st *settled) (*model.ArbitrationDecision, error) {
	d := a.newDecision(c, policy, model.OutcomeAllVetoed)
	for _, p := range props {
		d.VetoedProposalIDs = append(d.VetoedProposalIDs, p.ID)
		d.DecisionFactors = append(d.DecisionFactors, factorVetoed(p, st.vetoed[p.ID]))
	}
	d.ReasoningSummary = fmt.Sprintf("all %d proposals vetoed by policy %s", len(props), policy.Name)

	if err := a.persistDecision(ctx, c, d); err != nil {
		return nil, err
	}
	for _, p := range props {
		if err := a.setStatus(ctx, p.ID, model.ProposalVetoed, d.ID); err != nil {
			return nil, err
		}
	}
	a.publishResolved(ctx, d)
	return d, nil
}

// finalizeEscalated builds an escalated decision requiring human
// approval. Proposals already vetoed keep their veto factor; the rest
// escalate.
func (a *Arbiter) finalizeEscalated(ctx context.Context, c *model.Conflict, policy *model.ArbitrationPolicy, props []*model.Proposal, st *settled, reason string) (*model.ArbitrationDecision, error) {
	d := a.newDecision(c, policy, model.OutcomeEscalated)
	d.EscalationReason = reason
	d.RequiresHumanApproval = true

	var escalated []*model.Proposal
	for _, p := range props {
		if ruleName, vetoed := st.vetoed[p.ID]; vetoed {
			d.VetoedProposalIDs = append(d.VetoedProposalIDs, p.ID)
			d.DecisionFactors = append(d.DecisionFactors, factorVetoed(p, ruleName))
			continue
		}
		escalated = append(escalated, p)
		d.DecisionFactors = append(d.DecisionFactors, factorEscalated(p, reason))
	}
	d.ReasoningSummary = fmt.Sprintf("escalated to human review: %s", reason)

	if err := a.persistDecision(ctx, c, d); err != nil {
		return nil, err
	}
	for _, p := range escalated {
		if err := a.setStatus(ctx, p.ID, model.ProposalEscalated, d.ID); err != nil {
			return nil, err
		}
	}
	for _, id := range d.VetoedProposalIDs {
		if err := a.setStatus(ctx, id, model.ProposalVetoed, d.ID); err != nil {
			return nil, err
		}
	}

	suggested := a.pickByConfidence(escalated)
	escalatedIDs := make([]string, len(escalated))
	for i, p := range escalated {
		escalatedIDs[i] = p.ID
	}
	ev := model.NewEvent(model.EventArbitrationEscalated, "arbitration", d.ID.String(), map[string]any{
		"decisionId":          d.ID.String(),
		"reason":              reason,
		"escalatedProposals":  escalatedIDs,
		"suggestedProposalId": suggested.ID,
	})
	if err := a.bus.Publish(ctx, ev); err != nil {
		a.logger.Warn("arbitration: publish escalated event", "error", err)
	}
	a.recordDecision(ctx, d)
	return d, nil
}

func (a *Arbiter) newDecision(c *model.Conflict, policy *model.ArbitrationPolicy, outcome model.ArbitrationOutcome) *model.ArbitrationDecision {
	d := &model.ArbitrationDecision{
		ID:           uuid.New(),
		PolicyID:     policy.ID,
		PolicyName:   policy.Name,
		StrategyUsed: policy.Strategy,
		Outcome:      outcome,
		CreatedAt:    a.now().UTC(),
	}
	if c != nil {
		id := c.ID
		d.ConflictID = &id
	}
	return d
}

// persistDecision stamps the content hash, stores the decision, and
// marks the conflict resolved. The decision write precedes proposal
// status updates and events so subscribers always see a stored verdict.
func (a *Arbiter) persistDecision(ctx context.Context, c *model.Conflict, d *model.ArbitrationDecision) error {
	d.ContentHash = integrity.DecisionHash(d)
	if err := a.decisions.CreateArbitrationDecision(ctx, d); err != nil {
		return fmt.Errorf("arbitration: persist decision: %w", err)
	}
	if c != nil {
		if err := a.conflicts.ResolveConflict(ctx, c.ID, d.ID); err != nil {
			return fmt.Errorf("arbitration: resolve conflict: %w", err)
		}
	}
	return nil
}

func (a *Arbiter) setStatus(ctx context.Context, proposalID string, status model.ProposalStatus, decisionID uuid.UUID) error {
	if err := a.proposals.UpdateProposalStatus(ctx, proposalID, status, &decisionID); err != nil {
		return fmt.Errorf("arbitration: set proposal %s to %s: %w", proposalID, status, err)
	}
	return nil
}

func (a *Arbiter) publishResolved(ctx context.Context, d *model.ArbitrationDecision) {
	payload := map[string]any{
		"decisionId": d.ID.String(),
		"outcome":    string(d.Outcome),
		"strategy":   string(d.StrategyUsed),
	}
	if d.WinningProposalID != nil {
		payload["winningProposalId"] = *d.WinningProposalID
	}
	ev := model.NewEvent(model.EventArbitrationResolved, "arbitration", d.ID.String(), payload)
	if err := a.bus.Publish(ctx, ev); err != nil {
		a.logger.Warn("arbitration: publish resolved event", "error", err)
	}
	a.recordDecision(ctx, d)
}

// publishSuppressed emits one ActionSuppressed per losing proposal with
// the winner comparison an operator needs to understand the loss.
func (a *Arbiter) publishSuppressed(ctx context.Context, d *model.ArbitrationDecision, policy *model.ArbitrationPolicy, loser, winner *model.Proposal) {
	var explanation string
	switch policy.Strategy {
	case model.StrategyPriority:
		explanation = fmt.Sprintf("%s has priority %d, %s has priority %d",
			winner.AgentName, policy.PriorityIndex(winner.AgentName),
			loser.AgentName, policy.PriorityIndex(loser.AgentName))
	case model.StrategyWeighted:
		explanation = fmt.Sprintf("score %.4f below winning score %.4f",
			score(policy, loser), score(policy, winner))
	default:
		explanation = fmt.Sprintf("confidence %.2f below winning confidence %.2f",
			loser.Confidence, winner.Confidence)
	}

	ev := model.NewEvent(model.EventActionSuppressed, "proposal", loser.ID, map[string]any{
		"decisionId":        d.ID.String(),
		"proposalId":        loser.ID,
		"agentName":         loser.AgentName,
		"winningProposalId": winner.ID,
		"explanation":       explanation,
	})
	if err := a.bus.Publish(ctx, ev); err != nil {
		a.logger.Warn("arbitration: publish suppressed event", "error", err)
	}
}

func (a *Arbiter) recordDecision(ctx context.Context, d *model.ArbitrationDecision) {
	a.decisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(d.Outcome)),
		attribute.String("strategy", string(d.StrategyUsed)),
	))
	a.logger.Info("arbitration: decision",
		"decisionId", d.ID,
		"outcome", d.Outcome,
		"strategy", d.StrategyUsed,
		"summary", d.ReasoningSummary)
}
