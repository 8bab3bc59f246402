// Package arbitration settles conflicts between agent proposals. A
// policy picks the resolution strategy; veto rules and escalation
// thresholds run first, and the surviving proposals compete for the win.
// Every verdict is an immutable decision with one factor per proposal.
package arbitration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/proposal"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// PreferenceLocks answers whether an agent's preference is locked.
// Satisfied by adaptation.PolicyService; nil disables lock vetoes.
type PreferenceLocks interface {
	IsLocked(ctx context.Context, agent, category, key string) bool
}

// Arbiter resolves conflicts and lone proposals under arbitration
// policies.
type Arbiter struct {
	proposals store.Proposals
	conflicts store.Conflicts
	policies  store.ArbitrationPolicies
	decisions store.ArbitrationDecisions
	locks     PreferenceLocks
	bus       *bus.Bus
	logger    *slog.Logger
	now       func() time.Time

	decisionCounter metric.Int64Counter
}

// New creates an arbiter. locks may be nil when no adaptation policy
// service is wired; preference_lock veto rules then never match.
func New(proposals store.Proposals, conflicts store.Conflicts, policies store.ArbitrationPolicies, decisions store.ArbitrationDecisions, locks PreferenceLocks, b *bus.Bus, logger *slog.Logger) *Arbiter {
	meter := telemetry.Meter("tazuna/arbitration")
	decisionCounter, _ := meter.Int64Counter("tazuna.arbitration.decisions",
		metric.WithDescription("Arbitration decisions by outcome and strategy"),
	)
	return &Arbiter{
		proposals:       proposals,
		conflicts:       conflicts,
		policies:        policies,
		decisions:       decisions,
		locks:           locks,
		bus:             b,
		logger:          logger,
		now:             time.Now,
		decisionCounter: decisionCounter,
	}
}

// FallbackPolicy is the built-in default used when no policy is
// registered at all: priority order Coach, Planner, Logger.
func FallbackPolicy() *model.ArbitrationPolicy {
	return &model.ArbitrationPolicy{
		ID:            uuid.New(),
		Name:          "builtin-default",
		Scope:         model.ScopeGlobal,
		Strategy:      model.StrategyPriority,
		PriorityOrder: []string{"Coach", "Planner", "Logger"},
		Weights:       model.StrategyWeights{Confidence: 1.0, Cost: 0.3, Risk: 0.2},
		IsDefault:     true,
	}
}

// ResolveConflict arbitrates one detected conflict.
func (a *Arbiter) ResolveConflict(ctx context.Context, c *model.Conflict) (*model.ArbitrationDecision, error) {
	props, err := a.proposals.ListProposalsByIDs(ctx, c.ProposalIDs)
	if err != nil {
		return nil, fmt.Errorf("arbitration: load proposals: %w", err)
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("arbitration: conflict %s has no proposals", c.ID)
	}
	policy, err := a.findPolicy(ctx, props)
	if err != nil {
		return nil, err
	}
	return a.resolve(ctx, c, policy, props)
}

// ResolveProposal arbitrates a lone proposal: veto and escalation rules
// still apply, and a clean pass approves it with outcome no_conflict.
func (a *Arbiter) ResolveProposal(ctx context.Context, p *model.Proposal) (*model.ArbitrationDecision, error) {
	policy, err := a.findPolicy(ctx, []*model.Proposal{p})
	if err != nil {
		return nil, err
	}
	return a.resolve(ctx, nil, policy, []*model.Proposal{p})
}

// findPolicy resolves the applicable policy: preference scope by target
// key, then agent scope, then the registered default, then the built-in
// fallback.
func (a *Arbiter) findPolicy(ctx context.Context, props []*model.Proposal) (*model.ArbitrationPolicy, error) {
	if key := props[0].Target.Key; key != "" {
		if p, err := a.policies.FindArbitrationPolicy(ctx, model.ScopePreference, key); err == nil {
			return p, nil
		}
	}
	agent := props[0].AgentName
	sameAgent := true
	for _, p := range props[1:] {
		if p.AgentName != agent {
			sameAgent = false
			break
		}
	}
	if sameAgent {
		if p, err := a.policies.FindArbitrationPolicy(ctx, model.ScopeAgent, agent); err == nil {
			return p, nil
		}
	}
	if p, err := a.policies.GetDefaultArbitrationPolicy(ctx); err == nil {
		return p, nil
	}
	return FallbackPolicy(), nil
}

// settled tracks per-proposal fate while resolution runs.
type settled struct {
	vetoed    map[string]string // proposal id → rule name
	survivors []*model.Proposal
}

func (a *Arbiter) resolve(ctx context.Context, c *model.Conflict, policy *model.ArbitrationPolicy, props []*model.Proposal) (*model.ArbitrationDecision, error) {
	st := &settled{vetoed: make(map[string]string)}

	// Veto phase.
	for _, p := range props {
		rule := a.matchVeto(ctx, policy, p)
		if rule == nil {
			st.survivors = append(st.survivors, p)
			continue
		}
		if rule.EscalateOnVeto {
			reason := fmt.Sprintf("veto rule %q requires escalation", rule.Name)
			return a.finalizeEscalated(ctx, c, policy, props, st, reason)
		}
		st.vetoed[p.ID] = rule.Name
	}
	if len(st.survivors) == 0 {
		return a.finalizeAllVetoed(ctx, c, policy, props, st)
	}

	// Escalation phase.
	if reason := a.escalationReason(policy, st.survivors); reason != "" {
		return a.finalizeEscalated(ctx, c, policy, props, st, reason)
	}

	// Strategy phase.
	switch policy.Strategy {
	case model.StrategyPriority:
		return a.finalizeWinner(ctx, c, policy, props, st, a.pickByPriority(policy, st.survivors), factorPriority)
	case model.StrategyWeighted:
		return a.finalizeWinner(ctx, c, policy, props, st, a.pickByScore(policy, st.survivors), factorScore)
	case model.StrategyVeto:
		return a.finalizeWinner(ctx, c, policy, props, st, a.pickByConfidence(st.survivors), factorConfidence)
	case model.StrategyConsensus:
		winner, ok := a.pickByConsensus(st.survivors)
		if !ok {
			return a.finalizeEscalated(ctx, c, policy, props, st, "no_clear_winner")
		}
		return a.finalizeWinner(ctx, c, policy, props, st, winner, factorConsensus)
	default:
		return nil, fmt.Errorf("arbitration: policy %s has unknown strategy %q", policy.Name, policy.Strategy)
	}
}

// matchVeto returns the first veto rule the proposal trips, or nil.
func (a *Arbiter) matchVeto(ctx context.Context, policy *model.ArbitrationPolicy, p *model.Proposal) *model.VetoRule {
	for i := range policy.VetoRules {
		rule := &policy.VetoRules[i]
		switch rule.ConditionType {
		case model.VetoRiskLevel:
			if lv, ok := rule.ConditionValue.(string); ok && model.RiskLevel(lv) == p.RiskLevel {
				return rule
			}
		case model.VetoCost:
			if threshold, ok := asFloat(rule.ConditionValue); ok && p.CostEstimate >= threshold {
				return rule
			}
		case model.VetoAgentBlacklist:
			if containsString(rule.ConditionValue, p.AgentName) {
				return rule
			}
		case model.VetoPreferenceLock:
			if a.locks == nil || p.Target.Type != "preference" || p.Target.Key == "" {
				continue
			}
			category, key, err := model.ParseQualifiedKey(p.Target.Key)
			if err != nil {
				continue
			}
			if a.locks.IsLocked(ctx, p.Target.ID, category, key) {
				return rule
			}
		}
	}
	return nil
}

// escalationReason checks the policy's escalation rule against the
// surviving proposals, returning "" when nothing trips.
func (a *Arbiter) escalationReason(policy *model.ArbitrationPolicy, survivors []*model.Proposal) string {
	rule := policy.EscalationRule
	for _, p := range survivors {
		if containsString(rule.AlwaysEscalateAgents, p.AgentName) {
			return fmt.Sprintf("agent %s always escalates", p.AgentName)
		}
	}
	if rule.OnMultiAgentConflict && distinctAgents(survivors) > 1 {
		return "conflict spans multiple agents"
	}
	for _, p := range survivors {
		if rule.RiskThreshold != nil && model.RiskNumeric(p.RiskLevel) >= model.RiskNumeric(*rule.RiskThreshold) {
			return fmt.Sprintf("risk %s at or above threshold %s", p.RiskLevel, *rule.RiskThreshold)
		}
		if rule.CostThreshold != nil && p.CostEstimate >= *rule.CostThreshold {
			return fmt.Sprintf("cost %.2f at or above threshold %.2f", p.CostEstimate, *rule.CostThreshold)
		}
		if rule.ConfidenceThreshold != nil && p.Confidence < *rule.ConfidenceThreshold {
			return fmt.Sprintf("confidence %.2f below threshold %.2f", p.Confidence, *rule.ConfidenceThreshold)
		}
	}
	return ""
}

func (a *Arbiter) pickByPriority(policy *model.ArbitrationPolicy, survivors []*model.Proposal) *model.Proposal {
	best := survivors[0]
	for _, p := range survivors[1:] {
		if policy.PriorityIndex(p.AgentName) < policy.PriorityIndex(best.AgentName) {
			best = p
		}
	}
	return best
}

// score computes the weighted strategy's score for one proposal.
func score(policy *model.ArbitrationPolicy, p *model.Proposal) float64 {
	w := policy.Weights
	return w.Confidence*p.Confidence - w.Cost*p.CostEstimate - w.Risk*float64(model.RiskNumeric(p.RiskLevel))
}

func (a *Arbiter) pickByScore(policy *model.ArbitrationPolicy, survivors []*model.Proposal) *model.Proposal {
	ranked := append([]*model.Proposal(nil), survivors...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(policy, ranked[i]), score(policy, ranked[j])
		if si != sj {
			return si > sj
		}
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
		}
		// ULIDs sort by creation order; final deterministic tie-break.
		return ranked[i].ID < ranked[j].ID
	})
	return ranked[0]
}

func (a *Arbiter) pickByConfidence(survivors []*model.Proposal) *model.Proposal {
	best := survivors[0]
	for _, p := range survivors[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best
}

// pickByConsensus wins only when every survivor proposes the same
// canonical value; the first proposal in stable order takes it.
func (a *Arbiter) pickByConsensus(survivors []*model.Proposal) (*model.Proposal, bool) {
	first := proposal.CanonicalValue(survivors[0].ProposedValue)
	for _, p := range survivors[1:] {
		if proposal.CanonicalValue(p.ProposedValue) != first {
			return nil, false
		}
	}
	return survivors[0], true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsString(v any, target string) bool {
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			if s == target {
				return true
			}
		}
	case []any:
		for _, s := range list {
			if str, ok := s.(string); ok && str == target {
				return true
			}
		}
	}
	return false
}

func distinctAgents(props []*model.Proposal) int {
	seen := make(map[string]bool, len(props))
	for _, p := range props {
		seen[p.AgentName] = true
	}
	return len(seen)
}
