package model

import (
	"time"

	"github.com/google/uuid"
)

// PolicyScope selects which proposals an arbitration policy governs.
type PolicyScope string

const (
	ScopeGlobal     PolicyScope = "global"
	ScopeAgent      PolicyScope = "agent"
	ScopePreference PolicyScope = "preference"
)

// ResolutionStrategy names how an arbiter picks a winner among proposals.
type ResolutionStrategy string

const (
	StrategyPriority  ResolutionStrategy = "priority"
	StrategyWeighted  ResolutionStrategy = "weighted"
	StrategyVeto      ResolutionStrategy = "veto"
	StrategyConsensus ResolutionStrategy = "consensus"
)

// StrategyWeights are the scoring weights for the weighted strategy.
// Score = Confidence*confidence − Cost*costEstimate − Risk*riskNumeric.
type StrategyWeights struct {
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
	Risk       float64 `json:"risk"`
}

// VetoCondition is the kind of check a veto rule performs.
type VetoCondition string

const (
	VetoRiskLevel      VetoCondition = "risk_level"
	VetoCost           VetoCondition = "cost"
	VetoAgentBlacklist VetoCondition = "agent_blacklist"
	VetoPreferenceLock VetoCondition = "preference_lock"
)

// VetoRule rejects proposals matching a condition before any strategy
// runs. EscalateOnVeto converts the match into an immediate escalation.
type VetoRule struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	ConditionType  VetoCondition `json:"conditionType"`
	ConditionValue any           `json:"conditionValue"`
	EscalateOnVeto bool          `json:"escalateOnVeto"`
}

// EscalationRule defers decisions to a human when any threshold trips.
// Nil thresholds are not checked.
type EscalationRule struct {
	RiskThreshold        *RiskLevel `json:"riskThreshold,omitempty"`
	CostThreshold        *float64   `json:"costThreshold,omitempty"`
	ConfidenceThreshold  *float64   `json:"confidenceThreshold,omitempty"`
	OnMultiAgentConflict bool       `json:"onMultiAgentConflict"`
	AlwaysEscalateAgents []string   `json:"alwaysEscalateAgents,omitempty"`
}

// ArbitrationPolicy configures one arbiter: strategy, priority order,
// weights, veto rules, and escalation thresholds. Policies are matched
// by preference key first, then agent, then the default.
type ArbitrationPolicy struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	Scope          PolicyScope        `json:"scope"`
	ScopeKey       string             `json:"scopeKey,omitempty"`
	Strategy       ResolutionStrategy `json:"strategy"`
	PriorityOrder  []string           `json:"priorityOrder,omitempty"`
	Weights        StrategyWeights    `json:"weights"`
	VetoRules      []VetoRule         `json:"vetoRules,omitempty"`
	EscalationRule EscalationRule     `json:"escalationRule"`
	IsDefault      bool               `json:"isDefault"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// PriorityIndex returns the agent's rank in the policy's priority order.
// Unknown agents rank last.
func (p *ArbitrationPolicy) PriorityIndex(agent string) int {
	for i, name := range p.PriorityOrder {
		if name == agent {
			return i
		}
	}
	return len(p.PriorityOrder)
}

// ArbitrationOutcome is the terminal classification of an arbitration.
type ArbitrationOutcome string

const (
	OutcomeWinnerSelected ArbitrationOutcome = "winner_selected"
	OutcomeAllVetoed      ArbitrationOutcome = "all_vetoed"
	OutcomeEscalated      ArbitrationOutcome = "escalated"
	OutcomeNoConflict     ArbitrationOutcome = "no_conflict"
)

// FactorImpact marks whether a decision factor helped or hurt a proposal.
type FactorImpact string

const (
	ImpactPositive FactorImpact = "positive"
	ImpactNegative FactorImpact = "negative"
	ImpactNeutral  FactorImpact = "neutral"
)

// DecisionFactor explains what determined one proposal's fate. Every
// arbitration decision carries exactly one factor per input proposal.
type DecisionFactor struct {
	ProposalID string       `json:"proposalId"`
	AgentName  string       `json:"agentName"`
	Factor     string       `json:"factor"`
	Value      string       `json:"value"`
	Impact     FactorImpact `json:"impact"`
}

// ArbitrationDecision is the immutable verdict on a conflict or single
// proposal. After persistence only the execution fields may change, and
// only through escalation approval.
type ArbitrationDecision struct {
	ID                    uuid.UUID          `json:"id"`
	ConflictID            *uuid.UUID         `json:"conflictId,omitempty"`
	PolicyID              uuid.UUID          `json:"policyId"`
	PolicyName            string             `json:"policyName"`
	StrategyUsed          ResolutionStrategy `json:"strategyUsed"`
	Outcome               ArbitrationOutcome `json:"outcome"`
	WinningProposalID     *string            `json:"winningProposalId,omitempty"`
	SuppressedProposalIDs []string           `json:"suppressedProposalIds,omitempty"`
	VetoedProposalIDs     []string           `json:"vetoedProposalIds,omitempty"`
	DecisionFactors       []DecisionFactor   `json:"decisionFactors"`
	ReasoningSummary      string             `json:"reasoningSummary"`
	EscalationReason      string             `json:"escalationReason,omitempty"`
	RequiresHumanApproval bool               `json:"requiresHumanApproval"`
	Executed              bool               `json:"executed"`
	ExecutedAt            *time.Time         `json:"executedAt,omitempty"`
	ExecutedBy            *string            `json:"executedBy,omitempty"`
	ContentHash           string             `json:"contentHash,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
}

// ProposalIDs returns the ids of every proposal the decision considered,
// in factor order.
func (d *ArbitrationDecision) ProposalIDs() []string {
	ids := make([]string, 0, len(d.DecisionFactors))
	seen := make(map[string]bool, len(d.DecisionFactors))
	for _, f := range d.DecisionFactors {
		if !seen[f.ProposalID] {
			seen[f.ProposalID] = true
			ids = append(ids, f.ProposalID)
		}
	}
	return ids
}
