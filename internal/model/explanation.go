package model

import "time"

// ExplainedKind identifies which record type an explanation covers.
type ExplainedKind string

const (
	ExplainArbitration ExplainedKind = "arbitration"
	ExplainAdaptation  ExplainedKind = "auto_adaptation"
	ExplainDecision    ExplainedKind = "decision_record"
)

// ContributingFactor is one named input to an explained decision.
type ContributingFactor struct {
	Factor string       `json:"factor"`
	Value  string       `json:"value"`
	Impact FactorImpact `json:"impact"`
}

// AlternativeConsidered describes a losing or rejected option and why it
// did not win.
type AlternativeConsidered struct {
	ProposalID string `json:"proposalId,omitempty"`
	AgentName  string `json:"agentName,omitempty"`
	Value      any    `json:"value,omitempty"`
	Reason     string `json:"reason"`
}

// Explanation is the unified human-readable account of any decision the
// plane produced: arbitrations, adaptation attempts, and decision records.
type Explanation struct {
	DecisionID             string                  `json:"decisionId"`
	DecisionType           ExplainedKind           `json:"decisionType"`
	Summary                string                  `json:"summary"`
	ContributingFactors    []ContributingFactor    `json:"contributingFactors"`
	PoliciesInvolved       []string                `json:"policiesInvolved"`
	AlternativesConsidered []AlternativeConsidered `json:"alternativesConsidered"`
	WhyOthersLost          string                  `json:"whyOthersLost,omitempty"`
	DecidedAt              time.Time               `json:"decidedAt"`
}
