package model

import (
	"time"

	"github.com/google/uuid"
)

// TargetRef identifies the resource a proposal acts on. Key is set for
// preference targets ("category.key") and empty otherwise.
type TargetRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
}

// TargetKey returns the grouping key used by conflict detection:
// "type:id" or "type:id:key".
func (t TargetRef) TargetKey() string {
	if t.Key == "" {
		return t.Type + ":" + t.ID
	}
	return t.Type + ":" + t.ID + ":" + t.Key
}

// ProposalStatus is the lifecycle state of an agent action proposal.
// Exactly one transition out of pending is permitted; escalated
// proposals later settle to approved or suppressed on human review.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalApproved   ProposalStatus = "approved"
	ProposalSuppressed ProposalStatus = "suppressed"
	ProposalVetoed     ProposalStatus = "vetoed"
	ProposalEscalated  ProposalStatus = "escalated"
)

// Proposal is an agent-originated action request targeting a resource.
// Arbitration decides its fate; the terminal status records the decision
// that settled it.
type Proposal struct {
	ID                 string         `json:"id"`
	AgentName          string         `json:"agentName"`
	ActionType         string         `json:"actionType"`
	Target             TargetRef      `json:"target"`
	ProposedValue      any            `json:"proposedValue"`
	Confidence         float64        `json:"confidence"`
	CostEstimate       float64        `json:"costEstimate"`
	RiskLevel          RiskLevel      `json:"riskLevel"`
	OriginatingEventID string         `json:"originatingEventId,omitempty"`
	SuggestionID       *string        `json:"suggestionId,omitempty"`
	Status             ProposalStatus `json:"status"`
	DecisionID         *uuid.UUID     `json:"decisionId,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// ConflictType classifies why a group of proposals collide.
type ConflictType string

const (
	ConflictSameTarget          ConflictType = "same_target"
	ConflictMutuallyExclusive   ConflictType = "mutually_exclusive"
	ConflictResourceCompetition ConflictType = "resource_competition"
	ConflictInvariantViolation  ConflictType = "invariant_violation"
)

// Conflict groups two or more pending proposals aimed at the same target.
type Conflict struct {
	ID           uuid.UUID    `json:"id"`
	ProposalIDs  []string     `json:"proposalIds"`
	ConflictType ConflictType `json:"conflictType"`
	Target       string       `json:"target"`
	Description  string       `json:"description"`
	Resolved     bool         `json:"resolved"`
	ResolvedAt   *time.Time   `json:"resolvedAt,omitempty"`
	DecisionID   *uuid.UUID   `json:"decisionId,omitempty"`
	DetectedAt   time.Time    `json:"detectedAt"`
}

// ProposalInput is the submission payload for a new proposal.
type ProposalInput struct {
	AgentName          string    `json:"agentName"`
	ActionType         string    `json:"actionType"`
	Target             TargetRef `json:"target"`
	ProposedValue      any       `json:"proposedValue"`
	Confidence         float64   `json:"confidence"`
	CostEstimate       float64   `json:"costEstimate"`
	RiskLevel          RiskLevel `json:"riskLevel"`
	OriginatingEventID string    `json:"originatingEventId,omitempty"`
	SuggestionID       *string   `json:"suggestionId,omitempty"`
}
