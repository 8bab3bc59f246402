package tazuna

import (
	"time"

	"github.com/google/uuid"
)

// TokenPair is the response from the login and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// Health is the output of Client.Health.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	LLM           string `json:"llm,omitempty"`
	BreakerState  string `json:"breakerState,omitempty"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// Pagination is the server's pagination block on list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page selects a page of a list endpoint. Zero values use the server
// defaults (page 1, 25 items).
type Page struct {
	Page     int
	PageSize int
}

// Preference is one learned preference row.
type Preference struct {
	AgentName   string    `json:"agentName"`
	Category    string    `json:"category"`
	Key         string    `json:"key"`
	Value       any       `json:"value"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Suggestion is a pending or resolved preference suggestion.
type Suggestion struct {
	ID               string     `json:"id"`
	AgentName        string     `json:"agentName"`
	Category         string     `json:"category"`
	Key              string     `json:"key"`
	CurrentValue     any        `json:"currentValue"`
	SuggestedValue   any        `json:"suggestedValue"`
	Confidence       float64    `json:"confidence"`
	Reason           string     `json:"reason"`
	LearnedFrom      []string   `json:"learnedFrom,omitempty"`
	Status           string     `json:"status"`
	SuggestedAt      time.Time  `json:"suggestedAt"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolutionReason *string    `json:"resolutionReason,omitempty"`
}

// DecisionFactor is one proposal's scoring inside an arbitration.
type DecisionFactor struct {
	ProposalID string `json:"proposalId"`
	AgentName  string `json:"agentName"`
	Factor     string `json:"factor"`
	Value      string `json:"value"`
	Impact     string `json:"impact"`
}

// Arbitration is one arbitration decision.
type Arbitration struct {
	ID                    uuid.UUID        `json:"id"`
	ConflictID            *uuid.UUID       `json:"conflictId,omitempty"`
	PolicyID              uuid.UUID        `json:"policyId"`
	PolicyName            string           `json:"policyName"`
	StrategyUsed          string           `json:"strategyUsed"`
	Outcome               string           `json:"outcome"`
	WinningProposalID     *string          `json:"winningProposalId,omitempty"`
	SuppressedProposalIDs []string         `json:"suppressedProposalIds,omitempty"`
	VetoedProposalIDs     []string         `json:"vetoedProposalIds,omitempty"`
	DecisionFactors       []DecisionFactor `json:"decisionFactors"`
	ReasoningSummary      string           `json:"reasoningSummary"`
	EscalationReason      string           `json:"escalationReason,omitempty"`
	RequiresHumanApproval bool             `json:"requiresHumanApproval"`
	Executed              bool             `json:"executed"`
	ExecutedAt            *time.Time       `json:"executedAt,omitempty"`
	ExecutedBy            *string          `json:"executedBy,omitempty"`
	ContentHash           string           `json:"contentHash,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
}

// AdaptationAttempt records one policy-gated preference change attempt.
type AdaptationAttempt struct {
	ID             string         `json:"id"`
	AgentName      string         `json:"agentName"`
	SuggestionID   string         `json:"suggestionId"`
	Category       string         `json:"category"`
	Key            string         `json:"key"`
	PreviousValue  any            `json:"previousValue,omitempty"`
	SuggestedValue any            `json:"suggestedValue"`
	Confidence     float64        `json:"confidence"`
	RiskLevel      string         `json:"riskLevel"`
	Result         string         `json:"result"`
	BlockReason    string         `json:"blockReason,omitempty"`
	PolicyID       uuid.UUID      `json:"policyId"`
	PolicySnapshot map[string]any `json:"policySnapshot"`
	DecisionID     *uuid.UUID     `json:"decisionId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	RolledBack     bool           `json:"rolledBack"`
	RolledBackAt   *time.Time     `json:"rolledBackAt,omitempty"`
	RollbackReason *string        `json:"rollbackReason,omitempty"`
}

// JournalEntry is one record from the audit journal.
type JournalEntry struct {
	ID            uuid.UUID      `json:"id"`
	Kind          string         `json:"kind"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType,omitempty"`
	AggregateID   string         `json:"aggregateId,omitempty"`
	AgentName     string         `json:"agentName,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	ActorRole     string         `json:"actorRole,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	ContentHash   string         `json:"contentHash,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RecordedAt    time.Time      `json:"recordedAt"`
}

// ContributingFactor is one named input to an explained decision.
type ContributingFactor struct {
	Factor string `json:"factor"`
	Value  string `json:"value"`
	Impact string `json:"impact"`
}

// AlternativeConsidered describes a losing or rejected option.
type AlternativeConsidered struct {
	ProposalID string `json:"proposalId,omitempty"`
	AgentName  string `json:"agentName,omitempty"`
	Value      any    `json:"value,omitempty"`
	Reason     string `json:"reason"`
}

// Explanation is the unified account of an arbitration, adaptation
// attempt, or decision record.
type Explanation struct {
	DecisionID             string                  `json:"decisionId"`
	DecisionType           string                  `json:"decisionType"`
	Summary                string                  `json:"summary"`
	ContributingFactors    []ContributingFactor    `json:"contributingFactors"`
	PoliciesInvolved       []string                `json:"policiesInvolved"`
	AlternativesConsidered []AlternativeConsidered `json:"alternativesConsidered"`
	WhyOthersLost          string                  `json:"whyOthersLost,omitempty"`
	DecidedAt              time.Time               `json:"decidedAt"`
}

// AgentActivity summarizes one agent's footprint on the plane.
type AgentActivity struct {
	AgentName       string    `json:"agentName"`
	Decisions       int       `json:"decisions"`
	Proposals       int       `json:"proposals"`
	FeedbackEntries int       `json:"feedbackEntries"`
	AcceptanceRate  float64   `json:"acceptanceRate"`
	Suggestions     int       `json:"suggestions"`
	LastActivity    time.Time `json:"lastActivity"`
}

// --- Request types ---

// RollbackPreferenceRequest is the input for Client.RollbackPreference.
// PreferenceKey is the qualified "category.key" form.
type RollbackPreferenceRequest struct {
	AgentType     string `json:"agentType"`
	PreferenceKey string `json:"preferenceKey"`
	Reason        string `json:"reason"`
}

// ApproveEscalationRequest is the input for Client.ApproveEscalation.
// Both fields are optional; SelectedProposalID defaults to the
// arbiter's suggested proposal.
type ApproveEscalationRequest struct {
	ApprovedBy         string `json:"approvedBy,omitempty"`
	SelectedProposalID string `json:"selectedProposalId,omitempty"`
}

// SuggestionOptions filter Client.ListSuggestions.
type SuggestionOptions struct {
	Status string
	Agent  string
	Page   Page
}

// ArbitrationOptions filter Client.ListArbitrations. Escalated nil
// returns all decisions.
type ArbitrationOptions struct {
	Escalated *bool
	Page      Page
}

// AuditOptions filter Client.Audit. A zero Since/Until uses the
// server's default trailing window.
type AuditOptions struct {
	Since time.Time
	Until time.Time
	Type  string
	Agent string
	Page  Page
}
