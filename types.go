package tazuna

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event the embedding host publishes into the plane.
// Type selects which agents react ("WorkoutLogged", "SessionMissed",
// "PlanUpdated", or any type a custom Agent subscribes to).
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	Payload       map[string]any
	CorrelationID string
}

// Target identifies the resource a proposal acts on. Key is set for
// preference targets ("category.key") and empty otherwise.
type Target struct {
	Type string
	ID   string
	Key  string
}

// ProposalDraft is an action request a custom Agent produces in response
// to an event. RiskLevel is "low", "medium", or "high"; empty defaults
// to "low".
type ProposalDraft struct {
	ActionType    string
	Target        Target
	ProposedValue any
	Confidence    float64
	CostEstimate  float64
	RiskLevel     string
}

// Arbitration is a resolved verdict delivered to event hooks.
type Arbitration struct {
	ID                    uuid.UUID
	ConflictID            *uuid.UUID
	PolicyName            string
	Strategy              string
	Outcome               string
	WinningProposalID     string
	SuppressedProposalIDs []string
	Reasoning             string
	RequiresHumanApproval bool
	CreatedAt             time.Time
}

// Suppression reports one proposal that lost an arbitration.
type Suppression struct {
	ProposalID        string
	AgentName         string
	WinningProposalID string
	DecisionID        uuid.UUID
	Explanation       string
}

// Escalation reports an arbitration the plane refused to decide on its
// own. SuggestedProposalID is the arbiter's recommendation for the human
// reviewer.
type Escalation struct {
	DecisionID          uuid.UUID
	ConflictID          *uuid.UUID
	Reason              string
	ProposalIDs         []string
	SuggestedProposalID string
	CreatedAt           time.Time
}

// Feedback records a user verdict on a governed decision.
type Feedback struct {
	DecisionID uuid.UUID
	Accepted   bool
	Comment    string
	Result     string
	Context    map[string]any
}

// FeedbackResult reports the soft-failure outcome of recording feedback.
// Missing decisions and repeated outcomes set Success false with the
// error text instead of failing the call.
type FeedbackResult struct {
	Success            bool
	Error              string
	AgentName          string
	SuggestionsCreated int
}

// LLMOptions tunes a single Generate call. Zero values mean provider
// defaults.
type LLMOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMCompletion is the result of one model invocation.
type LLMCompletion struct {
	Content          string
	Confidence       float64
	Model            string
	LatencyMs        int64
	CostUSD          float64
	PromptTokens     int
	CompletionTokens int
}

// RegistryOverride replaces or adds one preference declaration. Exactly
// one of Values (enumerated domain) or Min/Max (numeric range) should be
// set. Risk is "low", "medium", or "high".
type RegistryOverride struct {
	Category      string
	Key           string
	Values        []any
	Min           *float64
	Max           *float64
	Default       any
	Risk          string
	Adaptive      bool
	MinConfidence float64
	AgentDefaults map[string]any
}
