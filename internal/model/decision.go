package model

import (
	"time"

	"github.com/google/uuid"
)

// ReasoningSource identifies how a decision's content was produced.
type ReasoningSource string

const (
	ReasoningRule      ReasoningSource = "rule"
	ReasoningHeuristic ReasoningSource = "heuristic"
	ReasoningLLM       ReasoningSource = "llm"
	ReasoningFallback  ReasoningSource = "fallback"
)

// AIMetadata captures the LLM call behind a decision. Present whenever
// the model was actually invoked, including fallbacks taken after a
// completed call (low confidence).
type AIMetadata struct {
	Model            string  `json:"model"`
	Confidence       float64 `json:"confidence"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	CostUSD          float64 `json:"costUsd"`
	LatencyMs        int64   `json:"latencyMs"`
}

// DecisionOutcome is the user's verdict on a decision. Set at most once.
type DecisionOutcome struct {
	UserAccepted bool      `json:"userAccepted"`
	UserFeedback *string   `json:"userFeedback,omitempty"`
	ActualResult *string   `json:"actualResult,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// DecisionRecord is the audit trail of one governed agent decision:
// what triggered it, what was decided, how it was reasoned, and what
// the user eventually thought of it.
type DecisionRecord struct {
	ID                  uuid.UUID        `json:"id"`
	AgentName           string           `json:"agentName"`
	TriggeringEventType string           `json:"triggeringEventType"`
	TriggeringEventID   string           `json:"triggeringEventId"`
	AggregateType       string           `json:"aggregateType"`
	AggregateID         string           `json:"aggregateId"`
	DecisionType        string           `json:"decisionType"`
	ReasoningSource     ReasoningSource  `json:"reasoningSource"`
	DecisionContent     string           `json:"decisionContent"`
	FallbackReason      string           `json:"fallbackReason,omitempty"`
	AI                  *AIMetadata      `json:"ai,omitempty"`
	Outcome             *DecisionOutcome `json:"outcome,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// AgentPolicy bounds what one agent may do per event and per aggregate.
type AgentPolicy struct {
	AgentName              string        `json:"agentName"`
	MaxSuggestionsPerEvent int           `json:"maxSuggestionsPerEvent"`
	ConfidenceThreshold    float64       `json:"confidenceThreshold"`
	Cooldown               time.Duration `json:"-"`
	AIEnabled              bool          `json:"aiEnabled"`
	FallbackToRules        bool          `json:"fallbackToRules"`
}
