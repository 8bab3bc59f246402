// Package model defines the core domain types for Tazuna.
//
// All types are value records owned by id; references between aggregates
// are by identifier only, never by pointer, so no object graph cycles
// exist. Enum-like fields use typed strings.
package model

import (
	"fmt"
	"time"
)

// RiskLevel classifies how consequential a preference change or proposal is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskNumeric maps a risk level onto an ordinal scale for scoring and
// threshold comparison. Unknown levels rank above high so a malformed
// proposal never slips past a risk gate.
func RiskNumeric(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 4
	}
}

// RiskAtMost returns true if r is at or below the max level.
func RiskAtMost(r, max RiskLevel) bool {
	return RiskNumeric(r) <= RiskNumeric(max)
}

// PreferenceSource identifies what caused a preference write.
type PreferenceSource string

const (
	SourceDefault        PreferenceSource = "default"
	SourceManual         PreferenceSource = "manual"
	SourceSuggestion     PreferenceSource = "suggestion"
	SourceAutoAdaptation PreferenceSource = "auto_adaptation"
	SourceEscalation     PreferenceSource = "escalation"
	SourceRollback       PreferenceSource = "rollback"
	SourceReset          PreferenceSource = "reset"
)

// UserPreference is one (category, key) → value entry on an agent's
// learning profile. Values are validated against the registry at write time.
type UserPreference struct {
	Category    string           `json:"category"`
	Key         string           `json:"key"`
	Value       any              `json:"value"`
	Confidence  float64          `json:"confidence"`
	Source      PreferenceSource `json:"source"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// QualifiedKey returns the "category.key" form used by rollback and
// scope-restriction lookups.
func (p UserPreference) QualifiedKey() string {
	return p.Category + "." + p.Key
}

// SuggestionStatus is the lifecycle state of a suggested preference.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

// SuggestedPreference is a proposed change to a preference awaiting
// approval. Exactly one transition out of pending is permitted.
type SuggestedPreference struct {
	ID               string           `json:"id"`
	AgentName        string           `json:"agentName"`
	Category         string           `json:"category"`
	Key              string           `json:"key"`
	CurrentValue     any              `json:"currentValue"`
	SuggestedValue   any              `json:"suggestedValue"`
	Confidence       float64          `json:"confidence"`
	Reason           string           `json:"reason"`
	LearnedFrom      []string         `json:"learnedFrom,omitempty"`
	Status           SuggestionStatus `json:"status"`
	SuggestedAt      time.Time        `json:"suggestedAt"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`
	ResolutionReason *string          `json:"resolutionReason,omitempty"`
}

// FeedbackEntry records a user outcome against one decision record.
type FeedbackEntry struct {
	ID           string         `json:"id"`
	DecisionID   string         `json:"decisionId"`
	DecisionType string         `json:"decisionType"`
	Accepted     bool           `json:"accepted"`
	Feedback     *string        `json:"feedback,omitempty"`
	ActualResult *string        `json:"actualResult,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	RecordedAt   time.Time      `json:"recordedAt"`
}

// PreferenceChange is one entry in a profile's change history.
type PreferenceChange struct {
	Category  string           `json:"category"`
	Key       string           `json:"key"`
	OldValue  any              `json:"oldValue"`
	NewValue  any              `json:"newValue"`
	Source    PreferenceSource `json:"source"`
	Reason    string           `json:"reason,omitempty"`
	ChangedAt time.Time        `json:"changedAt"`
}

// LearningProfile is the per-agent aggregate holding preferences, feedback,
// suggestions, and change history. Owned by the Profiles repository; all
// appends are linearized per agent.
type LearningProfile struct {
	AgentName             string                `json:"agentName"`
	Preferences           []UserPreference      `json:"preferences"`
	Feedback              []FeedbackEntry       `json:"feedback"`
	Suggestions           []SuggestedPreference `json:"suggestions"`
	Changes               []PreferenceChange    `json:"changes"`
	TotalFeedbackReceived int                   `json:"totalFeedbackReceived"`
	OverallAcceptanceRate float64               `json:"overallAcceptanceRate"`
	CreatedAt             time.Time             `json:"createdAt"`
	UpdatedAt             time.Time             `json:"updatedAt"`
}

// Preference returns the profile's current entry for (category, key),
// or nil when unset.
func (p *LearningProfile) Preference(category, key string) *UserPreference {
	for i := range p.Preferences {
		if p.Preferences[i].Category == category && p.Preferences[i].Key == key {
			return &p.Preferences[i]
		}
	}
	return nil
}

// Suggestion returns the suggestion with the given id, or nil.
func (p *LearningProfile) Suggestion(id string) *SuggestedPreference {
	for i := range p.Suggestions {
		if p.Suggestions[i].ID == id {
			return &p.Suggestions[i]
		}
	}
	return nil
}

// ValidateAgentName checks that an agent name conforms to the allowed
// format. Agent names must be 1-100 ASCII characters: alphanumeric,
// dots, hyphens, and underscores.
func ValidateAgentName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("agent name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("agent name must be at most 100 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("agent name contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ParseQualifiedKey splits "category.key" into its parts. The key side may
// itself contain dots; the split is on the first dot only.
func ParseQualifiedKey(qualified string) (category, key string, err error) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			if i == 0 || i == len(qualified)-1 {
				return "", "", fmt.Errorf("malformed preference key %q", qualified)
			}
			return qualified[:i], qualified[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("preference key %q must be of the form category.key", qualified)
}
