package agents

import (
	"time"

	"github.com/tazuna-ai/tazuna/internal/model"
)

// DefaultPolicies returns the governance policies for the built-in
// advisors. The logger never calls the LLM; the others fall back to
// rules when generation fails or confidence is low.
func DefaultPolicies() map[string]model.AgentPolicy {
	return map[string]model.AgentPolicy{
		CoachName: {
			AgentName:              CoachName,
			MaxSuggestionsPerEvent: 2,
			ConfidenceThreshold:    0.7,
			Cooldown:               5 * time.Minute,
			AIEnabled:              true,
			FallbackToRules:        true,
		},
		PlannerName: {
			AgentName:              PlannerName,
			MaxSuggestionsPerEvent: 2,
			ConfidenceThreshold:    0.75,
			Cooldown:               10 * time.Minute,
			AIEnabled:              true,
			FallbackToRules:        true,
		},
		LoggerName: {
			AgentName:              LoggerName,
			MaxSuggestionsPerEvent: 1,
			ConfidenceThreshold:    0.7,
			Cooldown:               time.Minute,
			AIEnabled:              false,
			FallbackToRules:        true,
		},
	}
}
