package model

import (
	"time"

	"github.com/google/uuid"
)

// AdaptationMode selects whether suggestions apply automatically or wait
// for explicit approval.
type AdaptationMode string

const (
	ModeManual AdaptationMode = "manual"
	ModeAuto   AdaptationMode = "auto"
)

// AdaptationRateLimit caps auto-applied changes within a rolling window.
type AdaptationRateLimit struct {
	MaxChanges int           `json:"maxChanges"`
	Window     time.Duration `json:"-"`
}

// ScopeRestriction overrides policy behavior for one (category, key).
// A locked scope blocks auto-adaptation outright; Mode and MinConfidence
// override the policy-level settings when set.
type ScopeRestriction struct {
	Category      string          `json:"category"`
	Key           string          `json:"key"`
	Mode          *AdaptationMode `json:"mode,omitempty"`
	Locked        bool            `json:"locked"`
	MinConfidence *float64        `json:"minConfidence,omitempty"`
}

// AdaptationPolicy is the per-agent contract governing automatic
// preference changes: opt-in, confidence floor, allowed risk, cooldown,
// and a rolling rate-limit window.
type AdaptationPolicy struct {
	ID                 uuid.UUID           `json:"id"`
	AgentName          string              `json:"agentName"`
	Mode               AdaptationMode      `json:"mode"`
	UserOptedIn        bool                `json:"userOptedIn"`
	MinConfidence      float64             `json:"minConfidence"`
	AllowedRiskLevels  []RiskLevel         `json:"allowedRiskLevels"`
	Cooldown           time.Duration       `json:"-"`
	RateLimit          AdaptationRateLimit `json:"rateLimit"`
	LastAutoAdaptAt    *time.Time          `json:"lastAutoAdaptAt,omitempty"`
	CurrentWindowCount int                 `json:"currentWindowCount"`
	WindowStartedAt    *time.Time          `json:"windowStartedAt,omitempty"`
	ScopeRestrictions  []ScopeRestriction  `json:"scopeRestrictions,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// RiskAllowed reports whether the policy permits changes at the given
// risk level.
func (p *AdaptationPolicy) RiskAllowed(r RiskLevel) bool {
	for _, allowed := range p.AllowedRiskLevels {
		if allowed == r {
			return true
		}
	}
	return false
}

// Restriction returns the scope restriction for (category, key), or nil.
func (p *AdaptationPolicy) Restriction(category, key string) *ScopeRestriction {
	for i := range p.ScopeRestrictions {
		if p.ScopeRestrictions[i].Category == category && p.ScopeRestrictions[i].Key == key {
			return &p.ScopeRestrictions[i]
		}
	}
	return nil
}

// Snapshot captures the policy fields an attempt must preserve for audit.
func (p *AdaptationPolicy) Snapshot() PolicySnapshot {
	levels := make([]RiskLevel, len(p.AllowedRiskLevels))
	copy(levels, p.AllowedRiskLevels)
	return PolicySnapshot{
		Mode:              p.Mode,
		UserOptedIn:       p.UserOptedIn,
		MinConfidence:     p.MinConfidence,
		AllowedRiskLevels: levels,
	}
}

// PolicySnapshot is the frozen view of an adaptation policy at the moment
// an attempt was decided.
type PolicySnapshot struct {
	Mode              AdaptationMode `json:"mode"`
	UserOptedIn       bool           `json:"userOptedIn"`
	MinConfidence     float64        `json:"minConfidence"`
	AllowedRiskLevels []RiskLevel    `json:"allowedRiskLevels"`
}

// AttemptResult is the terminal classification of an adaptation attempt.
type AttemptResult string

const (
	AttemptApplied AttemptResult = "applied"
	AttemptBlocked AttemptResult = "blocked"
	AttemptSkipped AttemptResult = "skipped"
)

// BlockReason explains why an adaptation attempt did not apply.
type BlockReason string

const (
	BlockPreferenceNotAdaptive BlockReason = "preference_not_adaptive"
	BlockUserNotOptedIn        BlockReason = "user_not_opted_in"
	BlockModeIsManual          BlockReason = "mode_is_manual"
	BlockPreferenceLocked      BlockReason = "preference_locked"
	BlockRiskLevelNotAllowed   BlockReason = "risk_level_not_allowed"
	BlockCooldownNotElapsed    BlockReason = "cooldown_not_elapsed"
	BlockRateLimitExceeded     BlockReason = "rate_limit_exceeded"
	BlockConfidenceTooLow      BlockReason = "confidence_too_low"

	// SkipAlreadyAtValue is the reason on skipped attempts where the
	// profile already holds the suggested value.
	SkipAlreadyAtValue BlockReason = "preference_already_at_suggested_value"
)

// AdaptationAttempt records one evaluation of a suggestion against an
// adaptation policy. Exactly one of applied/blocked/skipped; applied
// attempts may later be rolled back.
type AdaptationAttempt struct {
	ID             string         `json:"id"`
	AgentName      string         `json:"agentName"`
	SuggestionID   string         `json:"suggestionId"`
	Category       string         `json:"category"`
	Key            string         `json:"key"`
	PreviousValue  any            `json:"previousValue,omitempty"`
	SuggestedValue any            `json:"suggestedValue"`
	Confidence     float64        `json:"confidence"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	Result         AttemptResult  `json:"result"`
	BlockReason    BlockReason    `json:"blockReason,omitempty"`
	PolicyID       uuid.UUID      `json:"policyId"`
	PolicySnapshot PolicySnapshot `json:"policySnapshot"`
	DecisionID     *uuid.UUID     `json:"decisionId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	RolledBack     bool           `json:"rolledBack"`
	RolledBackAt   *time.Time     `json:"rolledBackAt,omitempty"`
	RollbackReason *string        `json:"rollbackReason,omitempty"`
}

// Evaluation is the outcome of evaluateAutoAdaptation: either allowed,
// or blocked with the first failing check's reason.
type Evaluation struct {
	Allowed                      bool        `json:"allowed"`
	BlockReason                  BlockReason `json:"blockReason,omitempty"`
	EffectiveConfidenceThreshold float64     `json:"effectiveConfidenceThreshold"`
}
