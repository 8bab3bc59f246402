package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// AuditSummary is the headline view of one agent's learning state.
type AuditSummary struct {
	AgentName           string     `json:"agentName"`
	PreferenceCount     int        `json:"preferenceCount"`
	NonDefaultCount     int        `json:"nonDefaultCount"`
	PendingSuggestions  int        `json:"pendingSuggestions"`
	ApprovedSuggestions int        `json:"approvedSuggestions"`
	RejectedSuggestions int        `json:"rejectedSuggestions"`
	TotalFeedback       int        `json:"totalFeedback"`
	AcceptanceRate      float64    `json:"acceptanceRate"`
	LastChangeAt        *time.Time `json:"lastChangeAt,omitempty"`
}

// DefaultComparison shows one registry key's current value against its
// default for the agent.
type DefaultComparison struct {
	Category     string                  `json:"category"`
	Key          string                  `json:"key"`
	CurrentValue any                     `json:"currentValue"`
	DefaultValue any                     `json:"defaultValue"`
	Source       *model.PreferenceSource `json:"source,omitempty"`
	Drifted      bool                    `json:"drifted"`
}

// AuditService answers questions about how far an agent's preferences
// have drifted and lets operators reset them.
type AuditService struct {
	profiles store.Profiles
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuditService creates an audit service.
func NewAuditService(profiles store.Profiles, reg *registry.Registry, logger *slog.Logger) *AuditService {
	return &AuditService{profiles: profiles, registry: reg, logger: logger, now: time.Now}
}

// Summary computes counts and rates for the agent's profile.
func (s *AuditService) Summary(ctx context.Context, agent string) (*AuditSummary, error) {
	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}

	summary := &AuditSummary{
		AgentName:       agent,
		PreferenceCount: len(profile.Preferences),
		TotalFeedback:   profile.TotalFeedbackReceived,
		AcceptanceRate:  profile.OverallAcceptanceRate,
	}
	for _, pref := range profile.Preferences {
		def := s.registry.DefaultFor(agent, pref.Category, pref.Key)
		if !registry.ValueEqual(pref.Value, def) {
			summary.NonDefaultCount++
		}
	}
	for _, sg := range profile.Suggestions {
		switch sg.Status {
		case model.SuggestionPending:
			summary.PendingSuggestions++
		case model.SuggestionApproved:
			summary.ApprovedSuggestions++
		case model.SuggestionRejected:
			summary.RejectedSuggestions++
		}
	}
	if n := len(profile.Changes); n > 0 {
		at := profile.Changes[n-1].ChangedAt
		summary.LastChangeAt = &at
	}
	return summary, nil
}

// CompareToDefaults lists every registered preference with its current
// and default values for the agent, drifted entries flagged. Ordered by
// qualified key.
func (s *AuditService) CompareToDefaults(ctx context.Context, agent string) ([]DefaultComparison, error) {
	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}

	keys := s.registry.Keys()
	sort.Strings(keys)

	out := make([]DefaultComparison, 0, len(keys))
	for _, qualified := range keys {
		category, key, err := model.ParseQualifiedKey(qualified)
		if err != nil {
			continue // registry keys are always well formed
		}
		def := s.registry.DefaultFor(agent, category, key)
		cmp := DefaultComparison{
			Category:     category,
			Key:          key,
			CurrentValue: def,
			DefaultValue: def,
		}
		if pref := profile.Preference(category, key); pref != nil {
			cmp.CurrentValue = pref.Value
			src := pref.Source
			cmp.Source = &src
		}
		cmp.Drifted = !registry.ValueEqual(cmp.CurrentValue, def)
		out = append(out, cmp)
	}
	return out, nil
}

// ResetToDefault writes the registry default back to the profile with a
// history entry. Resetting a preference already at its default is a
// no-op write.
func (s *AuditService) ResetToDefault(ctx context.Context, agent, category, key string) (*model.UserPreference, error) {
	def := s.registry.DefaultFor(agent, category, key)
	if def == nil {
		return nil, fmt.Errorf("suggest: %s.%s: %w", category, key, registry.ErrUnknownPreference)
	}

	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}
	var oldValue any = def
	if pref := profile.Preference(category, key); pref != nil {
		oldValue = pref.Value
	}

	now := s.now().UTC()
	pref := model.UserPreference{
		Category:    category,
		Key:         key,
		Value:       def,
		Confidence:  1,
		Source:      model.SourceReset,
		LastUpdated: now,
	}
	change := model.PreferenceChange{
		Category:  category,
		Key:       key,
		OldValue:  oldValue,
		NewValue:  def,
		Source:    model.SourceReset,
		ChangedAt: now,
	}
	if err := s.profiles.SetPreference(ctx, agent, pref, change); err != nil {
		return nil, fmt.Errorf("suggest: reset preference: %w", err)
	}
	return &pref, nil
}

// ChangeHistory returns the profile's change entries, optionally
// filtered to one (category, key).
func (s *AuditService) ChangeHistory(ctx context.Context, agent, category, key string) ([]model.PreferenceChange, error) {
	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}
	if category == "" && key == "" {
		return profile.Changes, nil
	}
	var out []model.PreferenceChange
	for _, ch := range profile.Changes {
		if ch.Category == category && ch.Key == key {
			out = append(out, ch)
		}
	}
	return out, nil
}
