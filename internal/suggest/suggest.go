// Package suggest turns accumulated user feedback into preference
// suggestions and handles their lifecycle up to approval or rejection.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// ErrInvalidPreferenceValue signals a suggestion whose value fails
// registry validation.
var ErrInvalidPreferenceValue = errors.New("suggest: invalid preference value")

// Config tunes when feedback analysis produces suggestions.
type Config struct {
	// MinFeedbackForSuggestion is the number of feedback entries an area
	// needs before analysis considers it. Defaults to 5.
	MinFeedbackForSuggestion int

	// MinSuggestionConfidence is the majority share required for a
	// suggestion. Defaults to 0.6.
	MinSuggestionConfidence float64
}

func (c Config) withDefaults() Config {
	if c.MinFeedbackForSuggestion == 0 {
		c.MinFeedbackForSuggestion = 5
	}
	if c.MinSuggestionConfidence == 0 {
		c.MinSuggestionConfidence = 0.6
	}
	return c
}

// Service analyzes feedback and manages suggested preferences.
type Service struct {
	profiles store.Profiles
	registry *registry.Registry
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a suggestion service.
func New(profiles store.Profiles, reg *registry.Registry, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		profiles: profiles,
		registry: reg,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// feedbackArea is one (category, key) bucket of feedback entries. Entries
// name the preference they exercised in their context map under the
// "category", "key", and "value" keys.
type feedbackArea struct {
	category string
	key      string
	entries  []model.FeedbackEntry
}

// AnalyzeFeedback inspects the agent's feedback history and creates
// pending suggestions where a clear majority prefers a value different
// from the current preference. Returns the suggestions created.
func (s *Service) AnalyzeFeedback(ctx context.Context, agent string) ([]model.SuggestedPreference, error) {
	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}

	var created []model.SuggestedPreference
	for _, area := range groupFeedback(profile.Feedback) {
		if len(area.entries) < s.cfg.MinFeedbackForSuggestion {
			continue
		}

		preferred, confidence, learnedFrom := inferPreferred(area.entries)
		if preferred == nil || confidence < s.cfg.MinSuggestionConfidence {
			continue
		}

		current := s.currentValue(profile, agent, area.category, area.key)
		if registry.ValueEqual(current, preferred) {
			continue
		}

		if err := s.registry.Validate(area.category, area.key, preferred); err != nil {
			s.logger.Warn("suggest: inferred value failed validation",
				"agent", agent, "category", area.category, "key", area.key, "error", err)
			continue
		}

		// One pending suggestion per area at a time.
		if hasPending(profile, area.category, area.key) {
			continue
		}

		sg := model.SuggestedPreference{
			ID:             ulid.Make().String(),
			AgentName:      agent,
			Category:       area.category,
			Key:            area.key,
			CurrentValue:   current,
			SuggestedValue: preferred,
			Confidence:     confidence,
			Reason: fmt.Sprintf("%d of %d feedback entries preferred %v for %s.%s",
				len(learnedFrom), len(area.entries), preferred, area.category, area.key),
			LearnedFrom: learnedFrom,
			Status:      model.SuggestionPending,
			SuggestedAt: s.now().UTC(),
		}
		if err := s.profiles.AddSuggestion(ctx, agent, sg); err != nil {
			return created, fmt.Errorf("suggest: persist suggestion: %w", err)
		}
		created = append(created, sg)
	}
	return created, nil
}

// groupFeedback buckets entries by the (category, key) they exercised,
// in first-seen order. Entries without preference context are skipped.
func groupFeedback(entries []model.FeedbackEntry) []feedbackArea {
	var order []string
	byKey := make(map[string]*feedbackArea)
	for _, e := range entries {
		category, _ := e.Context["category"].(string)
		key, _ := e.Context["key"].(string)
		if category == "" || key == "" {
			continue
		}
		qualified := category + "." + key
		area, ok := byKey[qualified]
		if !ok {
			area = &feedbackArea{category: category, key: key}
			byKey[qualified] = area
			order = append(order, qualified)
		}
		area.entries = append(area.entries, e)
	}
	out := make([]feedbackArea, 0, len(order))
	for _, q := range order {
		out = append(out, *byKey[q])
	}
	return out
}

// inferPreferred picks the value with the most accepting feedback.
// Confidence is that value's accepted share of the whole area; ties
// break deterministically by the value's string form.
func inferPreferred(entries []model.FeedbackEntry) (any, float64, []string) {
	type tally struct {
		value    any
		accepted int
		ids      []string
	}
	byValue := make(map[string]*tally)
	for _, e := range entries {
		if !e.Accepted {
			continue
		}
		v, ok := e.Context["value"]
		if !ok {
			continue
		}
		k := fmt.Sprintf("%v", v)
		t, seen := byValue[k]
		if !seen {
			t = &tally{value: v}
			byValue[k] = t
		}
		t.accepted++
		t.ids = append(t.ids, e.ID)
	}
	if len(byValue) == 0 {
		return nil, 0, nil
	}

	keys := make([]string, 0, len(byValue))
	for k := range byValue {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := byValue[keys[i]], byValue[keys[j]]
		if a.accepted != b.accepted {
			return a.accepted > b.accepted
		}
		return keys[i] < keys[j]
	})

	best := byValue[keys[0]]
	return best.value, float64(best.accepted) / float64(len(entries)), best.ids
}

func (s *Service) currentValue(profile *model.LearningProfile, agent, category, key string) any {
	if pref := profile.Preference(category, key); pref != nil {
		return pref.Value
	}
	return s.registry.DefaultFor(agent, category, key)
}

func hasPending(profile *model.LearningProfile, category, key string) bool {
	for _, sg := range profile.Suggestions {
		if sg.Category == category && sg.Key == key && sg.Status == model.SuggestionPending {
			return true
		}
	}
	return false
}

// CreateManualSuggestion records an operator-authored suggestion after
// registry validation.
func (s *Service) CreateManualSuggestion(ctx context.Context, agent, category, key string, value any, reason string, confidence float64) (*model.SuggestedPreference, error) {
	if err := s.registry.Validate(category, key, value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferenceValue, err)
	}

	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}

	sg := model.SuggestedPreference{
		ID:             ulid.Make().String(),
		AgentName:      agent,
		Category:       category,
		Key:            key,
		CurrentValue:   s.currentValue(profile, agent, category, key),
		SuggestedValue: value,
		Confidence:     confidence,
		Reason:         reason,
		Status:         model.SuggestionPending,
		SuggestedAt:    s.now().UTC(),
	}
	if err := s.profiles.AddSuggestion(ctx, agent, sg); err != nil {
		return nil, fmt.Errorf("suggest: persist suggestion: %w", err)
	}
	return &sg, nil
}

// Approve applies a pending suggestion to the profile: the preference is
// written with source "suggestion" and the suggestion marked approved.
// Emitting domain events is the caller's concern.
func (s *Service) Approve(ctx context.Context, agent, id string) (*model.SuggestedPreference, error) {
	sg, err := s.profiles.GetSuggestion(ctx, agent, id)
	if err != nil {
		return nil, fmt.Errorf("suggest: load suggestion: %w", err)
	}
	if sg.Status != model.SuggestionPending {
		return nil, fmt.Errorf("suggest: suggestion %s is %s: %w", id, sg.Status, store.ErrIllegalTransition)
	}

	if err := s.registry.Validate(sg.Category, sg.Key, sg.SuggestedValue); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferenceValue, err)
	}

	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("suggest: load profile: %w", err)
	}
	oldValue := s.currentValue(profile, agent, sg.Category, sg.Key)

	now := s.now().UTC()
	pref := model.UserPreference{
		Category:    sg.Category,
		Key:         sg.Key,
		Value:       sg.SuggestedValue,
		Confidence:  sg.Confidence,
		Source:      model.SourceSuggestion,
		LastUpdated: now,
	}
	change := model.PreferenceChange{
		Category:  sg.Category,
		Key:       sg.Key,
		OldValue:  oldValue,
		NewValue:  sg.SuggestedValue,
		Source:    model.SourceSuggestion,
		ChangedAt: now,
	}
	if err := s.profiles.SetPreference(ctx, agent, pref, change); err != nil {
		return nil, fmt.Errorf("suggest: apply preference: %w", err)
	}

	sg.Status = model.SuggestionApproved
	sg.ResolvedAt = &now
	if err := s.profiles.UpdateSuggestion(ctx, agent, *sg); err != nil {
		return nil, fmt.Errorf("suggest: update suggestion: %w", err)
	}
	return sg, nil
}

// Reject marks a pending suggestion rejected with the given reason.
func (s *Service) Reject(ctx context.Context, agent, id, reason string) (*model.SuggestedPreference, error) {
	sg, err := s.profiles.GetSuggestion(ctx, agent, id)
	if err != nil {
		return nil, fmt.Errorf("suggest: load suggestion: %w", err)
	}
	if sg.Status != model.SuggestionPending {
		return nil, fmt.Errorf("suggest: suggestion %s is %s: %w", id, sg.Status, store.ErrIllegalTransition)
	}

	now := s.now().UTC()
	sg.Status = model.SuggestionRejected
	sg.ResolvedAt = &now
	sg.ResolutionReason = &reason
	if err := s.profiles.UpdateSuggestion(ctx, agent, *sg); err != nil {
		return nil, fmt.Errorf("suggest: update suggestion: %w", err)
	}
	return sg, nil
}
