package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) GetOrCreateProfile(ctx context.Context, agentName string) (*model.LearningProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[agentName]
	if !ok {
		now := time.Now().UTC()
		p = &model.LearningProfile{AgentName: agentName, CreatedAt: now, UpdatedAt: now}
		s.profiles[agentName] = p
		s.profileOrder = append(s.profileOrder, agentName)
	}
	return cloneProfile(p), nil
}

func (s *Store) GetProfile(ctx context.Context, agentName string) (*model.LearningProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentName]
	if !ok {
		return nil, fmt.Errorf("memory: profile %s: %w", agentName, store.ErrNotFound)
	}
	return cloneProfile(p), nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]*model.LearningProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.LearningProfile, 0, len(s.profileOrder))
	for _, name := range s.profileOrder {
		out = append(out, cloneProfile(s.profiles[name]))
	}
	return out, nil
}

func (s *Store) SetPreference(ctx context.Context, agentName string, pref model.UserPreference, change model.PreferenceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profileLocked(agentName)
	replaced := false
	for i := range p.Preferences {
		if p.Preferences[i].Category == pref.Category && p.Preferences[i].Key == pref.Key {
			p.Preferences[i] = pref
			replaced = true
			break
		}
	}
	if !replaced {
		p.Preferences = append(p.Preferences, pref)
	}
	p.Changes = append(p.Changes, change)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendFeedback(ctx context.Context, agentName string, entry model.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profileLocked(agentName)
	p.Feedback = append(p.Feedback, entry)
	p.TotalFeedbackReceived++
	accepted := 0
	for _, f := range p.Feedback {
		if f.Accepted {
			accepted++
		}
	}
	p.OverallAcceptanceRate = float64(accepted) / float64(len(p.Feedback))
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AddSuggestion(ctx context.Context, agentName string, sg model.SuggestedPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profileLocked(agentName)
	p.Suggestions = append(p.Suggestions, sg)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateSuggestion(ctx context.Context, agentName string, sg model.SuggestedPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[agentName]
	if !ok {
		return fmt.Errorf("memory: profile %s: %w", agentName, store.ErrNotFound)
	}
	for i := range p.Suggestions {
		if p.Suggestions[i].ID == sg.ID {
			p.Suggestions[i] = sg
			p.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("memory: suggestion %s: %w", sg.ID, store.ErrNotFound)
}

func (s *Store) GetSuggestion(ctx context.Context, agentName, id string) (*model.SuggestedPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentName]
	if !ok {
		return nil, fmt.Errorf("memory: profile %s: %w", agentName, store.ErrNotFound)
	}
	for i := range p.Suggestions {
		if p.Suggestions[i].ID == id {
			sg := p.Suggestions[i]
			return &sg, nil
		}
	}
	return nil, fmt.Errorf("memory: suggestion %s: %w", id, store.ErrNotFound)
}

func (s *Store) ListSuggestions(ctx context.Context, status model.SuggestionStatus, agentName string) ([]model.SuggestedPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SuggestedPreference
	for _, name := range s.profileOrder {
		if agentName != "" && name != agentName {
			continue
		}
		for _, sg := range s.profiles[name].Suggestions {
			if status != "" && sg.Status != status {
				continue
			}
			out = append(out, sg)
		}
	}
	return out, nil
}

// profileLocked returns the live profile, creating it if absent.
// Caller must hold the write lock.
func (s *Store) profileLocked(agentName string) *model.LearningProfile {
	p, ok := s.profiles[agentName]
	if !ok {
		now := time.Now().UTC()
		p = &model.LearningProfile{AgentName: agentName, CreatedAt: now, UpdatedAt: now}
		s.profiles[agentName] = p
		s.profileOrder = append(s.profileOrder, agentName)
	}
	return p
}

func cloneProfile(p *model.LearningProfile) *model.LearningProfile {
	out := *p
	out.Preferences = append([]model.UserPreference(nil), p.Preferences...)
	out.Feedback = append([]model.FeedbackEntry(nil), p.Feedback...)
	out.Suggestions = append([]model.SuggestedPreference(nil), p.Suggestions...)
	out.Changes = append([]model.PreferenceChange(nil), p.Changes...)
	return &out
}
