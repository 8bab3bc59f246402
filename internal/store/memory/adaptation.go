package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) GetAdaptationPolicy(ctx context.Context, agentName string) (*model.AdaptationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.adaptPolicies[agentName]
	if !ok {
		return nil, fmt.Errorf("memory: adaptation policy for %s: %w", agentName, store.ErrNotFound)
	}
	return cloneAdaptPolicy(p), nil
}

func (s *Store) SaveAdaptationPolicy(ctx context.Context, p *model.AdaptationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adaptPolicies[p.AgentName] = cloneAdaptPolicy(p)
	return nil
}

// RecordAutoChange is the exclusive section behind auto-apply: the
// cooldown and window re-check plus the counter advance happen under one
// lock so concurrent applies cannot exceed MaxChanges or slip inside the
// cooldown.
func (s *Store) RecordAutoChange(ctx context.Context, agentName string, now time.Time) (*model.AdaptationPolicy, model.BlockReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.adaptPolicies[agentName]
	if !ok {
		return nil, "", fmt.Errorf("memory: adaptation policy for %s: %w", agentName, store.ErrNotFound)
	}

	if p.Cooldown > 0 && p.LastAutoAdaptAt != nil && now.Sub(*p.LastAutoAdaptAt) < p.Cooldown {
		return cloneAdaptPolicy(p), model.BlockCooldownNotElapsed, nil
	}

	if p.RateLimit.MaxChanges > 0 {
		if p.WindowStartedAt == nil || now.Sub(*p.WindowStartedAt) >= p.RateLimit.Window {
			start := now
			p.WindowStartedAt = &start
			p.CurrentWindowCount = 0
		}
		if p.CurrentWindowCount >= p.RateLimit.MaxChanges {
			return cloneAdaptPolicy(p), model.BlockRateLimitExceeded, nil
		}
		p.CurrentWindowCount++
	}

	at := now
	p.LastAutoAdaptAt = &at
	p.UpdatedAt = now
	return cloneAdaptPolicy(p), "", nil
}

func cloneAdaptPolicy(p *model.AdaptationPolicy) *model.AdaptationPolicy {
	c := *p
	c.AllowedRiskLevels = append([]model.RiskLevel(nil), p.AllowedRiskLevels...)
	c.ScopeRestrictions = append([]model.ScopeRestriction(nil), p.ScopeRestrictions...)
	if p.LastAutoAdaptAt != nil {
		t := *p.LastAutoAdaptAt
		c.LastAutoAdaptAt = &t
	}
	if p.WindowStartedAt != nil {
		t := *p.WindowStartedAt
		c.WindowStartedAt = &t
	}
	return &c
}
