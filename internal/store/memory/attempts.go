package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) AppendAttempt(ctx context.Context, a *model.AdaptationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attempts[a.ID]; exists {
		return fmt.Errorf("memory: attempt %s already exists", a.ID)
	}
	c := *a
	s.attempts[a.ID] = &c
	s.attemptOrder = append(s.attemptOrder, a.ID)
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (*model.AdaptationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, fmt.Errorf("memory: attempt %s: %w", id, store.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (s *Store) ListAttempts(ctx context.Context, agentName string) ([]*model.AdaptationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.AdaptationAttempt
	for _, id := range s.attemptOrder {
		a := s.attempts[id]
		if agentName != "" && a.AgentName != agentName {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListAttemptsByDecision(ctx context.Context, decisionID uuid.UUID) ([]*model.AdaptationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.AdaptationAttempt
	for _, id := range s.attemptOrder {
		a := s.attempts[id]
		if a.DecisionID == nil || *a.DecisionID != decisionID {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) MarkAttemptRolledBack(ctx context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return fmt.Errorf("memory: attempt %s: %w", id, store.ErrNotFound)
	}
	if a.RolledBack {
		return fmt.Errorf("memory: attempt %s: %w", id, store.ErrAlreadyRolledBack)
	}
	a.RolledBack = true
	a.RolledBackAt = &at
	a.RollbackReason = &reason
	return nil
}
