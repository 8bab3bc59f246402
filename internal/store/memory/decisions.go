package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) CreateDecision(ctx context.Context, d *model.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.ID.String()]; exists {
		return fmt.Errorf("memory: decision %s already exists", d.ID)
	}
	c := *d
	s.decisions[d.ID.String()] = &c
	s.decisionOrder = append(s.decisionOrder, d.ID.String())
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id uuid.UUID) (*model.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id.String()]
	if !ok {
		return nil, fmt.Errorf("memory: decision %s: %w", id, store.ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (s *Store) SetDecisionOutcome(ctx context.Context, id uuid.UUID, outcome model.DecisionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id.String()]
	if !ok {
		return fmt.Errorf("memory: decision %s: %w", id, store.ErrNotFound)
	}
	if d.Outcome != nil {
		return fmt.Errorf("memory: decision %s: %w", id, store.ErrOutcomeRecorded)
	}
	d.Outcome = &outcome
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, filter store.DecisionFilter, page model.Page) ([]*model.DecisionRecord, int, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*model.DecisionRecord
	for _, id := range s.decisionOrder {
		d := s.decisions[id]
		if filter.AgentName != "" && d.AgentName != filter.AgentName {
			continue
		}
		if filter.EventType != "" && d.TriggeringEventType != filter.EventType {
			continue
		}
		if !filter.Since.IsZero() && d.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && d.CreatedAt.After(filter.Until) {
			continue
		}
		c := *d
		matched = append(matched, &c)
	}
	out, total := paginate(matched, page)
	return out, total, nil
}
