package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) CreateConflict(ctx context.Context, c *model.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conflicts[c.ID.String()]; exists {
		return fmt.Errorf("memory: conflict %s already exists", c.ID)
	}
	cp := *c
	cp.ProposalIDs = copyStrings(c.ProposalIDs)
	s.conflicts[c.ID.String()] = &cp
	s.conflictOrder = append(s.conflictOrder, c.ID.String())
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id uuid.UUID) (*model.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id.String()]
	if !ok {
		return nil, fmt.Errorf("memory: conflict %s: %w", id, store.ErrNotFound)
	}
	cp := *c
	cp.ProposalIDs = copyStrings(c.ProposalIDs)
	return &cp, nil
}

func (s *Store) ResolveConflict(ctx context.Context, id, decisionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id.String()]
	if !ok {
		return fmt.Errorf("memory: conflict %s: %w", id, store.ErrNotFound)
	}
	if c.Resolved {
		return fmt.Errorf("memory: conflict %s: %w", id, store.ErrAlreadyResolved)
	}
	now := time.Now().UTC()
	c.Resolved = true
	c.ResolvedAt = &now
	c.DecisionID = &decisionID
	return nil
}

func (s *Store) ListUnresolvedConflicts(ctx context.Context) ([]*model.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Conflict
	for _, id := range s.conflictOrder {
		c := s.conflicts[id]
		if c.Resolved {
			continue
		}
		cp := *c
		cp.ProposalIDs = copyStrings(c.ProposalIDs)
		out = append(out, &cp)
	}
	return out, nil
}
