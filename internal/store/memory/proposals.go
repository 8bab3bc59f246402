package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) CreateProposal(ctx context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ID]; exists {
		return fmt.Errorf("memory: proposal %s already exists", p.ID)
	}
	c := *p
	s.proposals[p.ID] = &c
	s.proposalOrder = append(s.proposalOrder, p.ID)
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("memory: proposal %s: %w", id, store.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *Store) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, decisionID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return fmt.Errorf("memory: proposal %s: %w", id, store.ErrNotFound)
	}
	settling := p.Status == model.ProposalEscalated &&
		(status == model.ProposalApproved || status == model.ProposalSuppressed)
	if p.Status != model.ProposalPending && !settling {
		return fmt.Errorf("memory: proposal %s is %s: %w", id, p.Status, store.ErrIllegalTransition)
	}
	p.Status = status
	p.DecisionID = decisionID
	return nil
}

func (s *Store) ListProposalsByStatus(ctx context.Context, status model.ProposalStatus) ([]*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Proposal
	for _, id := range s.proposalOrder {
		p := s.proposals[id]
		if p.Status != status {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListProposalsByIDs(ctx context.Context, ids []string) ([]*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Proposal, 0, len(ids))
	for _, id := range ids {
		p, ok := s.proposals[id]
		if !ok {
			return nil, fmt.Errorf("memory: proposal %s: %w", id, store.ErrNotFound)
		}
		c := *p
		out = append(out, &c)
	}
	return out, nil
}
