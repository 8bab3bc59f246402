package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) UpsertArbitrationPolicy(ctx context.Context, p *model.ArbitrationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := p.ID.String()
	if _, exists := s.arbPolicies[id]; !exists {
		s.arbPolicyOrder = append(s.arbPolicyOrder, id)
	}
	s.arbPolicies[id] = cloneArbPolicy(p)
	return nil
}

func (s *Store) FindArbitrationPolicy(ctx context.Context, scope model.PolicyScope, scopeKey string) (*model.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.arbPolicyOrder {
		p := s.arbPolicies[id]
		if p.Scope == scope && p.ScopeKey == scopeKey {
			return cloneArbPolicy(p), nil
		}
	}
	return nil, fmt.Errorf("memory: arbitration policy %s/%s: %w", scope, scopeKey, store.ErrNotFound)
}

func (s *Store) GetDefaultArbitrationPolicy(ctx context.Context) (*model.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.arbPolicyOrder {
		if p := s.arbPolicies[id]; p.IsDefault {
			return cloneArbPolicy(p), nil
		}
	}
	return nil, fmt.Errorf("memory: default arbitration policy: %w", store.ErrNotFound)
}

func (s *Store) ListArbitrationPolicies(ctx context.Context) ([]*model.ArbitrationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ArbitrationPolicy, 0, len(s.arbPolicyOrder))
	for _, id := range s.arbPolicyOrder {
		out = append(out, cloneArbPolicy(s.arbPolicies[id]))
	}
	return out, nil
}

func (s *Store) CreateArbitrationDecision(ctx context.Context, d *model.ArbitrationDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := d.ID.String()
	if _, exists := s.arbDecisions[id]; exists {
		return fmt.Errorf("memory: arbitration decision %s already exists", id)
	}
	s.arbDecisions[id] = cloneArbDecision(d)
	s.arbDecisionOrder = append(s.arbDecisionOrder, id)
	return nil
}

func (s *Store) GetArbitrationDecision(ctx context.Context, id uuid.UUID) (*model.ArbitrationDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.arbDecisions[id.String()]
	if !ok {
		return nil, fmt.Errorf("memory: arbitration decision %s: %w", id, store.ErrNotFound)
	}
	return cloneArbDecision(d), nil
}

func (s *Store) ListArbitrationDecisions(ctx context.Context, escalated *bool, page model.Page) ([]*model.ArbitrationDecision, int, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*model.ArbitrationDecision
	for _, id := range s.arbDecisionOrder {
		d := s.arbDecisions[id]
		if escalated != nil && (d.Outcome == model.OutcomeEscalated) != *escalated {
			continue
		}
		matched = append(matched, cloneArbDecision(d))
	}
	// Newest first.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	out, total := paginate(matched, page)
	return out, total, nil
}

func (s *Store) ListPendingEscalations(ctx context.Context, page model.Page) ([]*model.ArbitrationDecision, int, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*model.ArbitrationDecision
	for _, id := range s.arbDecisionOrder {
		d := s.arbDecisions[id]
		if d.Outcome == model.OutcomeEscalated && !d.Executed {
			matched = append(matched, cloneArbDecision(d))
		}
	}
	out, total := paginate(matched, page)
	return out, total, nil
}

func (s *Store) MarkDecisionExecuted(ctx context.Context, id uuid.UUID, executedBy string, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.arbDecisions[id.String()]
	if !ok {
		return fmt.Errorf("memory: arbitration decision %s: %w", id, store.ErrNotFound)
	}
	if d.Executed {
		return fmt.Errorf("memory: arbitration decision %s: %w", id, store.ErrAlreadyExecuted)
	}
	d.Executed = true
	d.ExecutedAt = &executedAt
	d.ExecutedBy = &executedBy
	d.RequiresHumanApproval = false
	return nil
}

func cloneArbPolicy(p *model.ArbitrationPolicy) *model.ArbitrationPolicy {
	c := *p
	c.PriorityOrder = copyStrings(p.PriorityOrder)
	c.VetoRules = append([]model.VetoRule(nil), p.VetoRules...)
	c.EscalationRule.AlwaysEscalateAgents = copyStrings(p.EscalationRule.AlwaysEscalateAgents)
	return &c
}

func cloneArbDecision(d *model.ArbitrationDecision) *model.ArbitrationDecision {
	c := *d
	c.SuppressedProposalIDs = copyStrings(d.SuppressedProposalIDs)
	c.VetoedProposalIDs = copyStrings(d.VetoedProposalIDs)
	c.DecisionFactors = append([]model.DecisionFactor(nil), d.DecisionFactors...)
	return &c
}
