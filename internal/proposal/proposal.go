// Package proposal accepts agent action proposals and detects conflicts
// among pending ones. Proposals targeting the same resource collide;
// arbitration settles who wins.
package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/oklog/ulid/v2"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// Service persists proposals and groups pending ones into conflicts.
type Service struct {
	proposals store.Proposals
	conflicts store.Conflicts
	bus       *bus.Bus
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a proposal service.
func New(proposals store.Proposals, conflicts store.Conflicts, b *bus.Bus, logger *slog.Logger) *Service {
	return &Service{proposals: proposals, conflicts: conflicts, bus: b, logger: logger, now: time.Now}
}

// Submit validates and persists a pending proposal, then announces it.
func (s *Service) Submit(ctx context.Context, in model.ProposalInput) (*model.Proposal, error) {
	if err := model.ValidateAgentName(in.AgentName); err != nil {
		return nil, fmt.Errorf("proposal: %w", err)
	}
	if in.ActionType == "" {
		return nil, fmt.Errorf("proposal: action type is required")
	}
	if in.Target.Type == "" || in.Target.ID == "" {
		return nil, fmt.Errorf("proposal: target type and id are required")
	}
	if err := model.ValidateConfidence(in.Confidence); err != nil {
		return nil, fmt.Errorf("proposal: %w", err)
	}

	p := &model.Proposal{
		ID:                 ulid.Make().String(),
		AgentName:          in.AgentName,
		ActionType:         in.ActionType,
		Target:             in.Target,
		ProposedValue:      in.ProposedValue,
		Confidence:         in.Confidence,
		CostEstimate:       in.CostEstimate,
		RiskLevel:          in.RiskLevel,
		OriginatingEventID: in.OriginatingEventID,
		SuggestionID:       in.SuggestionID,
		Status:             model.ProposalPending,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.proposals.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("proposal: persist: %w", err)
	}

	ev := model.NewEvent(model.EventProposalSubmitted, in.Target.Type, in.Target.ID, map[string]any{
		"proposalId": p.ID,
		"agentName":  p.AgentName,
		"actionType": p.ActionType,
		"targetKey":  p.Target.TargetKey(),
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("proposal: publish submitted event", "error", err)
	}
	return p, nil
}

// DetectionResult is the outcome of one conflict sweep.
type DetectionResult struct {
	Conflicts    []*model.Conflict `json:"conflicts"`
	Unconflicted []*model.Proposal `json:"unconflicted"`
}

// DetectConflicts groups pending proposals by target key. Singleton
// groups are unconflicted; larger groups become persisted conflicts. The
// conflict type is mutually_exclusive when canonicalized proposed values
// differ within the group, same_target otherwise.
func (s *Service) DetectConflicts(ctx context.Context) (*DetectionResult, error) {
	pending, err := s.proposals.ListProposalsByStatus(ctx, model.ProposalPending)
	if err != nil {
		return nil, fmt.Errorf("proposal: list pending: %w", err)
	}

	// Proposals already inside an unresolved conflict wait for
	// arbitration; sweeping them again would double-report.
	claimed := make(map[string]bool)
	unresolved, err := s.conflicts.ListUnresolvedConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("proposal: list unresolved conflicts: %w", err)
	}
	for _, c := range unresolved {
		for _, id := range c.ProposalIDs {
			claimed[id] = true
		}
	}

	groups := make(map[string][]*model.Proposal)
	var order []string
	for _, p := range pending {
		if claimed[p.ID] {
			continue
		}
		key := p.Target.TargetKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	result := &DetectionResult{}
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			result.Unconflicted = append(result.Unconflicted, group...)
			continue
		}

		conflictType := model.ConflictSameTarget
		first := CanonicalValue(group[0].ProposedValue)
		for _, p := range group[1:] {
			if CanonicalValue(p.ProposedValue) != first {
				conflictType = model.ConflictMutuallyExclusive
				break
			}
		}

		ids := make([]string, len(group))
		agents := make([]string, len(group))
		for i, p := range group {
			ids[i] = p.ID
			agents[i] = p.AgentName
		}

		c := &model.Conflict{
			ID:           uuid.New(),
			ProposalIDs:  ids,
			ConflictType: conflictType,
			Target:       key,
			Description:  fmt.Sprintf("%d proposals from %v target %s", len(group), agents, key),
			DetectedAt:   s.now().UTC(),
		}
		if err := s.conflicts.CreateConflict(ctx, c); err != nil {
			return nil, fmt.Errorf("proposal: persist conflict: %w", err)
		}
		result.Conflicts = append(result.Conflicts, c)

		ev := model.NewEvent(model.EventAgentConflictDetected, "conflict", c.ID.String(), map[string]any{
			"conflictId":   c.ID.String(),
			"conflictType": string(conflictType),
			"target":       key,
			"proposalIds":  ids,
		})
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.logger.Warn("proposal: publish conflict event", "error", err)
		}
	}
	return result, nil
}

// CanonicalValue renders a proposed value as RFC 8785 canonical JSON so
// structurally equal values compare equal regardless of field order or
// numeric spelling. Unencodable values fall back to their Go string form.
func CanonicalValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return string(raw)
	}
	return string(canon)
}
