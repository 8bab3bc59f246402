package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/adaptation"
	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// EscalationService executes or rejects arbitration decisions that were
// escalated to a human. The decision record is reused: execution fields
// flip, everything else stays immutable.
type EscalationService struct {
	decisions store.ArbitrationDecisions
	proposals store.Proposals
	engine    *adaptation.Engine
	bus       *bus.Bus
	logger    *slog.Logger
	now       func() time.Time
}

// NewEscalationService creates an escalation resolution service.
func NewEscalationService(decisions store.ArbitrationDecisions, proposals store.Proposals, engine *adaptation.Engine, b *bus.Bus, logger *slog.Logger) *EscalationService {
	return &EscalationService{
		decisions: decisions,
		proposals: proposals,
		engine:    engine,
		bus:       b,
		logger:    logger,
		now:       time.Now,
	}
}

// Approve executes an escalated decision: the selected proposal (or the
// highest-confidence escalated one when none is named) is approved and,
// for preference targets, applied; the rest are suppressed. A second
// call returns ErrAlreadyExecuted.
func (s *EscalationService) Approve(ctx context.Context, decisionID uuid.UUID, approvedBy string, selectedProposalID *string) (*model.ArbitrationDecision, error) {
	_, escalated, err := s.loadPending(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	selected := highestConfidence(escalated)
	if selectedProposalID != nil {
		selected = nil
		for _, p := range escalated {
			if p.ID == *selectedProposalID {
				selected = p
				break
			}
		}
		if selected == nil {
			return nil, fmt.Errorf("approval: proposal %s is not escalated under decision %s", *selectedProposalID, decisionID)
		}
	}

	// Flipping the execution fields first makes a concurrent second
	// approval fail before any proposal settles twice.
	if err := s.decisions.MarkDecisionExecuted(ctx, decisionID, approvedBy, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("approval: mark executed: %w", err)
	}

	for _, p := range escalated {
		status := model.ProposalSuppressed
		if p.ID == selected.ID {
			status = model.ProposalApproved
		}
		if err := s.proposals.UpdateProposalStatus(ctx, p.ID, status, &decisionID); err != nil {
			return nil, fmt.Errorf("approval: settle proposal %s: %w", p.ID, err)
		}
	}

	if selected.Target.Type == "preference" {
		if _, err := s.engine.ApplyProposal(ctx, selected, decisionID); err != nil {
			return nil, fmt.Errorf("approval: apply approved proposal: %w", err)
		}
	}

	ev := model.NewEvent(model.EventEscalationApproved, "arbitration", decisionID.String(), map[string]any{
		"decisionId":         decisionID.String(),
		"approvedBy":         approvedBy,
		"selectedProposalId": selected.ID,
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("approval: publish escalation approved event", "error", err)
	}
	s.logger.Info("approval: escalation approved",
		"decisionId", decisionID,
		"approvedBy", approvedBy,
		"selectedProposalId", selected.ID)

	return s.decisions.GetArbitrationDecision(ctx, decisionID)
}

// Reject suppresses every escalated proposal and records the decision as
// executed so it leaves the pending queue.
func (s *EscalationService) Reject(ctx context.Context, decisionID uuid.UUID, reason, rejectedBy string) (*model.ArbitrationDecision, error) {
	_, escalated, err := s.loadPending(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	if err := s.decisions.MarkDecisionExecuted(ctx, decisionID, rejectedBy, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("approval: mark executed: %w", err)
	}
	for _, p := range escalated {
		if err := s.proposals.UpdateProposalStatus(ctx, p.ID, model.ProposalSuppressed, &decisionID); err != nil {
			return nil, fmt.Errorf("approval: suppress proposal %s: %w", p.ID, err)
		}
	}

	ev := model.NewEvent(model.EventEscalationRejected, "arbitration", decisionID.String(), map[string]any{
		"decisionId": decisionID.String(),
		"rejectedBy": rejectedBy,
		"reason":     reason,
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("approval: publish escalation rejected event", "error", err)
	}
	s.logger.Info("approval: escalation rejected",
		"decisionId", decisionID,
		"rejectedBy", rejectedBy,
		"reason", reason)

	return s.decisions.GetArbitrationDecision(ctx, decisionID)
}

// loadPending loads the decision and its still-escalated proposals,
// rejecting decisions that are not awaiting human review.
func (s *EscalationService) loadPending(ctx context.Context, decisionID uuid.UUID) (*model.ArbitrationDecision, []*model.Proposal, error) {
	d, err := s.decisions.GetArbitrationDecision(ctx, decisionID)
	if err != nil {
		return nil, nil, fmt.Errorf("approval: load decision: %w", err)
	}
	if d.Outcome != model.OutcomeEscalated {
		return nil, nil, fmt.Errorf("approval: decision %s outcome is %s: %w", decisionID, d.Outcome, store.ErrIllegalTransition)
	}
	if d.Executed {
		return nil, nil, fmt.Errorf("approval: decision %s: %w", decisionID, store.ErrAlreadyExecuted)
	}

	props, err := s.proposals.ListProposalsByIDs(ctx, d.ProposalIDs())
	if err != nil {
		return nil, nil, fmt.Errorf("approval: load proposals: %w", err)
	}
	var escalated []*model.Proposal
	for _, p := range props {
		if p.Status == model.ProposalEscalated {
			escalated = append(escalated, p)
		}
	}
	if len(escalated) == 0 {
		return nil, nil, fmt.Errorf("approval: decision %s has no escalated proposals", decisionID)
	}
	return d, escalated, nil
}

func highestConfidence(props []*model.Proposal) *model.Proposal {
	best := props[0]
	for _, p := range props[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best
}
