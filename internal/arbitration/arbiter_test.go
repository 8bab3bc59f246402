package arbitration_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/arbitration"
	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/integrity"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/proposal"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
)

type fixture struct {
	store     *memory.Store
	proposals *proposal.Service
	arbiter   *arbitration.Arbiter
	events    *[]model.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	b := bus.New()
	var events []model.Event
	b.Subscribe(bus.AllEvents, func(_ context.Context, ev model.Event) error {
		events = append(events, ev)
		return nil
	})
	logger := slog.New(slog.DiscardHandler)
	return &fixture{
		store:     st,
		proposals: proposal.New(st, st, b, logger),
		arbiter:   arbitration.New(st, st, st, st, nil, b, logger),
		events:    &events,
	}
}

func (f *fixture) submit(t *testing.T, agent, key string, value any, confidence float64, risk model.RiskLevel, cost float64) *model.Proposal {
	t.Helper()
	p, err := f.proposals.Submit(context.Background(), model.ProposalInput{
		AgentName:     agent,
		ActionType:    "preference_change",
		Target:        model.TargetRef{Type: "preference", ID: "user-1", Key: key},
		ProposedValue: value,
		Confidence:    confidence,
		RiskLevel:     risk,
		CostEstimate:  cost,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) conflict(t *testing.T) *model.Conflict {
	t.Helper()
	res, err := f.proposals.DetectConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	return res.Conflicts[0]
}

func (f *fixture) countEvents(typ model.EventType) int {
	n := 0
	for _, ev := range *f.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (f *fixture) status(t *testing.T, id string) model.ProposalStatus {
	t.Helper()
	p, err := f.store.GetProposal(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

// assertDecisionInvariants checks the properties every decision must
// hold: one factor per input proposal, the winner outside the suppressed
// and vetoed sets, and a verifiable content hash.
func assertDecisionInvariants(t *testing.T, d *model.ArbitrationDecision, inputs []*model.Proposal) {
	t.Helper()
	assert.Len(t, d.DecisionFactors, len(inputs))
	seen := make(map[string]int)
	for _, fac := range d.DecisionFactors {
		seen[fac.ProposalID]++
	}
	for _, p := range inputs {
		assert.Equal(t, 1, seen[p.ID], "proposal %s should have exactly one factor", p.ID)
	}
	if d.WinningProposalID != nil {
		assert.NotContains(t, d.SuppressedProposalIDs, *d.WinningProposalID)
		assert.NotContains(t, d.VetoedProposalIDs, *d.WinningProposalID)
	}
	assert.True(t, integrity.VerifyDecisionHash(d))
}

func TestPriorityStrategySelectsHigherPriorityAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Planner is more confident, but the built-in priority order puts
	// Coach first.
	coach := f.submit(t, "Coach", "comm.tone", "encouraging", 0.70, model.RiskLow, 0)
	planner := f.submit(t, "Planner", "comm.tone", "direct", 0.90, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeWinnerSelected, d.Outcome)
	require.NotNil(t, d.WinningProposalID)
	assert.Equal(t, coach.ID, *d.WinningProposalID)
	assert.Equal(t, []string{planner.ID}, d.SuppressedProposalIDs)
	assertDecisionInvariants(t, d, []*model.Proposal{coach, planner})

	byProposal := make(map[string]model.DecisionFactor)
	for _, fac := range d.DecisionFactors {
		byProposal[fac.ProposalID] = fac
	}
	assert.Equal(t, "priority_index", byProposal[coach.ID].Factor)
	assert.Equal(t, "0", byProposal[coach.ID].Value)
	assert.Equal(t, model.ImpactPositive, byProposal[coach.ID].Impact)
	assert.Equal(t, "1", byProposal[planner.ID].Value)
	assert.Equal(t, model.ImpactNegative, byProposal[planner.ID].Impact)

	assert.Equal(t, model.ProposalApproved, f.status(t, coach.ID))
	assert.Equal(t, model.ProposalSuppressed, f.status(t, planner.ID))

	assert.Equal(t, 1, f.countEvents(model.EventArbitrationResolved))
	assert.Equal(t, 1, f.countEvents(model.EventActionSuppressed))

	stored, err := f.store.GetConflict(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedAt)
}

func TestVetoRuleRejectsAllProposals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.VetoRules = []model.VetoRule{{
		Name:           "no-high-risk",
		ConditionType:  model.VetoRiskLevel,
		ConditionValue: "high",
	}}
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	a := f.submit(t, "Coach", "planning.auto_reschedule", true, 0.9, model.RiskHigh, 0)
	b := f.submit(t, "Planner", "planning.auto_reschedule", false, 0.8, model.RiskHigh, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeAllVetoed, d.Outcome)
	assert.Nil(t, d.WinningProposalID)
	assert.False(t, d.RequiresHumanApproval)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, d.VetoedProposalIDs)
	assertDecisionInvariants(t, d, []*model.Proposal{a, b})

	for _, fac := range d.DecisionFactors {
		assert.Equal(t, "veto_rule", fac.Factor)
		assert.Equal(t, "no-high-risk", fac.Value)
		assert.Equal(t, model.ImpactNegative, fac.Impact)
	}

	assert.Equal(t, model.ProposalVetoed, f.status(t, a.ID))
	assert.Equal(t, model.ProposalVetoed, f.status(t, b.ID))
}

func TestRiskThresholdEscalatesToHuman(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high := model.RiskHigh
	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.EscalationRule = model.EscalationRule{RiskThreshold: &high}
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	a := f.submit(t, "Coach", "planning.auto_reschedule", true, 0.75, model.RiskHigh, 0)
	b := f.submit(t, "Planner", "planning.auto_reschedule", false, 0.92, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeEscalated, d.Outcome)
	assert.True(t, d.RequiresHumanApproval)
	assert.False(t, d.Executed)
	assert.NotEmpty(t, d.EscalationReason)
	assertDecisionInvariants(t, d, []*model.Proposal{a, b})

	assert.Equal(t, model.ProposalEscalated, f.status(t, a.ID))
	assert.Equal(t, model.ProposalEscalated, f.status(t, b.ID))

	require.Equal(t, 1, f.countEvents(model.EventArbitrationEscalated))
	var ev model.Event
	for _, e := range *f.events {
		if e.Type == model.EventArbitrationEscalated {
			ev = e
		}
	}
	// Highest-confidence escalated proposal is suggested to the approver.
	assert.Equal(t, b.ID, ev.Payload["suggestedProposalId"])

	pending, total, err := f.store.ListPendingEscalations(ctx, model.Page{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, d.ID, pending[0].ID)
}

func TestEscalateOnVetoShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.VetoRules = []model.VetoRule{{
		Name:           "costly-actions-need-review",
		ConditionType:  model.VetoCost,
		ConditionValue: 50.0,
		EscalateOnVeto: true,
	}}
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	p := f.submit(t, "Planner", "planning.reschedule_window_hours", 48, 0.9, model.RiskMedium, 75.0)

	d, err := f.arbiter.ResolveProposal(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeEscalated, d.Outcome)
	assert.True(t, d.RequiresHumanApproval)
	assert.Contains(t, d.EscalationReason, "costly-actions-need-review")
	assert.Equal(t, model.ProposalEscalated, f.status(t, p.ID))
}

func TestWeightedStrategyScoresProposals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.Strategy = model.StrategyWeighted
	policy.Weights = model.StrategyWeights{Confidence: 1.0, Cost: 0.1, Risk: 0.2}
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	// Coach: 0.9 - 0.1*2 - 0.2*1 = 0.50; Planner: 0.8 - 0 - 0.2*1 = 0.60.
	coach := f.submit(t, "Coach", "comm.verbosity", "detailed", 0.90, model.RiskLow, 2.0)
	planner := f.submit(t, "Planner", "comm.verbosity", "brief", 0.80, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)

	require.NotNil(t, d.WinningProposalID)
	assert.Equal(t, planner.ID, *d.WinningProposalID)
	assertDecisionInvariants(t, d, []*model.Proposal{coach, planner})
	for _, fac := range d.DecisionFactors {
		assert.Equal(t, "score", fac.Factor)
	}
}

func TestWeightedTieBreaksOnSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.Strategy = model.StrategyWeighted
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	// Identical score and confidence: first submitted wins.
	first := f.submit(t, "Coach", "comm.tone", "neutral", 0.80, model.RiskLow, 0)
	_ = f.submit(t, "Planner", "comm.tone", "direct", 0.80, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, d.WinningProposalID)
	assert.Equal(t, first.ID, *d.WinningProposalID)
}

func TestConsensusAgreementWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.Strategy = model.StrategyConsensus
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	// Same canonical value spelled differently: consensus holds.
	a := f.submit(t, "Coach", "comm.daily_message_limit",
		map[string]any{"limit": 5, "mode": "soft"}, 0.8, model.RiskLow, 0)
	b := f.submit(t, "Planner", "comm.daily_message_limit",
		map[string]any{"mode": "soft", "limit": 5.0}, 0.7, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWinnerSelected, d.Outcome)
	require.NotNil(t, d.WinningProposalID)
	assert.Equal(t, a.ID, *d.WinningProposalID)
	assertDecisionInvariants(t, d, []*model.Proposal{a, b})
}

func TestConsensusDisagreementEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.Strategy = model.StrategyConsensus
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	f.submit(t, "Coach", "comm.tone", "neutral", 0.8, model.RiskLow, 0)
	f.submit(t, "Planner", "comm.tone", "direct", 0.7, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeEscalated, d.Outcome)
	assert.Equal(t, "no_clear_winner", d.EscalationReason)
}

func TestVetoStrategyFallsBackToConfidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.Strategy = model.StrategyVeto
	policy.VetoRules = []model.VetoRule{{
		Name:           "logger-cannot-change-preferences",
		ConditionType:  model.VetoAgentBlacklist,
		ConditionValue: []string{"Logger"},
	}}
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	coach := f.submit(t, "Coach", "comm.tone", "neutral", 0.70, model.RiskLow, 0)
	planner := f.submit(t, "Planner", "comm.tone", "direct", 0.85, model.RiskLow, 0)
	logger := f.submit(t, "Logger", "comm.tone", "warm", 0.99, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)

	require.NotNil(t, d.WinningProposalID)
	assert.Equal(t, planner.ID, *d.WinningProposalID)
	assert.Equal(t, []string{logger.ID}, d.VetoedProposalIDs)
	assert.Equal(t, []string{coach.ID}, d.SuppressedProposalIDs)
	assertDecisionInvariants(t, d, []*model.Proposal{coach, planner, logger})

	assert.Equal(t, model.ProposalVetoed, f.status(t, logger.ID))
}

func TestLoneProposalResolvesNoConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.submit(t, "Coach", "comm.tone", "neutral", 0.8, model.RiskLow, 0)

	d, err := f.arbiter.ResolveProposal(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeNoConflict, d.Outcome)
	require.NotNil(t, d.WinningProposalID)
	assert.Equal(t, p.ID, *d.WinningProposalID)
	assert.Empty(t, d.SuppressedProposalIDs)
	assertDecisionInvariants(t, d, []*model.Proposal{p})
	assert.Equal(t, model.ProposalApproved, f.status(t, p.ID))
	assert.Equal(t, 0, f.countEvents(model.EventActionSuppressed))
}

type fakeLocks struct{ locked map[string]bool }

func (f *fakeLocks) IsLocked(_ context.Context, agent, category, key string) bool {
	return f.locked[agent+"/"+category+"."+key]
}

func TestPreferenceLockVeto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	policy := arbitration.FallbackPolicy()
	policy.IsDefault = true
	policy.VetoRules = []model.VetoRule{{
		Name:          "respect-locks",
		ConditionType: model.VetoPreferenceLock,
	}}
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, policy))

	locks := &fakeLocks{locked: map[string]bool{"user-1/comm.tone": true}}
	arb := arbitration.New(f.store, f.store, f.store, f.store, locks, bus.New(), slog.New(slog.DiscardHandler))

	p := f.submit(t, "Coach", "comm.tone", "direct", 0.95, model.RiskLow, 0)

	d, err := arb.ResolveProposal(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAllVetoed, d.Outcome)
	assert.Equal(t, []string{p.ID}, d.VetoedProposalIDs)
}

func TestPreferenceScopePolicyOverridesDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := arbitration.FallbackPolicy()
	def.IsDefault = true
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, def))

	scoped := arbitration.FallbackPolicy()
	scoped.Name = "tone-consensus"
	scoped.IsDefault = false
	scoped.Scope = model.ScopePreference
	scoped.ScopeKey = "comm.tone"
	scoped.Strategy = model.StrategyConsensus
	require.NoError(t, f.store.UpsertArbitrationPolicy(ctx, scoped))

	f.submit(t, "Coach", "comm.tone", "neutral", 0.8, model.RiskLow, 0)
	f.submit(t, "Planner", "comm.tone", "direct", 0.7, model.RiskLow, 0)
	c := f.conflict(t)

	d, err := f.arbiter.ResolveConflict(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "tone-consensus", d.PolicyName)
	assert.Equal(t, model.StrategyConsensus, d.StrategyUsed)
}
