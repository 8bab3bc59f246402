package adaptation_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/adaptation"
	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
)

type fixture struct {
	policies *adaptation.PolicyService
	engine   *adaptation.Engine
	store    *memory.Store
	bus      *bus.Bus
	events   *[]model.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.Load()
	require.NoError(t, err)
	st := memory.New()
	b := bus.New()
	logger := slog.New(slog.DiscardHandler)

	var events []model.Event
	b.Subscribe(bus.AllEvents, func(_ context.Context, ev model.Event) error {
		events = append(events, ev)
		return nil
	})

	policies := adaptation.NewPolicyService(st, reg, logger)
	engine := adaptation.NewEngine(policies, st, st, reg, b, nil, logger)
	return &fixture{policies: policies, engine: engine, store: st, bus: b, events: &events}
}

func suggestion(category, key string, value any, confidence float64) model.SuggestedPreference {
	return model.SuggestedPreference{
		ID:             ulid.Make().String(),
		Category:       category,
		Key:            key,
		SuggestedValue: value,
		Confidence:     confidence,
		Status:         model.SuggestionPending,
		SuggestedAt:    time.Now().UTC(),
	}
}

func zero() *time.Duration {
	d := time.Duration(0)
	return &d
}

func TestDefaultPolicyIsConservative(t *testing.T) {
	f := newFixture(t)
	p, err := f.policies.GetOrCreate(context.Background(), "Coach")
	require.NoError(t, err)
	assert.Equal(t, model.ModeManual, p.Mode)
	assert.False(t, p.UserOptedIn)
	assert.Equal(t, 0.7, p.MinConfidence)
	assert.Equal(t, []model.RiskLevel{model.RiskLow}, p.AllowedRiskLevels)
}

func TestOptOutBlocksApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	require.NotNil(t, res.Attempt)
	assert.Equal(t, model.AttemptBlocked, res.Attempt.Result)
	assert.Equal(t, model.BlockUserNotOptedIn, res.Attempt.BlockReason)

	profile, err := f.store.GetOrCreateProfile(ctx, "Coach")
	require.NoError(t, err)
	assert.Nil(t, profile.Preference("comm", "tone"))
}

func TestCooldownBlocksSecondApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cd := time.Minute
	_, err := f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: &cd})
	require.NoError(t, err)

	first, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptApplied, first.Attempt.Result)

	second, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "verbosity", "detailed", 0.9))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptBlocked, second.Attempt.Result)
	assert.Equal(t, model.BlockCooldownNotElapsed, second.Attempt.BlockReason)
}

func TestRateLimitBlocksThirdApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{
		Cooldown:  zero(),
		RateLimit: &model.AdaptationRateLimit{MaxChanges: 2, Window: time.Hour},
	})
	require.NoError(t, err)

	first, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptApplied, first.Attempt.Result)

	second, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "verbosity", "detailed", 0.9))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptApplied, second.Attempt.Result)

	third, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("logging", "detail_level", "verbose", 0.9))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptBlocked, third.Attempt.Result)
	assert.Equal(t, model.BlockRateLimitExceeded, third.Attempt.BlockReason)
}

func TestSkipWhenAlreadyAtValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: zero()})
	require.NoError(t, err)

	first, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	require.Equal(t, model.AttemptApplied, first.Attempt.Result)

	again, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptSkipped, again.Attempt.Result)
	assert.Equal(t, model.SkipAlreadyAtValue, again.Attempt.BlockReason)
}

func TestEvaluateCheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Non-adaptive preference fails first even when everything else
	// would block too.
	eval, err := f.policies.Evaluate(ctx, "Coach", "logging", "retention_days", 0.99, model.RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, model.BlockPreferenceNotAdaptive, eval.BlockReason)

	// Opt-in precedes everything after adaptivity.
	eval, err = f.policies.Evaluate(ctx, "Coach", "comm", "tone", 0.1, model.RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, model.BlockUserNotOptedIn, eval.BlockReason)

	_, err = f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: zero()})
	require.NoError(t, err)

	// Lock beats risk and confidence.
	require.NoError(t, f.policies.LockPreference(ctx, "Coach", "comm", "tone"))
	eval, err = f.policies.Evaluate(ctx, "Coach", "comm", "tone", 0.1, model.RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, model.BlockPreferenceLocked, eval.BlockReason)
	require.NoError(t, f.policies.UnlockPreference(ctx, "Coach", "comm", "tone"))

	// Risk beats confidence.
	eval, err = f.policies.Evaluate(ctx, "Coach", "planning", "auto_reschedule", 0.1, model.RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, model.BlockRiskLevelNotAllowed, eval.BlockReason)

	// Confidence is last: threshold is max(policy, registry).
	eval, err = f.policies.Evaluate(ctx, "Coach", "comm", "tone", 0.65, model.RiskLow)
	require.NoError(t, err)
	assert.Equal(t, model.BlockConfidenceTooLow, eval.BlockReason)
	assert.Equal(t, 0.7, eval.EffectiveConfidenceThreshold)
}

func TestScopeRestrictionOverridesConfidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: zero()})
	require.NoError(t, err)

	higher := 0.95
	require.NoError(t, f.policies.SetScopeRestriction(ctx, "Coach", model.ScopeRestriction{
		Category: "comm", Key: "tone", MinConfidence: &higher,
	}))

	eval, err := f.policies.Evaluate(ctx, "Coach", "comm", "tone", 0.9, model.RiskLow)
	require.NoError(t, err)
	assert.Equal(t, model.BlockConfidenceTooLow, eval.BlockReason)
	assert.Equal(t, 0.95, eval.EffectiveConfidenceThreshold)
}

func TestAppliedAttemptCarriesPolicySnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: zero(), MinConfidence: 0.8})
	require.NoError(t, err)

	res, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	require.Equal(t, model.AttemptApplied, res.Attempt.Result)
	snap := res.Attempt.PolicySnapshot
	assert.Equal(t, model.ModeAuto, snap.Mode)
	assert.True(t, snap.UserOptedIn)
	assert.Equal(t, 0.8, snap.MinConfidence)
	assert.Equal(t, []model.RiskLevel{model.RiskLow}, snap.AllowedRiskLevels)
}

func TestRollbackRestoresDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: zero()})
	require.NoError(t, err)

	res, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	require.Equal(t, model.AttemptApplied, res.Attempt.Result)

	rolled, err := f.engine.Rollback(ctx, res.Attempt.ID, "user request")
	require.NoError(t, err)
	assert.True(t, rolled.RolledBack)

	profile, err := f.store.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref := profile.Preference("comm", "tone")
	require.NotNil(t, pref)
	assert.Equal(t, "encouraging", pref.Value)
	assert.Equal(t, model.SourceRollback, pref.Source)

	// Second rollback is rejected.
	_, err = f.engine.Rollback(ctx, res.Attempt.ID, "again")
	assert.ErrorIs(t, err, store.ErrAlreadyRolledBack)
}

func TestRollbackRejectsBlockedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)
	require.Equal(t, model.AttemptBlocked, res.Attempt.Result)

	_, err = f.engine.Rollback(ctx, res.Attempt.ID, "nope")
	assert.ErrorIs(t, err, adaptation.ErrNotApplied)
}

func TestBlockedAttemptEmitsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ProcessSuggestion(ctx, "Coach", suggestion("comm", "tone", "neutral", 0.9))
	require.NoError(t, err)

	var blocked int
	for _, ev := range *f.events {
		if ev.Type == model.EventPreferenceAutoBlocked {
			blocked++
		}
	}
	assert.Equal(t, 1, blocked)
}

func TestArbitratedModeSubmitsProposal(t *testing.T) {
	reg, err := registry.Load()
	require.NoError(t, err)
	st := memory.New()
	b := bus.New()
	logger := slog.New(slog.DiscardHandler)
	policies := adaptation.NewPolicyService(st, reg, logger)

	sub := &captureSubmitter{}
	engine := adaptation.NewEngine(policies, st, st, reg, b, sub, logger)
	ctx := context.Background()

	_, err = policies.EnableAuto(ctx, "Coach", adaptation.EnableOptions{Cooldown: zero()})
	require.NoError(t, err)

	sg := suggestion("comm", "tone", "neutral", 0.9)
	res, err := engine.ProcessSuggestion(ctx, "Coach", sg)
	require.NoError(t, err)
	assert.Nil(t, res.Attempt)
	require.NotNil(t, res.Proposal)
	assert.Equal(t, "preference", sub.last.Target.Type)
	assert.Equal(t, "comm.tone", sub.last.Target.Key)
	require.NotNil(t, sub.last.SuggestionID)
	assert.Equal(t, sg.ID, *sub.last.SuggestionID)

	// Nothing applied and no attempt persisted until arbitration settles.
	attempts, err := st.ListAttempts(ctx, "Coach")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

type captureSubmitter struct {
	last model.ProposalInput
}

func (c *captureSubmitter) Submit(_ context.Context, in model.ProposalInput) (*model.Proposal, error) {
	c.last = in
	return &model.Proposal{ID: ulid.Make().String(), Status: model.ProposalPending}, nil
}

func TestRollbackMissingAttempt(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Rollback(context.Background(), "nope", "reason")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
