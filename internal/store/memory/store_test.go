package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
)

func TestProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.GetProfile(ctx, "Coach")
	assert.ErrorIs(t, err, store.ErrNotFound)

	p, err := s.GetOrCreateProfile(ctx, "Coach")
	require.NoError(t, err)
	assert.Equal(t, "Coach", p.AgentName)
	assert.Empty(t, p.Preferences)

	pref := model.UserPreference{Category: "comm", Key: "tone", Value: "neutral", Confidence: 0.9, Source: model.SourceSuggestion, LastUpdated: time.Now()}
	change := model.PreferenceChange{Category: "comm", Key: "tone", OldValue: nil, NewValue: "neutral", Source: model.SourceSuggestion, ChangedAt: time.Now()}
	require.NoError(t, s.SetPreference(ctx, "Coach", pref, change))

	// Second write to the same key replaces the value and appends history.
	pref.Value = "direct"
	change.OldValue, change.NewValue = "neutral", "direct"
	require.NoError(t, s.SetPreference(ctx, "Coach", pref, change))

	p, err = s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, p.Preferences, 1)
	assert.Equal(t, "direct", p.Preferences[0].Value)
	assert.Len(t, p.Changes, 2)
}

func TestProfileClonedOnRead(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.GetOrCreateProfile(ctx, "Coach")
	require.NoError(t, err)
	require.NoError(t, s.SetPreference(ctx, "Coach",
		model.UserPreference{Category: "comm", Key: "tone", Value: "neutral"},
		model.PreferenceChange{Category: "comm", Key: "tone", NewValue: "neutral"}))

	p1, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	p1.Preferences[0].Value = "mutated"

	p2, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	assert.Equal(t, "neutral", p2.Preferences[0].Value, "store must not observe caller mutations")
}

func TestAppendFeedbackUpdatesAcceptanceRate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for _, accepted := range []bool{true, true, false, true} {
		require.NoError(t, s.AppendFeedback(ctx, "Coach", model.FeedbackEntry{
			ID:       uuid.NewString(),
			Accepted: accepted,
		}))
	}

	p, err := s.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	assert.Equal(t, 4, p.TotalFeedbackReceived)
	assert.InDelta(t, 0.75, p.OverallAcceptanceRate, 1e-9)
}

func TestSuggestionFiltering(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.AddSuggestion(ctx, "Coach", model.SuggestedPreference{ID: "s1", Status: model.SuggestionPending}))
	require.NoError(t, s.AddSuggestion(ctx, "Coach", model.SuggestedPreference{ID: "s2", Status: model.SuggestionApproved}))
	require.NoError(t, s.AddSuggestion(ctx, "Planner", model.SuggestedPreference{ID: "s3", Status: model.SuggestionPending}))

	all, err := s.ListSuggestions(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := s.ListSuggestions(ctx, model.SuggestionPending, "")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	coachPending, err := s.ListSuggestions(ctx, model.SuggestionPending, "Coach")
	require.NoError(t, err)
	require.Len(t, coachPending, 1)
	assert.Equal(t, "s1", coachPending[0].ID)

	got, err := s.GetSuggestion(ctx, "Coach", "s2")
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionApproved, got.Status)

	got.Status = model.SuggestionRejected
	require.NoError(t, s.UpdateSuggestion(ctx, "Coach", *got))
	got, err = s.GetSuggestion(ctx, "Coach", "s2")
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionRejected, got.Status)
}

func TestDecisionOutcomeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	d := &model.DecisionRecord{ID: uuid.New(), AgentName: "Coach", CreatedAt: time.Now()}
	require.NoError(t, s.CreateDecision(ctx, d))

	outcome := model.DecisionOutcome{UserAccepted: true, RecordedAt: time.Now()}
	require.NoError(t, s.SetDecisionOutcome(ctx, d.ID, outcome))

	err := s.SetDecisionOutcome(ctx, d.ID, outcome)
	assert.ErrorIs(t, err, store.ErrOutcomeRecorded)

	err = s.SetDecisionOutcome(ctx, uuid.New(), outcome)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListDecisionsFilters(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	base := time.Now().UTC()

	for i, agent := range []string{"Coach", "Coach", "Planner"} {
		require.NoError(t, s.CreateDecision(ctx, &model.DecisionRecord{
			ID:                  uuid.New(),
			AgentName:           agent,
			TriggeringEventType: "SessionMissed",
			CreatedAt:           base.Add(time.Duration(i) * time.Minute),
		}))
	}

	coach, total, err := s.ListDecisions(ctx, store.DecisionFilter{AgentName: "Coach"}, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, coach, 2)

	late, total, err := s.ListDecisions(ctx, store.DecisionFilter{Since: base.Add(90 * time.Second)}, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, late, 1)
	assert.Equal(t, "Planner", late[0].AgentName)
}

func TestProposalSingleTransition(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	p := &model.Proposal{ID: "p1", AgentName: "Coach", Status: model.ProposalPending, CreatedAt: time.Now()}
	require.NoError(t, s.CreateProposal(ctx, p))

	decisionID := uuid.New()
	require.NoError(t, s.UpdateProposalStatus(ctx, "p1", model.ProposalApproved, &decisionID))

	err := s.UpdateProposalStatus(ctx, "p1", model.ProposalSuppressed, &decisionID)
	assert.ErrorIs(t, err, store.ErrIllegalTransition)

	got, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)
	require.NotNil(t, got.DecisionID)
	assert.Equal(t, decisionID, *got.DecisionID)
}

func TestConflictResolveOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	c := &model.Conflict{ID: uuid.New(), ProposalIDs: []string{"p1", "p2"}, ConflictType: model.ConflictSameTarget, DetectedAt: time.Now()}
	require.NoError(t, s.CreateConflict(ctx, c))

	unresolved, err := s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)

	decisionID := uuid.New()
	require.NoError(t, s.ResolveConflict(ctx, c.ID, decisionID))
	assert.ErrorIs(t, s.ResolveConflict(ctx, c.ID, decisionID), store.ErrAlreadyResolved)

	unresolved, err = s.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}

func TestArbitrationPolicyLookup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	def := &model.ArbitrationPolicy{ID: uuid.New(), Name: "default", Scope: model.ScopeGlobal, IsDefault: true}
	byAgent := &model.ArbitrationPolicy{ID: uuid.New(), Name: "coach", Scope: model.ScopeAgent, ScopeKey: "Coach"}
	require.NoError(t, s.UpsertArbitrationPolicy(ctx, def))
	require.NoError(t, s.UpsertArbitrationPolicy(ctx, byAgent))

	got, err := s.FindArbitrationPolicy(ctx, model.ScopeAgent, "Coach")
	require.NoError(t, err)
	assert.Equal(t, "coach", got.Name)

	_, err = s.FindArbitrationPolicy(ctx, model.ScopePreference, "comm.tone")
	assert.ErrorIs(t, err, store.ErrNotFound)

	d, err := s.GetDefaultArbitrationPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "default", d.Name)
}

func TestPendingEscalations(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	esc := &model.ArbitrationDecision{ID: uuid.New(), Outcome: model.OutcomeEscalated, RequiresHumanApproval: true, CreatedAt: time.Now()}
	won := &model.ArbitrationDecision{ID: uuid.New(), Outcome: model.OutcomeWinnerSelected, CreatedAt: time.Now().Add(time.Second)}
	require.NoError(t, s.CreateArbitrationDecision(ctx, esc))
	require.NoError(t, s.CreateArbitrationDecision(ctx, won))

	pending, total, err := s.ListPendingEscalations(ctx, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, esc.ID, pending[0].ID)

	require.NoError(t, s.MarkDecisionExecuted(ctx, esc.ID, "admin", time.Now()))
	assert.ErrorIs(t, s.MarkDecisionExecuted(ctx, esc.ID, "admin", time.Now()), store.ErrAlreadyExecuted)

	pending, total, err = s.ListPendingEscalations(ctx, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, pending)

	got, err := s.GetArbitrationDecision(ctx, esc.ID)
	require.NoError(t, err)
	assert.True(t, got.Executed)
	assert.False(t, got.RequiresHumanApproval)

	escOnly := true
	escalated, _, err := s.ListArbitrationDecisions(ctx, &escOnly, model.Page{}.Normalize())
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, esc.ID, escalated[0].ID)
}

func TestRecordAutoChangeCooldown(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	require.NoError(t, s.SaveAdaptationPolicy(ctx, &model.AdaptationPolicy{
		ID:        uuid.New(),
		AgentName: "Coach",
		Cooldown:  time.Minute,
		RateLimit: model.AdaptationRateLimit{MaxChanges: 10, Window: time.Hour},
	}))

	p, reason, err := s.RecordAutoChange(ctx, "Coach", now)
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, 1, p.CurrentWindowCount)

	_, reason, err = s.RecordAutoChange(ctx, "Coach", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.BlockCooldownNotElapsed, reason)

	_, reason, err = s.RecordAutoChange(ctx, "Coach", now.Add(61*time.Second))
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestRecordAutoChangeRateWindow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	require.NoError(t, s.SaveAdaptationPolicy(ctx, &model.AdaptationPolicy{
		ID:        uuid.New(),
		AgentName: "Coach",
		RateLimit: model.AdaptationRateLimit{MaxChanges: 2, Window: time.Hour},
	}))

	for i := 0; i < 2; i++ {
		_, reason, err := s.RecordAutoChange(ctx, "Coach", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Empty(t, reason)
	}

	_, reason, err := s.RecordAutoChange(ctx, "Coach", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.BlockRateLimitExceeded, reason)

	// Window elapsed: counter resets.
	p, reason, err := s.RecordAutoChange(ctx, "Coach", now.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, 1, p.CurrentWindowCount)
}

func TestRecordAutoChangeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	require.NoError(t, s.SaveAdaptationPolicy(ctx, &model.AdaptationPolicy{
		ID:        uuid.New(),
		AgentName: "Coach",
		RateLimit: model.AdaptationRateLimit{MaxChanges: 2, Window: time.Hour},
	}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, reason, err := s.RecordAutoChange(ctx, "Coach", now)
			if err == nil && reason == "" {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, applied, "concurrent applies must not exceed MaxChanges")
}

func TestAttemptsInsertionOrderAndRollback(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, s.AppendAttempt(ctx, &model.AdaptationAttempt{ID: id, AgentName: "Coach", Result: model.AttemptApplied}))
	}

	list, err := s.ListAttempts(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, "a3", list[2].ID)

	require.NoError(t, s.MarkAttemptRolledBack(ctx, "a2", time.Now(), "operator request"))
	assert.ErrorIs(t, s.MarkAttemptRolledBack(ctx, "a2", time.Now(), "again"), store.ErrAlreadyRolledBack)

	got, err := s.GetAttempt(ctx, "a2")
	require.NoError(t, err)
	assert.True(t, got.RolledBack)
	require.NotNil(t, got.RollbackReason)
	assert.Equal(t, "operator request", *got.RollbackReason)
}

func TestIdempotencyFlow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	// First begin: caller owns processing.
	lookup, err := s.BeginIdempotency(ctx, "u1", "POST /x", "key1", "hash1")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)

	// Same key while in progress: conflict.
	_, err = s.BeginIdempotency(ctx, "u1", "POST /x", "key1", "hash1")
	assert.ErrorIs(t, err, store.ErrIdempotencyInProgress)

	// Same key, different payload: mismatch.
	_, err = s.BeginIdempotency(ctx, "u1", "POST /x", "key1", "other")
	assert.ErrorIs(t, err, store.ErrIdempotencyPayloadMismatch)

	// Complete, then replay.
	require.NoError(t, s.CompleteIdempotency(ctx, "u1", "POST /x", "key1", 200, []byte(`{"ok":true}`), map[string]string{"Content-Type": "application/json"}))
	lookup, err = s.BeginIdempotency(ctx, "u1", "POST /x", "key1", "hash1")
	require.NoError(t, err)
	assert.True(t, lookup.Completed)
	assert.Equal(t, 200, lookup.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(lookup.Body))

	// Different user sees a fresh key space.
	lookup, err = s.BeginIdempotency(ctx, "u2", "POST /x", "key1", "hash1")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestIdempotencyClearAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.BeginIdempotency(ctx, "u1", "POST /x", "key1", "h")
	require.NoError(t, err)
	require.NoError(t, s.ClearInProgressIdempotency(ctx, "u1", "POST /x", "key1"))

	// After clearing, the key can be reserved again.
	lookup, err := s.BeginIdempotency(ctx, "u1", "POST /x", "key1", "h")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)

	require.NoError(t, s.CompleteIdempotency(ctx, "u1", "POST /x", "key1", 200, []byte("{}"), nil))
	removed, err := s.CleanupIdempotencyKeys(ctx, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestRefreshTokens(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	userID := uuid.New()

	for _, jti := range []string{"j1", "j2"} {
		require.NoError(t, s.PutRefreshToken(ctx, &model.RefreshToken{
			JTI: jti, UserID: userID, ExpiresAt: time.Now().Add(time.Hour),
		}))
	}

	require.NoError(t, s.RevokeRefreshToken(ctx, "j1", time.Now()))
	tok, err := s.GetRefreshToken(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, tok.Revoked(time.Now()))

	n, err := s.RevokeAllRefreshTokens(ctx, userID, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "only the remaining live token is revoked")
}

func TestJournalQuery(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	base := time.Now().UTC()

	entries := []model.JournalEntry{
		{ID: uuid.New(), Kind: model.JournalEvent, Type: "ProposalSubmitted", AgentName: "Coach", RecordedAt: base},
		{ID: uuid.New(), Kind: model.JournalEvent, Type: "ArbitrationResolved", AgentName: "Planner", RecordedAt: base.Add(time.Minute)},
		{ID: uuid.New(), Kind: model.JournalMutation, Type: "ProposalSubmitted", AgentName: "Coach", RecordedAt: base.Add(2 * time.Minute)},
	}
	require.NoError(t, s.AppendJournalEntries(ctx, entries))

	byType, total, err := s.QueryJournal(ctx, model.JournalFilter{Type: "ProposalSubmitted"}, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byType, 2)

	byAgent, total, err := s.QueryJournal(ctx, model.JournalFilter{AgentName: "Planner"}, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byAgent, 1)

	window, total, err := s.QueryJournal(ctx, model.JournalFilter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)}, model.Page{}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, window, 1)
	assert.Equal(t, "ArbitrationResolved", window[0].Type)
}
