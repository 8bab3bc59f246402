package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/store/postgres"
	"github.com/tazuna-ai/tazuna/internal/testutil"
)

// testStore holds a shared connection for all tests in this package.
var testStore *postgres.Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testStore, err = tc.NewTestStore(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test store: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testStore.Close()
	tc.Terminate()
	os.Exit(code)
}

func agentName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestProfiles_PreferencesAndFeedback(t *testing.T) {
	ctx := context.Background()
	agent := agentName("profile")
	now := time.Now().UTC()

	created, err := testStore.GetOrCreateProfile(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, agent, created.AgentName)
	assert.Empty(t, created.Preferences)

	err = testStore.SetPreference(ctx, agent, model.UserPreference{
		Category: "comm", Key: "tone", Value: "direct",
		Confidence: 0.9, Source: model.SourceManual, LastUpdated: now,
	}, model.PreferenceChange{
		Category: "comm", Key: "tone", NewValue: "direct",
		Source: model.SourceManual, ChangedAt: now,
	})
	require.NoError(t, err)

	// Same (category, key) replaces in place.
	err = testStore.SetPreference(ctx, agent, model.UserPreference{
		Category: "comm", Key: "tone", Value: "gentle",
		Confidence: 0.8, Source: model.SourceManual, LastUpdated: now,
	}, model.PreferenceChange{
		Category: "comm", Key: "tone", OldValue: "direct", NewValue: "gentle",
		Source: model.SourceManual, ChangedAt: now,
	})
	require.NoError(t, err)

	p, err := testStore.GetProfile(ctx, agent)
	require.NoError(t, err)
	require.Len(t, p.Preferences, 1)
	assert.Equal(t, "gentle", p.Preferences[0].Value)
	assert.Len(t, p.Changes, 2)

	require.NoError(t, testStore.AppendFeedback(ctx, agent, model.FeedbackEntry{Accepted: true}))
	require.NoError(t, testStore.AppendFeedback(ctx, agent, model.FeedbackEntry{Accepted: false}))
	p, err = testStore.GetProfile(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TotalFeedbackReceived)
	assert.InDelta(t, 0.5, p.OverallAcceptanceRate, 1e-9)
}

func TestProfiles_UnknownAgentNotFound(t *testing.T) {
	_, err := testStore.GetProfile(context.Background(), agentName("absent"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSuggestions_UpdateAndFilter(t *testing.T) {
	ctx := context.Background()
	agent := agentName("suggest")
	sg := model.SuggestedPreference{
		ID: uuid.NewString(), AgentName: agent,
		Category: "comm", Key: "verbosity", SuggestedValue: "brief",
		Confidence: 0.8, Status: model.SuggestionPending,
		SuggestedAt: time.Now().UTC(),
	}
	require.NoError(t, testStore.AddSuggestion(ctx, agent, sg))

	sg.Status = model.SuggestionApproved
	require.NoError(t, testStore.UpdateSuggestion(ctx, agent, sg))

	got, err := testStore.GetSuggestion(ctx, agent, sg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionApproved, got.Status)

	pending, err := testStore.ListSuggestions(ctx, model.SuggestionPending, agent)
	require.NoError(t, err)
	assert.Empty(t, pending)

	approved, err := testStore.ListSuggestions(ctx, model.SuggestionApproved, agent)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, sg.ID, approved[0].ID)

	missing := model.SuggestedPreference{ID: uuid.NewString()}
	err = testStore.UpdateSuggestion(ctx, agent, missing)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDecisions_OutcomeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	d := &model.DecisionRecord{
		ID:                  uuid.New(),
		AgentName:           agentName("decider"),
		TriggeringEventType: "session.missed",
		DecisionType:        "motivational_message",
		ReasoningSource:     model.ReasoningFallback,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, testStore.CreateDecision(ctx, d))

	outcome := model.DecisionOutcome{UserAccepted: true, RecordedAt: time.Now().UTC()}
	require.NoError(t, testStore.SetDecisionOutcome(ctx, d.ID, outcome))

	err := testStore.SetDecisionOutcome(ctx, d.ID, outcome)
	require.ErrorIs(t, err, store.ErrOutcomeRecorded)

	got, err := testStore.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Outcome)
	assert.True(t, got.Outcome.UserAccepted)
}

func TestDecisions_FilterAndPagination(t *testing.T) {
	ctx := context.Background()
	agent := agentName("lister")
	for i := 0; i < 3; i++ {
		require.NoError(t, testStore.CreateDecision(ctx, &model.DecisionRecord{
			ID:                  uuid.New(),
			AgentName:           agent,
			TriggeringEventType: "workout.logged",
			CreatedAt:           time.Now().UTC(),
		}))
	}

	page1, total, err := testStore.ListDecisions(ctx, store.DecisionFilter{AgentName: agent}, model.Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page1, 2)

	page2, total, err := testStore.ListDecisions(ctx, store.DecisionFilter{AgentName: agent}, model.Page{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page2, 1)

	none, total, err := testStore.ListDecisions(ctx, store.DecisionFilter{AgentName: agent, EventType: "other"}, model.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestProposals_Transitions(t *testing.T) {
	ctx := context.Background()
	p := &model.Proposal{
		ID:        uuid.NewString(),
		AgentName: agentName("proposer"),
		Status:    model.ProposalPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, testStore.CreateProposal(ctx, p))

	decisionID := uuid.New()
	require.NoError(t, testStore.UpdateProposalStatus(ctx, p.ID, model.ProposalEscalated, &decisionID))

	// Escalated settles to approved on human review.
	require.NoError(t, testStore.UpdateProposalStatus(ctx, p.ID, model.ProposalApproved, &decisionID))

	// Settled proposals admit no further transitions.
	err := testStore.UpdateProposalStatus(ctx, p.ID, model.ProposalSuppressed, nil)
	require.ErrorIs(t, err, store.ErrIllegalTransition)

	got, err := testStore.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)
	require.NotNil(t, got.DecisionID)
	assert.Equal(t, decisionID, *got.DecisionID)
}

func TestProposals_ListByIDsMissing(t *testing.T) {
	_, err := testStore.ListProposalsByIDs(context.Background(), []string{uuid.NewString()})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConflicts_ResolveOnlyOnce(t *testing.T) {
	ctx := context.Background()
	c := &model.Conflict{
		ID:           uuid.New(),
		ProposalIDs:  []string{uuid.NewString(), uuid.NewString()},
		ConflictType: model.ConflictSameTarget,
		DetectedAt:   time.Now().UTC(),
	}
	require.NoError(t, testStore.CreateConflict(ctx, c))

	unresolved, err := testStore.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	found := false
	for _, u := range unresolved {
		if u.ID == c.ID {
			found = true
		}
	}
	assert.True(t, found)

	decisionID := uuid.New()
	require.NoError(t, testStore.ResolveConflict(ctx, c.ID, decisionID))
	err = testStore.ResolveConflict(ctx, c.ID, decisionID)
	require.ErrorIs(t, err, store.ErrAlreadyResolved)

	got, err := testStore.GetConflict(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.DecisionID)
	assert.Equal(t, decisionID, *got.DecisionID)
}

func TestArbitrationPolicies_FindAndDefault(t *testing.T) {
	ctx := context.Background()
	scopeKey := "Coach-" + uuid.NewString()[:8]
	p := &model.ArbitrationPolicy{
		ID:       uuid.New(),
		Name:     "per-agent",
		Scope:    model.ScopeAgent,
		ScopeKey: scopeKey,
		Strategy: model.StrategyPriority,
	}
	require.NoError(t, testStore.UpsertArbitrationPolicy(ctx, p))

	got, err := testStore.FindArbitrationPolicy(ctx, model.ScopeAgent, scopeKey)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = testStore.FindArbitrationPolicy(ctx, model.ScopeAgent, "nope-"+uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)

	// Upsert with the same ID replaces the row.
	p.Strategy = model.StrategyWeighted
	require.NoError(t, testStore.UpsertArbitrationPolicy(ctx, p))
	got, err = testStore.FindArbitrationPolicy(ctx, model.ScopeAgent, scopeKey)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyWeighted, got.Strategy)
}

func TestArbitrationDecisions_ExecuteOnlyOnce(t *testing.T) {
	ctx := context.Background()
	d := &model.ArbitrationDecision{
		ID:                    uuid.New(),
		PolicyID:              uuid.New(),
		Outcome:               model.OutcomeEscalated,
		RequiresHumanApproval: true,
		CreatedAt:             time.Now().UTC(),
	}
	require.NoError(t, testStore.CreateArbitrationDecision(ctx, d))

	pending, total, err := testStore.ListPendingEscalations(ctx, model.Page{Page: 1, PageSize: 100})
	require.NoError(t, err)
	require.Positive(t, total)
	found := false
	for _, e := range pending {
		if e.ID == d.ID {
			found = true
		}
	}
	assert.True(t, found)

	executedAt := time.Now().UTC()
	require.NoError(t, testStore.MarkDecisionExecuted(ctx, d.ID, "root", executedAt))
	err = testStore.MarkDecisionExecuted(ctx, d.ID, "root", executedAt)
	require.ErrorIs(t, err, store.ErrAlreadyExecuted)

	got, err := testStore.GetArbitrationDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Executed)
	assert.False(t, got.RequiresHumanApproval)
	require.NotNil(t, got.ExecutedBy)
	assert.Equal(t, "root", *got.ExecutedBy)
}

func TestAdaptationPolicy_DurationsSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	agent := agentName("durations")
	p := &model.AdaptationPolicy{
		ID:            uuid.New(),
		AgentName:     agent,
		Mode:          model.ModeAuto,
		UserOptedIn:   true,
		MinConfidence: 0.8,
		Cooldown:      30 * time.Minute,
		RateLimit:     model.AdaptationRateLimit{MaxChanges: 3, Window: 24 * time.Hour},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, testStore.SaveAdaptationPolicy(ctx, p))

	got, err := testStore.GetAdaptationPolicy(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got.Cooldown)
	assert.Equal(t, 24*time.Hour, got.RateLimit.Window)
}

func TestRecordAutoChange_CooldownAndRateWindow(t *testing.T) {
	ctx := context.Background()
	agent := agentName("autochange")
	p := &model.AdaptationPolicy{
		ID:          uuid.New(),
		AgentName:   agent,
		Mode:        model.ModeAuto,
		UserOptedIn: true,
		Cooldown:    10 * time.Minute,
		RateLimit:   model.AdaptationRateLimit{MaxChanges: 2, Window: time.Hour},
	}
	require.NoError(t, testStore.SaveAdaptationPolicy(ctx, p))

	base := time.Now().UTC()

	_, reason, err := testStore.RecordAutoChange(ctx, agent, base)
	require.NoError(t, err)
	assert.Empty(t, reason)

	// Inside cooldown.
	_, reason, err = testStore.RecordAutoChange(ctx, agent, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.BlockCooldownNotElapsed, reason)

	// Cooldown elapsed, second change fits the window.
	_, reason, err = testStore.RecordAutoChange(ctx, agent, base.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reason)

	// Third change inside the window exceeds MaxChanges.
	_, reason, err = testStore.RecordAutoChange(ctx, agent, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.BlockRateLimitExceeded, reason)

	// A fresh window resets the counter.
	got, reason, err := testStore.RecordAutoChange(ctx, agent, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, 1, got.CurrentWindowCount)
}

func TestAttempts_RollbackOnlyOnce(t *testing.T) {
	ctx := context.Background()
	agent := agentName("attempts")
	decisionID := uuid.New()
	a := &model.AdaptationAttempt{
		ID:         uuid.NewString(),
		AgentName:  agent,
		Category:   "comm",
		Key:        "tone",
		Result:     model.AttemptApplied,
		PolicyID:   uuid.New(),
		DecisionID: &decisionID,
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, testStore.AppendAttempt(ctx, a))

	byDecision, err := testStore.ListAttemptsByDecision(ctx, decisionID)
	require.NoError(t, err)
	require.Len(t, byDecision, 1)
	assert.Equal(t, a.ID, byDecision[0].ID)

	at := time.Now().UTC()
	require.NoError(t, testStore.MarkAttemptRolledBack(ctx, a.ID, at, "operator request"))
	err = testStore.MarkAttemptRolledBack(ctx, a.ID, at, "again")
	require.ErrorIs(t, err, store.ErrAlreadyRolledBack)

	got, err := testStore.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.RolledBack)
	require.NotNil(t, got.RollbackReason)
	assert.Equal(t, "operator request", *got.RollbackReason)
}

func TestIdempotency_ReplayAndMismatch(t *testing.T) {
	ctx := context.Background()
	userID := uuid.NewString()
	endpoint := "POST /admin/suggestions/:id/approve"
	key := "idem-" + uuid.NewString()

	lookup, err := testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)

	body := []byte(`{"status":"approved"}`)
	err = testStore.CompleteIdempotency(ctx, userID, endpoint, key, 200, body, map[string]string{"Content-Type": "application/json"})
	require.NoError(t, err)

	replay, err := testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.NoError(t, err)
	assert.True(t, replay.Completed)
	assert.Equal(t, 200, replay.StatusCode)
	assert.Equal(t, body, replay.Body)
	assert.Equal(t, "application/json", replay.Headers["Content-Type"])

	_, err = testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-b")
	require.ErrorIs(t, err, store.ErrIdempotencyPayloadMismatch)
}

func TestIdempotency_ClearAllowsRetry(t *testing.T) {
	ctx := context.Background()
	userID := uuid.NewString()
	endpoint := "POST /admin/preferences/rollback"
	key := "idem-" + uuid.NewString()

	_, err := testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.NoError(t, err)

	_, err = testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.ErrorIs(t, err, store.ErrIdempotencyInProgress)

	require.NoError(t, testStore.ClearInProgressIdempotency(ctx, userID, endpoint, key))

	lookup, err := testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestIdempotency_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	userID := uuid.NewString()
	endpoint := "POST /admin/arbitrations/:id/rollback"
	key := "idem-" + uuid.NewString()

	_, err := testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.NoError(t, err)

	// Artificially age the reservation past the in-progress TTL.
	_, err = testStore.Pool().Exec(ctx,
		`UPDATE idempotency_keys SET updated_at = now() - interval '30 minutes'
		 WHERE user_id = $1 AND endpoint = $2 AND idempotency_key = $3`,
		userID, endpoint, key,
	)
	require.NoError(t, err)

	removed, err := testStore.CleanupIdempotencyKeys(ctx, 24*time.Hour, 15*time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))

	lookup, err := testStore.BeginIdempotency(ctx, userID, endpoint, key, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestAdminUsersAndRefreshTokens(t *testing.T) {
	ctx := context.Background()
	username := "op-" + uuid.NewString()[:8]
	u := &model.AdminUser{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		Role:         model.RoleOperator,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, testStore.UpsertAdminUser(ctx, u))

	got, err := testStore.GetAdminUser(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
	assert.Equal(t, model.RoleOperator, got.Role)

	// Two live tokens for the user, then revoke all on reuse detection.
	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		require.NoError(t, testStore.PutRefreshToken(ctx, &model.RefreshToken{
			JTI:       uuid.NewString(),
			UserID:    u.ID,
			Username:  username,
			Role:      u.Role,
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}))
	}
	revoked, err := testStore.RevokeAllRefreshTokens(ctx, u.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	// Expired tokens get cleaned up.
	jti := uuid.NewString()
	require.NoError(t, testStore.PutRefreshToken(ctx, &model.RefreshToken{
		JTI:       jti,
		UserID:    u.ID,
		Username:  username,
		Role:      u.Role,
		ExpiresAt: now.Add(-time.Hour),
		CreatedAt: now.Add(-2 * time.Hour),
	}))
	removed, err := testStore.CleanupRefreshTokens(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))
	_, err = testStore.GetRefreshToken(ctx, jti)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestJournal_FilterByTypeAndWindow(t *testing.T) {
	ctx := context.Background()
	agent := agentName("journal")
	base := time.Now().UTC()
	entries := []model.JournalEntry{
		{ID: uuid.New(), Kind: model.JournalEvent, Type: "workout.logged", AgentName: agent, RecordedAt: base},
		{ID: uuid.New(), Kind: model.JournalMutation, Type: "preference_rollback", AgentName: agent, RecordedAt: base.Add(time.Second)},
	}
	require.NoError(t, testStore.AppendJournalEntries(ctx, entries))

	got, total, err := testStore.QueryJournal(ctx, model.JournalFilter{
		AgentName: agent,
		Type:      "preference_rollback",
	}, model.Page{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, model.JournalMutation, got[0].Kind)

	got, total, err = testStore.QueryJournal(ctx, model.JournalFilter{
		AgentName: agent,
		Until:     base.Add(500 * time.Millisecond),
	}, model.Page{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, "workout.logged", got[0].Type)
}
