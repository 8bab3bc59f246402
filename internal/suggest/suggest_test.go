package suggest_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
	"github.com/tazuna-ai/tazuna/internal/suggest"
)

func newService(t *testing.T) (*suggest.Service, *memory.Store, *registry.Registry) {
	t.Helper()
	reg, err := registry.Load()
	require.NoError(t, err)
	st := memory.New()
	svc := suggest.New(st, reg, suggest.Config{}, slog.New(slog.DiscardHandler))
	return svc, st, reg
}

// seedFeedback appends n feedback entries for (category, key), accepted
// entries carrying the given value.
func seedFeedback(t *testing.T, st *memory.Store, agent, category, key string, value any, accepted, rejected int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < accepted; i++ {
		require.NoError(t, st.AppendFeedback(ctx, agent, model.FeedbackEntry{
			ID:       fmt.Sprintf("fb-%s-acc-%d", key, i),
			Accepted: true,
			Context:  map[string]any{"category": category, "key": key, "value": value},
		}))
	}
	for i := 0; i < rejected; i++ {
		require.NoError(t, st.AppendFeedback(ctx, agent, model.FeedbackEntry{
			ID:       fmt.Sprintf("fb-%s-rej-%d", key, i),
			Accepted: false,
			Context:  map[string]any{"category": category, "key": key, "value": value},
		}))
	}
}

func TestAnalyzeFeedbackCreatesSuggestion(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	// 6 of 8 entries accepted "direct" tone; current default is "encouraging".
	seedFeedback(t, st, "Coach", "comm", "tone", "direct", 6, 2)

	created, err := svc.AnalyzeFeedback(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, created, 1)

	sg := created[0]
	assert.Equal(t, "comm", sg.Category)
	assert.Equal(t, "tone", sg.Key)
	assert.Equal(t, "direct", sg.SuggestedValue)
	assert.Equal(t, "encouraging", sg.CurrentValue)
	assert.InDelta(t, 0.75, sg.Confidence, 1e-9)
	assert.Equal(t, model.SuggestionPending, sg.Status)
	assert.Len(t, sg.LearnedFrom, 6)
}

func TestAnalyzeFeedbackBelowMinimum(t *testing.T) {
	svc, st, _ := newService(t)
	seedFeedback(t, st, "Coach", "comm", "tone", "direct", 3, 0)

	created, err := svc.AnalyzeFeedback(context.Background(), "Coach")
	require.NoError(t, err)
	assert.Empty(t, created, "fewer than MinFeedbackForSuggestion entries")
}

func TestAnalyzeFeedbackLowConfidence(t *testing.T) {
	svc, st, _ := newService(t)
	// 3 of 6 accepted: share 0.5 below the 0.6 floor.
	seedFeedback(t, st, "Coach", "comm", "tone", "direct", 3, 3)

	created, err := svc.AnalyzeFeedback(context.Background(), "Coach")
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestAnalyzeFeedbackAlreadyAtValue(t *testing.T) {
	svc, st, _ := newService(t)
	seedFeedback(t, st, "Coach", "comm", "tone", "encouraging", 6, 0)

	created, err := svc.AnalyzeFeedback(context.Background(), "Coach")
	require.NoError(t, err)
	assert.Empty(t, created, "preferred value equals the current default")
}

func TestAnalyzeFeedbackSkipsInvalidValues(t *testing.T) {
	svc, st, _ := newService(t)
	seedFeedback(t, st, "Coach", "comm", "tone", "sarcastic", 6, 0)

	created, err := svc.AnalyzeFeedback(context.Background(), "Coach")
	require.NoError(t, err)
	assert.Empty(t, created, "out-of-domain value must not become a suggestion")
}

func TestAnalyzeFeedbackNoDuplicatePending(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	seedFeedback(t, st, "Coach", "comm", "tone", "direct", 6, 0)

	first, err := svc.AnalyzeFeedback(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.AnalyzeFeedback(ctx, "Coach")
	require.NoError(t, err)
	assert.Empty(t, second, "one pending suggestion per area")
}

func TestCreateManualSuggestion(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	sg, err := svc.CreateManualSuggestion(ctx, "Planner", "planning", "reschedule_window_hours", 48, "user asked for a wider window", 0.9)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionPending, sg.Status)
	assert.Equal(t, 48, sg.SuggestedValue)

	_, err = svc.CreateManualSuggestion(ctx, "Planner", "planning", "reschedule_window_hours", 500, "too wide", 0.9)
	assert.ErrorIs(t, err, suggest.ErrInvalidPreferenceValue)

	_, err = svc.CreateManualSuggestion(ctx, "Planner", "planning", "nope", true, "unknown key", 0.9)
	assert.ErrorIs(t, err, suggest.ErrInvalidPreferenceValue)
}

func TestApproveSuggestion(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	sg, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "neutral", "test", 0.8)
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, "Coach", sg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionApproved, approved.Status)
	require.NotNil(t, approved.ResolvedAt)

	profile, err := st.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	pref := profile.Preference("comm", "tone")
	require.NotNil(t, pref)
	assert.Equal(t, "neutral", pref.Value)
	assert.Equal(t, model.SourceSuggestion, pref.Source)
	require.Len(t, profile.Changes, 1)
	assert.Equal(t, "encouraging", profile.Changes[0].OldValue)

	// Approving again is an illegal transition.
	_, err = svc.Approve(ctx, "Coach", sg.ID)
	assert.ErrorIs(t, err, store.ErrIllegalTransition)
}

func TestRejectSuggestion(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	sg, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "test", 0.8)
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, "Coach", sg.ID, "not wanted")
	require.NoError(t, err)
	assert.Equal(t, model.SuggestionRejected, rejected.Status)
	require.NotNil(t, rejected.ResolutionReason)
	assert.Equal(t, "not wanted", *rejected.ResolutionReason)

	profile, err := st.GetProfile(ctx, "Coach")
	require.NoError(t, err)
	assert.Nil(t, profile.Preference("comm", "tone"), "rejection must not touch the preference")

	_, err = svc.Reject(ctx, "Coach", sg.ID, "again")
	assert.ErrorIs(t, err, store.ErrIllegalTransition)
}

func TestAuditSummary(t *testing.T) {
	svc, st, reg := newService(t)
	audit := suggest.NewAuditService(st, reg, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	seedFeedback(t, st, "Coach", "comm", "tone", "direct", 6, 2)
	created, err := svc.AnalyzeFeedback(ctx, "Coach")
	require.NoError(t, err)
	require.Len(t, created, 1)
	_, err = svc.Approve(ctx, "Coach", created[0].ID)
	require.NoError(t, err)

	summary, err := audit.Summary(ctx, "Coach")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PreferenceCount)
	assert.Equal(t, 1, summary.NonDefaultCount)
	assert.Equal(t, 1, summary.ApprovedSuggestions)
	assert.Equal(t, 0, summary.PendingSuggestions)
	assert.Equal(t, 8, summary.TotalFeedback)
	assert.InDelta(t, 0.75, summary.AcceptanceRate, 1e-9)
	assert.NotNil(t, summary.LastChangeAt)
}

func TestCompareToDefaults(t *testing.T) {
	svc, st, reg := newService(t)
	audit := suggest.NewAuditService(st, reg, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	sg, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "test", 0.9)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "Coach", sg.ID)
	require.NoError(t, err)

	cmp, err := audit.CompareToDefaults(ctx, "Coach")
	require.NoError(t, err)
	assert.Len(t, cmp, reg.Len(), "every registry key is listed")

	var drifted []string
	for _, c := range cmp {
		if c.Drifted {
			drifted = append(drifted, c.Category+"."+c.Key)
		}
	}
	assert.Equal(t, []string{"comm.tone"}, drifted)
}

func TestCompareToDefaultsUsesAgentDefault(t *testing.T) {
	_, st, reg := newService(t)
	audit := suggest.NewAuditService(st, reg, slog.New(slog.DiscardHandler))

	// Logger's declared default tone is neutral, not the shared
	// encouraging, so an untouched profile shows no drift.
	cmp, err := audit.CompareToDefaults(context.Background(), "Logger")
	require.NoError(t, err)
	for _, c := range cmp {
		assert.False(t, c.Drifted, "%s.%s unexpectedly drifted", c.Category, c.Key)
		if c.Category == "comm" && c.Key == "tone" {
			assert.Equal(t, "neutral", c.DefaultValue)
		}
	}
}

func TestResetToDefault(t *testing.T) {
	svc, st, reg := newService(t)
	audit := suggest.NewAuditService(st, reg, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	sg, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", "tone", "direct", "test", 0.9)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "Coach", sg.ID)
	require.NoError(t, err)

	pref, err := audit.ResetToDefault(ctx, "Coach", "comm", "tone")
	require.NoError(t, err)
	assert.Equal(t, "encouraging", pref.Value)
	assert.Equal(t, model.SourceReset, pref.Source)

	history, err := audit.ChangeHistory(ctx, "Coach", "comm", "tone")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "direct", history[1].OldValue)
	assert.Equal(t, "encouraging", history[1].NewValue)

	_, err = audit.ResetToDefault(ctx, "Coach", "planning", "unknown")
	assert.ErrorIs(t, err, registry.ErrUnknownPreference)
}

func TestChangeHistoryFilter(t *testing.T) {
	svc, st, reg := newService(t)
	audit := suggest.NewAuditService(st, reg, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	for _, key := range []string{"tone", "verbosity"} {
		sg, err := svc.CreateManualSuggestion(ctx, "Coach", "comm", key, firstAlternate(t, reg, "comm", key), "test", 0.9)
		require.NoError(t, err)
		_, err = svc.Approve(ctx, "Coach", sg.ID)
		require.NoError(t, err)
	}

	all, err := audit.ChangeHistory(ctx, "Coach", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	toneOnly, err := audit.ChangeHistory(ctx, "Coach", "comm", "tone")
	require.NoError(t, err)
	require.Len(t, toneOnly, 1)
	assert.Equal(t, "tone", toneOnly[0].Key)
}

// firstAlternate returns a declared value different from the default.
func firstAlternate(t *testing.T, reg *registry.Registry, category, key string) any {
	t.Helper()
	d, ok := reg.Declaration(category, key)
	require.True(t, ok)
	for _, v := range d.Values {
		if v != d.Default {
			return v
		}
	}
	t.Fatalf("no alternate value for %s.%s", category, key)
	return nil
}

var _ = time.Now
