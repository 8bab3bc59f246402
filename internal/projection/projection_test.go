package projection_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/projection"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
)

func newService(t *testing.T) (*projection.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return projection.New(st, st, st, st, st), st
}

func setPref(t *testing.T, st *memory.Store, agent, category, key string, value any) {
	t.Helper()
	now := time.Now().UTC()
	pref := model.UserPreference{Category: category, Key: key, Value: value, Source: model.SourceManual, LastUpdated: now}
	change := model.PreferenceChange{Category: category, Key: key, NewValue: value, Source: model.SourceManual, ChangedAt: now}
	require.NoError(t, st.SetPreference(context.Background(), agent, pref, change))
}

func TestPreferencesViewSortedAndFiltered(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	setPref(t, st, "Planner", "planning", "auto_reschedule", true)
	setPref(t, st, "Coach", "comm", "verbosity", "brief")
	setPref(t, st, "Coach", "comm", "tone", "direct")

	all, err := svc.PreferencesView(ctx, "", model.Page{})
	require.NoError(t, err)
	require.Len(t, all.Data, 3)
	assert.Equal(t, "Coach", all.Data[0].AgentName)
	assert.Equal(t, "tone", all.Data[0].Key)
	assert.Equal(t, "verbosity", all.Data[1].Key)
	assert.Equal(t, "Planner", all.Data[2].AgentName)

	coach, err := svc.PreferencesView(ctx, "Coach", model.Page{})
	require.NoError(t, err)
	assert.Len(t, coach.Data, 2)
	assert.Equal(t, 2, coach.Total)

	// Identical state produces identical output.
	again, err := svc.PreferencesView(ctx, "", model.Page{})
	require.NoError(t, err)
	assert.Equal(t, all, again)
}

func TestPreferencesViewPagination(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		setPref(t, st, fmt.Sprintf("agent-%d", i), "comm", "tone", "neutral")
	}

	page, err := svc.PreferencesView(ctx, "", model.Page{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.Page)

	// Out-of-range pages are empty, not an error.
	empty, err := svc.PreferencesView(ctx, "", model.Page{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, empty.Data)
}

func TestSuggestionsViewFilters(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	add := func(agent string, status model.SuggestionStatus) {
		require.NoError(t, st.AddSuggestion(ctx, agent, model.SuggestedPreference{
			ID:          ulid.Make().String(),
			AgentName:   agent,
			Category:    "comm",
			Key:         "tone",
			Status:      status,
			SuggestedAt: time.Now().UTC(),
		}))
	}
	add("Coach", model.SuggestionPending)
	add("Coach", model.SuggestionApproved)
	add("Planner", model.SuggestionPending)

	pending, err := svc.SuggestionsView(ctx, model.SuggestionPending, "", model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Total)

	coachPending, err := svc.SuggestionsView(ctx, model.SuggestionPending, "Coach", model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, coachPending.Total)

	everything, err := svc.SuggestionsView(ctx, "", "", model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, everything.Total)
}

func TestAttemptsViewNewestFirst(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		id := ulid.Make().String()
		ids = append(ids, id)
		require.NoError(t, st.AppendAttempt(ctx, &model.AdaptationAttempt{
			ID:        id,
			AgentName: "Coach",
			Category:  "comm",
			Key:       "tone",
			Result:    model.AttemptApplied,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	view, err := svc.AttemptsView(ctx, "Coach", model.Page{})
	require.NoError(t, err)
	require.Len(t, view.Data, 3)
	assert.Equal(t, ids[2], view.Data[0].ID)
	assert.Equal(t, ids[0], view.Data[2].ID)
}

func TestPendingEscalationsView(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	executed := &model.ArbitrationDecision{
		ID: uuid.New(), PolicyID: uuid.New(), PolicyName: "default",
		StrategyUsed: model.StrategyPriority, Outcome: model.OutcomeEscalated,
		Executed: true, CreatedAt: time.Now().UTC(),
	}
	waiting := &model.ArbitrationDecision{
		ID: uuid.New(), PolicyID: uuid.New(), PolicyName: "default",
		StrategyUsed: model.StrategyPriority, Outcome: model.OutcomeEscalated,
		RequiresHumanApproval: true, CreatedAt: time.Now().UTC(),
	}
	settledDecision := &model.ArbitrationDecision{
		ID: uuid.New(), PolicyID: uuid.New(), PolicyName: "default",
		StrategyUsed: model.StrategyPriority, Outcome: model.OutcomeWinnerSelected,
		CreatedAt: time.Now().UTC(),
	}
	for _, d := range []*model.ArbitrationDecision{executed, waiting, settledDecision} {
		require.NoError(t, st.CreateArbitrationDecision(ctx, d))
	}

	view, err := svc.PendingEscalationsView(ctx, model.Page{})
	require.NoError(t, err)
	require.Len(t, view.Data, 1)
	assert.Equal(t, waiting.ID, view.Data[0].ID)
	assert.Equal(t, 1, view.Total)
}

func TestAgentActivityView(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	setPref(t, st, "Coach", "comm", "tone", "direct")
	require.NoError(t, st.CreateDecision(ctx, &model.DecisionRecord{
		ID: uuid.New(), AgentName: "Coach", TriggeringEventType: "WorkoutLogged",
		DecisionType: "encouragement", ReasoningSource: model.ReasoningRule,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.CreateProposal(ctx, &model.Proposal{
		ID: ulid.Make().String(), AgentName: "Planner", ActionType: "preference_change",
		Target: model.TargetRef{Type: "preference", ID: "Planner", Key: "comm.tone"},
		Status: model.ProposalPending, CreatedAt: time.Now().UTC(),
	}))

	view, err := svc.AgentActivityView(ctx, model.Page{})
	require.NoError(t, err)
	require.Len(t, view.Data, 2)

	byAgent := make(map[string]int)
	for i, r := range view.Data {
		byAgent[r.AgentName] = i
	}
	coach := view.Data[byAgent["Coach"]]
	assert.Equal(t, 1, coach.Decisions)
	planner := view.Data[byAgent["Planner"]]
	assert.Equal(t, 1, planner.Proposals)
}
