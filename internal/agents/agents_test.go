package agents_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/agents"
	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/governance"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
)

type captureSubmitter struct {
	inputs []model.ProposalInput
}

func (c *captureSubmitter) Submit(_ context.Context, in model.ProposalInput) (*model.Proposal, error) {
	c.inputs = append(c.inputs, in)
	return &model.Proposal{ID: "p", AgentName: in.AgentName}, nil
}

func newGovernance(t *testing.T, st *memory.Store) *governance.Service {
	t.Helper()
	gov := governance.New(st, nil, slog.New(slog.DiscardHandler))
	for _, p := range agents.DefaultPolicies() {
		gov.RegisterPolicy(p)
	}
	return gov
}

func setPreference(t *testing.T, st *memory.Store, agent, category, key string, value any) {
	t.Helper()
	now := time.Now().UTC()
	err := st.SetPreference(context.Background(), agent, model.UserPreference{
		Category:    category,
		Key:         key,
		Value:       value,
		Confidence:  1,
		Source:      model.SourceManual,
		LastUpdated: now,
	}, model.PreferenceChange{
		Category:  category,
		Key:       key,
		NewValue:  value,
		Source:    model.SourceManual,
		ChangedAt: now,
	})
	require.NoError(t, err)
}

func TestCoachProposesDirectToneAfterRepeatedMisses(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	coach := agents.NewCoach(newGovernance(t, st), st)

	ev := model.NewEvent(model.EventSessionMissed, "session", "sess-1", map[string]any{
		"consecutiveMissed": 3,
	})
	inputs, err := coach.Handle(ctx, ev)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "adjust_tone", inputs[0].ActionType)
	assert.Equal(t, "direct", inputs[0].ProposedValue)
	assert.Equal(t, "preference", inputs[0].Target.Type)
	assert.Equal(t, "comm.tone", inputs[0].Target.Key)

	// The message itself leaves a decision record even on the rule path.
	records, total, err := st.ListDecisions(ctx, store.DecisionFilter{AgentName: agents.CoachName}, model.Page{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, model.ReasoningFallback, records[0].ReasoningSource)
	assert.Equal(t, "motivational_message", records[0].DecisionType)
}

func TestCoachStaysQuietOnSingleMiss(t *testing.T) {
	st := memory.New()
	coach := agents.NewCoach(newGovernance(t, st), st)

	ev := model.NewEvent(model.EventSessionMissed, "session", "sess-1", map[string]any{
		"consecutiveMissed": 1,
	})
	inputs, err := coach.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestCoachProposesBriefVerbosityOnStreak(t *testing.T) {
	st := memory.New()
	setPreference(t, st, agents.CoachName, "comm", "verbosity", "detailed")
	coach := agents.NewCoach(newGovernance(t, st), st)

	ev := model.NewEvent(model.EventWorkoutLogged, "workout", "w-1", map[string]any{
		"streak": 6,
	})
	inputs, err := coach.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "comm.verbosity", inputs[0].Target.Key)
	assert.Equal(t, "brief", inputs[0].ProposedValue)

	// Already brief: nothing to propose.
	setPreference(t, st, agents.CoachName, "comm", "verbosity", "brief")
	inputs, err = coach.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, inputs)
}

func TestPlannerProposesRescheduleWithinWindow(t *testing.T) {
	st := memory.New()
	reg, err := registry.Load()
	require.NoError(t, err)
	planner := agents.NewPlanner(st, reg)

	ev := model.NewEvent(model.EventSessionMissed, "session", "sess-7", nil)
	inputs, err := planner.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "reschedule_session", inputs[0].ActionType)
	assert.Equal(t, model.TargetRef{Type: "session", ID: "sess-7"}, inputs[0].Target)
	assert.Equal(t, map[string]any{"withinHours": 24}, inputs[0].ProposedValue)
}

func TestPlannerWidensWindowAfterRepeatedMisses(t *testing.T) {
	st := memory.New()
	reg, err := registry.Load()
	require.NoError(t, err)
	planner := agents.NewPlanner(st, reg)

	quiet := model.NewEvent(model.EventPlanUpdated, "plan", "plan-1", map[string]any{"missedLastWeek": 1})
	inputs, err := planner.Handle(context.Background(), quiet)
	require.NoError(t, err)
	assert.Empty(t, inputs)

	noisy := model.NewEvent(model.EventPlanUpdated, "plan", "plan-1", map[string]any{"missedLastWeek": 4})
	inputs, err = planner.Handle(context.Background(), noisy)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "planning.reschedule_window_hours", inputs[0].Target.Key)
	assert.Equal(t, 48, inputs[0].ProposedValue)

	// The registry max caps the widening.
	setPreference(t, st, agents.PlannerName, "planning", "reschedule_window_hours", 48)
	inputs, err = planner.Handle(context.Background(), noisy)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, 72, inputs[0].ProposedValue)
}

func TestLoggerProposesMinimalEveryWindow(t *testing.T) {
	st := memory.New()
	logger := agents.NewLogger(st, 3)
	ctx := context.Background()

	var proposals int
	for i := 0; i < 6; i++ {
		ev := model.NewEvent(model.EventWorkoutLogged, "workout", "w", nil)
		inputs, err := logger.Handle(ctx, ev)
		require.NoError(t, err)
		proposals += len(inputs)
	}
	assert.Equal(t, 2, proposals)

	setPreference(t, st, agents.LoggerName, "logging", "detail_level", "minimal")
	for i := 0; i < 3; i++ {
		ev := model.NewEvent(model.EventWorkoutLogged, "workout", "w", nil)
		inputs, err := logger.Handle(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, inputs)
	}
}

type scriptedAgent struct {
	name    string
	events  []model.EventType
	outputs []model.ProposalInput
	handled int
}

func (a *scriptedAgent) Name() string               { return a.name }
func (a *scriptedAgent) Events() []model.EventType  { return a.events }
func (a *scriptedAgent) Handle(context.Context, model.Event) ([]model.ProposalInput, error) {
	a.handled++
	return a.outputs, nil
}

func TestDispatcherCooldownGate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	gov := governance.New(st, nil, slog.New(slog.DiscardHandler))
	sub := &captureSubmitter{}
	d := agents.NewDispatcher(gov, sub, slog.New(slog.DiscardHandler))

	agent := &scriptedAgent{name: "Scripted", events: []model.EventType{model.EventWorkoutLogged}}
	d.Register(agent, model.AgentPolicy{
		MaxSuggestionsPerEvent: 5,
		Cooldown:               time.Hour,
	})
	b := bus.New()
	d.Attach(b)

	require.NoError(t, b.Publish(ctx, model.NewEvent(model.EventWorkoutLogged, "workout", "w-1", nil)))
	require.NoError(t, b.Publish(ctx, model.NewEvent(model.EventWorkoutLogged, "workout", "w-1", nil)))
	assert.Equal(t, 1, agent.handled, "second event inside cooldown must not reach the agent")

	// A different aggregate is on its own cooldown clock.
	require.NoError(t, b.Publish(ctx, model.NewEvent(model.EventWorkoutLogged, "workout", "w-2", nil)))
	assert.Equal(t, 2, agent.handled)
}

func TestDispatcherSuggestionCap(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	gov := governance.New(st, nil, slog.New(slog.DiscardHandler))
	sub := &captureSubmitter{}
	d := agents.NewDispatcher(gov, sub, slog.New(slog.DiscardHandler))

	agent := &scriptedAgent{
		name:   "Chatty",
		events: []model.EventType{model.EventPlanUpdated},
		outputs: []model.ProposalInput{
			{ActionType: "a", Confidence: 0.9, RiskLevel: model.RiskLow},
			{ActionType: "b", Confidence: 0.9, RiskLevel: model.RiskLow},
			{ActionType: "c", Confidence: 0.9, RiskLevel: model.RiskLow},
		},
	}
	d.Register(agent, model.AgentPolicy{MaxSuggestionsPerEvent: 1})
	b := bus.New()
	d.Attach(b)

	require.NoError(t, b.Publish(ctx, model.NewEvent(model.EventPlanUpdated, "plan", "p-1", nil)))
	require.Len(t, sub.inputs, 1)
	assert.Equal(t, "a", sub.inputs[0].ActionType)
	assert.Equal(t, "Chatty", sub.inputs[0].AgentName)
}
