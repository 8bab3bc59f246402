package agents

import (
	"context"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// PlannerName is the governance policy key for the planner advisor.
const PlannerName = "Planner"

// Planner reacts to schedule disruption: a missed session becomes a
// reschedule proposal bounded by the reschedule window, and a plan that
// keeps losing sessions gets a wider window proposed.
type Planner struct {
	profiles store.Profiles
	registry *registry.Registry
}

// NewPlanner creates the planner advisor.
func NewPlanner(profiles store.Profiles, reg *registry.Registry) *Planner {
	return &Planner{profiles: profiles, registry: reg}
}

func (p *Planner) Name() string { return PlannerName }

func (p *Planner) Events() []model.EventType {
	return []model.EventType{model.EventSessionMissed, model.EventPlanUpdated}
}

func (p *Planner) Handle(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	switch ev.Type {
	case model.EventSessionMissed:
		return p.handleMissed(ctx, ev)
	case model.EventPlanUpdated:
		return p.handlePlanUpdated(ctx, ev)
	}
	return nil, nil
}

func (p *Planner) handleMissed(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	window := p.windowHours(ctx)
	return []model.ProposalInput{{
		ActionType: "reschedule_session",
		Target:     model.TargetRef{Type: "session", ID: ev.AggregateID},
		ProposedValue: map[string]any{
			"withinHours": window,
		},
		Confidence: 0.8,
		RiskLevel:  model.RiskMedium,
	}}, nil
}

func (p *Planner) handlePlanUpdated(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	missed := payloadInt(ev, "missedLastWeek", 0)
	if missed < 3 {
		return nil, nil
	}

	current := p.windowHours(ctx)
	wider := current * 2
	decl, ok := p.registry.Declaration("planning", "reschedule_window_hours")
	if ok && decl.Max != nil && float64(wider) > *decl.Max {
		wider = int(*decl.Max)
	}
	if wider == current {
		return nil, nil
	}

	// The plan keeps shedding sessions inside the current window; give
	// rescheduling more room to land.
	return []model.ProposalInput{{
		ActionType:    "widen_reschedule_window",
		Target:        preferenceTarget(PlannerName, "planning", "reschedule_window_hours"),
		ProposedValue: wider,
		Confidence:    0.8,
		RiskLevel:     model.RiskMedium,
	}}, nil
}

func (p *Planner) windowHours(ctx context.Context) int {
	def := 24
	if d := p.registry.DefaultFor(PlannerName, "planning", "reschedule_window_hours"); d != nil {
		switch v := d.(type) {
		case int:
			def = v
		case float64:
			def = int(v)
		}
	}

	profile, err := p.profiles.GetOrCreateProfile(ctx, PlannerName)
	if err != nil {
		return def
	}
	if pref := profile.Preference("planning", "reschedule_window_hours"); pref != nil {
		switch v := pref.Value.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return def
}
