package agents

import (
	"context"
	"fmt"

	"github.com/tazuna-ai/tazuna/internal/governance"
	"github.com/tazuna-ai/tazuna/internal/llm"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// CoachName is the governance policy key for the coach advisor.
const CoachName = "Coach"

var missedSessionPrompt = governance.MustPromptTemplate(
	"coach_missed_session",
	`The user missed a training session ({{.ConsecutiveMissed}} in a row).
Their preferred tone is "{{.Tone}}". Write a short message (2 sentences max)
that acknowledges the miss and encourages them to get back on track.`,
	"ConsecutiveMissed", "Tone",
)

// Coach watches training activity and adjusts how the system talks to
// the user: tone after repeated misses, verbosity once a streak shows
// the user no longer needs hand-holding. The motivational message goes
// through the governed generation path so every message has a decision
// record, AI or fallback alike.
type Coach struct {
	governance *governance.Service
	profiles   store.Profiles
}

// NewCoach creates the coach advisor.
func NewCoach(gov *governance.Service, profiles store.Profiles) *Coach {
	return &Coach{governance: gov, profiles: profiles}
}

func (c *Coach) Name() string { return CoachName }

func (c *Coach) Events() []model.EventType {
	return []model.EventType{model.EventSessionMissed, model.EventWorkoutLogged}
}

func (c *Coach) Handle(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	switch ev.Type {
	case model.EventSessionMissed:
		return c.handleMissed(ctx, ev)
	case model.EventWorkoutLogged:
		return c.handleLogged(ctx, ev)
	}
	return nil, nil
}

func (c *Coach) handleMissed(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	missed := payloadInt(ev, "consecutiveMissed", 1)
	tone := c.currentString(ctx, "comm", "tone", "encouraging")

	fallback := func() string {
		if missed >= 3 {
			return fmt.Sprintf("That's %d sessions missed in a row. Let's be honest about what's getting in the way and pick one small session to restart with.", missed)
		}
		return "Missing one session happens to everyone. The next one is what counts."
	}
	_, _, err := c.governance.GenerateWithRecord(ctx, CoachName, missedSessionPrompt,
		map[string]any{"ConsecutiveMissed": missed, "Tone": tone},
		fallback, llm.Options{MaxTokens: 120},
		governance.RecordInput{
			TriggeringEventType: string(ev.Type),
			TriggeringEventID:   ev.ID.String(),
			AggregateType:       ev.AggregateType,
			AggregateID:         ev.AggregateID,
			DecisionType:        "motivational_message",
		})
	if err != nil {
		return nil, fmt.Errorf("agents: coach generate: %w", err)
	}

	// Repeated misses under an encouraging tone suggest the softness
	// isn't landing.
	if missed >= 3 && tone != "direct" {
		return []model.ProposalInput{{
			ActionType:    "adjust_tone",
			Target:        preferenceTarget(CoachName, "comm", "tone"),
			ProposedValue: "direct",
			Confidence:    0.85,
			RiskLevel:     model.RiskLow,
		}}, nil
	}
	return nil, nil
}

func (c *Coach) handleLogged(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	streak := payloadInt(ev, "streak", 0)
	if streak < 5 {
		return nil, nil
	}
	if c.currentString(ctx, "comm", "verbosity", "brief") == "brief" {
		return nil, nil
	}
	// A consistent user doesn't need the long-form check-ins.
	return []model.ProposalInput{{
		ActionType:    "adjust_verbosity",
		Target:        preferenceTarget(CoachName, "comm", "verbosity"),
		ProposedValue: "brief",
		Confidence:    0.75,
		RiskLevel:     model.RiskLow,
	}}, nil
}

func (c *Coach) currentString(ctx context.Context, category, key, def string) string {
	profile, err := c.profiles.GetOrCreateProfile(ctx, CoachName)
	if err != nil {
		return def
	}
	if pref := profile.Preference(category, key); pref != nil {
		if s, ok := pref.Value.(string); ok {
			return s
		}
	}
	return def
}

// preferenceTarget builds the target for a preference proposal: the ID
// names the owning profile, the key the qualified preference.
func preferenceTarget(agent, category, key string) model.TargetRef {
	return model.TargetRef{Type: "preference", ID: agent, Key: category + "." + key}
}

// payloadInt reads a numeric payload field. JSON round-trips numbers as
// float64, so both forms are accepted.
func payloadInt(ev model.Event, key string, def int) int {
	switch v := ev.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
