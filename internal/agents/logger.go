package agents

import (
	"context"
	"sync"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// LoggerName is the governance policy key for the logger advisor.
const LoggerName = "Logger"

// DefaultLoggerSampleWindow is how many observed events the logger
// accumulates before reconsidering the detail level.
const DefaultLoggerSampleWindow = 50

// Logger watches overall event volume and proposes dialing
// logging.detail_level down when the plane gets noisy. It never uses
// the LLM; its governance policy is registered with AIEnabled=false.
type Logger struct {
	profiles store.Profiles
	window   int

	mu   sync.Mutex
	seen int
}

// NewLogger creates the logger advisor. A non-positive sampleWindow
// falls back to the default.
func NewLogger(profiles store.Profiles, sampleWindow int) *Logger {
	if sampleWindow <= 0 {
		sampleWindow = DefaultLoggerSampleWindow
	}
	return &Logger{profiles: profiles, window: sampleWindow}
}

func (l *Logger) Name() string { return LoggerName }

// Events lists the activity events the logger observes. Plane-internal
// events (proposals, arbitration) are excluded so the logger's own
// proposals don't feed its counter.
func (l *Logger) Events() []model.EventType {
	return []model.EventType{
		model.EventWorkoutLogged,
		model.EventSessionMissed,
		model.EventPlanUpdated,
		model.EventFeedbackRecorded,
	}
}

func (l *Logger) Handle(ctx context.Context, _ model.Event) ([]model.ProposalInput, error) {
	l.mu.Lock()
	l.seen++
	trigger := l.seen%l.window == 0
	l.mu.Unlock()
	if !trigger {
		return nil, nil
	}

	if l.currentLevel(ctx) == "minimal" {
		return nil, nil
	}
	return []model.ProposalInput{{
		ActionType:    "reduce_log_detail",
		Target:        preferenceTarget(LoggerName, "logging", "detail_level"),
		ProposedValue: "minimal",
		Confidence:    0.7,
		RiskLevel:     model.RiskLow,
	}}, nil
}

func (l *Logger) currentLevel(ctx context.Context) string {
	profile, err := l.profiles.GetOrCreateProfile(ctx, LoggerName)
	if err != nil {
		return "standard"
	}
	if pref := profile.Preference("logging", "detail_level"); pref != nil {
		if s, ok := pref.Value.(string); ok {
			return s
		}
	}
	return "standard"
}
