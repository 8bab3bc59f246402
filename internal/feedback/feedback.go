// Package feedback captures user verdicts on agent decisions and feeds
// them back into the learning loop: outcomes land on the decision record,
// entries accumulate on the agent profile, and once enough feedback has
// piled up the suggestion analyzer runs.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/suggest"
)

// Config tunes the feedback-to-suggestion trigger.
type Config struct {
	// SuggestionThreshold is the per-agent feedback count that triggers
	// suggestion analysis. Defaults to 10.
	SuggestionThreshold int

	// AutoAnalyze enables the automatic analysis trigger. On by default;
	// set Disabled to turn it off.
	Disabled bool
}

func (c Config) withDefaults() Config {
	if c.SuggestionThreshold == 0 {
		c.SuggestionThreshold = 10
	}
	return c
}

// CaptureInput is one user verdict against a decision record.
type CaptureInput struct {
	DecisionID   uuid.UUID      `json:"decisionId"`
	UserAccepted bool           `json:"userAccepted"`
	UserFeedback *string        `json:"userFeedback,omitempty"`
	ActualResult *string        `json:"actualResult,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CaptureResult is the soft-failure outcome of a capture call. Missing
// decisions and repeated outcomes report Success=false instead of an
// error so callers treat them as user input problems, not faults.
type CaptureResult struct {
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	AgentName          string `json:"agentName,omitempty"`
	FeedbackID         string `json:"feedbackId,omitempty"`
	SuggestionsCreated int    `json:"suggestionsCreated"`
}

// Service records feedback and triggers suggestion analysis at the
// configured threshold.
type Service struct {
	decisions store.Decisions
	profiles  store.Profiles
	suggester *suggest.Service
	bus       *bus.Bus
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	counters map[string]int
}

// New creates a feedback service. suggester may be nil when the
// suggestion loop is not wired; captures then never trigger analysis.
func New(decisions store.Decisions, profiles store.Profiles, suggester *suggest.Service, b *bus.Bus, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		decisions: decisions,
		profiles:  profiles,
		suggester: suggester,
		bus:       b,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		counters:  make(map[string]int),
	}
}

// Capture records one user verdict: outcome on the decision record (at
// most once), a feedback entry on the agent profile, and a counter bump
// that may trigger suggestion analysis.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (*CaptureResult, error) {
	decision, err := s.decisions.GetDecision(ctx, in.DecisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &CaptureResult{Success: false, Error: "decision record not found"}, nil
		}
		return nil, fmt.Errorf("feedback: load decision: %w", err)
	}

	outcome := model.DecisionOutcome{
		UserAccepted: in.UserAccepted,
		UserFeedback: in.UserFeedback,
		ActualResult: in.ActualResult,
		RecordedAt:   s.now().UTC(),
	}
	if err := s.decisions.SetDecisionOutcome(ctx, in.DecisionID, outcome); err != nil {
		if errors.Is(err, store.ErrOutcomeRecorded) {
			return &CaptureResult{Success: false, Error: "outcome already recorded", AgentName: decision.AgentName}, nil
		}
		return nil, fmt.Errorf("feedback: record outcome: %w", err)
	}

	entry := model.FeedbackEntry{
		ID:           ulid.Make().String(),
		DecisionID:   in.DecisionID.String(),
		DecisionType: decision.DecisionType,
		Accepted:     in.UserAccepted,
		Feedback:     in.UserFeedback,
		ActualResult: in.ActualResult,
		Context:      in.Context,
		RecordedAt:   s.now().UTC(),
	}
	if err := s.profiles.AppendFeedback(ctx, decision.AgentName, entry); err != nil {
		return nil, fmt.Errorf("feedback: append entry: %w", err)
	}

	result := &CaptureResult{Success: true, AgentName: decision.AgentName, FeedbackID: entry.ID}

	if s.shouldAnalyze(decision.AgentName) {
		created, err := s.suggester.AnalyzeFeedback(ctx, decision.AgentName)
		if err != nil {
			// Analysis failure must not lose the captured feedback.
			s.logger.Warn("feedback: suggestion analysis failed",
				"agent", decision.AgentName, "error", err)
		} else {
			result.SuggestionsCreated = len(created)
		}
	}

	ev := model.NewEvent(model.EventFeedbackRecorded, "decision", in.DecisionID.String(), map[string]any{
		"agentName":    decision.AgentName,
		"feedbackId":   entry.ID,
		"userAccepted": in.UserAccepted,
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("feedback: publish event", "error", err)
	}

	return result, nil
}

// shouldAnalyze bumps the agent's counter and reports whether the
// threshold tripped, resetting the counter when it did. One critical
// section so concurrent captures trigger exactly once per threshold.
func (s *Service) shouldAnalyze(agent string) bool {
	if s.cfg.Disabled || s.suggester == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[agent]++
	if s.counters[agent] < s.cfg.SuggestionThreshold {
		return false
	}
	s.counters[agent] = 0
	return true
}

// Clear resets the per-agent counters. For tests.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int)
}
