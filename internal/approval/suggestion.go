// Package approval hosts the human-in-the-loop surfaces: suggestion
// approval, escalated-arbitration resolution, and preference rollback.
// Services here wrap the underlying domain services and own the event
// emission the admin API relies on.
package approval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/suggest"
)

// SuggestionService resolves pending suggestions on an operator's
// behalf.
type SuggestionService struct {
	suggestions *suggest.Service
	bus         *bus.Bus
	logger      *slog.Logger
}

// NewSuggestionService creates a suggestion approval service.
func NewSuggestionService(suggestions *suggest.Service, b *bus.Bus, logger *slog.Logger) *SuggestionService {
	return &SuggestionService{suggestions: suggestions, bus: b, logger: logger}
}

// Approve applies a pending suggestion and announces the approval.
func (s *SuggestionService) Approve(ctx context.Context, agent, id string) (*model.SuggestedPreference, error) {
	sg, err := s.suggestions.Approve(ctx, agent, id)
	if err != nil {
		return nil, fmt.Errorf("approval: approve suggestion: %w", err)
	}
	ev := model.NewEvent(model.EventSuggestionApproved, "suggestion", sg.ID, map[string]any{
		"suggestionId": sg.ID,
		"agentName":    agent,
		"category":     sg.Category,
		"key":          sg.Key,
		"appliedValue": sg.SuggestedValue,
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("approval: publish suggestion approved event", "error", err)
	}
	return sg, nil
}

// Reject marks a pending suggestion rejected and announces the
// rejection.
func (s *SuggestionService) Reject(ctx context.Context, agent, id, reason string) (*model.SuggestedPreference, error) {
	sg, err := s.suggestions.Reject(ctx, agent, id, reason)
	if err != nil {
		return nil, fmt.Errorf("approval: reject suggestion: %w", err)
	}
	ev := model.NewEvent(model.EventSuggestionRejected, "suggestion", sg.ID, map[string]any{
		"suggestionId": sg.ID,
		"agentName":    agent,
		"category":     sg.Category,
		"key":          sg.Key,
		"reason":       reason,
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("approval: publish suggestion rejected event", "error", err)
	}
	return sg, nil
}
