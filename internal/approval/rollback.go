package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/adaptation"
	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// RollbackService unwinds automatic preference changes: one preference
// at a time, or everything an arbitration decision applied.
type RollbackService struct {
	engine   *adaptation.Engine
	attempts store.Attempts
	profiles store.Profiles
	registry *registry.Registry
	bus      *bus.Bus
	logger   *slog.Logger
	now      func() time.Time

	rollbackCounter metric.Int64Counter
}

// NewRollbackService creates a rollback service.
func NewRollbackService(engine *adaptation.Engine, attempts store.Attempts, profiles store.Profiles, reg *registry.Registry, b *bus.Bus, logger *slog.Logger) *RollbackService {
	meter := telemetry.Meter("tazuna/approval")
	rollbackCounter, _ := meter.Int64Counter("tazuna.admin.rollbacks",
		metric.WithDescription("Admin-initiated preference rollbacks by type"),
	)
	return &RollbackService{
		engine:          engine,
		attempts:        attempts,
		profiles:        profiles,
		registry:        reg,
		bus:             b,
		logger:          logger,
		now:             time.Now,
		rollbackCounter: rollbackCounter,
	}
}

// RollbackPreference unwinds the most recent applied, not-yet-rolled-back
// attempt for the agent's "category.key" preference. When no such attempt
// exists the preference resets to its registry default and the returned
// attempt is nil.
func (s *RollbackService) RollbackPreference(ctx context.Context, agent, qualifiedKey, reason string) (*model.AdaptationAttempt, error) {
	category, key, err := model.ParseQualifiedKey(qualifiedKey)
	if err != nil {
		return nil, fmt.Errorf("approval: %w", err)
	}

	attempts, err := s.attempts.ListAttempts(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("approval: list attempts: %w", err)
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		a := attempts[i]
		if a.Category != category || a.Key != key {
			continue
		}
		if a.Result != model.AttemptApplied || a.RolledBack {
			continue
		}
		rolled, err := s.engine.Rollback(ctx, a.ID, reason)
		if err != nil {
			return nil, fmt.Errorf("approval: rollback attempt %s: %w", a.ID, err)
		}
		s.record(ctx, "preference")
		return rolled, nil
	}

	if err := s.resetToDefault(ctx, agent, category, key, reason); err != nil {
		return nil, err
	}
	s.record(ctx, "preference")
	return nil, nil
}

// RollbackDecision unwinds every preference change an arbitration
// decision applied. Already-rolled-back attempts are skipped, so a
// repeated call is a no-op that reports what remains rolled back.
func (s *RollbackService) RollbackDecision(ctx context.Context, decisionID uuid.UUID, reason string) ([]*model.AdaptationAttempt, error) {
	attempts, err := s.attempts.ListAttemptsByDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("approval: list attempts for decision: %w", err)
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("approval: decision %s has no attempts: %w", decisionID, store.ErrNotFound)
	}

	var rolled []*model.AdaptationAttempt
	for _, a := range attempts {
		if a.Result != model.AttemptApplied {
			continue
		}
		if a.RolledBack {
			rolled = append(rolled, a)
			continue
		}
		r, err := s.engine.Rollback(ctx, a.ID, reason)
		if err != nil {
			if errors.Is(err, store.ErrAlreadyRolledBack) {
				rolled = append(rolled, r)
				continue
			}
			return nil, fmt.Errorf("approval: rollback attempt %s: %w", a.ID, err)
		}
		rolled = append(rolled, r)
	}
	s.record(ctx, "decision")
	return rolled, nil
}

// resetToDefault restores the registry default when no attempt links the
// current value to an automatic change.
func (s *RollbackService) resetToDefault(ctx context.Context, agent, category, key, reason string) error {
	def := s.registry.DefaultFor(agent, category, key)
	if def == nil {
		return fmt.Errorf("approval: preference %s.%s has no registry default: %w", category, key, store.ErrNotFound)
	}

	profile, err := s.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return fmt.Errorf("approval: load profile: %w", err)
	}
	var current any
	if pref := profile.Preference(category, key); pref != nil {
		current = pref.Value
	}

	now := s.now().UTC()
	pref := model.UserPreference{
		Category:    category,
		Key:         key,
		Value:       def,
		Source:      model.SourceRollback,
		LastUpdated: now,
	}
	change := model.PreferenceChange{
		Category:  category,
		Key:       key,
		OldValue:  current,
		NewValue:  def,
		Source:    model.SourceRollback,
		Reason:    reason,
		ChangedAt: now,
	}
	if err := s.profiles.SetPreference(ctx, agent, pref, change); err != nil {
		return fmt.Errorf("approval: reset preference: %w", err)
	}

	ev := model.NewEvent(model.EventPreferenceRolledBack, "preference", agent, map[string]any{
		"category":      category,
		"key":           key,
		"restoredValue": def,
		"reason":        reason,
	})
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("approval: publish rollback event", "error", err)
	}
	return nil
}

func (s *RollbackService) record(ctx context.Context, rollbackType string) {
	s.rollbackCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", rollbackType),
	))
}
