package adaptation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// ErrNotApplied signals a rollback against an attempt that never applied
// a change (blocked or skipped).
var ErrNotApplied = errors.New("adaptation: attempt did not apply a change")

// ProposalSubmitter routes allowed changes through arbitration instead of
// applying them directly. Wired in arbitrated mode; nil means direct
// apply.
type ProposalSubmitter interface {
	Submit(ctx context.Context, in model.ProposalInput) (*model.Proposal, error)
}

// ProcessResult is the outcome of one suggestion run. Exactly one of
// Attempt or Proposal is set: a persisted attempt when the engine decided
// directly, or the submitted proposal when arbitration takes over.
type ProcessResult struct {
	Attempt  *model.AdaptationAttempt `json:"attempt,omitempty"`
	Proposal *model.Proposal          `json:"proposal,omitempty"`
}

// Engine turns accepted suggestions into preference changes under the
// policy service's gates, records every attempt, and unwinds applied
// changes on rollback.
type Engine struct {
	policies  *PolicyService
	profiles  store.Profiles
	attempts  store.Attempts
	registry  *registry.Registry
	bus       *bus.Bus
	submitter ProposalSubmitter
	logger    *slog.Logger
	now       func() time.Time

	attemptCounter metric.Int64Counter
}

// NewEngine creates an adaptation engine. submitter may be nil; the
// engine then applies allowed changes directly.
func NewEngine(policies *PolicyService, profiles store.Profiles, attempts store.Attempts, reg *registry.Registry, b *bus.Bus, submitter ProposalSubmitter, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("tazuna/adaptation")
	attemptCounter, _ := meter.Int64Counter("tazuna.adaptation.attempts",
		metric.WithDescription("Adaptation attempts by result and reason"),
	)
	return &Engine{
		policies:       policies,
		profiles:       profiles,
		attempts:       attempts,
		registry:       reg,
		bus:            b,
		submitter:      submitter,
		logger:         logger,
		now:            time.Now,
		attemptCounter: attemptCounter,
	}
}

// ProcessSuggestion evaluates one suggestion against the agent's policy.
// Already-satisfied suggestions skip; blocked evaluations persist a
// blocked attempt; allowed ones either apply directly or hand off to
// arbitration when a submitter is wired.
func (e *Engine) ProcessSuggestion(ctx context.Context, agent string, sg model.SuggestedPreference) (*ProcessResult, error) {
	policy, err := e.policies.GetOrCreate(ctx, agent)
	if err != nil {
		return nil, err
	}
	profile, err := e.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("adaptation: load profile: %w", err)
	}

	current := e.currentValue(profile, agent, sg.Category, sg.Key)
	risk := e.registry.RiskLevel(sg.Category, sg.Key)

	base := model.AdaptationAttempt{
		ID:             ulid.Make().String(),
		AgentName:      agent,
		SuggestionID:   sg.ID,
		Category:       sg.Category,
		Key:            sg.Key,
		PreviousValue:  current,
		SuggestedValue: sg.SuggestedValue,
		Confidence:     sg.Confidence,
		RiskLevel:      risk,
		PolicyID:       policy.ID,
		PolicySnapshot: policy.Snapshot(),
		Timestamp:      e.now().UTC(),
	}

	if registry.ValueEqual(current, sg.SuggestedValue) {
		base.Result = model.AttemptSkipped
		base.BlockReason = model.SkipAlreadyAtValue
		return e.finishAttempt(ctx, &base, model.EventPreferenceAutoSkipped)
	}

	eval, err := e.policies.Evaluate(ctx, agent, sg.Category, sg.Key, sg.Confidence, risk)
	if err != nil {
		return nil, err
	}
	if !eval.Allowed {
		base.Result = model.AttemptBlocked
		base.BlockReason = eval.BlockReason
		return e.finishAttempt(ctx, &base, model.EventPreferenceAutoBlocked)
	}

	if e.submitter != nil {
		sgID := sg.ID
		proposal, err := e.submitter.Submit(ctx, model.ProposalInput{
			AgentName:     agent,
			ActionType:    "preference_change",
			Target:        model.TargetRef{Type: "preference", ID: agent, Key: sg.Category + "." + sg.Key},
			ProposedValue: sg.SuggestedValue,
			Confidence:    sg.Confidence,
			RiskLevel:     risk,
			SuggestionID:  &sgID,
		})
		if err != nil {
			return nil, fmt.Errorf("adaptation: submit proposal: %w", err)
		}
		return &ProcessResult{Proposal: proposal}, nil
	}

	// Direct apply. The store re-checks cooldown and window under its
	// own lock; a concurrent apply may still block here.
	updated, blockReason, err := e.policies.policies.RecordAutoChange(ctx, agent, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("adaptation: record auto change: %w", err)
	}
	if blockReason != "" {
		base.Result = model.AttemptBlocked
		base.BlockReason = blockReason
		base.PolicySnapshot = updated.Snapshot()
		return e.finishAttempt(ctx, &base, model.EventPreferenceAutoBlocked)
	}

	if err := e.applyPreference(ctx, agent, sg, model.SourceAutoAdaptation, current); err != nil {
		return nil, err
	}
	if err := e.markSuggestionApproved(ctx, agent, sg.ID); err != nil {
		return nil, err
	}

	base.Result = model.AttemptApplied
	return e.finishAttempt(ctx, &base, model.EventPreferenceAutoApplied)
}

// ApplyProposal applies an arbitration-approved preference proposal:
// the profile write plus an applied attempt linked to the arbitration
// decision. Used by the conflict sweep and escalation approval.
func (e *Engine) ApplyProposal(ctx context.Context, p *model.Proposal, decisionID uuid.UUID) (*model.AdaptationAttempt, error) {
	if p.Target.Type != "preference" {
		return nil, fmt.Errorf("adaptation: proposal %s targets %s, not a preference", p.ID, p.Target.Type)
	}
	category, key, err := model.ParseQualifiedKey(p.Target.Key)
	if err != nil {
		return nil, fmt.Errorf("adaptation: %w", err)
	}
	if err := e.registry.Validate(category, key, p.ProposedValue); err != nil {
		return nil, fmt.Errorf("adaptation: %w", err)
	}

	// The target names the profile owner; the proposing agent may be
	// another agent entirely.
	agent := p.Target.ID
	policy, err := e.policies.GetOrCreate(ctx, agent)
	if err != nil {
		return nil, err
	}
	profile, err := e.profiles.GetOrCreateProfile(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("adaptation: load profile: %w", err)
	}
	current := e.currentValue(profile, agent, category, key)

	sg := model.SuggestedPreference{
		Category:       category,
		Key:            key,
		SuggestedValue: p.ProposedValue,
		Confidence:     p.Confidence,
	}
	if p.SuggestionID != nil {
		sg.ID = *p.SuggestionID
	}
	if err := e.applyPreference(ctx, agent, sg, model.SourceAutoAdaptation, current); err != nil {
		return nil, err
	}
	if p.SuggestionID != nil {
		if err := e.markSuggestionApproved(ctx, agent, *p.SuggestionID); err != nil {
			e.logger.Warn("adaptation: mark suggestion approved", "agent", agent, "error", err)
		}
	}

	attempt := &model.AdaptationAttempt{
		ID:             ulid.Make().String(),
		AgentName:      agent,
		SuggestionID:   sg.ID,
		Category:       category,
		Key:            key,
		PreviousValue:  current,
		SuggestedValue: p.ProposedValue,
		Confidence:     p.Confidence,
		RiskLevel:      p.RiskLevel,
		Result:         model.AttemptApplied,
		PolicyID:       policy.ID,
		PolicySnapshot: policy.Snapshot(),
		DecisionID:     &decisionID,
		Timestamp:      e.now().UTC(),
	}
	res, err := e.finishAttempt(ctx, attempt, model.EventPreferenceAutoApplied)
	if err != nil {
		return nil, err
	}
	return res.Attempt, nil
}

// Rollback unwinds one applied attempt: the preference returns to its
// previous value, or the registry default when the attempt created the
// preference. Only applied, not-yet-rolled-back attempts qualify.
func (e *Engine) Rollback(ctx context.Context, attemptID, reason string) (*model.AdaptationAttempt, error) {
	attempt, err := e.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("adaptation: load attempt: %w", err)
	}
	if attempt.Result != model.AttemptApplied {
		return nil, fmt.Errorf("adaptation: attempt %s is %s: %w", attemptID, attempt.Result, ErrNotApplied)
	}
	if attempt.RolledBack {
		return attempt, fmt.Errorf("adaptation: attempt %s: %w", attemptID, store.ErrAlreadyRolledBack)
	}

	restored := attempt.PreviousValue
	if restored == nil {
		restored = e.registry.DefaultFor(attempt.AgentName, attempt.Category, attempt.Key)
	}

	now := e.now().UTC()
	pref := model.UserPreference{
		Category:    attempt.Category,
		Key:         attempt.Key,
		Value:       restored,
		Confidence:  attempt.Confidence,
		Source:      model.SourceRollback,
		LastUpdated: now,
	}
	change := model.PreferenceChange{
		Category:  attempt.Category,
		Key:       attempt.Key,
		OldValue:  attempt.SuggestedValue,
		NewValue:  restored,
		Source:    model.SourceRollback,
		Reason:    reason,
		ChangedAt: now,
	}
	if err := e.profiles.SetPreference(ctx, attempt.AgentName, pref, change); err != nil {
		return nil, fmt.Errorf("adaptation: restore preference: %w", err)
	}
	if err := e.attempts.MarkAttemptRolledBack(ctx, attemptID, now, reason); err != nil {
		return nil, fmt.Errorf("adaptation: mark rolled back: %w", err)
	}

	attempt.RolledBack = true
	attempt.RolledBackAt = &now
	attempt.RollbackReason = &reason

	ev := model.NewEvent(model.EventPreferenceRolledBack, "preference", attempt.AgentName, map[string]any{
		"attemptId":     attempt.ID,
		"category":      attempt.Category,
		"key":           attempt.Key,
		"restoredValue": restored,
		"reason":        reason,
	})
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.Warn("adaptation: publish rollback event", "error", err)
	}
	return attempt, nil
}

func (e *Engine) applyPreference(ctx context.Context, agent string, sg model.SuggestedPreference, source model.PreferenceSource, current any) error {
	if err := e.registry.Validate(sg.Category, sg.Key, sg.SuggestedValue); err != nil {
		return fmt.Errorf("adaptation: %w", err)
	}
	now := e.now().UTC()
	pref := model.UserPreference{
		Category:    sg.Category,
		Key:         sg.Key,
		Value:       sg.SuggestedValue,
		Confidence:  sg.Confidence,
		Source:      source,
		LastUpdated: now,
	}
	change := model.PreferenceChange{
		Category:  sg.Category,
		Key:       sg.Key,
		OldValue:  current,
		NewValue:  sg.SuggestedValue,
		Source:    source,
		ChangedAt: now,
	}
	if err := e.profiles.SetPreference(ctx, agent, pref, change); err != nil {
		return fmt.Errorf("adaptation: apply preference: %w", err)
	}
	return nil
}

func (e *Engine) markSuggestionApproved(ctx context.Context, agent, suggestionID string) error {
	if suggestionID == "" {
		return nil
	}
	sg, err := e.profiles.GetSuggestion(ctx, agent, suggestionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Suggestions created outside the profile (tests, ad-hoc
			// engine calls) have nothing to update.
			return nil
		}
		return fmt.Errorf("adaptation: load suggestion: %w", err)
	}
	if sg.Status != model.SuggestionPending {
		return nil
	}
	now := e.now().UTC()
	sg.Status = model.SuggestionApproved
	sg.ResolvedAt = &now
	if err := e.profiles.UpdateSuggestion(ctx, agent, *sg); err != nil {
		return fmt.Errorf("adaptation: update suggestion: %w", err)
	}
	return nil
}

// finishAttempt persists the attempt, records the metric, and publishes
// the lifecycle event. Attempt persistence happens before the event so
// subscribers always observe the stored record.
func (e *Engine) finishAttempt(ctx context.Context, attempt *model.AdaptationAttempt, eventType model.EventType) (*ProcessResult, error) {
	if err := e.attempts.AppendAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("adaptation: persist attempt: %w", err)
	}

	e.attemptCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", string(attempt.Result)),
		attribute.String("reason", string(attempt.BlockReason)),
	))
	e.logger.Debug("adaptation: attempt recorded",
		"agent", attempt.AgentName,
		"preference", attempt.Category+"."+attempt.Key,
		"result", attempt.Result,
		"reason", attempt.BlockReason)

	ev := model.NewEvent(eventType, "preference", attempt.AgentName, map[string]any{
		"attemptId":      attempt.ID,
		"suggestionId":   attempt.SuggestionID,
		"category":       attempt.Category,
		"key":            attempt.Key,
		"suggestedValue": attempt.SuggestedValue,
		"result":         string(attempt.Result),
		"blockReason":    string(attempt.BlockReason),
	})
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.Warn("adaptation: publish attempt event", "error", err)
	}
	return &ProcessResult{Attempt: attempt}, nil
}

func (e *Engine) currentValue(profile *model.LearningProfile, agent, category, key string) any {
	if pref := profile.Preference(category, key); pref != nil {
		return pref.Value
	}
	return nil
}
