// Package adaptation gates automatic preference changes behind per-agent
// policies: opt-in, confidence floors, risk limits, cooldowns, and rate
// windows. Every evaluation is recorded as an attempt so operators can
// explain and roll back anything the engine did.
package adaptation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// Defaults for newly created policies: manual mode, opted out, low-risk
// only, one change per hour, ten changes per day.
const (
	DefaultMinConfidence = 0.7
	DefaultCooldown      = time.Hour
	DefaultMaxChanges    = 10
	DefaultWindow        = 24 * time.Hour
)

// EnableOptions tunes EnableAuto. Zero values keep the policy's current
// settings.
type EnableOptions struct {
	MinConfidence     float64
	AllowedRiskLevels []model.RiskLevel
	Cooldown          *time.Duration
	RateLimit         *model.AdaptationRateLimit
}

// PolicyService manages per-agent adaptation policies and evaluates
// whether a proposed change may auto-apply.
type PolicyService struct {
	policies store.AdaptationPolicies
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewPolicyService creates a policy service.
func NewPolicyService(policies store.AdaptationPolicies, reg *registry.Registry, logger *slog.Logger) *PolicyService {
	return &PolicyService{policies: policies, registry: reg, logger: logger, now: time.Now}
}

// GetOrCreate returns the agent's policy, creating the conservative
// default (manual, opted out, low risk only) on first use.
func (s *PolicyService) GetOrCreate(ctx context.Context, agent string) (*model.AdaptationPolicy, error) {
	p, err := s.policies.GetAdaptationPolicy(ctx, agent)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("adaptation: load policy: %w", err)
	}

	now := s.now().UTC()
	p = &model.AdaptationPolicy{
		ID:                uuid.New(),
		AgentName:         agent,
		Mode:              model.ModeManual,
		UserOptedIn:       false,
		MinConfidence:     DefaultMinConfidence,
		AllowedRiskLevels: []model.RiskLevel{model.RiskLow},
		Cooldown:          DefaultCooldown,
		RateLimit:         model.AdaptationRateLimit{MaxChanges: DefaultMaxChanges, Window: DefaultWindow},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.policies.SaveAdaptationPolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("adaptation: save policy: %w", err)
	}
	return p, nil
}

// EnableAuto opts the agent into automatic adaptation and applies any
// overrides from opts.
func (s *PolicyService) EnableAuto(ctx context.Context, agent string, opts EnableOptions) (*model.AdaptationPolicy, error) {
	p, err := s.GetOrCreate(ctx, agent)
	if err != nil {
		return nil, err
	}
	p.Mode = model.ModeAuto
	p.UserOptedIn = true
	if opts.MinConfidence > 0 {
		if err := model.ValidateConfidence(opts.MinConfidence); err != nil {
			return nil, fmt.Errorf("adaptation: %w", err)
		}
		p.MinConfidence = opts.MinConfidence
	}
	if len(opts.AllowedRiskLevels) > 0 {
		p.AllowedRiskLevels = append([]model.RiskLevel(nil), opts.AllowedRiskLevels...)
	}
	if opts.Cooldown != nil {
		p.Cooldown = *opts.Cooldown
	}
	if opts.RateLimit != nil {
		p.RateLimit = *opts.RateLimit
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.policies.SaveAdaptationPolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("adaptation: save policy: %w", err)
	}
	return p, nil
}

// DisableAuto reverts the agent to manual mode. Existing preferences are
// untouched.
func (s *PolicyService) DisableAuto(ctx context.Context, agent string) (*model.AdaptationPolicy, error) {
	p, err := s.GetOrCreate(ctx, agent)
	if err != nil {
		return nil, err
	}
	p.Mode = model.ModeManual
	p.UserOptedIn = false
	p.UpdatedAt = s.now().UTC()
	if err := s.policies.SaveAdaptationPolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("adaptation: save policy: %w", err)
	}
	return p, nil
}

// LockPreference blocks auto-adaptation for one (category, key).
func (s *PolicyService) LockPreference(ctx context.Context, agent, category, key string) error {
	return s.setRestriction(ctx, agent, category, key, func(r *model.ScopeRestriction) {
		r.Locked = true
	})
}

// UnlockPreference removes a preference lock.
func (s *PolicyService) UnlockPreference(ctx context.Context, agent, category, key string) error {
	return s.setRestriction(ctx, agent, category, key, func(r *model.ScopeRestriction) {
		r.Locked = false
	})
}

// SetScopeRestriction installs or replaces the restriction for the
// restriction's (category, key).
func (s *PolicyService) SetScopeRestriction(ctx context.Context, agent string, restriction model.ScopeRestriction) error {
	return s.setRestriction(ctx, agent, restriction.Category, restriction.Key, func(r *model.ScopeRestriction) {
		*r = restriction
	})
}

func (s *PolicyService) setRestriction(ctx context.Context, agent, category, key string, apply func(*model.ScopeRestriction)) error {
	p, err := s.GetOrCreate(ctx, agent)
	if err != nil {
		return err
	}
	r := p.Restriction(category, key)
	if r == nil {
		p.ScopeRestrictions = append(p.ScopeRestrictions, model.ScopeRestriction{Category: category, Key: key})
		r = &p.ScopeRestrictions[len(p.ScopeRestrictions)-1]
	}
	apply(r)
	p.UpdatedAt = s.now().UTC()
	if err := s.policies.SaveAdaptationPolicy(ctx, p); err != nil {
		return fmt.Errorf("adaptation: save policy: %w", err)
	}
	return nil
}

// IsLocked reports whether the agent's policy locks (category, key).
// Used by arbitration's preference_lock veto rules.
func (s *PolicyService) IsLocked(ctx context.Context, agent, category, key string) bool {
	p, err := s.policies.GetAdaptationPolicy(ctx, agent)
	if err != nil {
		return false
	}
	r := p.Restriction(category, key)
	return r != nil && r.Locked
}

// Evaluate runs the auto-adaptation checks in their fixed order and
// short-circuits at the first failure:
//
//	1. registry adaptivity   2. opt-in and mode   3. scope lock
//	4. per-scope mode        5. risk level        6. cooldown
//	7. rate window           8. confidence
//
// Evaluate never mutates policy state; the cooldown and window advance
// happens in the store's RecordAutoChange at apply time.
func (s *PolicyService) Evaluate(ctx context.Context, agent, category, key string, confidence float64, risk model.RiskLevel) (*model.Evaluation, error) {
	p, err := s.GetOrCreate(ctx, agent)
	if err != nil {
		return nil, err
	}

	threshold := p.MinConfidence
	if t := s.registry.ConfidenceThreshold(category, key); t > threshold {
		threshold = t
	}
	restriction := p.Restriction(category, key)
	if restriction != nil && restriction.MinConfidence != nil && *restriction.MinConfidence > threshold {
		threshold = *restriction.MinConfidence
	}
	eval := &model.Evaluation{EffectiveConfidenceThreshold: threshold}

	blocked := func(reason model.BlockReason) (*model.Evaluation, error) {
		eval.Allowed = false
		eval.BlockReason = reason
		return eval, nil
	}

	if !s.registry.IsAdaptive(category, key) {
		return blocked(model.BlockPreferenceNotAdaptive)
	}
	if !p.UserOptedIn {
		return blocked(model.BlockUserNotOptedIn)
	}
	if p.Mode == model.ModeManual {
		return blocked(model.BlockModeIsManual)
	}
	if restriction != nil && restriction.Locked {
		return blocked(model.BlockPreferenceLocked)
	}
	if restriction != nil && restriction.Mode != nil && *restriction.Mode == model.ModeManual {
		return blocked(model.BlockModeIsManual)
	}
	if !p.RiskAllowed(risk) {
		return blocked(model.BlockRiskLevelNotAllowed)
	}

	now := s.now().UTC()
	if p.Cooldown > 0 && p.LastAutoAdaptAt != nil && now.Sub(*p.LastAutoAdaptAt) < p.Cooldown {
		return blocked(model.BlockCooldownNotElapsed)
	}
	if p.RateLimit.MaxChanges > 0 {
		windowLive := p.WindowStartedAt != nil && now.Sub(*p.WindowStartedAt) < p.RateLimit.Window
		if windowLive && p.CurrentWindowCount >= p.RateLimit.MaxChanges {
			return blocked(model.BlockRateLimitExceeded)
		}
	}
	if confidence < threshold {
		return blocked(model.BlockConfidenceTooLow)
	}

	eval.Allowed = true
	return eval, nil
}
