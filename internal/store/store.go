// Package store declares the repository ports the decision plane persists
// through, plus the sentinel errors implementations must return. Two
// implementations exist: memory (default) and postgres.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
)

// Profiles owns agent learning profiles: preferences, feedback,
// suggestions, and change history. Appends are linearized per agent.
type Profiles interface {
	// GetOrCreateProfile returns the profile, creating an empty one on
	// first use.
	GetOrCreateProfile(ctx context.Context, agentName string) (*model.LearningProfile, error)

	// GetProfile returns ErrNotFound when the agent has no profile.
	GetProfile(ctx context.Context, agentName string) (*model.LearningProfile, error)

	ListProfiles(ctx context.Context) ([]*model.LearningProfile, error)

	// SetPreference writes a preference value and appends the matching
	// change-history entry in one step.
	SetPreference(ctx context.Context, agentName string, pref model.UserPreference, change model.PreferenceChange) error

	// AppendFeedback appends an entry and updates the profile's feedback
	// totals and acceptance rate.
	AppendFeedback(ctx context.Context, agentName string, entry model.FeedbackEntry) error

	AddSuggestion(ctx context.Context, agentName string, s model.SuggestedPreference) error

	// UpdateSuggestion replaces the stored suggestion with the same ID.
	UpdateSuggestion(ctx context.Context, agentName string, s model.SuggestedPreference) error

	GetSuggestion(ctx context.Context, agentName, id string) (*model.SuggestedPreference, error)

	// ListSuggestions filters by status and agent; zero values mean all.
	ListSuggestions(ctx context.Context, status model.SuggestionStatus, agentName string) ([]model.SuggestedPreference, error)
}

// DecisionFilter narrows decision-record listings. Zero values mean
// "no filter".
type DecisionFilter struct {
	AgentName string
	EventType string
	Since     time.Time
	Until     time.Time
}

// Decisions owns governance decision records.
type Decisions interface {
	CreateDecision(ctx context.Context, d *model.DecisionRecord) error
	GetDecision(ctx context.Context, id uuid.UUID) (*model.DecisionRecord, error)

	// SetDecisionOutcome records the user verdict. Returns
	// ErrOutcomeRecorded when an outcome already exists.
	SetDecisionOutcome(ctx context.Context, id uuid.UUID, outcome model.DecisionOutcome) error

	ListDecisions(ctx context.Context, filter DecisionFilter, page model.Page) ([]*model.DecisionRecord, int, error)
}

// Proposals owns agent action proposals.
type Proposals interface {
	CreateProposal(ctx context.Context, p *model.Proposal) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)

	// UpdateProposalStatus performs the single permitted transition out
	// of pending, or settles an escalated proposal to approved or
	// suppressed on human review. Returns ErrIllegalTransition for
	// anything else.
	UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, decisionID *uuid.UUID) error

	ListProposalsByStatus(ctx context.Context, status model.ProposalStatus) ([]*model.Proposal, error)
	ListProposalsByIDs(ctx context.Context, ids []string) ([]*model.Proposal, error)
}

// Conflicts owns detected proposal conflicts.
type Conflicts interface {
	CreateConflict(ctx context.Context, c *model.Conflict) error
	GetConflict(ctx context.Context, id uuid.UUID) (*model.Conflict, error)

	// ResolveConflict marks the conflict resolved by the given decision.
	// Returns ErrAlreadyResolved on a second resolution.
	ResolveConflict(ctx context.Context, id, decisionID uuid.UUID) error

	ListUnresolvedConflicts(ctx context.Context) ([]*model.Conflict, error)
}

// ArbitrationPolicies owns arbitration policy configuration.
type ArbitrationPolicies interface {
	UpsertArbitrationPolicy(ctx context.Context, p *model.ArbitrationPolicy) error

	// FindArbitrationPolicy looks up by (scope, scopeKey). Returns
	// ErrNotFound when no policy is registered for the pair.
	FindArbitrationPolicy(ctx context.Context, scope model.PolicyScope, scopeKey string) (*model.ArbitrationPolicy, error)

	// GetDefaultArbitrationPolicy returns the policy marked IsDefault,
	// or ErrNotFound.
	GetDefaultArbitrationPolicy(ctx context.Context) (*model.ArbitrationPolicy, error)

	ListArbitrationPolicies(ctx context.Context) ([]*model.ArbitrationPolicy, error)
}

// ArbitrationDecisions owns arbitration verdicts. Decisions are immutable
// after creation except for the execution fields.
type ArbitrationDecisions interface {
	CreateArbitrationDecision(ctx context.Context, d *model.ArbitrationDecision) error
	GetArbitrationDecision(ctx context.Context, id uuid.UUID) (*model.ArbitrationDecision, error)

	// ListArbitrationDecisions filters on escalation when escalated is
	// non-nil. Newest first.
	ListArbitrationDecisions(ctx context.Context, escalated *bool, page model.Page) ([]*model.ArbitrationDecision, int, error)

	// ListPendingEscalations returns escalated, not-yet-executed
	// decisions, oldest first.
	ListPendingEscalations(ctx context.Context, page model.Page) ([]*model.ArbitrationDecision, int, error)

	// MarkDecisionExecuted flips the execution fields. Returns
	// ErrAlreadyExecuted on a second call.
	MarkDecisionExecuted(ctx context.Context, id uuid.UUID, executedBy string, executedAt time.Time) error
}

// AdaptationPolicies owns per-agent adaptation policies. RecordAutoChange
// is the exclusive section guarding cooldown and the rate window.
type AdaptationPolicies interface {
	// GetAdaptationPolicy returns ErrNotFound when the agent has none.
	GetAdaptationPolicy(ctx context.Context, agentName string) (*model.AdaptationPolicy, error)

	SaveAdaptationPolicy(ctx context.Context, p *model.AdaptationPolicy) error

	// RecordAutoChange atomically re-checks cooldown and the rate window
	// and, when both pass, advances LastAutoAdaptAt and the window
	// counter. A non-empty block reason means the change must not apply;
	// concurrent callers cannot exceed the window's MaxChanges.
	RecordAutoChange(ctx context.Context, agentName string, now time.Time) (*model.AdaptationPolicy, model.BlockReason, error)
}

// Attempts owns auto-adaptation attempts, linearized per agent in
// insertion order.
type Attempts interface {
	AppendAttempt(ctx context.Context, a *model.AdaptationAttempt) error
	GetAttempt(ctx context.Context, id string) (*model.AdaptationAttempt, error)
	ListAttempts(ctx context.Context, agentName string) ([]*model.AdaptationAttempt, error)
	ListAttemptsByDecision(ctx context.Context, decisionID uuid.UUID) ([]*model.AdaptationAttempt, error)

	// MarkAttemptRolledBack records a rollback. Returns
	// ErrAlreadyRolledBack on a second call.
	MarkAttemptRolledBack(ctx context.Context, id string, at time.Time, reason string) error
}

// IdempotencyLookup describes the current state of an idempotency key.
type IdempotencyLookup struct {
	Completed  bool
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Idempotency stores admin mutation responses keyed by
// (userID, endpoint, key) so retries replay instead of re-executing.
type Idempotency interface {
	// BeginIdempotency reserves a key for processing. A zero lookup with
	// nil error means the caller owns processing. Completed=true means
	// replay the stored response. ErrIdempotencyInProgress and
	// ErrIdempotencyPayloadMismatch signal the conflict cases.
	BeginIdempotency(ctx context.Context, userID, endpoint, key, requestHash string) (IdempotencyLookup, error)

	// CompleteIdempotency stores the final response for a reserved key.
	CompleteIdempotency(ctx context.Context, userID, endpoint, key string, statusCode int, body []byte, headers map[string]string) error

	// ClearInProgressIdempotency removes a reservation so the client can
	// retry after a handler failure.
	ClearInProgressIdempotency(ctx context.Context, userID, endpoint, key string) error

	// CleanupIdempotencyKeys removes expired completed records and
	// abandoned in-progress records.
	CleanupIdempotencyKeys(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error)
}

// AdminUsers owns control-plane operator accounts.
type AdminUsers interface {
	GetAdminUser(ctx context.Context, username string) (*model.AdminUser, error)
	UpsertAdminUser(ctx context.Context, u *model.AdminUser) error
	ListAdminUsers(ctx context.Context) ([]*model.AdminUser, error)
}

// RefreshTokens tracks issued refresh tokens by jti for revocation.
type RefreshTokens interface {
	PutRefreshToken(ctx context.Context, t *model.RefreshToken) error
	GetRefreshToken(ctx context.Context, jti string) (*model.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, jti string, at time.Time) error
	RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	CleanupRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// Journal is the append-only audit log of domain events and admin
// mutations.
type Journal interface {
	AppendJournalEntries(ctx context.Context, entries []model.JournalEntry) error
	QueryJournal(ctx context.Context, filter model.JournalFilter, page model.Page) ([]model.JournalEntry, int, error)
}

// Store aggregates every port. Both implementations satisfy it; services
// depend on the narrow interfaces above, not on Store.
type Store interface {
	Profiles
	Decisions
	Proposals
	Conflicts
	ArbitrationPolicies
	ArbitrationDecisions
	AdaptationPolicies
	Attempts
	Idempotency
	AdminUsers
	RefreshTokens
	Journal
}
