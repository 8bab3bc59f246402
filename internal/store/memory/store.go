// Package memory implements the store ports with mutex-guarded in-process
// maps. It is the default store and the reference implementation the
// postgres store is tested against.
package memory

import (
	"sync"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// Store holds every aggregate in memory. All methods are safe for
// concurrent use; a single mutex linearizes writes, which also satisfies
// the per-agent append ordering the ports require.
type Store struct {
	mu sync.RWMutex

	profiles     map[string]*model.LearningProfile
	profileOrder []string

	decisions     map[string]*model.DecisionRecord
	decisionOrder []string

	proposals     map[string]*model.Proposal
	proposalOrder []string

	conflicts     map[string]*model.Conflict
	conflictOrder []string

	arbPolicies     map[string]*model.ArbitrationPolicy
	arbPolicyOrder  []string
	arbDecisions    map[string]*model.ArbitrationDecision
	arbDecisionOrder []string

	adaptPolicies map[string]*model.AdaptationPolicy

	attempts     map[string]*model.AdaptationAttempt
	attemptOrder []string

	idempotency map[string]*idempotencyRecord

	users  map[string]*model.AdminUser
	tokens map[string]*model.RefreshToken

	journal []model.JournalEntry
}

// compile-time interface check
var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

// Clear drops all stored state. Test helper; never called on production
// paths.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.profiles = make(map[string]*model.LearningProfile)
	s.profileOrder = nil
	s.decisions = make(map[string]*model.DecisionRecord)
	s.decisionOrder = nil
	s.proposals = make(map[string]*model.Proposal)
	s.proposalOrder = nil
	s.conflicts = make(map[string]*model.Conflict)
	s.conflictOrder = nil
	s.arbPolicies = make(map[string]*model.ArbitrationPolicy)
	s.arbPolicyOrder = nil
	s.arbDecisions = make(map[string]*model.ArbitrationDecision)
	s.arbDecisionOrder = nil
	s.adaptPolicies = make(map[string]*model.AdaptationPolicy)
	s.attempts = make(map[string]*model.AdaptationAttempt)
	s.attemptOrder = nil
	s.idempotency = make(map[string]*idempotencyRecord)
	s.users = make(map[string]*model.AdminUser)
	s.tokens = make(map[string]*model.RefreshToken)
	s.journal = nil
}

// paginate slices items for the given normalized page and returns the
// page plus the total count.
func paginate[T any](items []T, page model.Page) ([]T, int) {
	total := len(items)
	start := page.Offset()
	if start >= total {
		return []T{}, total
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out, total
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyPayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
