// Package projection builds read models over the plane's stores for the
// admin API and MCP surfaces. Views never write and never emit events;
// identical store state yields identical output.
package projection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// Paginated is one page of a view plus the pagination block.
type Paginated[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// paginate slices pre-sorted items for a normalized page.
func paginate[T any](items []T, p model.Page) Paginated[T] {
	p = p.Normalize()
	total := len(items)
	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	pg := model.NewPagination(p, total)
	return Paginated[T]{
		Data:       items[start:end],
		Page:       pg.Page,
		PageSize:   pg.PageSize,
		Total:      pg.Total,
		TotalPages: pg.TotalPages,
	}
}

// fromStorePage wraps an already-paginated store result.
func fromStorePage[T any](items []T, p model.Page, total int) Paginated[T] {
	p = p.Normalize()
	pg := model.NewPagination(p, total)
	return Paginated[T]{
		Data:       items,
		Page:       pg.Page,
		PageSize:   pg.PageSize,
		Total:      pg.Total,
		TotalPages: pg.TotalPages,
	}
}

// PreferenceRow is one preference entry in the preferences view.
type PreferenceRow struct {
	AgentName   string                 `json:"agentName"`
	Category    string                 `json:"category"`
	Key         string                 `json:"key"`
	Value       any                    `json:"value"`
	Confidence  float64                `json:"confidence"`
	Source      model.PreferenceSource `json:"source"`
	LastUpdated time.Time              `json:"lastUpdated"`
}

// AgentActivityRow summarizes one agent's footprint on the plane.
type AgentActivityRow struct {
	AgentName       string    `json:"agentName"`
	Decisions       int       `json:"decisions"`
	Proposals       int       `json:"proposals"`
	FeedbackEntries int       `json:"feedbackEntries"`
	AcceptanceRate  float64   `json:"acceptanceRate"`
	Suggestions     int       `json:"suggestions"`
	LastActivity    time.Time `json:"lastActivity"`
}

// Service hosts the read models.
type Service struct {
	profiles     store.Profiles
	decisions    store.Decisions
	proposals    store.Proposals
	arbitrations store.ArbitrationDecisions
	attempts     store.Attempts
}

// New creates a projection service.
func New(profiles store.Profiles, decisions store.Decisions, proposals store.Proposals, arbitrations store.ArbitrationDecisions, attempts store.Attempts) *Service {
	return &Service{
		profiles:     profiles,
		decisions:    decisions,
		proposals:    proposals,
		arbitrations: arbitrations,
		attempts:     attempts,
	}
}

// PreferencesView flattens learning profiles into preference rows,
// sorted by agent then qualified key. Empty agent means all agents.
func (s *Service) PreferencesView(ctx context.Context, agent string, page model.Page) (Paginated[PreferenceRow], error) {
	var profiles []*model.LearningProfile
	if agent != "" {
		p, err := s.profiles.GetProfile(ctx, agent)
		if err != nil {
			return Paginated[PreferenceRow]{}, fmt.Errorf("projection: load profile: %w", err)
		}
		profiles = []*model.LearningProfile{p}
	} else {
		var err error
		profiles, err = s.profiles.ListProfiles(ctx)
		if err != nil {
			return Paginated[PreferenceRow]{}, fmt.Errorf("projection: list profiles: %w", err)
		}
	}

	var rows []PreferenceRow
	for _, p := range profiles {
		for _, pref := range p.Preferences {
			rows = append(rows, PreferenceRow{
				AgentName:   p.AgentName,
				Category:    pref.Category,
				Key:         pref.Key,
				Value:       pref.Value,
				Confidence:  pref.Confidence,
				Source:      pref.Source,
				LastUpdated: pref.LastUpdated,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AgentName != rows[j].AgentName {
			return rows[i].AgentName < rows[j].AgentName
		}
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].Key < rows[j].Key
	})
	return paginate(rows, page), nil
}

// SuggestionsView lists suggestions, optionally filtered by status and
// agent, newest first.
func (s *Service) SuggestionsView(ctx context.Context, status model.SuggestionStatus, agent string, page model.Page) (Paginated[model.SuggestedPreference], error) {
	suggestions, err := s.profiles.ListSuggestions(ctx, status, agent)
	if err != nil {
		return Paginated[model.SuggestedPreference]{}, fmt.Errorf("projection: list suggestions: %w", err)
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		if !suggestions[i].SuggestedAt.Equal(suggestions[j].SuggestedAt) {
			return suggestions[i].SuggestedAt.After(suggestions[j].SuggestedAt)
		}
		return suggestions[i].ID > suggestions[j].ID
	})
	return paginate(suggestions, page), nil
}

// ArbitrationsView lists arbitration decisions, newest first, optionally
// filtered to escalated (or non-escalated) ones.
func (s *Service) ArbitrationsView(ctx context.Context, escalated *bool, page model.Page) (Paginated[*model.ArbitrationDecision], error) {
	page = page.Normalize()
	decisions, total, err := s.arbitrations.ListArbitrationDecisions(ctx, escalated, page)
	if err != nil {
		return Paginated[*model.ArbitrationDecision]{}, fmt.Errorf("projection: list arbitrations: %w", err)
	}
	return fromStorePage(decisions, page, total), nil
}

// PendingEscalationsView lists escalated, not-yet-executed decisions,
// oldest first so the longest-waiting escalation surfaces first.
func (s *Service) PendingEscalationsView(ctx context.Context, page model.Page) (Paginated[*model.ArbitrationDecision], error) {
	page = page.Normalize()
	pending, total, err := s.arbitrations.ListPendingEscalations(ctx, page)
	if err != nil {
		return Paginated[*model.ArbitrationDecision]{}, fmt.Errorf("projection: list pending escalations: %w", err)
	}
	return fromStorePage(pending, page, total), nil
}

// AttemptsView lists an agent's adaptation attempts, newest first.
func (s *Service) AttemptsView(ctx context.Context, agent string, page model.Page) (Paginated[*model.AdaptationAttempt], error) {
	attempts, err := s.attempts.ListAttempts(ctx, agent)
	if err != nil {
		return Paginated[*model.AdaptationAttempt]{}, fmt.Errorf("projection: list attempts: %w", err)
	}
	// Stored oldest first; present newest first.
	reversed := make([]*model.AdaptationAttempt, len(attempts))
	for i, a := range attempts {
		reversed[len(attempts)-1-i] = a
	}
	return paginate(reversed, page), nil
}

// AgentActivityView summarizes decision, proposal, and feedback volume
// per agent, sorted by agent name.
func (s *Service) AgentActivityView(ctx context.Context, page model.Page) (Paginated[AgentActivityRow], error) {
	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return Paginated[AgentActivityRow]{}, fmt.Errorf("projection: list profiles: %w", err)
	}

	rows := make(map[string]*AgentActivityRow)
	row := func(agent string) *AgentActivityRow {
		if r, ok := rows[agent]; ok {
			return r
		}
		r := &AgentActivityRow{AgentName: agent}
		rows[agent] = r
		return r
	}

	for _, p := range profiles {
		r := row(p.AgentName)
		r.FeedbackEntries = p.TotalFeedbackReceived
		r.AcceptanceRate = p.OverallAcceptanceRate
		r.Suggestions = len(p.Suggestions)
		if p.UpdatedAt.After(r.LastActivity) {
			r.LastActivity = p.UpdatedAt
		}
	}

	for _, status := range []model.ProposalStatus{
		model.ProposalPending, model.ProposalApproved, model.ProposalSuppressed,
		model.ProposalVetoed, model.ProposalEscalated,
	} {
		props, err := s.proposals.ListProposalsByStatus(ctx, status)
		if err != nil {
			return Paginated[AgentActivityRow]{}, fmt.Errorf("projection: list proposals: %w", err)
		}
		for _, p := range props {
			r := row(p.AgentName)
			r.Proposals++
			if p.CreatedAt.After(r.LastActivity) {
				r.LastActivity = p.CreatedAt
			}
		}
	}

	for _, agent := range sortedKeys(rows) {
		_, total, err := s.decisions.ListDecisions(ctx, store.DecisionFilter{AgentName: agent}, model.Page{Page: 1, PageSize: 1})
		if err != nil {
			return Paginated[AgentActivityRow]{}, fmt.Errorf("projection: count decisions: %w", err)
		}
		rows[agent].Decisions = total
	}

	out := make([]AgentActivityRow, 0, len(rows))
	for _, agent := range sortedKeys(rows) {
		out = append(out, *rows[agent])
	}
	return paginate(out, page), nil
}

func sortedKeys(m map[string]*AgentActivityRow) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
