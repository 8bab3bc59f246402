package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tazuna-ai/tazuna/internal/journal"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/projection"
)

// parsePage reads page/pageSize query parameters. Non-numeric values
// fall back to defaults rather than erroring; the clamp handles range.
func parsePage(r *http.Request) model.Page {
	var p model.Page
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil {
		p.PageSize = v
	}
	return p.Normalize()
}

// writeView writes a projection page as the list envelope.
func writeView[T any](w http.ResponseWriter, r *http.Request, view projection.Paginated[T]) {
	writeList(w, r, view.Data, model.Pagination{
		Page:       view.Page,
		PageSize:   view.PageSize,
		Total:      view.Total,
		TotalPages: view.TotalPages,
	})
}

func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	view, err := s.projections.PreferencesView(r.Context(), r.URL.Query().Get("agent"), parsePage(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeView(w, r, view)
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	status := model.SuggestionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.SuggestionPending, model.SuggestionApproved, model.SuggestionRejected:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "status must be one of pending, approved, rejected")
		s.metrics.validationError(r.Context(), "GET /admin/suggestions")
		return
	}
	view, err := s.projections.SuggestionsView(r.Context(), status, r.URL.Query().Get("agent"), parsePage(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeView(w, r, view)
}

func (s *Server) handleListArbitrations(w http.ResponseWriter, r *http.Request) {
	var escalated *bool
	if v := r.URL.Query().Get("escalated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "escalated must be true or false")
			s.metrics.validationError(r.Context(), "GET /admin/arbitrations")
			return
		}
		escalated = &b
	}
	view, err := s.projections.ArbitrationsView(r.Context(), escalated, parsePage(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeView(w, r, view)
}

func (s *Server) handlePendingEscalations(w http.ResponseWriter, r *http.Request) {
	view, err := s.projections.PendingEscalationsView(r.Context(), parsePage(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeView(w, r, view)
}

func (s *Server) handleAgentActivity(w http.ResponseWriter, r *http.Request) {
	view, err := s.projections.AgentActivityView(r.Context(), parsePage(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeView(w, r, view)
}

// handleAudit queries the journal within a bounded window: 30 days by
// default, capped at 90, and since must precede until.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since, until time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "since must be RFC 3339")
			s.metrics.validationError(r.Context(), "GET /admin/audit")
			return
		}
		since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "until must be RFC 3339")
			s.metrics.validationError(r.Context(), "GET /admin/audit")
			return
		}
		until = t
	}

	since, until, err := journal.NormalizeWindow(since, until, time.Now().UTC())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		s.metrics.validationError(r.Context(), "GET /admin/audit")
		return
	}

	page := parsePage(r)
	entries, total, err := s.store.QueryJournal(r.Context(), model.JournalFilter{
		Since:     since,
		Until:     until,
		Type:      q.Get("type"),
		AgentName: q.Get("agent"),
	}, page)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeList(w, r, entries, model.NewPagination(page, total))
}

// handleExplanation returns the unified explanation for an arbitration
// decision, adaptation attempt, or decision record, resolved by id.
func (s *Server) handleExplanation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "id is required")
		s.metrics.validationError(r.Context(), "GET /admin/explanations/:id")
		return
	}
	exp, err := s.explain.ExplainDecision(r.Context(), id)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}
