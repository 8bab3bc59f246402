package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/ctxutil"
	"github.com/tazuna-ai/tazuna/internal/journal"
	"github.com/tazuna-ai/tazuna/internal/model"
)

// recordMutation appends the mutation to the audit journal. Failures are
// logged, not surfaced; the mutation itself already happened.
func (s *Server) recordMutation(r *http.Request, mutType, agent string, payload map[string]any) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	rec := journal.MutationRecord{
		Type:      mutType,
		Endpoint:  r.Method + " " + r.URL.Path,
		AgentName: agent,
		Payload:   payload,
	}
	if claims != nil {
		rec.Actor = claims.Username
		rec.ActorRole = string(claims.Role)
	}
	if err := s.journal.RecordMutation(r.Context(), rec); err != nil {
		s.logger.Warn("server: record mutation", "type", mutType, "error", err)
	}
	s.metrics.adminAction(r.Context(), mutType)
}

func (s *Server) handleRollbackPreference(w http.ResponseWriter, r *http.Request) (int, any, error) {
	var req model.RollbackPreferenceRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/preferences/rollback")
		return 0, nil, badRequest("invalid request body: " + err.Error())
	}
	if req.AgentType == "" {
		s.metrics.validationError(r.Context(), "POST /admin/preferences/rollback")
		return 0, nil, badRequest("agentType is required")
	}
	if req.PreferenceKey == "" || len(req.PreferenceKey) > model.MaxPreferenceRefLen {
		s.metrics.validationError(r.Context(), "POST /admin/preferences/rollback")
		return 0, nil, badRequest(fmt.Sprintf("preferenceKey is required and must be at most %d characters", model.MaxPreferenceRefLen))
	}
	if err := model.ValidateReason(req.Reason); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/preferences/rollback")
		return 0, nil, badRequest(err.Error())
	}

	attempt, err := s.rollbacks.RollbackPreference(r.Context(), req.AgentType, req.PreferenceKey, req.Reason)
	if err != nil {
		return 0, nil, err
	}

	s.recordMutation(r, "preference_rollback", req.AgentType, map[string]any{
		"preferenceKey": req.PreferenceKey,
		"reason":        req.Reason,
	})
	return http.StatusOK, map[string]any{
		"agentType":     req.AgentType,
		"preferenceKey": req.PreferenceKey,
		"attempt":       attempt,
	}, nil
}

func (s *Server) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) (int, any, error) {
	id := r.PathValue("id")
	var req model.ApproveSuggestionRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/suggestions/:id/approve")
		return 0, nil, badRequest("invalid request body: " + err.Error())
	}
	if req.AgentType == "" {
		s.metrics.validationError(r.Context(), "POST /admin/suggestions/:id/approve")
		return 0, nil, badRequest("agentType is required")
	}

	sg, err := s.suggestions.Approve(r.Context(), req.AgentType, id)
	if err != nil {
		return 0, nil, err
	}

	s.recordMutation(r, "suggestion_approved", req.AgentType, map[string]any{
		"suggestionId": id,
	})
	return http.StatusOK, sg, nil
}

func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) (int, any, error) {
	id := r.PathValue("id")
	var req model.RejectSuggestionRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/suggestions/:id/reject")
		return 0, nil, badRequest("invalid request body: " + err.Error())
	}
	if req.AgentType == "" {
		s.metrics.validationError(r.Context(), "POST /admin/suggestions/:id/reject")
		return 0, nil, badRequest("agentType is required")
	}
	if err := model.ValidateReason(req.Reason); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/suggestions/:id/reject")
		return 0, nil, badRequest(err.Error())
	}

	sg, err := s.suggestions.Reject(r.Context(), req.AgentType, id, req.Reason)
	if err != nil {
		return 0, nil, err
	}

	s.recordMutation(r, "suggestion_rejected", req.AgentType, map[string]any{
		"suggestionId": id,
		"reason":       req.Reason,
	})
	return http.StatusOK, sg, nil
}

func (s *Server) handleApproveEscalation(w http.ResponseWriter, r *http.Request) (int, any, error) {
	decisionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/escalations/:id/approve")
		return 0, nil, badRequest("id must be a UUID")
	}
	var req model.ApproveEscalationRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/escalations/:id/approve")
		return 0, nil, badRequest("invalid request body: " + err.Error())
	}

	approvedBy := req.ApprovedBy
	if approvedBy == "" {
		if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil {
			approvedBy = claims.Username
		}
	}
	var selected *string
	if req.SelectedProposalID != "" {
		selected = &req.SelectedProposalID
	}

	d, err := s.escalations.Approve(r.Context(), decisionID, approvedBy, selected)
	if err != nil {
		return 0, nil, err
	}

	s.recordMutation(r, "escalation_approved", "", map[string]any{
		"decisionId":         decisionID.String(),
		"approvedBy":         approvedBy,
		"selectedProposalId": req.SelectedProposalID,
	})
	return http.StatusOK, d, nil
}

func (s *Server) handleRejectEscalation(w http.ResponseWriter, r *http.Request) (int, any, error) {
	decisionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/escalations/:id/reject")
		return 0, nil, badRequest("id must be a UUID")
	}
	var req model.RejectEscalationRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/escalations/:id/reject")
		return 0, nil, badRequest("invalid request body: " + err.Error())
	}
	if err := model.ValidateReason(req.Reason); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/escalations/:id/reject")
		return 0, nil, badRequest(err.Error())
	}

	rejectedBy := req.RejectedBy
	if rejectedBy == "" {
		if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil {
			rejectedBy = claims.Username
		}
	}

	d, err := s.escalations.Reject(r.Context(), decisionID, req.Reason, rejectedBy)
	if err != nil {
		return 0, nil, err
	}

	s.recordMutation(r, "escalation_rejected", "", map[string]any{
		"decisionId": decisionID.String(),
		"rejectedBy": rejectedBy,
		"reason":     req.Reason,
	})
	return http.StatusOK, d, nil
}

func (s *Server) handleRollbackDecision(w http.ResponseWriter, r *http.Request) (int, any, error) {
	decisionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/arbitrations/:id/rollback")
		return 0, nil, badRequest("id must be a UUID")
	}
	var req model.RollbackDecisionRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/arbitrations/:id/rollback")
		return 0, nil, badRequest("invalid request body: " + err.Error())
	}
	if err := model.ValidateReason(req.Reason); err != nil {
		s.metrics.validationError(r.Context(), "POST /admin/arbitrations/:id/rollback")
		return 0, nil, badRequest(err.Error())
	}

	attempts, err := s.rollbacks.RollbackDecision(r.Context(), decisionID, req.Reason)
	if err != nil {
		return 0, nil, err
	}

	s.recordMutation(r, "decision_rollback", "", map[string]any{
		"decisionId": decisionID.String(),
		"reason":     req.Reason,
		"rolledBack": len(attempts),
	})
	return http.StatusOK, map[string]any{
		"decisionId": decisionID.String(),
		"attempts":   attempts,
	}, nil
}
