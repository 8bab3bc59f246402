package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/tazuna-ai/tazuna/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("tazuna_explain",
			mcplib.WithDescription(`Explain a decision made by the plane: why an arbitration went
the way it did, why a preference was auto-applied or blocked, or what an
agent's governed generation was based on.

Pass the id of an arbitration decision, adaptation attempt, or decision
record. Returns the summary, contributing factors, policies involved,
and the alternatives that lost.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id",
				mcplib.Description("Decision, attempt, or record id to explain"),
				mcplib.Required(),
			),
		),
		s.handleExplain,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tazuna_pending_escalations",
			mcplib.WithDescription(`List arbitration decisions waiting for a human verdict,
oldest first. Use this to see what the plane refused to decide on its own.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handlePendingEscalations,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tazuna_preferences",
			mcplib.WithDescription(`List current preferences per agent: value, confidence,
source (manual, suggestion, auto_adaptation, rollback...), last update.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent",
				mcplib.Description("Optional: restrict to one agent's profile"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(25),
			),
		),
		s.handlePreferences,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tazuna_suggestions",
			mcplib.WithDescription(`List preference suggestions, newest first, optionally
filtered by status (pending, approved, rejected) and agent.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Optional: pending, approved, or rejected"),
			),
			mcplib.WithString("agent",
				mcplib.Description("Optional: only one agent's suggestions"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleSuggestions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tazuna_preference_audit",
			mcplib.WithDescription(`Audit an agent's learning profile: preference and feedback
counts, acceptance rate, suggestion tallies, and a per-key comparison of
current values against registry defaults with drifted entries flagged.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent",
				mcplib.Description("Agent whose profile to audit"),
				mcplib.Required(),
			),
		),
		s.handlePreferenceAudit,
	)
}

func (s *Server) handlePreferenceAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := request.GetString("agent", "")
	if agent == "" {
		return errorResult("agent is required"), nil
	}
	summary, err := s.audit.Summary(ctx, agent)
	if err != nil {
		return errorResult(fmt.Sprintf("audit summary failed: %v", err)), nil
	}
	comparisons, err := s.audit.CompareToDefaults(ctx, agent)
	if err != nil {
		return errorResult(fmt.Sprintf("default comparison failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"summary":  summary,
		"defaults": comparisons,
	}), nil
}

func (s *Server) handleExplain(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return errorResult("id is required"), nil
	}
	exp, err := s.explain.ExplainDecision(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("explain failed: %v", err)), nil
	}
	return jsonResult(exp), nil
}

func (s *Server) handlePendingEscalations(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	view, err := s.projections.PendingEscalationsView(ctx, model.Page{Page: 1, PageSize: limit})
	if err != nil {
		return errorResult(fmt.Sprintf("list pending escalations failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"escalations": view.Data,
		"total":       view.Total,
	}), nil
}

func (s *Server) handlePreferences(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agent := request.GetString("agent", "")
	limit := request.GetInt("limit", 25)
	view, err := s.projections.PreferencesView(ctx, agent, model.Page{Page: 1, PageSize: limit})
	if err != nil {
		return errorResult(fmt.Sprintf("list preferences failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"preferences": view.Data,
		"total":       view.Total,
	}), nil
}

func (s *Server) handleSuggestions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := model.SuggestionStatus(request.GetString("status", ""))
	switch status {
	case "", model.SuggestionPending, model.SuggestionApproved, model.SuggestionRejected:
	default:
		return errorResult("status must be one of pending, approved, rejected"), nil
	}
	agent := request.GetString("agent", "")
	limit := request.GetInt("limit", 10)
	view, err := s.projections.SuggestionsView(ctx, status, agent, model.Page{Page: 1, PageSize: limit})
	if err != nil {
		return errorResult(fmt.Sprintf("list suggestions failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"suggestions": view.Data,
		"total":       view.Total,
	}), nil
}
