package model

import (
	"fmt"
	"time"
)

// Field length limits for admin request fields. These keep caller-controlled
// text from filling journal entries and store columns with oversized blobs.
const (
	MaxReasonLen       = 2000
	MaxFeedbackLen     = 8 * 1024
	MaxActionTypeLen   = 100
	MaxPreferenceRefLen = 256
)

// Pagination defaults and clamps shared by every list endpoint.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Audit window bounds: queries default to the last 30 days and may not
// span more than 90.
const (
	DefaultAuditWindow = 30 * 24 * time.Hour
	MaxAuditWindow     = 90 * 24 * time.Hour
)

// Page carries normalized pagination parameters.
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Normalize applies the default and clamps: pageSize defaults to 25 and
// clamps to [1,100]; page floors at 1.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize < 1 {
		p.PageSize = 1
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the zero-based item offset for the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Pagination is the pagination block of a list response.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes the pagination block for a normalized page over
// total items.
func NewPagination(p Page, total int) Pagination {
	pages := total / p.PageSize
	if total%p.PageSize != 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return Pagination{Page: p.Page, PageSize: p.PageSize, Total: total, TotalPages: pages}
}

// APIResponse is the envelope for single-resource responses.
type APIResponse struct {
	Data any `json:"data"`
}

// ListResponse is the envelope for paginated list responses.
type ListResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error. CorrelationID is always present so
// an operator can cross-reference logs.
type ErrorDetail struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Details       any    `json:"details,omitempty"`
}

// FieldError is one entry in a validation error's details.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL"
	ErrCodeUnavailable  = "SERVICE_UNAVAILABLE"
)

// LoginRequest is the request body for POST /admin/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the token pair returned by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// RefreshRequest is the request body for POST /admin/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest is the request body for POST /admin/auth/logout.
// With AllSessions set, every refresh token for the caller is revoked.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	AllSessions  bool   `json:"allSessions,omitempty"`
}

// RollbackPreferenceRequest is the request body for
// POST /admin/preferences/rollback.
type RollbackPreferenceRequest struct {
	AgentType     string `json:"agentType"`
	PreferenceKey string `json:"preferenceKey"`
	Reason        string `json:"reason"`
}

// ApproveSuggestionRequest is the request body for
// POST /admin/suggestions/{id}/approve.
type ApproveSuggestionRequest struct {
	AgentType string `json:"agentType"`
}

// RejectSuggestionRequest is the request body for
// POST /admin/suggestions/{id}/reject.
type RejectSuggestionRequest struct {
	AgentType string `json:"agentType"`
	Reason    string `json:"reason"`
}

// ApproveEscalationRequest is the request body for
// POST /admin/escalations/{id}/approve. SelectedProposalID defaults to
// the highest-confidence escalated proposal.
type ApproveEscalationRequest struct {
	ApprovedBy         string `json:"approvedBy,omitempty"`
	SelectedProposalID string `json:"selectedProposalId,omitempty"`
}

// RejectEscalationRequest is the request body for
// POST /admin/escalations/{id}/reject.
type RejectEscalationRequest struct {
	Reason     string `json:"reason"`
	RejectedBy string `json:"rejectedBy,omitempty"`
}

// RollbackDecisionRequest is the request body for
// POST /admin/arbitrations/{id}/rollback.
type RollbackDecisionRequest struct {
	Reason string `json:"reason"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Store        string `json:"store"`
	LLM          string `json:"llm,omitempty"`
	BreakerState string `json:"breakerState,omitempty"`
	Uptime       int64  `json:"uptimeSeconds"`
}

// ValidateConfidence checks that a confidence score is within [0,1].
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", c)
	}
	return nil
}

// ValidateReason enforces presence and the shared length limit on
// free-text reason fields.
func ValidateReason(reason string) error {
	if reason == "" {
		return fmt.Errorf("reason is required")
	}
	if len(reason) > MaxReasonLen {
		return fmt.Errorf("reason must be at most %d characters", MaxReasonLen)
	}
	return nil
}
