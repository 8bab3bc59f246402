package tazuna

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the tazuna server (e.g. "http://localhost:8080").
	BaseURL string

	// Username and Password are admin credentials used to obtain tokens.
	Username string
	Password string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the tazuna admin API. It logs in lazily
// and rotates tokens as they near expiry. All methods are safe for
// concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, Username, or Password is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tazuna: BaseURL is required")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("tazuna: Username is required")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("tazuna: Password is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.Username, cfg.Password, httpClient),
	}, nil
}

// Health checks the server's health. Does not require authentication
// and works even with invalid credentials.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.getNoAuth(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the client's refresh token, or every session for the
// user when allSessions is set. Subsequent calls log in again.
func (c *Client) Logout(ctx context.Context, allSessions bool) error {
	c.tokenMgr.mu.Lock()
	refresh := c.tokenMgr.refreshToken
	c.tokenMgr.mu.Unlock()

	body := map[string]any{"allSessions": allSessions}
	if refresh != "" {
		body["refreshToken"] = refresh
	}
	if err := c.post(ctx, "/admin/auth/logout", body, nil); err != nil {
		return err
	}
	c.tokenMgr.invalidate()
	return nil
}

// ---------------------------------------------------------------------------
// Preferences
// ---------------------------------------------------------------------------

// ListPreferences returns learned preferences, optionally filtered by
// agent name.
func (c *Client) ListPreferences(ctx context.Context, agent string, page Page) ([]Preference, *Pagination, error) {
	params := pageParams(page)
	if agent != "" {
		params.Set("agent", agent)
	}
	var rows []Preference
	pg, err := c.getList(ctx, "/admin/preferences", params, &rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, pg, nil
}

// RollbackPreference unwinds the most recent applied automatic change
// for a preference, or resets it to the registry default when no such
// change exists. The returned attempt is nil after a default reset.
// Requires the admin role.
func (c *Client) RollbackPreference(ctx context.Context, req RollbackPreferenceRequest) (*AdaptationAttempt, error) {
	var resp struct {
		Attempt *AdaptationAttempt `json:"attempt"`
	}
	if err := c.post(ctx, "/admin/preferences/rollback", req, &resp); err != nil {
		return nil, err
	}
	return resp.Attempt, nil
}

// ---------------------------------------------------------------------------
// Suggestions
// ---------------------------------------------------------------------------

// ListSuggestions returns preference suggestions, newest first.
func (c *Client) ListSuggestions(ctx context.Context, opts SuggestionOptions) ([]Suggestion, *Pagination, error) {
	params := pageParams(opts.Page)
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Agent != "" {
		params.Set("agent", opts.Agent)
	}
	var rows []Suggestion
	pg, err := c.getList(ctx, "/admin/suggestions", params, &rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, pg, nil
}

// ApproveSuggestion approves a pending suggestion and applies the
// preference. Requires the operator role.
func (c *Client) ApproveSuggestion(ctx context.Context, id, agentType string) (*Suggestion, error) {
	body := map[string]string{"agentType": agentType}
	var resp Suggestion
	if err := c.post(ctx, "/admin/suggestions/"+id+"/approve", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RejectSuggestion rejects a pending suggestion. Requires the operator
// role.
func (c *Client) RejectSuggestion(ctx context.Context, id, agentType, reason string) (*Suggestion, error) {
	body := map[string]string{"agentType": agentType, "reason": reason}
	var resp Suggestion
	if err := c.post(ctx, "/admin/suggestions/"+id+"/reject", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Arbitrations and escalations
// ---------------------------------------------------------------------------

// ListArbitrations returns arbitration decisions, newest first.
func (c *Client) ListArbitrations(ctx context.Context, opts ArbitrationOptions) ([]Arbitration, *Pagination, error) {
	params := pageParams(opts.Page)
	if opts.Escalated != nil {
		params.Set("escalated", strconv.FormatBool(*opts.Escalated))
	}
	var rows []Arbitration
	pg, err := c.getList(ctx, "/admin/arbitrations", params, &rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, pg, nil
}

// RollbackDecision unwinds every preference change a decision applied.
// Requires the admin role.
func (c *Client) RollbackDecision(ctx context.Context, decisionID uuid.UUID, reason string) ([]AdaptationAttempt, error) {
	body := map[string]string{"reason": reason}
	var resp struct {
		Attempts []AdaptationAttempt `json:"attempts"`
	}
	if err := c.post(ctx, "/admin/arbitrations/"+decisionID.String()+"/rollback", body, &resp); err != nil {
		return nil, err
	}
	return resp.Attempts, nil
}

// PendingEscalations returns escalated decisions awaiting a human
// verdict, oldest first.
func (c *Client) PendingEscalations(ctx context.Context, page Page) ([]Arbitration, *Pagination, error) {
	var rows []Arbitration
	pg, err := c.getList(ctx, "/admin/escalations/pending", pageParams(page), &rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, pg, nil
}

// ApproveEscalation settles an escalated decision in favor of the
// selected (or suggested) proposal. Requires the operator role.
func (c *Client) ApproveEscalation(ctx context.Context, decisionID uuid.UUID, req ApproveEscalationRequest) (*Arbitration, error) {
	var resp Arbitration
	if err := c.post(ctx, "/admin/escalations/"+decisionID.String()+"/approve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RejectEscalation settles an escalated decision by suppressing every
// proposal. Requires the operator role.
func (c *Client) RejectEscalation(ctx context.Context, decisionID uuid.UUID, reason, rejectedBy string) (*Arbitration, error) {
	body := map[string]string{"reason": reason}
	if rejectedBy != "" {
		body["rejectedBy"] = rejectedBy
	}
	var resp Arbitration
	if err := c.post(ctx, "/admin/escalations/"+decisionID.String()+"/reject", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Audit, explanations, agents
// ---------------------------------------------------------------------------

// Audit queries the audit journal, oldest entries first.
func (c *Client) Audit(ctx context.Context, opts AuditOptions) ([]JournalEntry, *Pagination, error) {
	params := pageParams(opts.Page)
	if !opts.Since.IsZero() {
		params.Set("since", opts.Since.Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		params.Set("until", opts.Until.Format(time.RFC3339))
	}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Agent != "" {
		params.Set("agent", opts.Agent)
	}
	var rows []JournalEntry
	pg, err := c.getList(ctx, "/admin/audit", params, &rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, pg, nil
}

// Explanation retrieves the unified explanation for an arbitration
// decision, adaptation attempt, or decision record id.
func (c *Client) Explanation(ctx context.Context, id string) (*Explanation, error) {
	var resp Explanation
	if err := c.get(ctx, "/admin/explanations/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentActivity returns per-agent volume and acceptance summaries.
func (c *Client) AgentActivity(ctx context.Context, page Page) ([]AgentActivity, *Pagination, error) {
	var rows []AgentActivity
	pg, err := c.getList(ctx, "/admin/agents", pageParams(page), &rows)
	if err != nil {
		return nil, nil, err
	}
	return rows, pg, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func pageParams(p Page) url.Values {
	params := url.Values{}
	if p.Page > 0 {
		params.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	return params
}

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

// apiErrorEnvelope is the server's standard error wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

// post sends an authenticated POST. Every POST carries a fresh
// Idempotency-Key; the server requires it on mutating routes and the
// auth routes ignore it.
func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tazuna: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("tazuna: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	return c.doRequest(ctx, req, dest, nil)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tazuna: create request: %w", err)
	}
	return c.doRequest(ctx, req, dest, nil)
}

func (c *Client) getList(ctx context.Context, path string, params url.Values, dest any) (*Pagination, error) {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("tazuna: create request: %w", err)
	}

	var pg Pagination
	if err := c.doRequest(ctx, req, dest, &pg); err != nil {
		return nil, err
	}
	return &pg, nil
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tazuna: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tazuna: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, nil)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any, pg *Pagination) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tazuna: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, pg)
}

func handleResponse(resp *http.Response, dest any, pg *Pagination) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tazuna: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("tazuna: decode response envelope: %w", err)
	}
	if pg != nil && envelope.Pagination != nil {
		*pg = *envelope.Pagination
	}
	if envelope.Data == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.CorrelationID = envelope.Error.CorrelationID
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
