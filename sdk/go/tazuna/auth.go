package tazuna

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// tokenManager handles admin token acquisition and rotation. It logs in
// with the configured credentials, then rotates the refresh token as
// the access token nears expiry. Safe for concurrent use.
type tokenManager struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	margin   time.Duration

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func newTokenManager(baseURL, username, password string, client *http.Client) *tokenManager {
	return &tokenManager{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   client,
		margin:   30 * time.Second,
	}
}

func (tm *tokenManager) getToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.accessToken != "" && time.Now().Before(tm.expiresAt.Add(-tm.margin)) {
		return tm.accessToken, nil
	}

	// Prefer rotating the refresh token; fall back to a fresh login if
	// the server rejects it (revoked or expired).
	if tm.refreshToken != "" {
		if err := tm.refresh(ctx); err == nil {
			return tm.accessToken, nil
		}
	}
	if err := tm.login(ctx); err != nil {
		return "", err
	}
	return tm.accessToken, nil
}

// invalidate drops the cached tokens so the next call re-authenticates.
func (tm *tokenManager) invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.accessToken = ""
	tm.refreshToken = ""
}

type tokenEnvelope struct {
	Data TokenPair `json:"data"`
}

func (tm *tokenManager) login(ctx context.Context) error {
	body := map[string]string{"username": tm.username, "password": tm.password}
	return tm.exchange(ctx, "/admin/auth/login", body)
}

func (tm *tokenManager) refresh(ctx context.Context) error {
	body := map[string]string{"refreshToken": tm.refreshToken}
	return tm.exchange(ctx, "/admin/auth/refresh", body)
}

func (tm *tokenManager) exchange(ctx context.Context, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tazuna: marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("tazuna: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return fmt.Errorf("tazuna: auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tazuna: auth failed with status %d", resp.StatusCode)
	}

	var envelope tokenEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("tazuna: decode auth response: %w", err)
	}

	tm.accessToken = envelope.Data.AccessToken
	tm.refreshToken = envelope.Data.RefreshToken
	tm.expiresAt = time.Now().Add(time.Duration(envelope.Data.ExpiresIn) * time.Second)
	return nil
}
