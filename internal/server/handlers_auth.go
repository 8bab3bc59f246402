package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/auth"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// handleLogin verifies credentials and issues an access/refresh pair.
// Unknown usernames burn a dummy Argon2id verification so response
// timing does not reveal which usernames exist.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err, s.metrics)
		return
	}
	if err := model.ValidateUsername(req.Username); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		s.metrics.validationError(r.Context(), "POST /admin/auth/login")
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "password is required")
		s.metrics.validationError(r.Context(), "POST /admin/auth/login")
		return
	}

	user, err := s.store.GetAdminUser(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auth.DummyVerify()
			s.metrics.authFailure(r.Context(), "unknown_user")
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}
		mapError(w, r, err)
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("server: verify password", "username", req.Username, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
		return
	}
	if !ok {
		s.metrics.authFailure(r.Context(), "bad_password")
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	pair, err := s.issueTokenPair(r.Context(), user)
	if err != nil {
		s.logger.Error("server: issue token pair", "username", req.Username, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
		return
	}

	s.logger.Info("admin login", "username", user.Username, "role", user.Role)
	writeJSON(w, r, http.StatusOK, pair)
}

// handleRefresh exchanges a valid refresh token for a new pair. The old
// token's jti is revoked so each refresh token works exactly once.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req model.RefreshRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err, s.metrics)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "refreshToken is required")
		s.metrics.validationError(r.Context(), "POST /admin/auth/refresh")
		return
	}

	claims, err := s.jwt.ValidateToken(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		s.metrics.authFailure(r.Context(), "invalid_refresh")
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired refresh token")
		return
	}

	rec, err := s.store.GetRefreshToken(r.Context(), claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.authFailure(r.Context(), "unknown_refresh")
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired refresh token")
			return
		}
		mapError(w, r, err)
		return
	}
	now := time.Now().UTC()
	if rec.Revoked(now) {
		// A revoked token showing up again suggests theft; drop every
		// session for the user.
		if _, err := s.store.RevokeAllRefreshTokens(r.Context(), rec.UserID, now); err != nil {
			s.logger.Error("server: revoke all on refresh reuse", "username", rec.Username, "error", err)
		}
		s.metrics.authFailure(r.Context(), "revoked_refresh")
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired refresh token")
		return
	}

	user, err := s.store.GetAdminUser(r.Context(), rec.Username)
	if err != nil {
		mapError(w, r, err)
		return
	}

	if err := s.store.RevokeRefreshToken(r.Context(), rec.JTI, now); err != nil {
		mapError(w, r, err)
		return
	}
	pair, err := s.issueTokenPair(r.Context(), user)
	if err != nil {
		s.logger.Error("server: issue token pair", "username", user.Username, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
		return
	}
	writeJSON(w, r, http.StatusOK, pair)
}

// handleLogout revokes the presented refresh token, or every session for
// its user when allSessions is set.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req model.LogoutRequest
	if err := decodeJSON(w, r, &req, s.maxBodyBytes); err != nil {
		handleDecodeError(w, r, err, s.metrics)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeValidation, "refreshToken is required")
		s.metrics.validationError(r.Context(), "POST /admin/auth/logout")
		return
	}

	claims, err := s.jwt.ValidateToken(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		s.metrics.authFailure(r.Context(), "invalid_refresh")
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired refresh token")
		return
	}

	now := time.Now().UTC()
	var revoked int64
	if req.AllSessions {
		revoked, err = s.store.RevokeAllRefreshTokens(r.Context(), claims.UserID(), now)
		if err != nil {
			mapError(w, r, err)
			return
		}
	} else {
		if err := s.store.RevokeRefreshToken(r.Context(), claims.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			mapError(w, r, err)
			return
		}
		revoked = 1
	}

	s.logger.Info("admin logout", "username", claims.Username, "all_sessions", req.AllSessions)
	writeJSON(w, r, http.StatusOK, map[string]any{"revoked": revoked})
}

// issueTokenPair mints an access/refresh pair and records the refresh
// jti for later revocation.
func (s *Server) issueTokenPair(ctx context.Context, user *model.AdminUser) (*model.TokenResponse, error) {
	access, _, err := s.jwt.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("server: issue access token: %w", err)
	}
	refresh, jti, exp, err := s.jwt.IssueRefreshToken(user)
	if err != nil {
		return nil, fmt.Errorf("server: issue refresh token: %w", err)
	}
	if err := s.store.PutRefreshToken(ctx, &model.RefreshToken{
		JTI:       jti,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		ExpiresAt: exp,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("server: record refresh token: %w", err)
	}
	return &model.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.jwt.AccessTTL().Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// SeedAdmin creates the bootstrap admin account if the username is not
// already taken. Existing accounts are left untouched so a restart does
// not reset a rotated password.
func SeedAdmin(ctx context.Context, st store.AdminUsers, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("server: seed admin: %w", err)
	}
	if _, err := st.GetAdminUser(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("server: seed admin: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("server: seed admin: %w", err)
	}
	return st.UpsertAdminUser(ctx, &model.AdminUser{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	})
}
