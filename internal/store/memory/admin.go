package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

func (s *Store) GetAdminUser(ctx context.Context, username string) (*model.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("memory: admin user %s: %w", username, store.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (s *Store) UpsertAdminUser(ctx context.Context, u *model.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *u
	s.users[u.Username] = &c
	return nil
}

func (s *Store) ListAdminUsers(ctx context.Context) ([]*model.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.AdminUser, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) PutRefreshToken(ctx context.Context, t *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *t
	s.tokens[t.JTI] = &c
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*model.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[jti]
	if !ok {
		return nil, fmt.Errorf("memory: refresh token: %w", store.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, jti string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[jti]
	if !ok {
		return fmt.Errorf("memory: refresh token: %w", store.ErrNotFound)
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
	}
	return nil
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			revokedAt := at
			t.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (s *Store) CleanupRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for jti, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, jti)
			n++
		}
	}
	return n, nil
}
