package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// Admin users and refresh tokens are flat records, so they live in plain
// columns rather than documents. The password hash in particular never
// survives a JSON round trip.

func (s *Store) GetAdminUser(ctx context.Context, username string) (*model.AdminUser, error) {
	var u model.AdminUser
	if err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at
		 FROM admin_users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, notFound(err, "admin user %s", username)
	}
	return &u, nil
}

func (s *Store) UpsertAdminUser(ctx context.Context, u *model.AdminUser) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO admin_users (id, username, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username) DO UPDATE
		 SET id = EXCLUDED.id,
		     password_hash = EXCLUDED.password_hash,
		     role = EXCLUDED.role,
		     created_at = EXCLUDED.created_at`,
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert admin user %s: %w", u.Username, err)
	}
	return nil
}

func (s *Store) ListAdminUsers(ctx context.Context) ([]*model.AdminUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, password_hash, role, created_at
		 FROM admin_users ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list admin users: %w", err)
	}
	defer rows.Close()

	out := []*model.AdminUser{}
	for rows.Next() {
		var u model.AdminUser
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan admin user: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *Store) PutRefreshToken(ctx context.Context, t *model.RefreshToken) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (jti, user_id, username, role, expires_at, revoked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (jti) DO UPDATE
		 SET user_id = EXCLUDED.user_id,
		     username = EXCLUDED.username,
		     role = EXCLUDED.role,
		     expires_at = EXCLUDED.expires_at,
		     revoked_at = EXCLUDED.revoked_at,
		     created_at = EXCLUDED.created_at`,
		t.JTI, t.UserID, t.Username, t.Role, t.ExpiresAt, t.RevokedAt, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: put refresh token: %w", err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	if err := s.pool.QueryRow(ctx,
		`SELECT jti, user_id, username, role, expires_at, revoked_at, created_at
		 FROM refresh_tokens WHERE jti = $1`,
		jti,
	).Scan(&t.JTI, &t.UserID, &t.Username, &t.Role, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt); err != nil {
		return nil, notFound(err, "refresh token")
	}
	return &t, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, jti string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2
		 WHERE jti = $1 AND revoked_at IS NULL`,
		jti, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already revoked; only unknown is an error.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE jti = $1)`, jti,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: revoke refresh token: %w", err)
		}
		if !exists {
			return fmt.Errorf("postgres: refresh token: %w", store.ErrNotFound)
		}
	}
	return nil
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: revoke all refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CleanupRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
