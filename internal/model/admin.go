package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdminRole represents the RBAC role carried in admin JWT claims.
type AdminRole string

const (
	RoleAdmin    AdminRole = "admin"
	RoleOperator AdminRole = "operator"
	RoleAuditor  AdminRole = "auditor"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r AdminRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleAuditor:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole AdminRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// AdminUser is an operator of the admin control plane.
type AdminUser struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         AdminRole `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RefreshToken is the server-side record of an issued refresh token,
// keyed by JWT jti so individual tokens can be revoked.
type RefreshToken struct {
	JTI       string     `json:"jti"`
	UserID    uuid.UUID  `json:"userId"`
	Username  string     `json:"username"`
	Role      AdminRole  `json:"role"`
	ExpiresAt time.Time  `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Revoked reports whether the token has been revoked or has expired.
func (t *RefreshToken) Revoked(now time.Time) bool {
	return t.RevokedAt != nil || now.After(t.ExpiresAt)
}

// ValidateUsername checks that a username conforms to the allowed format.
// Usernames must be 1-64 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("username is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("username must be at most 64 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("username contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
