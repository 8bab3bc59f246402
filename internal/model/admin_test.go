package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/model"
)

func TestRoleRank(t *testing.T) {
	// Verify strict ordering: admin > operator > auditor.
	// Unknown roles must rank below auditor.
	tests := []struct {
		role model.AdminRole
		rank int
	}{
		{model.RoleAdmin, 3},
		{model.RoleOperator, 2},
		{model.RoleAuditor, 1},
		{model.AdminRole("unknown"), 0},
		{model.AdminRole(""), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			got := model.RoleRank(tt.role)
			assert.Equal(t, tt.rank, got, "RoleRank(%q)", tt.role)
		})
	}

	ordered := []model.AdminRole{
		model.RoleAuditor,
		model.RoleOperator,
		model.RoleAdmin,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, model.RoleRank(ordered[i]), model.RoleRank(ordered[i-1]),
			"%q should rank higher than %q", ordered[i], ordered[i-1])
	}
}

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		name    string
		role    model.AdminRole
		minRole model.AdminRole
		want    bool
	}{
		{"admin >= admin", model.RoleAdmin, model.RoleAdmin, true},
		{"auditor >= auditor", model.RoleAuditor, model.RoleAuditor, true},
		{"admin >= operator", model.RoleAdmin, model.RoleOperator, true},
		{"admin >= auditor", model.RoleAdmin, model.RoleAuditor, true},
		{"operator >= auditor", model.RoleOperator, model.RoleAuditor, true},
		{"auditor >= operator", model.RoleAuditor, model.RoleOperator, false},
		{"operator >= admin", model.RoleOperator, model.RoleAdmin, false},
		{"auditor >= admin", model.RoleAuditor, model.RoleAdmin, false},
		{"unknown >= auditor", model.AdminRole("bogus"), model.RoleAuditor, false},
		{"auditor >= unknown", model.RoleAuditor, model.AdminRole("bogus"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.RoleAtLeast(tt.role, tt.minRole)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{
		"admin",
		"ops-user",
		"auditor.v2",
		"User_01",
		"user@example",
		"a",
		strings.Repeat("a", 64),
	}
	for _, name := range valid {
		require.NoError(t, model.ValidateUsername(name), "expected valid: %q", name)
	}

	tests := []struct {
		name string
		user string
		want string
	}{
		{"empty", "", "username is required"},
		{"too long", strings.Repeat("a", 65), "at most 64"},
		{"space", "has space", "invalid character"},
		{"slash", "path/user", "invalid character"},
		{"colon", "user:1", "invalid character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := model.ValidateUsername(tt.user)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAgentName(t *testing.T) {
	valid := []string{"Coach", "Planner", "Logger", "coach.v2", "a-b_c", strings.Repeat("a", 100)}
	for _, name := range valid {
		require.NoError(t, model.ValidateAgentName(name), "expected valid: %q", name)
	}

	invalid := []struct {
		name  string
		agent string
		want  string
	}{
		{"empty", "", "agent name is required"},
		{"too long", strings.Repeat("a", 101), "at most 100"},
		{"at sign", "coach@x", "invalid character"},
		{"space", "the coach", "invalid character"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			err := model.ValidateAgentName(tt.agent)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
