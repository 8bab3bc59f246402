package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/admin/preferences", "/admin/preferences"},
		{"/admin/suggestions/01HZXW8Q2M3N4P5R6S7T8V9W0X/approve", "/admin/suggestions/:id/approve"},
		{"/admin/escalations/0d6fabd0-8a4e-4bfa-b8a5-0b1d86a3c7e1/reject", "/admin/escalations/:id/reject"},
		{"/admin/explanations/not-an-id", "/admin/explanations/not-an-id"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRoute(tt.in), tt.in)
	}
}

func TestLooksLikeID(t *testing.T) {
	assert.True(t, looksLikeID("0d6fabd0-8a4e-4bfa-b8a5-0b1d86a3c7e1"))
	assert.True(t, looksLikeID("01HZXW8Q2M3N4P5R6S7T8V9W0X"))
	assert.False(t, looksLikeID("approve"))
	// 26 characters but contains excluded base32 letters.
	assert.False(t, looksLikeID("ILOUILOUILOUILOUILOUILOUIL"))
	assert.False(t, looksLikeID(""))
}
