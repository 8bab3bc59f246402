package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazuna-ai/tazuna/internal/model"
)

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   model.Page
		want model.Page
	}{
		{"zero defaults", model.Page{}, model.Page{Page: 1, PageSize: 25}},
		{"negative page floors", model.Page{Page: -3, PageSize: 10}, model.Page{Page: 1, PageSize: 10}},
		{"page size clamps high", model.Page{Page: 2, PageSize: 500}, model.Page{Page: 2, PageSize: 100}},
		{"page size clamps low", model.Page{Page: 2, PageSize: -1}, model.Page{Page: 2, PageSize: 1}},
		{"in range untouched", model.Page{Page: 3, PageSize: 50}, model.Page{Page: 3, PageSize: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPageOffset(t *testing.T) {
	p := model.Page{Page: 3, PageSize: 25}
	assert.Equal(t, 50, p.Offset())
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name  string
		page  model.Page
		total int
		want  model.Pagination
	}{
		{"exact pages", model.Page{Page: 1, PageSize: 25}, 50, model.Pagination{Page: 1, PageSize: 25, Total: 50, TotalPages: 2}},
		{"partial last page", model.Page{Page: 1, PageSize: 25}, 51, model.Pagination{Page: 1, PageSize: 25, Total: 51, TotalPages: 3}},
		{"empty still one page", model.Page{Page: 1, PageSize: 25}, 0, model.Pagination{Page: 1, PageSize: 25, Total: 0, TotalPages: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.NewPagination(tt.page, tt.total))
		})
	}
}

func TestTargetKey(t *testing.T) {
	withKey := model.TargetRef{Type: "preference", ID: "Coach", Key: "comm.tone"}
	assert.Equal(t, "preference:Coach:comm.tone", withKey.TargetKey())

	noKey := model.TargetRef{Type: "plan", ID: "plan-123"}
	assert.Equal(t, "plan:plan-123", noKey.TargetKey())
}

func TestParseQualifiedKey(t *testing.T) {
	category, key, err := model.ParseQualifiedKey("comm.tone")
	require.NoError(t, err)
	assert.Equal(t, "comm", category)
	assert.Equal(t, "tone", key)

	// Key side may contain further dots; split is on the first.
	category, key, err = model.ParseQualifiedKey("planning.reschedule.window")
	require.NoError(t, err)
	assert.Equal(t, "planning", category)
	assert.Equal(t, "reschedule.window", key)

	for _, bad := range []string{"", "nodot", ".leading", "trailing."} {
		_, _, err := model.ParseQualifiedKey(bad)
		require.Error(t, err, "expected error for %q", bad)
	}
}

func TestRiskNumeric(t *testing.T) {
	assert.Equal(t, 1, model.RiskNumeric(model.RiskLow))
	assert.Equal(t, 2, model.RiskNumeric(model.RiskMedium))
	assert.Equal(t, 3, model.RiskNumeric(model.RiskHigh))
	// Unknown levels rank above high so risk gates stay closed.
	assert.Equal(t, 4, model.RiskNumeric(model.RiskLevel("weird")))

	assert.True(t, model.RiskAtMost(model.RiskLow, model.RiskMedium))
	assert.True(t, model.RiskAtMost(model.RiskMedium, model.RiskMedium))
	assert.False(t, model.RiskAtMost(model.RiskHigh, model.RiskMedium))
}

func TestValidateConfidence(t *testing.T) {
	require.NoError(t, model.ValidateConfidence(0))
	require.NoError(t, model.ValidateConfidence(0.5))
	require.NoError(t, model.ValidateConfidence(1))
	require.Error(t, model.ValidateConfidence(-0.1))
	require.Error(t, model.ValidateConfidence(1.1))
}

func TestValidateReason(t *testing.T) {
	require.NoError(t, model.ValidateReason("made a poor call"))
	require.Error(t, model.ValidateReason(""))
	require.Error(t, model.ValidateReason(strings.Repeat("x", model.MaxReasonLen+1)))
}

func TestDecisionProposalIDs(t *testing.T) {
	d := model.ArbitrationDecision{
		DecisionFactors: []model.DecisionFactor{
			{ProposalID: "p1", Factor: "priority"},
			{ProposalID: "p2", Factor: "priority"},
			{ProposalID: "p1", Factor: "confidence"},
		},
	}
	assert.Equal(t, []string{"p1", "p2"}, d.ProposalIDs())
}
