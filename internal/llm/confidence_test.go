package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tazuna-ai/tazuna/internal/llm"
)

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantBody   string
		wantConf   float64
	}{
		{
			name:     "trailer present",
			content:  "Reduce session intensity this week.\nCONFIDENCE: 0.85",
			wantBody: "Reduce session intensity this week.",
			wantConf: 0.85,
		},
		{
			name:     "trailer lowercase",
			content:  "Keep the plan.\nconfidence: 0.4",
			wantBody: "Keep the plan.",
			wantConf: 0.4,
		},
		{
			name:     "trailer with surrounding whitespace",
			content:  "Shift run to Friday.\n  CONFIDENCE:  0.92  \n",
			wantBody: "Shift run to Friday.",
			wantConf: 0.92,
		},
		{
			name:     "missing trailer defaults",
			content:  "Shift run to Friday.",
			wantBody: "Shift run to Friday.",
			wantConf: llm.DefaultConfidence,
		},
		{
			name:     "unparseable value defaults",
			content:  "Hold steady.\nCONFIDENCE: high",
			wantBody: "Hold steady.",
			wantConf: llm.DefaultConfidence,
		},
		{
			name:     "value above one clamps",
			content:  "Push harder.\nCONFIDENCE: 3.2",
			wantBody: "Push harder.",
			wantConf: 1,
		},
		{
			name:     "negative value clamps",
			content:  "Back off.\nCONFIDENCE: -0.5",
			wantBody: "Back off.",
			wantConf: 0,
		},
		{
			name:     "trailer only",
			content:  "CONFIDENCE: 0.5",
			wantBody: "",
			wantConf: 0.5,
		},
		{
			name:     "multiline body survives",
			content:  "Line one.\nLine two.\nCONFIDENCE: 0.6",
			wantBody: "Line one.\nLine two.",
			wantConf: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, conf := llm.ParseConfidence(tt.content)
			assert.Equal(t, tt.wantBody, body)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestCalculateCost(t *testing.T) {
	// gpt-4o-mini: 0.15 in / 0.60 out per MTok.
	cost := llm.CalculateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.75, cost, 1e-9)

	// Unknown models fall back to moderate pricing.
	cost = llm.CalculateCost("unknown-model", 1_000_000, 0)
	assert.InDelta(t, 1.00, cost, 1e-9)

	assert.Zero(t, llm.CalculateCost("gpt-4o", 0, 0))
}
