package llm

import (
	"strconv"
	"strings"
)

// DefaultConfidence is assumed when the model omits or mangles the
// confidence trailer.
const DefaultConfidence = 0.7

// ParseConfidence splits a model response into its body and the
// self-reported confidence from a trailing "CONFIDENCE: <0..1>" line.
// Prompts ask the model for that trailer; when it is missing or does not
// parse, the full content is returned with DefaultConfidence. Parsed
// values are clamped to [0, 1].
func ParseConfidence(content string) (string, float64) {
	trimmed := strings.TrimRight(content, " \t\n\r")
	idx := strings.LastIndexByte(trimmed, '\n')
	last := trimmed[idx+1:]

	const prefix = "CONFIDENCE:"
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(last)), prefix) {
		return trimmed, DefaultConfidence
	}

	raw := strings.TrimSpace(strings.TrimSpace(last)[len(prefix):])
	body := trimmed
	if idx >= 0 {
		body = strings.TrimRight(trimmed[:idx], " \t\n\r")
	} else {
		body = ""
	}

	conf, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return body, DefaultConfidence
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return body, conf
}
