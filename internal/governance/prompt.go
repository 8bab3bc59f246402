package governance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// ErrTemplateValidation signals that a prompt template could not be
// rendered because required context fields were missing.
var ErrTemplateValidation = errors.New("governance: template validation failed")

// PromptTemplate pairs a text/template with the context fields it
// requires. Rendering with missing fields fails up front instead of
// sending a half-empty prompt to the model.
type PromptTemplate struct {
	name     string
	tmpl     *template.Template
	required []string
}

// NewPromptTemplate parses the template text and records the required
// context fields.
func NewPromptTemplate(name, text string, required ...string) (*PromptTemplate, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("governance: parse template %s: %w", name, err)
	}
	return &PromptTemplate{name: name, tmpl: tmpl, required: required}, nil
}

// MustPromptTemplate is NewPromptTemplate that panics on parse errors.
// For package-level template declarations.
func MustPromptTemplate(name, text string, required ...string) *PromptTemplate {
	t, err := NewPromptTemplate(name, text, required...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *PromptTemplate) Name() string {
	return t.name
}

// Missing returns the required fields absent or empty in tctx, sorted.
func (t *PromptTemplate) Missing(tctx map[string]any) []string {
	var missing []string
	for _, field := range t.required {
		v, ok := tctx[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

// Render executes the template against tctx. Missing required fields
// fail with ErrTemplateValidation naming the fields.
func (t *PromptTemplate) Render(tctx map[string]any) (string, error) {
	if missing := t.Missing(tctx); len(missing) > 0 {
		return "", fmt.Errorf("%w: missing fields: %s", ErrTemplateValidation, strings.Join(missing, ", "))
	}
	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, tctx); err != nil {
		return "", fmt.Errorf("governance: render template %s: %w", t.name, err)
	}
	return sb.String(), nil
}
