// Package registry declares the preference keys agents may read and
// adapt: allowed value domains, defaults, risk levels, and confidence
// thresholds. The registry is immutable after construction; every
// preference write in the system validates against it first.
package registry

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tazuna-ai/tazuna/internal/model"
)

//go:embed registry.yaml
var seedYAML []byte

var (
	// ErrUnknownPreference indicates a (category, key) pair with no
	// declaration.
	ErrUnknownPreference = errors.New("unknown preference")

	// ErrValueOutOfDomain indicates a value outside the declared
	// enumerated set or numeric range.
	ErrValueOutOfDomain = errors.New("value out of domain")
)

// Declaration describes one registered preference. Exactly one of Values
// (enumerated domain) or Min/Max (numeric range) is set.
type Declaration struct {
	Category      string          `yaml:"category"`
	Key           string          `yaml:"key"`
	Values        []any           `yaml:"values,omitempty"`
	Min           *float64        `yaml:"min,omitempty"`
	Max           *float64        `yaml:"max,omitempty"`
	Default       any             `yaml:"default"`
	Risk          model.RiskLevel `yaml:"risk"`
	Adaptive      bool            `yaml:"adaptive"`
	MinConfidence float64         `yaml:"min_confidence"`
	AgentDefaults map[string]any  `yaml:"agent_defaults,omitempty"`
}

type seedFile struct {
	Preferences []Declaration `yaml:"preferences"`
}

// Registry is the immutable set of preference declarations.
type Registry struct {
	decls map[string]Declaration
}

// Load builds the registry from the embedded seed document plus any
// overrides. An override with the same (category, key) replaces the
// seeded declaration.
func Load(overrides ...Declaration) (*Registry, error) {
	var seed seedFile
	if err := yaml.Unmarshal(seedYAML, &seed); err != nil {
		return nil, fmt.Errorf("registry: parse seed: %w", err)
	}
	return New(append(seed.Preferences, overrides...))
}

// New builds a registry from explicit declarations. Later declarations
// with the same (category, key) replace earlier ones.
func New(decls []Declaration) (*Registry, error) {
	r := &Registry{decls: make(map[string]Declaration, len(decls))}
	for _, d := range decls {
		if d.Category == "" || d.Key == "" {
			return nil, fmt.Errorf("registry: declaration missing category or key: %+v", d)
		}
		switch d.Risk {
		case model.RiskLow, model.RiskMedium, model.RiskHigh:
		default:
			return nil, fmt.Errorf("registry: %s.%s: invalid risk level %q", d.Category, d.Key, d.Risk)
		}
		if len(d.Values) == 0 && (d.Min == nil || d.Max == nil) {
			return nil, fmt.Errorf("registry: %s.%s: needs an enumerated value set or a min/max range", d.Category, d.Key)
		}
		if d.MinConfidence < 0 || d.MinConfidence > 1 {
			return nil, fmt.Errorf("registry: %s.%s: min_confidence must be in [0,1]", d.Category, d.Key)
		}
		r.decls[d.Category+"."+d.Key] = d
	}
	// Defaults must themselves be valid, including per-agent overrides.
	for _, d := range r.decls {
		if err := r.Validate(d.Category, d.Key, d.Default); err != nil {
			return nil, fmt.Errorf("registry: %s.%s: default: %w", d.Category, d.Key, err)
		}
		for agent, v := range d.AgentDefaults {
			if err := r.Validate(d.Category, d.Key, v); err != nil {
				return nil, fmt.Errorf("registry: %s.%s: default for agent %s: %w", d.Category, d.Key, agent, err)
			}
		}
	}
	return r, nil
}

// Declaration returns the declaration for (category, key).
func (r *Registry) Declaration(category, key string) (Declaration, bool) {
	d, ok := r.decls[category+"."+key]
	return d, ok
}

// Len returns the number of declarations.
func (r *Registry) Len() int {
	return len(r.decls)
}

// Keys returns the qualified "category.key" names of all declarations.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.decls))
	for k := range r.decls {
		keys = append(keys, k)
	}
	return keys
}

// IsAdaptive reports whether the preference may be changed by the
// adaptation engine. Unknown preferences are not adaptive.
func (r *Registry) IsAdaptive(category, key string) bool {
	d, ok := r.Declaration(category, key)
	return ok && d.Adaptive
}

// DefaultValue returns the declared default, or nil for unknown keys.
func (r *Registry) DefaultValue(category, key string) any {
	d, ok := r.Declaration(category, key)
	if !ok {
		return nil
	}
	return d.Default
}

// DefaultFor returns the agent-specific default when declared, falling
// back to the shared default.
func (r *Registry) DefaultFor(agent, category, key string) any {
	d, ok := r.Declaration(category, key)
	if !ok {
		return nil
	}
	if v, ok := d.AgentDefaults[agent]; ok {
		return v
	}
	return d.Default
}

// RiskLevel returns the declared risk level. Unknown keys report high so
// risk gates stay closed.
func (r *Registry) RiskLevel(category, key string) model.RiskLevel {
	d, ok := r.Declaration(category, key)
	if !ok {
		return model.RiskHigh
	}
	return d.Risk
}

// ConfidenceThreshold returns the minimum confidence required to adapt
// the preference. Unknown keys report 1.
func (r *Registry) ConfidenceThreshold(category, key string) float64 {
	d, ok := r.Declaration(category, key)
	if !ok {
		return 1
	}
	return d.MinConfidence
}

// Validate checks a candidate value against the declaration's domain.
// Returns ErrUnknownPreference or ErrValueOutOfDomain wrapped with
// context on failure.
func (r *Registry) Validate(category, key string, value any) error {
	d, ok := r.Declaration(category, key)
	if !ok {
		return fmt.Errorf("registry: %s.%s: %w", category, key, ErrUnknownPreference)
	}
	if len(d.Values) > 0 {
		for _, allowed := range d.Values {
			if valueEqual(allowed, value) {
				return nil
			}
		}
		return fmt.Errorf("registry: %s.%s: %v not in allowed set: %w", category, key, value, ErrValueOutOfDomain)
	}
	n, ok := asFloat(value)
	if !ok {
		return fmt.Errorf("registry: %s.%s: %v is not numeric: %w", category, key, value, ErrValueOutOfDomain)
	}
	if n < *d.Min || n > *d.Max {
		return fmt.Errorf("registry: %s.%s: %v outside [%v, %v]: %w", category, key, value, *d.Min, *d.Max, ErrValueOutOfDomain)
	}
	return nil
}

// ValueEqual compares two scalar preference values, treating all numeric
// types as equivalent. JSON decoding yields float64 where YAML yields
// int; the two must compare equal.
func ValueEqual(a, b any) bool {
	return valueEqual(a, b)
}

func valueEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
