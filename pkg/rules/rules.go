// Package rules defines the sampling rule contract and the built-in rule
// plugins. A rule turns a wafer map plus parameters into weighted candidate
// die coordinates; the execution engine merges candidates across rules.
package rules

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// Candidate is one die coordinate proposed by a rule with a rule-local
// priority in [0, 1].
type Candidate struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Priority float64 `json:"priority"`
}

// Context carries the execution-time inputs a rule may condition on.
type Context struct {
	ProcessParams map[string]any

	// Seed drives deterministic pseudo-random rules. The engine injects a
	// strategy-derived seed when the rule parameters carry none.
	Seed int64
}

// CostClass buckets a rule's expected execution cost.
type CostClass string

const (
	CostLow    CostClass = "low"
	CostMedium CostClass = "medium"
	CostHigh   CostClass = "high"
)

// Estimate is a rule's self-reported cost prediction for a wafer.
type Estimate struct {
	ExpectedPointCount int       `json:"expectedPointCount"`
	ExpectedCostClass  CostClass `json:"expectedCostClass"`
}

// Rule is the sampling plugin contract. Implementations must be pure: the
// same wafer, params, and context always produce the same candidates.
type Rule interface {
	// Name returns the registry name of the rule type.
	Name() string

	// Validate checks params without a wafer. Failures carry field errors
	// so callers can aggregate them per rule.
	Validate(params map[string]any) error

	// Apply produces candidates plus human-readable warnings (dropped
	// points, clamped counts).
	Apply(w *wafer.Map, params map[string]any, rc Context) ([]Candidate, []string, error)

	// Estimate predicts point count and cost class for early warnings.
	Estimate(w *wafer.Map, params map[string]any) Estimate
}

// Info describes a registered rule for discovery listings.
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"`
}

// ParamSpec documents one rule parameter.
type ParamSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Help     string `json:"help,omitempty"`
}

// paramErr builds the standard per-field validation error for rule params.
func paramErr(rule string, fields ...errcode.FieldError) error {
	return errcode.New(errcode.ValidationError, "invalid %s parameters", rule).
		WithDetail("rule", rule).
		WithFieldErrors(fields...)
}

// floatParam reads a numeric parameter. JSON decoding yields float64, YAML
// may yield int, so both are accepted.
func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// intParam reads an integer parameter, rejecting fractional values.
func intParam(params map[string]any, key string) (int, bool) {
	f, ok := floatParam(params, key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// pointListParam reads a list of (x, y) pairs. Accepts [[x,y], ...] and
// [{"x":..,"y":..}, ...] shapes.
func pointListParam(params map[string]any, key string) ([][2]int, error) {
	raw, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("missing")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("not a list")
	}
	out := make([][2]int, 0, len(list))
	for i, item := range list {
		switch p := item.(type) {
		case []any:
			if len(p) != 2 {
				return nil, fmt.Errorf("entry %d: want 2 coordinates, got %d", i, len(p))
			}
			x, okX := numToInt(p[0])
			y, okY := numToInt(p[1])
			if !okX || !okY {
				return nil, fmt.Errorf("entry %d: non-integer coordinate", i)
			}
			out = append(out, [2]int{x, y})
		case map[string]any:
			x, okX := intParam(p, "x")
			y, okY := intParam(p, "y")
			if !okX || !okY {
				return nil, fmt.Errorf("entry %d: missing x or y", i)
			}
			out = append(out, [2]int{x, y})
		default:
			return nil, fmt.Errorf("entry %d: unsupported point shape %T", i, item)
		}
	}
	return out, nil
}

func numToInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
