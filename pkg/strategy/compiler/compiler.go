// Package compiler resolves a strategy definition against the rule and
// vendor registries, producing an immutable CompiledStrategy ready for
// execution. Compilation never fails fast: all problems are aggregated so a
// form can surface every issue at once.
package compiler

import (
	"fmt"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/strategy"
)

// VendorResolver is the slice of the emitter registry compilation needs.
type VendorResolver interface {
	Has(name string) bool
}

// Reason is one compilation problem. RuleIndex is nil for strategy-level
// problems.
type Reason struct {
	RuleIndex *int   `json:"ruleIndex,omitempty"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
}

// CompiledRule is one enabled rule with its plugin resolved and parameters
// validated.
type CompiledRule struct {
	Index      int
	Name       string
	Rule       rules.Rule
	Params     map[string]any
	Weight     float64
	Conditions *strategy.ConditionalLogic
}

// Compiled is the executable form of a strategy version. It is immutable
// after Compile returns and safe for concurrent use.
type Compiled struct {
	ID               string
	Version          string
	Name             string
	Rules            []CompiledRule
	GlobalConditions *strategy.ConditionalLogic
	Transform        *geometry.Transform
	TargetVendor     string
}

// Compiler resolves definitions against the registries.
type Compiler struct {
	rules   *rules.Registry
	vendors VendorResolver
}

// New creates a compiler. vendors may be nil when vendor targeting is not
// in play (CLI simulations).
func New(r *rules.Registry, vendors VendorResolver) *Compiler {
	return &Compiler{rules: r, vendors: vendors}
}

// Compile validates the definition end to end. On failure the returned
// error carries every reason found, never just the first.
func (c *Compiler) Compile(def *strategy.Definition) (*Compiled, error) {
	var reasons []Reason

	add := func(ruleIndex int, field, message string) {
		r := Reason{Field: field, Message: message}
		if ruleIndex >= 0 {
			idx := ruleIndex
			r.RuleIndex = &idx
		}
		reasons = append(reasons, r)
	}

	compiled := &Compiled{
		ID:               def.ID,
		Version:          def.Version,
		Name:             def.Name,
		GlobalConditions: def.GlobalConditions,
		Transform:        def.Transformations,
		TargetVendor:     def.TargetVendor,
	}

	weightSum := 0.0
	enabled := 0
	for i, rc := range def.Rules {
		if !rc.Enabled {
			continue
		}
		enabled++
		rule, err := c.rules.Get(rc.RuleType)
		if err != nil {
			add(i, "ruleType", fmt.Sprintf("unknown rule type %q", rc.RuleType))
			continue
		}
		if err := rule.Validate(rc.Parameters); err != nil {
			for _, fe := range errcode.AsError(err).FieldErrors {
				add(i, "parameters."+fe.Field, fe.Message)
			}
			continue
		}
		if rc.Weight < 0 {
			add(i, "weight", "must be >= 0")
			continue
		}
		weightSum += rc.Weight
		compiled.Rules = append(compiled.Rules, CompiledRule{
			Index:      i,
			Name:       rc.RuleType,
			Rule:       rule,
			Params:     rc.Parameters,
			Weight:     rc.Weight,
			Conditions: rc.Conditions,
		})
	}

	switch {
	case len(def.Rules) == 0:
		add(-1, "rules", "strategy has no rules")
	case enabled == 0:
		add(-1, "rules", "strategy has no enabled rules")
	case weightSum <= 0 && len(compiled.Rules) > 0:
		add(-1, "rules", "sum of enabled rule weights must be > 0")
	}

	if def.Transformations != nil {
		if err := def.Transformations.Validate(); err != nil {
			for _, fe := range errcode.AsError(err).FieldErrors {
				add(-1, "transformations."+fe.Field, fe.Message)
			}
		}
	}

	if def.TargetVendor != "" {
		if c.vendors == nil || !c.vendors.Has(def.TargetVendor) {
			add(-1, "targetVendor", fmt.Sprintf("unknown vendor %q", def.TargetVendor))
		}
	}

	if len(reasons) > 0 {
		return nil, errcode.New(errcode.CompileError,
			"strategy %s@%s failed to compile with %d problem(s)", def.ID, def.Version, len(reasons)).
			WithDetail("reasons", reasons)
	}
	return compiled, nil
}
