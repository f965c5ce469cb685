// Package strategy defines the sampling strategy aggregate: an ordered rule
// list plus conditions, transformations, vendor targeting, and lifecycle
// state, versioned with semver.
package strategy

import (
	"fmt"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on new definitions so persisted blobs can be
// migrated later.
const SchemaVersion = "1.0"

// Type is the declared intent of a strategy. It is descriptive; the rule
// list is what executes.
type Type string

const (
	TypeFixedPoint      Type = "fixedPoint"
	TypeCenterEdge      Type = "centerEdge"
	TypeUniformGrid     Type = "uniformGrid"
	TypeRandomSampling  Type = "randomSampling"
	TypeHotspotPriority Type = "hotspotPriority"
	TypeAdaptive        Type = "adaptive"
	TypeCustom          Type = "custom"
)

// Types lists the accepted strategy types.
func Types() []Type {
	return []Type{
		TypeFixedPoint, TypeCenterEdge, TypeUniformGrid, TypeRandomSampling,
		TypeHotspotPriority, TypeAdaptive, TypeCustom,
	}
}

// ValidType reports whether t is a known strategy type.
func ValidType(t Type) bool {
	for _, k := range Types() {
		if t == k {
			return true
		}
	}
	return false
}

// RuleConfig is one rule slot in a strategy.
type RuleConfig struct {
	RuleType   string            `json:"ruleType" yaml:"ruleType"`
	Parameters map[string]any    `json:"parameters" yaml:"parameters"`
	Weight     float64           `json:"weight" yaml:"weight"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Conditions *ConditionalLogic `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ConditionalLogic gates a rule (or a whole strategy) on the execution
// context. An absent field means "don't care".
type ConditionalLogic struct {
	WaferSize              string         `json:"waferSize,omitempty" yaml:"waferSize,omitempty"`
	ProductType            string         `json:"productType,omitempty" yaml:"productType,omitempty"`
	ProcessLayer           string         `json:"processLayer,omitempty" yaml:"processLayer,omitempty"`
	DefectDensityThreshold *float64       `json:"defectDensityThreshold,omitempty" yaml:"defectDensityThreshold,omitempty"`
	CustomConditions       map[string]any `json:"customConditions,omitempty" yaml:"customConditions,omitempty"`
}

// ExecContext is the execution-time environment conditions are evaluated
// against.
type ExecContext struct {
	WaferSize     string         `json:"waferSize,omitempty"`
	ProductType   string         `json:"productType,omitempty"`
	ProcessLayer  string         `json:"processLayer,omitempty"`
	DefectDensity float64        `json:"defectDensity,omitempty"`
	ProcessParams map[string]any `json:"processParams,omitempty"`
}

// Matches reports whether the context satisfies every set condition. A
// defect density threshold fires the rule only at or above the threshold.
func (c *ConditionalLogic) Matches(ctx ExecContext) bool {
	if c == nil {
		return true
	}
	if c.WaferSize != "" && c.WaferSize != ctx.WaferSize {
		return false
	}
	if c.ProductType != "" && c.ProductType != ctx.ProductType {
		return false
	}
	if c.ProcessLayer != "" && c.ProcessLayer != ctx.ProcessLayer {
		return false
	}
	if c.DefectDensityThreshold != nil && ctx.DefectDensity < *c.DefectDensityThreshold {
		return false
	}
	for key, want := range c.CustomConditions {
		got, ok := ctx.ProcessParams[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Definition is the versioned strategy aggregate.
type Definition struct {
	ID                   string             `json:"id" yaml:"id"`
	Name                 string             `json:"name" yaml:"name"`
	Description          string             `json:"description,omitempty" yaml:"description,omitempty"`
	StrategyType         Type               `json:"strategyType" yaml:"strategyType"`
	ProcessStep          string             `json:"processStep,omitempty" yaml:"processStep,omitempty"`
	ToolType             string             `json:"toolType,omitempty" yaml:"toolType,omitempty"`
	Rules                []RuleConfig       `json:"rules" yaml:"rules"`
	GlobalConditions     *ConditionalLogic  `json:"globalConditions,omitempty" yaml:"globalConditions,omitempty"`
	Transformations      *geometry.Transform `json:"transformations,omitempty" yaml:"transformations,omitempty"`
	TargetVendor         string             `json:"targetVendor,omitempty" yaml:"targetVendor,omitempty"`
	VendorSpecificParams map[string]any     `json:"vendorSpecificParams,omitempty" yaml:"vendorSpecificParams,omitempty"`
	Version              string             `json:"version" yaml:"version"`
	Author               string             `json:"author" yaml:"author"`
	CreatedAt            time.Time          `json:"createdAt" yaml:"createdAt"`
	ModifiedAt           time.Time          `json:"modifiedAt" yaml:"modifiedAt"`
	LifecycleState       State              `json:"lifecycleState" yaml:"lifecycleState"`
	SchemaVersion        string             `json:"schemaVersion" yaml:"schemaVersion"`

	// Audit trail filled by lifecycle transitions.
	ReviewedBy string     `json:"reviewedBy,omitempty" yaml:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty" yaml:"reviewedAt,omitempty"`
	ApprovedBy string     `json:"approvedBy,omitempty" yaml:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty" yaml:"approvedAt,omitempty"`
}

// New creates a fresh draft definition at version 1.0.0.
func New(name string, strategyType Type, author string) *Definition {
	now := time.Now().UTC()
	return &Definition{
		ID:             uuid.NewString(),
		Name:           name,
		StrategyType:   strategyType,
		Version:        "1.0.0",
		Author:         author,
		CreatedAt:      now,
		ModifiedAt:     now,
		LifecycleState: StateDraft,
		SchemaVersion:  SchemaVersion,
	}
}

// Validate checks the definition's own shape, independent of registries.
func (d *Definition) Validate() error {
	var fields []errcode.FieldError
	if d.Name == "" {
		fields = append(fields, errcode.FieldError{Field: "name", Message: "required"})
	}
	if !ValidType(d.StrategyType) {
		fields = append(fields, errcode.FieldError{Field: "strategyType", Message: "unknown strategy type"})
	}
	for i, r := range d.Rules {
		if r.RuleType == "" {
			fields = append(fields, errcode.FieldError{
				Field: ruleField(i, "ruleType"), Message: "required",
			})
		}
		if r.Weight < 0 {
			fields = append(fields, errcode.FieldError{
				Field: ruleField(i, "weight"), Message: "must be >= 0",
			})
		}
	}
	if d.Transformations != nil {
		if err := d.Transformations.Validate(); err != nil {
			fields = append(fields, errcode.AsError(err).FieldErrors...)
		}
	}
	if len(fields) > 0 {
		return errcode.New(errcode.ValidationError, "invalid strategy definition").
			WithFieldErrors(fields...)
	}
	return nil
}

func ruleField(i int, name string) string {
	return fmt.Sprintf("rules[%d].%s", i, name)
}

// EnabledRules returns the enabled rule slots in declaration order.
func (d *Definition) EnabledRules() []RuleConfig {
	out := make([]RuleConfig, 0, len(d.Rules))
	for _, r := range d.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Clone deep-copies the definition into a new id at version 1.0.0, state
// draft, authored by author.
func (d *Definition) Clone(newName, author string) *Definition {
	now := time.Now().UTC()
	c := *d
	c.ID = uuid.NewString()
	c.Name = newName
	c.Author = author
	c.Version = "1.0.0"
	c.LifecycleState = StateDraft
	c.CreatedAt = now
	c.ModifiedAt = now
	c.ReviewedBy, c.ReviewedAt = "", nil
	c.ApprovedBy, c.ApprovedAt = "", nil

	c.Rules = make([]RuleConfig, len(d.Rules))
	for i, r := range d.Rules {
		c.Rules[i] = r
		c.Rules[i].Parameters = copyMap(r.Parameters)
		if r.Conditions != nil {
			cond := *r.Conditions
			cond.CustomConditions = copyMap(r.Conditions.CustomConditions)
			c.Rules[i].Conditions = &cond
		}
	}
	if d.GlobalConditions != nil {
		g := *d.GlobalConditions
		g.CustomConditions = copyMap(d.GlobalConditions.CustomConditions)
		c.GlobalConditions = &g
	}
	if d.Transformations != nil {
		t := *d.Transformations
		c.Transformations = &t
	}
	c.VendorSpecificParams = copyMap(d.VendorSpecificParams)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
