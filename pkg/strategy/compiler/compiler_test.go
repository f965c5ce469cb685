package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
)

type fakeVendors map[string]bool

func (f fakeVendors) Has(name string) bool { return f[name] }

func multiRuleDef() *strategy.Definition {
	d := strategy.New("multi", strategy.TypeCustom, "alice")
	d.Rules = []strategy.RuleConfig{
		{
			RuleType:   "fixedPoint",
			Parameters: map[string]any{"points": []any{[]any{float64(0), float64(0)}}},
			Weight:     1,
			Enabled:    true,
		},
		{
			RuleType:   "uniformGrid",
			Parameters: map[string]any{"gridSpacing": float64(3)},
			Weight:     0.5,
			Enabled:    true,
		},
		{
			RuleType: "randomSampling",
			Weight:   1,
			Enabled:  false, // disabled slots never compile
		},
	}
	return d
}

func TestCompileMultiRule(t *testing.T) {
	c := compiler.New(rules.Builtin(), fakeVendors{"asml": true})
	def := multiRuleDef()
	def.TargetVendor = "asml"
	def.Transformations = &geometry.Transform{Scale: 1, RotationDeg: 90}

	compiled, err := c.Compile(def)
	require.NoError(t, err)
	assert.Equal(t, def.ID, compiled.ID)
	assert.Equal(t, def.Version, compiled.Version)
	require.Len(t, compiled.Rules, 2)
	assert.Equal(t, "fixedPoint", compiled.Rules[0].Name)
	assert.Equal(t, 0, compiled.Rules[0].Index)
	assert.Equal(t, "uniformGrid", compiled.Rules[1].Name)
	assert.Equal(t, 1, compiled.Rules[1].Index)
	assert.Equal(t, "asml", compiled.TargetVendor)
	require.NotNil(t, compiled.Transform)
}

func TestCompileAggregatesAllReasons(t *testing.T) {
	c := compiler.New(rules.Builtin(), fakeVendors{})
	def := strategy.New("broken", strategy.TypeCustom, "alice")
	def.TargetVendor = "nonexistent"
	def.Rules = []strategy.RuleConfig{
		{RuleType: "spiral", Enabled: true, Weight: 1},
		{RuleType: "uniformGrid", Parameters: map[string]any{"gridSpacing": float64(-1)}, Enabled: true, Weight: 1},
	}

	_, err := c.Compile(def)
	require.Error(t, err)
	assert.Equal(t, errcode.CompileError, errcode.CodeOf(err))

	reasons, ok := errcode.AsError(err).Details["reasons"].([]compiler.Reason)
	require.True(t, ok)
	// One per broken rule plus the unknown vendor, reported together.
	require.Len(t, reasons, 3)

	byField := map[string]bool{}
	for _, r := range reasons {
		byField[r.Field] = true
	}
	assert.True(t, byField["ruleType"])
	assert.True(t, byField["parameters.gridSpacing"])
	assert.True(t, byField["targetVendor"])
}

func TestCompileRejectsEmptyAndZeroWeight(t *testing.T) {
	c := compiler.New(rules.Builtin(), nil)

	empty := strategy.New("empty", strategy.TypeCustom, "a")
	_, err := c.Compile(empty)
	require.Error(t, err)

	zero := multiRuleDef()
	for i := range zero.Rules {
		zero.Rules[i].Weight = 0
	}
	_, err = c.Compile(zero)
	require.Error(t, err)
	assert.Equal(t, errcode.CompileError, errcode.CodeOf(err))
}

func TestCompileRejectsAllDisabled(t *testing.T) {
	c := compiler.New(rules.Builtin(), nil)

	// Rules exist but every one is disabled. That has to surface at compile
	// time, not as an empty simulation later.
	def := multiRuleDef()
	for i := range def.Rules {
		def.Rules[i].Enabled = false
	}

	_, err := c.Compile(def)
	require.Error(t, err)
	assert.Equal(t, errcode.CompileError, errcode.CodeOf(err))

	reasons, ok := errcode.AsError(err).Details["reasons"].([]compiler.Reason)
	require.True(t, ok)
	require.Len(t, reasons, 1)
	assert.Equal(t, "rules", reasons[0].Field)
	assert.Contains(t, reasons[0].Message, "no enabled rules")
}

func TestCompileIdempotent(t *testing.T) {
	c := compiler.New(rules.Builtin(), nil)
	def := multiRuleDef()

	a, err := c.Compile(def)
	require.NoError(t, err)
	b, err := c.Compile(def)
	require.NoError(t, err)

	assert.Equal(t, len(a.Rules), len(b.Rules))
	for i := range a.Rules {
		assert.Equal(t, a.Rules[i].Name, b.Rules[i].Name)
		assert.Equal(t, a.Rules[i].Weight, b.Rules[i].Weight)
	}
}

func TestCacheSkipsDrafts(t *testing.T) {
	cache, err := compiler.NewCache(compiler.New(rules.Builtin(), nil), 8)
	require.NoError(t, err)

	def := multiRuleDef() // drafts start in StateDraft
	_, err = cache.Compile(def)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheMemoizesNonDrafts(t *testing.T) {
	cache, err := compiler.NewCache(compiler.New(rules.Builtin(), nil), 8)
	require.NoError(t, err)

	def := multiRuleDef()
	def.LifecycleState = strategy.StateApproved

	first, err := cache.Compile(def)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	second, err := cache.Compile(def)
	require.NoError(t, err)
	assert.Same(t, first, second)

	cache.Invalidate(def.ID, def.Version)
	assert.Equal(t, 0, cache.Len())
}
