package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// squareMap builds an n x n wafer with every die available.
func squareMap(t *testing.T, n int) *wafer.Map {
	t.Helper()
	var dies []wafer.Die
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dies = append(dies, wafer.Die{X: x, Y: y, Available: true})
		}
	}
	m, err := wafer.NewMap(dies)
	require.NoError(t, err)
	return m
}

func mustRule(t *testing.T, name string) rules.Rule {
	t.Helper()
	r, err := rules.Builtin().Get(name)
	require.NoError(t, err)
	return r
}

func TestRegistryUnknownRule(t *testing.T) {
	_, err := rules.Builtin().Get("spiral")
	require.Error(t, err)
	assert.Equal(t, errcode.UnknownPlugin, errcode.CodeOf(err))
}

func TestRegistryListsBuiltins(t *testing.T) {
	infos := rules.Builtin().List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	assert.Equal(t, []string{"centerEdge", "fixedPoint", "randomSampling", "uniformGrid"}, names)
}

func TestFixedPointDropsOffMapCoordinates(t *testing.T) {
	r := mustRule(t, "fixedPoint")
	params := map[string]any{
		"points": []any{
			[]any{float64(0), float64(0)},
			[]any{float64(99), float64(99)},
			map[string]any{"x": float64(1), "y": float64(1)},
		},
	}
	require.NoError(t, r.Validate(params))

	out, warnings, err := r.Apply(squareMap(t, 3), params, rules.Context{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out[0].Priority)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "(99, 99)")
}

func TestFixedPointValidateRequiresPoints(t *testing.T) {
	r := mustRule(t, "fixedPoint")
	assert.Error(t, r.Validate(map[string]any{}))
	assert.Error(t, r.Validate(map[string]any{"points": []any{}}))
	assert.Error(t, r.Validate(map[string]any{"points": "not a list"}))
}

func TestCenterEdgeDefaults(t *testing.T) {
	r := mustRule(t, "centerEdge")
	m := squareMap(t, 7)

	out, warnings, err := r.Apply(m, map[string]any{}, rules.Context{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	// Default is 1 center + 4 edge picks.
	require.Len(t, out, 5)

	// The centroid of a full 7x7 grid is (3, 3): the first pick is that die
	// at full priority.
	assert.Equal(t, 3, out[0].X)
	assert.Equal(t, 3, out[0].Y)
	assert.Equal(t, 1.0, out[0].Priority)

	// Edge picks carry priority at most 0.8 and never collide with center.
	seen := map[[2]int]bool{{out[0].X, out[0].Y}: true}
	for _, c := range out[1:] {
		assert.LessOrEqual(t, c.Priority, 0.8)
		key := [2]int{c.X, c.Y}
		assert.False(t, seen[key], "duplicate candidate at %v", key)
		seen[key] = true
	}
}

func TestCenterEdgeSmallWaferWarns(t *testing.T) {
	r := mustRule(t, "centerEdge")
	m := squareMap(t, 2)

	out, warnings, err := r.Apply(m, map[string]any{"centerCount": float64(3), "edgeCount": float64(4)}, rules.Context{})
	require.NoError(t, err)
	assert.Len(t, out, 4)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "fewer available dies")
}

func TestCenterEdgeValidate(t *testing.T) {
	r := mustRule(t, "centerEdge")
	assert.NoError(t, r.Validate(map[string]any{}))
	assert.Error(t, r.Validate(map[string]any{"centerCount": float64(-1)}))
	assert.Error(t, r.Validate(map[string]any{"edgeCount": 2.5}))
	assert.Error(t, r.Validate(map[string]any{"edgeMargin": float64(-0.5)}))
}

func TestUniformGridSnapsToAvailableDies(t *testing.T) {
	r := mustRule(t, "uniformGrid")
	m := squareMap(t, 5)
	params := map[string]any{"gridSpacing": float64(2)}
	require.NoError(t, r.Validate(params))

	out, warnings, err := r.Apply(m, params, rules.Context{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.NotEmpty(t, out)

	for _, c := range out {
		_, ok := m.At(c.X, c.Y)
		assert.True(t, ok)
		assert.Greater(t, c.Priority, 0.0)
		assert.LessOrEqual(t, c.Priority, 1.0)
	}

	// Lattice points landing exactly on dies get full priority.
	full := 0
	for _, c := range out {
		if c.Priority == 1.0 {
			full++
		}
	}
	assert.NotZero(t, full)
}

func TestUniformGridValidate(t *testing.T) {
	r := mustRule(t, "uniformGrid")
	assert.Error(t, r.Validate(map[string]any{}))
	assert.Error(t, r.Validate(map[string]any{"gridSpacing": float64(0)}))
	assert.Error(t, r.Validate(map[string]any{"gridSpacing": float64(2), "rotation": float64(500)}))
	assert.NoError(t, r.Validate(map[string]any{"gridSpacing": float64(2), "rotation": float64(45)}))
}

func TestRandomSamplingDeterministicPerSeed(t *testing.T) {
	r := mustRule(t, "randomSampling")
	m := squareMap(t, 6)
	params := map[string]any{"count": float64(5), "seed": float64(1234)}

	first, _, err := r.Apply(m, params, rules.Context{})
	require.NoError(t, err)
	second, _, err := r.Apply(m, params, rules.Context{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 5)
	for _, c := range first {
		assert.Equal(t, 0.5, c.Priority)
	}

	// A different seed draws a different subset.
	other, _, err := r.Apply(m, map[string]any{"count": float64(5), "seed": float64(99)}, rules.Context{})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestRandomSamplingUsesInjectedSeed(t *testing.T) {
	r := mustRule(t, "randomSampling")
	m := squareMap(t, 6)
	params := map[string]any{"count": float64(4)}

	a, _, err := r.Apply(m, params, rules.Context{Seed: 7})
	require.NoError(t, err)
	b, _, err := r.Apply(m, params, rules.Context{Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRandomSamplingClampsCount(t *testing.T) {
	r := mustRule(t, "randomSampling")
	m := squareMap(t, 2)

	out, warnings, err := r.Apply(m, map[string]any{"count": float64(50)}, rules.Context{})
	require.NoError(t, err)
	assert.Len(t, out, 4)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "only 4 are available")
}

func TestEstimates(t *testing.T) {
	m := squareMap(t, 5)

	est := mustRule(t, "fixedPoint").Estimate(m, map[string]any{
		"points": []any{[]any{float64(0), float64(0)}},
	})
	assert.Equal(t, 1, est.ExpectedPointCount)

	est = mustRule(t, "centerEdge").Estimate(m, map[string]any{})
	assert.Equal(t, 5, est.ExpectedPointCount)

	est = mustRule(t, "randomSampling").Estimate(m, map[string]any{"count": float64(100)})
	assert.Equal(t, 25, est.ExpectedPointCount)
	assert.Equal(t, rules.CostLow, est.ExpectedCostClass)
}
