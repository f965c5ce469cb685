package validation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
	"github.com/metrolab/wafersample/pkg/validation"
)

// layout3x3 builds a 3x3 schematic with 10-unit dies on a 12-unit pitch.
func layout3x3(unavailable ...string) *schematic.SchematicData {
	off := map[string]bool{}
	for _, id := range unavailable {
		off[id] = true
	}
	s := &schematic.SchematicData{
		ID:               "sch-1",
		Filename:         "layout.svg",
		FormatType:       schematic.FormatSVG,
		CoordinateSystem: geometry.SVGUnits,
	}
	n := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			id := "die_" + string(rune('a'+n))
			x := float64(col) * 12
			y := float64(row) * 12
			s.Dies = append(s.Dies, schematic.NewDieBoundary(
				id, geometry.NewBounds(x, y, x+10, y+10), !off[id]))
			n++
		}
	}
	s.RecomputeLayoutBounds()
	return s
}

func compileFixed(t *testing.T, points []any, tr *geometry.Transform) *compiler.Compiled {
	t.Helper()
	def := strategy.New("fixed", strategy.TypeFixedPoint, "alice")
	def.Transformations = tr
	def.Rules = []strategy.RuleConfig{{
		RuleType:   "fixedPoint",
		Parameters: map[string]any{"points": points},
		Weight:     1,
		Enabled:    true,
	}}
	compiled, err := compiler.New(rules.Builtin(), nil).Compile(def)
	require.NoError(t, err)
	return compiled
}

func newValidator() *validation.Validator {
	return validation.New(engine.New(nil), nil)
}

func TestValidatePassesOnAlignedPoints(t *testing.T) {
	s := layout3x3()
	compiled := compileFixed(t, []any{
		[]any{float64(0), float64(0)},
		[]any{float64(2), float64(1)},
	}, nil)

	result, err := newValidator().Validate(context.Background(), s, compiled, validation.ModePermissive, "carol")
	require.NoError(t, err)
	assert.Equal(t, validation.StatusPass, result.Status)
	assert.Equal(t, 1.0, result.AlignmentScore)
	assert.Equal(t, 2, result.TotalPoints)
	assert.Equal(t, 2, result.ValidPoints)
	assert.Empty(t, result.Conflicts)
	assert.Empty(t, result.Recommendations)
	assert.Equal(t, "carol", result.ValidatedBy)
	assert.InDelta(t, 100*2.0/9.0, result.CoveragePct, 1e-9)
}

func TestValidateUnavailableDie(t *testing.T) {
	s := layout3x3("die_e") // layout center
	compiled := compileFixed(t, []any{
		[]any{float64(1), float64(1)},
		[]any{float64(0), float64(0)},
	}, nil)

	result, err := newValidator().Validate(context.Background(), s, compiled, validation.ModePermissive, "")
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	assert.Equal(t, validation.ConflictUnavailableDie, c.ConflictType)
	assert.Equal(t, validation.SeverityWarning, c.Severity)
	assert.Equal(t, "die_e", c.AffectedDieID)

	// One warning against two points: 1 - 0.4/2 = 0.8.
	assert.InDelta(t, 0.8, result.AlignmentScore, 1e-9)
	assert.Equal(t, validation.StatusWarning, result.Status)
	require.Len(t, result.Recommendations, 1)
	assert.Contains(t, result.Recommendations[0], "unavailable dies")
}

func TestValidateOutOfBounds(t *testing.T) {
	s := layout3x3()
	compiled := compileFixed(t, []any{[]any{float64(1), float64(1)}},
		&geometry.Transform{Scale: 1, OffsetX: 100})

	result, err := newValidator().Validate(context.Background(), s, compiled, validation.ModePermissive, "")
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, validation.ConflictOutOfBounds, result.Conflicts[0].ConflictType)
	assert.Equal(t, validation.SeverityWarning, result.Conflicts[0].Severity)
	assert.Equal(t, validation.StatusWarning, result.Status)
}

func TestValidateDuplicateSite(t *testing.T) {
	s := layout3x3()
	// Scale 0.25 lands both grid points inside the first die.
	compiled := compileFixed(t, []any{
		[]any{float64(0), float64(0)},
		[]any{float64(1), float64(0)},
	}, &geometry.Transform{Scale: 0.25})

	result, err := newValidator().Validate(context.Background(), s, compiled, validation.ModePermissive, "")
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, validation.ConflictDuplicateSite, result.Conflicts[0].ConflictType)
	assert.Equal(t, "die_a", result.Conflicts[0].AffectedDieID)
	assert.Equal(t, validation.StatusWarning, result.Status)
}

func TestValidateStrictEscalatesToFail(t *testing.T) {
	s := layout3x3()
	compiled := compileFixed(t, []any{
		[]any{float64(0), float64(0)},
		[]any{float64(1), float64(0)},
	}, &geometry.Transform{Scale: 0.25})

	result, err := newValidator().Validate(context.Background(), s, compiled, validation.ModeStrict, "")
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, validation.SeverityError, result.Conflicts[0].Severity)
	assert.Equal(t, validation.StatusFail, result.Status)
}

func TestValidateClusterViolation(t *testing.T) {
	s := layout3x3()
	compiled := compileFixed(t, []any{
		[]any{float64(0), float64(0)},
		[]any{float64(1), float64(0)},
	}, nil)

	v := newValidator()
	v.MaxClusterDensity = 1 // adjacent die centers sit 12 apart, radius is 10

	// Centers 12 apart exceed the 10-unit radius, so no cluster yet.
	result, err := v.Validate(context.Background(), s, compiled, validation.ModePermissive, "")
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	// Shrinking the pitch below the radius triggers the cluster check.
	squeezed := layout3x3()
	for i := range squeezed.Dies {
		b := squeezed.Dies[i].Bounds
		col := float64(i % 3)
		row := float64(i / 3)
		nb := geometry.NewBounds(col*8, row*12, col*8+(b.XMax-b.XMin), row*12+(b.YMax-b.YMin))
		squeezed.Dies[i] = schematic.NewDieBoundary(squeezed.Dies[i].DieID, nb, true)
	}
	squeezed.RecomputeLayoutBounds()

	result, err = v.Validate(context.Background(), squeezed, compiled, validation.ModePermissive, "")
	require.NoError(t, err)
	found := false
	for _, c := range result.Conflicts {
		if c.ConflictType == validation.ConflictClusterViolation {
			found = true
			assert.Equal(t, validation.SeverityInfo, c.Severity)
		}
	}
	assert.True(t, found, "expected a cluster violation, got %+v", result.Conflicts)
}

func TestValidateEmptyResultFails(t *testing.T) {
	s := &schematic.SchematicData{ID: "empty"}
	compiled := compileFixed(t, []any{[]any{float64(0), float64(0)}}, nil)

	result, err := newValidator().Validate(context.Background(), s, compiled, validation.ModePermissive, "")
	require.NoError(t, err)
	assert.Equal(t, validation.StatusFail, result.Status)
	assert.Equal(t, 0, result.TotalPoints)
	require.NotEmpty(t, result.Recommendations)
	assert.Contains(t, result.Recommendations[0], "no sampling points")
}
