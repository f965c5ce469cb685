package schematic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"
)

// grid3x3 builds a regular 3x3 layout with 10-unit dies on a 12-unit pitch.
func grid3x3(unavailable map[string]bool) *schematic.SchematicData {
	s := &schematic.SchematicData{
		ID:               "sch-1",
		Filename:         "grid.svg",
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
				id, geometry.NewBounds(x, y, x+10, y+10), !unavailable[id]))
			n++
		}
	}
	s.RecomputeLayoutBounds()
	return s
}

func TestStatistics(t *testing.T) {
	s := grid3x3(map[string]bool{"die_a": true})
	stats := s.GetStatistics()
	assert.Equal(t, 9, stats.DieCount)
	assert.Equal(t, 8, stats.AvailableDieCount)
	assert.InDelta(t, 34, stats.LayoutWidth, 1e-9)
	assert.InDelta(t, 34, stats.LayoutHeight, 1e-9)
	assert.InDelta(t, 10, stats.MedianDieWidth, 1e-9)
	assert.Equal(t, schematic.FormatSVG, stats.FormatType)
}

func TestMedianDieWidthEvenCount(t *testing.T) {
	s := &schematic.SchematicData{Dies: []schematic.DieBoundary{
		schematic.NewDieBoundary("a", geometry.NewBounds(0, 0, 2, 1), true),
		schematic.NewDieBoundary("b", geometry.NewBounds(0, 0, 4, 1), true),
	}}
	assert.InDelta(t, 3, s.MedianDieWidth(), 1e-9)
}

func TestDieAt(t *testing.T) {
	s := grid3x3(nil)
	d, ok := s.DieAt(geometry.Point{X: 5, Y: 5})
	require.True(t, ok)
	assert.Equal(t, "die_a", d.DieID)

	// 11 falls in the street between dies
	_, ok = s.DieAt(geometry.Point{X: 11, Y: 5})
	assert.False(t, ok)
}

func TestToWaferMapRowMajor(t *testing.T) {
	s := grid3x3(map[string]bool{"die_e": true})

	m, index, err := s.ToWaferMap()
	require.NoError(t, err)
	assert.Equal(t, 9, m.Len())
	assert.Equal(t, 8, m.AvailableCount())

	// Grid coordinates span (0..2, 0..2) in row-major order.
	minX, minY, maxX, maxY, ok := m.Bounds()
	require.True(t, ok)
	assert.Equal(t, [4]int{0, 0, 2, 2}, [4]int{minX, minY, maxX, maxY})

	// The center die of the layout maps back to the center boundary.
	center, ok := m.At(1, 1)
	require.True(t, ok)
	assert.False(t, center.Available)
	assert.Equal(t, "die_e", s.Dies[index[[2]int{1, 1}]].DieID)
}

func TestToWaferMapEmpty(t *testing.T) {
	s := &schematic.SchematicData{}
	m, index, err := s.ToWaferMap()
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, index)
}
