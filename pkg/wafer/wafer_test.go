package wafer_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/wafer"
)

func TestNewMapRejectsDuplicates(t *testing.T) {
	_, err := wafer.NewMap([]wafer.Die{
		{X: 1, Y: 1, Available: true},
		{X: 1, Y: 1, Available: false},
	})
	require.Error(t, err)
	assert.Equal(t, errcode.ValidationError, errcode.CodeOf(err))
}

func TestDiesDeterministicOrder(t *testing.T) {
	m, err := wafer.NewMap([]wafer.Die{
		{X: 2, Y: 1}, {X: 0, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 0},
	})
	require.NoError(t, err)

	dies := m.Dies()
	require.Len(t, dies, 4)
	assert.Equal(t, []wafer.Die{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 1},
	}, dies)
}

func TestAvailableDies(t *testing.T) {
	m, err := wafer.NewMap([]wafer.Die{
		{X: 0, Y: 0, Available: true},
		{X: 1, Y: 0, Available: false},
		{X: 2, Y: 0, Available: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, m.AvailableCount())
	avail := m.AvailableDies()
	require.Len(t, avail, 2)
	assert.Equal(t, 0, avail[0].X)
	assert.Equal(t, 2, avail[1].X)
}

func TestBoundsAndCentroid(t *testing.T) {
	empty, err := wafer.NewMap(nil)
	require.NoError(t, err)
	_, _, _, _, ok := empty.Bounds()
	assert.False(t, ok)
	_, _, ok = empty.Centroid()
	assert.False(t, ok)

	m, err := wafer.NewMap([]wafer.Die{
		{X: -2, Y: 3, Available: true},
		{X: 4, Y: -1, Available: true},
		{X: 0, Y: 0, Available: false},
	})
	require.NoError(t, err)

	minX, minY, maxX, maxY, ok := m.Bounds()
	require.True(t, ok)
	assert.Equal(t, [4]int{-2, -1, 4, 3}, [4]int{minX, minY, maxX, maxY})

	cx, cy, ok := m.Centroid()
	require.True(t, ok)
	assert.InDelta(t, 1.0, cx, 1e-9)
	assert.InDelta(t, 1.0, cy, 1e-9)
}

func TestJSONRoundTrip(t *testing.T) {
	m, err := wafer.NewMap([]wafer.Die{
		{X: 0, Y: 0, Available: true},
		{X: 1, Y: 0, Available: false},
	})
	require.NoError(t, err)
	m.WaferSize = "300mm"
	m.LotID = "LOT-42"

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var back wafer.Map
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, "300mm", back.WaferSize)
	assert.Equal(t, "LOT-42", back.LotID)

	d, ok := back.At(1, 0)
	require.True(t, ok)
	assert.False(t, d.Available)
}

func TestUnmarshalRejectsDuplicateDies(t *testing.T) {
	var m wafer.Map
	err := json.Unmarshal([]byte(`{"dies":[{"x":0,"y":0},{"x":0,"y":0}]}`), &m)
	assert.Error(t, err)
}
