// Package wafer models the wafer map: the set of die positions a sampling
// strategy selects from.
package wafer

import (
	"encoding/json"
	"sort"

	"github.com/metrolab/wafersample/pkg/errcode"
)

// Die is one chip-sized region on a wafer, indexed by logical integer grid
// position rather than physical micrometers.
type Die struct {
	X         int  `json:"x"`
	Y         int  `json:"y"`
	Available bool `json:"available"`
}

type coord struct{ x, y int }

// Map is a finite set of dies uniquely keyed by (x, y).
type Map struct {
	WaferSize   string
	ProductType string
	LotID       string

	dies map[coord]Die
}

// NewMap builds a map from a die list. Two dies sharing (x, y) is a
// validation error.
func NewMap(dies []Die) (*Map, error) {
	m := &Map{dies: make(map[coord]Die, len(dies))}
	for _, d := range dies {
		key := coord{d.X, d.Y}
		if _, dup := m.dies[key]; dup {
			return nil, errcode.New(errcode.ValidationError,
				"duplicate die at (%d, %d)", d.X, d.Y)
		}
		m.dies[key] = d
	}
	return m, nil
}

// Len returns the total number of dies.
func (m *Map) Len() int { return len(m.dies) }

// At returns the die at (x, y), if present.
func (m *Map) At(x, y int) (Die, bool) {
	d, ok := m.dies[coord{x, y}]
	return d, ok
}

// Dies returns all dies sorted by (y, x) so iteration is deterministic.
func (m *Map) Dies() []Die {
	out := make([]Die, 0, len(m.dies))
	for _, d := range m.dies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// AvailableDies returns the available subset, in the same deterministic order.
func (m *Map) AvailableDies() []Die {
	all := m.Dies()
	out := all[:0]
	for _, d := range all {
		if d.Available {
			out = append(out, d)
		}
	}
	return out
}

// AvailableCount returns the number of available dies.
func (m *Map) AvailableCount() int {
	n := 0
	for _, d := range m.dies {
		if d.Available {
			n++
		}
	}
	return n
}

// Bounds returns the integer grid extent, false when the map is empty.
func (m *Map) Bounds() (minX, minY, maxX, maxY int, ok bool) {
	first := true
	for c := range m.dies {
		if first {
			minX, maxX, minY, maxY = c.x, c.x, c.y, c.y
			first = false
			continue
		}
		if c.x < minX {
			minX = c.x
		}
		if c.x > maxX {
			maxX = c.x
		}
		if c.y < minY {
			minY = c.y
		}
		if c.y > maxY {
			maxY = c.y
		}
	}
	return minX, minY, maxX, maxY, !first
}

// Centroid returns the mean position of the available dies, false when there
// are none.
func (m *Map) Centroid() (cx, cy float64, ok bool) {
	n := 0
	for _, d := range m.dies {
		if !d.Available {
			continue
		}
		cx += float64(d.X)
		cy += float64(d.Y)
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return cx / float64(n), cy / float64(n), true
}

// mapJSON is the wire shape of a wafer map.
type mapJSON struct {
	Dies        []Die  `json:"dies"`
	WaferSize   string `json:"waferSize,omitempty"`
	ProductType string `json:"productType,omitempty"`
	LotID       string `json:"lotId,omitempty"`
}

// MarshalJSON emits dies in deterministic order.
func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(mapJSON{
		Dies:        m.Dies(),
		WaferSize:   m.WaferSize,
		ProductType: m.ProductType,
		LotID:       m.LotID,
	})
}

// UnmarshalJSON parses the wire shape and enforces (x, y) uniqueness.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw mapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	built, err := NewMap(raw.Dies)
	if err != nil {
		return err
	}
	built.WaferSize = raw.WaferSize
	built.ProductType = raw.ProductType
	built.LotID = raw.LotID
	*m = *built
	return nil
}
