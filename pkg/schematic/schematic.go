// Package schematic defines the uniform die-boundary model produced by the
// layout parsers. A SchematicData is immutable after ingestion: corrections
// are made by re-uploading, never by editing in place.
package schematic

import (
	"sort"
	"time"

	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// Format identifies the source layout file format.
type Format string

const (
	FormatGDSII Format = "gdsii"
	FormatDXF   Format = "dxf"
	FormatSVG   Format = "svg"
)

// DieBoundary is one die's axis-aligned rectangle plus identity and
// availability. Parsers compute a bounding box when the source shape is not
// rectangular.
type DieBoundary struct {
	DieID     string            `json:"dieId"`
	Bounds    geometry.Bounds   `json:"bounds"`
	CenterX   float64           `json:"centerX"`
	CenterY   float64           `json:"centerY"`
	Available bool              `json:"available"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewDieBoundary derives center fields from the bounds.
func NewDieBoundary(id string, b geometry.Bounds, available bool) DieBoundary {
	c := b.Center()
	return DieBoundary{
		DieID:     id,
		Bounds:    b,
		CenterX:   c.X,
		CenterY:   c.Y,
		Available: available,
	}
}

// Width returns the boundary width.
func (d DieBoundary) Width() float64 { return d.Bounds.Width() }

// Height returns the boundary height.
func (d DieBoundary) Height() float64 { return d.Bounds.Height() }

// Area returns Width * Height.
func (d DieBoundary) Area() float64 { return d.Bounds.Area() }

// Contains reports whether the point lies within the boundary.
func (d DieBoundary) Contains(p geometry.Point) bool { return d.Bounds.Contains(p) }

// Metadata describes provenance recorded at parse time.
type Metadata struct {
	Software    string  `json:"software,omitempty"`
	Units       string  `json:"units,omitempty"`
	ScaleFactor float64 `json:"scaleFactor,omitempty"`
	FileSize    int64   `json:"fileSize,omitempty"`
}

// SchematicData is the parsed layout: die boundaries in the source
// coordinate system plus derived layout bounds.
type SchematicData struct {
	ID               string                    `json:"id"`
	Filename         string                    `json:"filename"`
	FormatType       Format                    `json:"formatType"`
	UploadDate       time.Time                 `json:"uploadDate"`
	CoordinateSystem geometry.CoordinateSystem `json:"coordinateSystem"`
	WaferSize        string                    `json:"waferSize,omitempty"`
	Dies             []DieBoundary             `json:"dies"`
	LayoutBounds     geometry.Bounds           `json:"layoutBounds"`
	Metadata         Metadata                  `json:"metadata"`
	CreatedBy        string                    `json:"createdBy,omitempty"`
}

// RecomputeLayoutBounds refreshes LayoutBounds from the die list.
func (s *SchematicData) RecomputeLayoutBounds() {
	list := make([]geometry.Bounds, len(s.Dies))
	for i, d := range s.Dies {
		list[i] = d.Bounds
	}
	if b, ok := geometry.Enclosing(list); ok {
		s.LayoutBounds = b
	} else {
		s.LayoutBounds = geometry.Bounds{}
	}
}

// DieCount returns the total number of dies.
func (s *SchematicData) DieCount() int { return len(s.Dies) }

// AvailableDieCount returns the number of available dies.
func (s *SchematicData) AvailableDieCount() int {
	n := 0
	for _, d := range s.Dies {
		if d.Available {
			n++
		}
	}
	return n
}

// DieAt returns the first boundary containing the point, if any.
func (s *SchematicData) DieAt(p geometry.Point) (DieBoundary, bool) {
	for _, d := range s.Dies {
		if d.Contains(p) {
			return d, true
		}
	}
	return DieBoundary{}, false
}

// Statistics is the derived summary block exposed on the schematic detail.
type Statistics struct {
	DieCount          int                       `json:"dieCount"`
	AvailableDieCount int                       `json:"availableDieCount"`
	LayoutBounds      geometry.Bounds           `json:"layoutBounds"`
	LayoutWidth       float64                   `json:"layoutWidth"`
	LayoutHeight      float64                   `json:"layoutHeight"`
	MedianDieWidth    float64                   `json:"medianDieWidth"`
	CoordinateSystem  geometry.CoordinateSystem `json:"coordinateSystem"`
	FormatType        Format                    `json:"formatType"`
	WaferSize         string                    `json:"waferSize,omitempty"`
}

// GetStatistics computes the summary block.
func (s *SchematicData) GetStatistics() Statistics {
	return Statistics{
		DieCount:          s.DieCount(),
		AvailableDieCount: s.AvailableDieCount(),
		LayoutBounds:      s.LayoutBounds,
		LayoutWidth:       s.LayoutBounds.Width(),
		LayoutHeight:      s.LayoutBounds.Height(),
		MedianDieWidth:    s.MedianDieWidth(),
		CoordinateSystem:  s.CoordinateSystem,
		FormatType:        s.FormatType,
		WaferSize:         s.WaferSize,
	}
}

// MedianDieWidth returns the median boundary width, 0 when there are no dies.
func (s *SchematicData) MedianDieWidth() float64 {
	if len(s.Dies) == 0 {
		return 0
	}
	widths := make([]float64, len(s.Dies))
	for i, d := range s.Dies {
		widths[i] = d.Width()
	}
	sort.Float64s(widths)
	mid := len(widths) / 2
	if len(widths)%2 == 0 {
		return (widths[mid-1] + widths[mid]) / 2
	}
	return widths[mid]
}

// ToWaferMap synthesizes a wafer map from the boundaries: one die per
// boundary at a (gridX, gridY) assigned by sorting centers in row-major
// order. Availability is inherited. The returned index maps die grid
// coordinates back to boundary list positions.
func (s *SchematicData) ToWaferMap() (*wafer.Map, map[[2]int]int, error) {
	type entry struct {
		idx     int
		cx, cy  float64
	}
	entries := make([]entry, len(s.Dies))
	for i, d := range s.Dies {
		entries[i] = entry{idx: i, cx: d.CenterX, cy: d.CenterY}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].cy != entries[j].cy {
			return entries[i].cy < entries[j].cy
		}
		return entries[i].cx < entries[j].cx
	})

	// Rows are runs of near-equal centerY; half the median die height is the
	// row break threshold, with a small floor for degenerate layouts.
	rowTol := s.medianDieHeight() / 2
	if rowTol <= 0 {
		rowTol = 1e-9
	}

	dies := make([]wafer.Die, 0, len(entries))
	index := make(map[[2]int]int, len(entries))
	gridY := 0
	colX := 0
	for i, e := range entries {
		if i > 0 {
			if e.cy-entries[i-1].cy > rowTol {
				gridY++
				colX = 0
			} else {
				colX++
			}
		}
		d := wafer.Die{X: colX, Y: gridY, Available: s.Dies[e.idx].Available}
		dies = append(dies, d)
		index[[2]int{colX, gridY}] = e.idx
	}

	m, err := wafer.NewMap(dies)
	if err != nil {
		return nil, nil, err
	}
	m.WaferSize = s.WaferSize
	return m, index, nil
}

func (s *SchematicData) medianDieHeight() float64 {
	if len(s.Dies) == 0 {
		return 0
	}
	hs := make([]float64, len(s.Dies))
	for i, d := range s.Dies {
		hs[i] = d.Height()
	}
	sort.Float64s(hs)
	mid := len(hs) / 2
	if len(hs)%2 == 0 {
		return (hs[mid-1] + hs[mid]) / 2
	}
	return hs[mid]
}

// EstimateWaferSize guesses the wafer size class from the layout diameter.
// Rough heuristic; calibrated for typical GDSII database-unit scaling.
func EstimateWaferSize(dies []DieBoundary) string {
	if len(dies) == 0 {
		return ""
	}
	minX, maxX := dies[0].CenterX, dies[0].CenterX
	minY, maxY := dies[0].CenterY, dies[0].CenterY
	for _, d := range dies[1:] {
		if d.CenterX < minX {
			minX = d.CenterX
		}
		if d.CenterX > maxX {
			maxX = d.CenterX
		}
		if d.CenterY < minY {
			minY = d.CenterY
		}
		if d.CenterY > maxY {
			maxY = d.CenterY
		}
	}
	diameter := maxX - minX
	if h := maxY - minY; h > diameter {
		diameter = h
	}

	switch {
	case diameter < 50000:
		return "100mm"
	case diameter < 100000:
		return "150mm"
	case diameter < 150000:
		return "200mm"
	case diameter < 200000:
		return "300mm"
	default:
		return "300mm+"
	}
}
