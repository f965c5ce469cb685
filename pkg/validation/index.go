package validation

import (
	"math"

	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"
)

// boundaryIndex buckets die boundaries into a uniform grid sized by the
// median die width, so point lookups touch a handful of candidates instead
// of scanning every boundary.
type boundaryIndex struct {
	cellSize float64
	originX  float64
	originY  float64
	buckets  map[[2]int][]int
	dies     []schematic.DieBoundary
}

func newBoundaryIndex(s *schematic.SchematicData) *boundaryIndex {
	cell := s.MedianDieWidth()
	if cell <= 0 {
		cell = 1
	}
	idx := &boundaryIndex{
		cellSize: cell,
		originX:  s.LayoutBounds.XMin,
		originY:  s.LayoutBounds.YMin,
		buckets:  make(map[[2]int][]int),
		dies:     s.Dies,
	}
	for i, d := range s.Dies {
		x0, y0 := idx.cell(d.Bounds.XMin, d.Bounds.YMin)
		x1, y1 := idx.cell(d.Bounds.XMax, d.Bounds.YMax)
		for cy := y0; cy <= y1; cy++ {
			for cx := x0; cx <= x1; cx++ {
				key := [2]int{cx, cy}
				idx.buckets[key] = append(idx.buckets[key], i)
			}
		}
	}
	return idx
}

func (idx *boundaryIndex) cell(x, y float64) (int, int) {
	return int(math.Floor((x - idx.originX) / idx.cellSize)),
		int(math.Floor((y - idx.originY) / idx.cellSize))
}

// Lookup returns the index of the boundary containing p, or -1.
func (idx *boundaryIndex) Lookup(p geometry.Point) int {
	cx, cy := idx.cell(p.X, p.Y)
	for _, i := range idx.buckets[[2]int{cx, cy}] {
		if idx.dies[i].Contains(p) {
			return i
		}
	}
	return -1
}
