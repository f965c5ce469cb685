// Package geometry provides the 2D primitives shared by parsers, the
// execution engine, and the validator.
//
// The engine's canonical coordinate system is cartesian, center-origin,
// y-up, in micrometers where units are known. Parsers and vendor emitters
// convert to and from this canonical form.
package geometry

import "math"

// Point is a real-valued 2D coordinate. Units are inherited from the
// enclosing CoordinateSystem.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Bounds is an axis-aligned rectangle with XMin <= XMax and YMin <= YMax.
type Bounds struct {
	XMin float64 `json:"xMin"`
	YMin float64 `json:"yMin"`
	XMax float64 `json:"xMax"`
	YMax float64 `json:"yMax"`
}

// NewBounds normalizes the corner order so the invariant holds for any input.
func NewBounds(x1, y1, x2, y2 float64) Bounds {
	return Bounds{
		XMin: math.Min(x1, x2),
		YMin: math.Min(y1, y2),
		XMax: math.Max(x1, x2),
		YMax: math.Max(y1, y2),
	}
}

// Width returns XMax - XMin.
func (b Bounds) Width() float64 { return b.XMax - b.XMin }

// Height returns YMax - YMin.
func (b Bounds) Height() float64 { return b.YMax - b.YMin }

// Area returns Width * Height.
func (b Bounds) Area() float64 { return b.Width() * b.Height() }

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() Point {
	return Point{X: (b.XMin + b.XMax) / 2, Y: (b.YMin + b.YMax) / 2}
}

// Contains reports whether p lies inside or on the edge of b.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Union returns the minimal bounds enclosing both rectangles.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		XMin: math.Min(b.XMin, o.XMin),
		YMin: math.Min(b.YMin, o.YMin),
		XMax: math.Max(b.XMax, o.XMax),
		YMax: math.Max(b.YMax, o.YMax),
	}
}

// Enclosing returns the minimal bounds containing every rectangle in the
// list. The second return value is false for an empty list.
func Enclosing(list []Bounds) (Bounds, bool) {
	if len(list) == 0 {
		return Bounds{}, false
	}
	out := list[0]
	for _, b := range list[1:] {
		out = out.Union(b)
	}
	return out, true
}

// CoordinateSystem tags the origin placement and y-axis direction of a set
// of coordinates.
type CoordinateSystem string

const (
	CartesianCenterOrigin CoordinateSystem = "cartesianCenterOrigin"
	CartesianCornerOrigin CoordinateSystem = "cartesianCornerOrigin"
	Polar                 CoordinateSystem = "polar"
	GDSIIUnits            CoordinateSystem = "gdsiiUnits"
	CADUnits              CoordinateSystem = "cadUnits"
	Normalized01          CoordinateSystem = "normalized01"
	SVGUnits              CoordinateSystem = "svgUnits"
)
