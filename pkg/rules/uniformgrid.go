package rules

import (
	"math"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/wafer"
)

var uniformGridInfo = Info{
	Name:        "uniformGrid",
	Description: "Samples a regular lattice snapped to the nearest available dies.",
	Params: []ParamSpec{
		{Name: "gridSpacing", Type: "float", Required: true, Help: "lattice step in die units"},
		{Name: "offsetX", Type: "float", Help: "lattice origin x (default 0)"},
		{Name: "offsetY", Type: "float", Help: "lattice origin y (default 0)"},
		{Name: "rotation", Type: "float", Help: "lattice rotation in degrees (default 0)"},
	},
}

// UniformGrid generates lattice points across the wafer extent and snaps
// each to the nearest available die. Priority reflects snap distance: a die
// exactly on a lattice point gets 1.0, one a full spacing away gets 0.
type UniformGrid struct{}

// Name implements Rule.
func (*UniformGrid) Name() string { return uniformGridInfo.Name }

// Validate implements Rule.
func (*UniformGrid) Validate(params map[string]any) error {
	var fields []errcode.FieldError
	spacing, ok := floatParam(params, "gridSpacing")
	if !ok {
		fields = append(fields, errcode.FieldError{Field: "gridSpacing", Message: "required"})
	} else if spacing <= 0 {
		fields = append(fields, errcode.FieldError{Field: "gridSpacing", Message: "must be > 0"})
	}
	if v, ok := floatParam(params, "rotation"); ok && (v < -360 || v > 360) {
		fields = append(fields, errcode.FieldError{Field: "rotation", Message: "must be within [-360, 360] degrees"})
	}
	if len(fields) > 0 {
		return paramErr(uniformGridInfo.Name, fields...)
	}
	return nil
}

// Apply implements Rule.
func (*UniformGrid) Apply(w *wafer.Map, params map[string]any, _ Context) ([]Candidate, []string, error) {
	spacing, ok := floatParam(params, "gridSpacing")
	if !ok || spacing <= 0 {
		return nil, nil, paramErr(uniformGridInfo.Name,
			errcode.FieldError{Field: "gridSpacing", Message: "must be > 0"})
	}
	offsetX, _ := floatParam(params, "offsetX")
	offsetY, _ := floatParam(params, "offsetY")
	rotation, _ := floatParam(params, "rotation")

	minX, minY, maxX, maxY, ok := w.Bounds()
	if !ok {
		return nil, []string{"uniformGrid: empty wafer map"}, nil
	}
	avail := w.AvailableDies()
	if len(avail) == 0 {
		return nil, []string{"uniformGrid: no available dies"}, nil
	}

	// Lattice points are generated over the grid extent padded by one
	// spacing, rotated about the lattice origin.
	sin, cos := math.Sincos(rotation * math.Pi / 180)
	var lattice [][2]float64
	for gy := float64(minY) - spacing; gy <= float64(maxY)+spacing; gy += spacing {
		for gx := float64(minX) - spacing; gx <= float64(maxX)+spacing; gx += spacing {
			dx, dy := gx-offsetX, gy-offsetY
			lattice = append(lattice, [2]float64{
				offsetX + dx*cos - dy*sin,
				offsetY + dx*sin + dy*cos,
			})
		}
	}

	// Snap each lattice point to its nearest available die, keeping the best
	// priority when several points snap to the same die.
	best := make(map[[2]int]float64)
	for _, lp := range lattice {
		var (
			nearest     wafer.Die
			nearestDist = math.Inf(1)
		)
		for _, d := range avail {
			dist := math.Hypot(float64(d.X)-lp[0], float64(d.Y)-lp[1])
			if dist < nearestDist {
				nearest, nearestDist = d, dist
			}
		}
		if math.IsInf(nearestDist, 1) {
			continue
		}
		p := clamp01(1 - nearestDist/spacing)
		if p == 0 {
			continue
		}
		key := [2]int{nearest.X, nearest.Y}
		if p > best[key] {
			best[key] = p
		}
	}

	// Emit in the map's deterministic die order.
	out := make([]Candidate, 0, len(best))
	for _, d := range avail {
		if p, ok := best[[2]int{d.X, d.Y}]; ok {
			out = append(out, Candidate{X: d.X, Y: d.Y, Priority: p})
		}
	}
	if len(out) == 0 {
		return nil, []string{"uniformGrid: no lattice point snapped within one spacing of an available die"}, nil
	}
	return out, nil, nil
}

// Estimate implements Rule.
func (*UniformGrid) Estimate(w *wafer.Map, params map[string]any) Estimate {
	spacing, ok := floatParam(params, "gridSpacing")
	if !ok || spacing <= 0 {
		return Estimate{ExpectedCostClass: CostLow}
	}
	minX, minY, maxX, maxY, present := w.Bounds()
	if !present {
		return Estimate{ExpectedCostClass: CostLow}
	}
	cols := int(float64(maxX-minX)/spacing) + 1
	rows := int(float64(maxY-minY)/spacing) + 1
	n := cols * rows
	if avail := w.AvailableCount(); n > avail {
		n = avail
	}
	cost := CostLow
	if n > 200 {
		cost = CostMedium
	}
	if n > 2000 {
		cost = CostHigh
	}
	return Estimate{ExpectedPointCount: n, ExpectedCostClass: cost}
}
