package rules

import (
	"math"
	"sort"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/wafer"
)

var centerEdgeInfo = Info{
	Name:        "centerEdge",
	Description: "Samples dies near the wafer centroid and along the edge ring.",
	Params: []ParamSpec{
		{Name: "centerCount", Type: "int", Help: "dies closest to the centroid (default 1)"},
		{Name: "edgeCount", Type: "int", Help: "dies closest to the edge ring (default 4)"},
		{Name: "edgeMargin", Type: "float", Help: "ring inset from the hull radius (default 1)"},
	},
}

// CenterEdge picks dies nearest the centroid of the available dies, then
// dies nearest the edge ring at hull radius minus edgeMargin. Center picks
// carry linearly decreasing priority from 1.0; edge picks carry 0.8 scaled
// by how close they sit to the ring.
type CenterEdge struct{}

// Name implements Rule.
func (*CenterEdge) Name() string { return centerEdgeInfo.Name }

// Validate implements Rule.
func (*CenterEdge) Validate(params map[string]any) error {
	var fields []errcode.FieldError
	if v, ok := floatParam(params, "centerCount"); ok && (v < 0 || v != math.Trunc(v)) {
		fields = append(fields, errcode.FieldError{Field: "centerCount", Message: "must be a non-negative integer"})
	}
	if v, ok := floatParam(params, "edgeCount"); ok && (v < 0 || v != math.Trunc(v)) {
		fields = append(fields, errcode.FieldError{Field: "edgeCount", Message: "must be a non-negative integer"})
	}
	if v, ok := floatParam(params, "edgeMargin"); ok && v < 0 {
		fields = append(fields, errcode.FieldError{Field: "edgeMargin", Message: "must be >= 0"})
	}
	if len(fields) > 0 {
		return paramErr(centerEdgeInfo.Name, fields...)
	}
	return nil
}

func centerEdgeParams(params map[string]any) (centerCount, edgeCount int, edgeMargin float64) {
	centerCount, edgeCount, edgeMargin = 1, 4, 1
	if v, ok := intParam(params, "centerCount"); ok {
		centerCount = v
	}
	if v, ok := intParam(params, "edgeCount"); ok {
		edgeCount = v
	}
	if v, ok := floatParam(params, "edgeMargin"); ok {
		edgeMargin = v
	}
	return centerCount, edgeCount, edgeMargin
}

// Apply implements Rule.
func (*CenterEdge) Apply(w *wafer.Map, params map[string]any, _ Context) ([]Candidate, []string, error) {
	centerCount, edgeCount, edgeMargin := centerEdgeParams(params)

	cx, cy, ok := w.Centroid()
	if !ok {
		return nil, []string{"centerEdge: no available dies"}, nil
	}

	type scored struct {
		die  wafer.Die
		dist float64
	}
	avail := w.AvailableDies()
	byCenter := make([]scored, len(avail))
	hullRadius := 0.0
	for i, d := range avail {
		dist := math.Hypot(float64(d.X)-cx, float64(d.Y)-cy)
		byCenter[i] = scored{die: d, dist: dist}
		if dist > hullRadius {
			hullRadius = dist
		}
	}
	sort.SliceStable(byCenter, func(i, j int) bool {
		if byCenter[i].dist != byCenter[j].dist {
			return byCenter[i].dist < byCenter[j].dist
		}
		if byCenter[i].die.Y != byCenter[j].die.Y {
			return byCenter[i].die.Y < byCenter[j].die.Y
		}
		return byCenter[i].die.X < byCenter[j].die.X
	})

	var out []Candidate
	taken := make(map[[2]int]bool)

	n := centerCount
	if n > len(byCenter) {
		n = len(byCenter)
	}
	for i := 0; i < n; i++ {
		d := byCenter[i].die
		// Linear falloff from 1.0; a single center pick keeps full priority.
		p := 1.0
		if centerCount > 1 {
			p = 1.0 - float64(i)/float64(centerCount)*0.5
		}
		out = append(out, Candidate{X: d.X, Y: d.Y, Priority: clamp01(p)})
		taken[[2]int{d.X, d.Y}] = true
	}

	// Edge ring sits edgeMargin inside the hull radius.
	ring := hullRadius - edgeMargin
	if ring < 0 {
		ring = 0
	}
	byRing := make([]scored, 0, len(byCenter))
	for _, s := range byCenter {
		if taken[[2]int{s.die.X, s.die.Y}] {
			continue
		}
		byRing = append(byRing, scored{die: s.die, dist: math.Abs(s.dist - ring)})
	}
	sort.SliceStable(byRing, func(i, j int) bool {
		if byRing[i].dist != byRing[j].dist {
			return byRing[i].dist < byRing[j].dist
		}
		if byRing[i].die.Y != byRing[j].die.Y {
			return byRing[i].die.Y < byRing[j].die.Y
		}
		return byRing[i].die.X < byRing[j].die.X
	})

	norm := hullRadius
	if norm <= 0 {
		norm = 1
	}
	n = edgeCount
	if n > len(byRing) {
		n = len(byRing)
	}
	for i := 0; i < n; i++ {
		s := byRing[i]
		p := 0.8 * (1 - s.dist/norm)
		out = append(out, Candidate{X: s.die.X, Y: s.die.Y, Priority: clamp01(p)})
	}

	var warnings []string
	if len(out) < centerCount+edgeCount {
		warnings = append(warnings, "centerEdge: wafer has fewer available dies than requested")
	}
	return out, warnings, nil
}

// Estimate implements Rule.
func (*CenterEdge) Estimate(w *wafer.Map, params map[string]any) Estimate {
	centerCount, edgeCount, _ := centerEdgeParams(params)
	n := centerCount + edgeCount
	if avail := w.AvailableCount(); n > avail {
		n = avail
	}
	return Estimate{ExpectedPointCount: n, ExpectedCostClass: CostLow}
}
