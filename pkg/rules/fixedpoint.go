package rules

import (
	"fmt"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/wafer"
)

var fixedPointInfo = Info{
	Name:        "fixedPoint",
	Description: "Samples an explicit list of die coordinates.",
	Params: []ParamSpec{
		{Name: "points", Type: "list of (x, y)", Required: true, Help: "die grid coordinates to sample"},
	},
}

// FixedPoint emits the configured coordinates at priority 1.0. Coordinates
// absent from the wafer map are dropped with a warning rather than failing
// the run.
type FixedPoint struct{}

// Name implements Rule.
func (*FixedPoint) Name() string { return fixedPointInfo.Name }

// Validate implements Rule.
func (*FixedPoint) Validate(params map[string]any) error {
	pts, err := pointListParam(params, "points")
	if err != nil {
		return paramErr(fixedPointInfo.Name, errcode.FieldError{
			Field:   "points",
			Message: err.Error(),
		})
	}
	if len(pts) == 0 {
		return paramErr(fixedPointInfo.Name, errcode.FieldError{
			Field:   "points",
			Message: "at least one point is required",
		})
	}
	return nil
}

// Apply implements Rule.
func (*FixedPoint) Apply(w *wafer.Map, params map[string]any, _ Context) ([]Candidate, []string, error) {
	pts, err := pointListParam(params, "points")
	if err != nil {
		return nil, nil, paramErr(fixedPointInfo.Name, errcode.FieldError{Field: "points", Message: err.Error()})
	}

	var (
		out      []Candidate
		warnings []string
	)
	for _, p := range pts {
		if _, ok := w.At(p[0], p[1]); !ok {
			warnings = append(warnings,
				fmt.Sprintf("fixedPoint: (%d, %d) is not on the wafer map, dropped", p[0], p[1]))
			continue
		}
		out = append(out, Candidate{X: p[0], Y: p[1], Priority: 1.0})
	}
	return out, warnings, nil
}

// Estimate implements Rule.
func (*FixedPoint) Estimate(_ *wafer.Map, params map[string]any) Estimate {
	pts, _ := pointListParam(params, "points")
	return Estimate{ExpectedPointCount: len(pts), ExpectedCostClass: CostLow}
}
