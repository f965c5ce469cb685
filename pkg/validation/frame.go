package validation

import (
	"context"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"
)

// gridFrame maps synthesized wafer grid coordinates back into the
// schematic's layout coordinate system. The mapping is a per-axis linear fit
// of grid index against boundary centers, exact for regular grids.
type gridFrame struct {
	originX, pitchX float64
	originY, pitchY float64
}

func newGridFrame(s *schematic.SchematicData, gridIndex map[[2]int]int) gridFrame {
	var xs, ys [][2]float64 // (grid index, center)
	for g, die := range gridIndex {
		d := s.Dies[die]
		xs = append(xs, [2]float64{float64(g[0]), d.CenterX})
		ys = append(ys, [2]float64{float64(g[1]), d.CenterY})
	}

	f := gridFrame{}
	f.originX, f.pitchX = linearFit(xs)
	f.originY, f.pitchY = linearFit(ys)
	if f.pitchX == 0 {
		f.pitchX = s.MedianDieWidth()
		if f.pitchX == 0 {
			f.pitchX = 1
		}
	}
	if f.pitchY == 0 {
		f.pitchY = f.pitchX
	}
	return f
}

// ToLayout converts a (possibly fractional) grid point to layout
// coordinates.
func (f gridFrame) ToLayout(p geometry.Point) geometry.Point {
	return geometry.Point{
		X: f.originX + p.X*f.pitchX,
		Y: f.originY + p.Y*f.pitchY,
	}
}

// linearFit returns (intercept, slope) of the least-squares line through the
// samples. Slope is 0 when the samples share a single abscissa.
func linearFit(samples [][2]float64) (intercept, slope float64) {
	n := float64(len(samples))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXX, sumXY float64
	for _, s := range samples {
		sumX += s[0]
		sumY += s[1]
		sumXX += s[0] * s[0]
		sumXY += s[0] * s[1]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return intercept, slope
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errcode.Wrap(errcode.Timeout, ctx.Err(), "validation timed out")
		}
		return errcode.Wrap(errcode.Cancelled, ctx.Err(), "validation cancelled")
	default:
		return nil
	}
}
