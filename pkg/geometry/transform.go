package geometry

import (
	"math"

	"github.com/metrolab/wafersample/pkg/errcode"
)

// Transform describes a coordinate transformation applied in the fixed
// order: flip -> scale -> rotate -> translate. Rotation is around the
// origin; callers needing rotation around another point re-center via the
// offsets. External interfaces use degrees; radians stay internal.
type Transform struct {
	RotationDeg float64 `json:"rotationAngleDeg" yaml:"rotation_angle_deg"`
	Scale       float64 `json:"scaleFactor" yaml:"scale_factor"`
	OffsetX     float64 `json:"offsetX" yaml:"offset_x"`
	OffsetY     float64 `json:"offsetY" yaml:"offset_y"`
	FlipX       bool    `json:"flipX" yaml:"flip_x"`
	FlipY       bool    `json:"flipY" yaml:"flip_y"`
}

// Identity returns the no-op transform.
func Identity() Transform {
	return Transform{Scale: 1}
}

// IsZero reports whether the transform is the zero value (no config given).
func (t Transform) IsZero() bool {
	return t == Transform{}
}

// Validate checks parameter bounds: rotation in [-360, 360], scale > 0.
func (t Transform) Validate() error {
	if t.RotationDeg < -360 || t.RotationDeg > 360 {
		return errcode.New(errcode.ValidationError,
			"rotation angle %.2f out of range [-360, 360]", t.RotationDeg).
			WithFieldErrors(errcode.FieldError{Field: "rotationAngleDeg", Message: "must be within [-360, 360]"})
	}
	if t.Scale <= 0 {
		return errcode.New(errcode.ValidationError,
			"scale factor %.4f must be > 0", t.Scale).
			WithFieldErrors(errcode.FieldError{Field: "scaleFactor", Message: "must be > 0"})
	}
	return nil
}

// Apply transforms p in the fixed order flip -> scale -> rotate -> translate.
func (t Transform) Apply(p Point) Point {
	x, y := p.X, p.Y

	if t.FlipX {
		x = -x
	}
	if t.FlipY {
		y = -y
	}

	x *= t.Scale
	y *= t.Scale

	if t.RotationDeg != 0 {
		rad := t.RotationDeg * math.Pi / 180
		cos, sin := math.Cos(rad), math.Sin(rad)
		x, y = x*cos-y*sin, x*sin+y*cos
	}

	return Point{X: x + t.OffsetX, Y: y + t.OffsetY}
}

// ApplyInverse undoes Apply: translate -> rotate -> scale -> flip, each
// step inverted. Requires Scale != 0.
func (t Transform) ApplyInverse(p Point) Point {
	x, y := p.X-t.OffsetX, p.Y-t.OffsetY

	if t.RotationDeg != 0 {
		rad := -t.RotationDeg * math.Pi / 180
		cos, sin := math.Cos(rad), math.Sin(rad)
		x, y = x*cos-y*sin, x*sin+y*cos
	}

	x /= t.Scale
	y /= t.Scale

	if t.FlipX {
		x = -x
	}
	if t.FlipY {
		y = -y
	}

	return Point{X: x, Y: y}
}
