package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"

	"github.com/google/uuid"
)

// svgAffine is the subset of SVG transforms the parser honors: translate,
// scale, and the translate/scale part of matrix(). Rotation inside layout
// exports is rare enough that rotated shapes fall back to their axis-aligned
// bounding box.
type svgAffine struct {
	sx, sy, tx, ty float64
}

func svgIdentity() svgAffine { return svgAffine{sx: 1, sy: 1} }

func (a svgAffine) apply(x, y float64) (float64, float64) {
	return x*a.sx + a.tx, y*a.sy + a.ty
}

func (a svgAffine) then(b svgAffine) svgAffine {
	return svgAffine{
		sx: a.sx * b.sx,
		sy: a.sy * b.sy,
		tx: a.tx*b.sx + b.tx,
		ty: a.ty*b.sy + b.ty,
	}
}

type svgShape struct {
	bounds    geometry.Bounds
	available bool
	label     string
}

type svgLabel struct {
	pos  geometry.Point
	text string
}

var (
	svgUnavailablePattern = regexp.MustCompile(`(?i)marker|excluded|unavailable|defect`)
	svgTransformPattern   = regexp.MustCompile(`(\w+)\s*\(([^)]*)\)`)
)

// parseSVG walks the XML element tree collecting rect, polygon, polyline,
// path, circle, and ellipse shapes with group transforms applied. Die
// detection is heuristic: shapes whose area sits within an order of magnitude
// of the median shape area and whose aspect ratio stays below 4:1.
func (p *Parser) parseSVG(ctx context.Context, filename string, data []byte, hints Hints) (*schematic.SchematicData, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		shapes   []svgShape
		labels   []svgLabel
		software string
	)

	type frame struct {
		transform svgAffine
		inTarget  bool
		textPos   geometry.Point
		isText    bool
		textBuf   strings.Builder
	}
	stack := []*frame{{transform: svgIdentity(), inTarget: hints.TargetLayer == ""}}

	elems := 0
	for {
		if elems%512 == 0 {
			if err := checkCancelled(ctx); err != nil {
				return nil, err
			}
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errcode.Wrap(errcode.ParserError, err, "malformed SVG").
				WithDetail("format", "svg").
				WithDetail("offset", dec.InputOffset())
		}
		elems++

		switch t := tok.(type) {
		case xml.StartElement:
			parent := stack[len(stack)-1]
			f := &frame{transform: parent.transform, inTarget: parent.inTarget}

			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[a.Name.Local] = a.Value
			}
			if tf, ok := attrs["transform"]; ok {
				f.transform = parseSVGTransform(tf).then(parent.transform)
			}
			if hints.TargetLayer != "" && !f.inTarget {
				if attrs["id"] == hints.TargetLayer || classMatches(attrs["class"], hints.TargetLayer) {
					f.inTarget = true
				}
			}

			name := t.Name.Local
			if name == "svg" {
				if g := attrs["data-generator"]; g != "" {
					software = g
				}
			}

			if f.inTarget {
				if b, ok := svgShapeBounds(name, attrs, f.transform); ok {
					shapes = append(shapes, svgShape{
						bounds:    b,
						available: svgShapeAvailable(attrs),
						label:     attrs["id"],
					})
				}
			}
			if name == "text" {
				x, _ := strconv.ParseFloat(attrs["x"], 64)
				y, _ := strconv.ParseFloat(attrs["y"], 64)
				px, py := f.transform.apply(x, y)
				f.isText = true
				f.textPos = geometry.Point{X: px, Y: py}
			}
			stack = append(stack, f)

		case xml.CharData:
			f := stack[len(stack)-1]
			if f.isText {
				f.textBuf.Write(t)
			}

		case xml.EndElement:
			if len(stack) > 1 {
				f := stack[len(stack)-1]
				if f.isText {
					if s := strings.TrimSpace(f.textBuf.String()); s != "" {
						labels = append(labels, svgLabel{pos: f.textPos, text: s})
					}
				}
				stack = stack[:len(stack)-1]
			}

		case xml.Comment:
			if software == "" {
				if c := strings.TrimSpace(string(t)); strings.Contains(strings.ToLower(c), "generat") {
					software = c
				}
			}
		}
	}

	dies := svgDetectDies(shapes, hints)

	// Labels inside a boundary name it; the rest are dropped.
	for i := range dies {
		if dies[i].DieID != "" {
			continue
		}
		for _, l := range labels {
			if dies[i].Contains(l.pos) {
				dies[i].DieID = l.text
				break
			}
		}
	}

	scale := hints.scale()
	if scale != 1 {
		for i := range dies {
			b := scaleBounds(dies[i].Bounds, scale)
			dies[i] = schematic.DieBoundary{
				DieID:     dies[i].DieID,
				Bounds:    b,
				CenterX:   b.Center().X,
				CenterY:   b.Center().Y,
				Available: dies[i].Available,
				Metadata:  dies[i].Metadata,
			}
		}
	}

	return &schematic.SchematicData{
		ID:               uuid.NewString(),
		Filename:         filename,
		FormatType:       schematic.FormatSVG,
		UploadDate:       time.Now().UTC(),
		CoordinateSystem: geometry.SVGUnits,
		Dies:             dies,
		Metadata: schematic.Metadata{
			Software:    software,
			Units:       "user units",
			ScaleFactor: scale,
		},
	}, nil
}

func svgShapeBounds(name string, attrs map[string]string, tf svgAffine) (geometry.Bounds, bool) {
	f := func(key string) float64 { return parseFloatOr(attrs[key], 0) }

	switch name {
	case "rect":
		w, h := f("width"), f("height")
		if w <= 0 || h <= 0 {
			return geometry.Bounds{}, false
		}
		x0, y0 := tf.apply(f("x"), f("y"))
		x1, y1 := tf.apply(f("x")+w, f("y")+h)
		return geometry.NewBounds(x0, y0, x1, y1), true

	case "polygon", "polyline":
		pts := parseSVGPoints(attrs["points"])
		if len(pts) < 3 {
			return geometry.Bounds{}, false
		}
		for i, p := range pts {
			x, y := tf.apply(p.X, p.Y)
			pts[i] = geometry.Point{X: x, Y: y}
		}
		return boundsOf(pts), true

	case "path":
		pts := parseSVGPathPoints(attrs["d"])
		if len(pts) < 3 {
			return geometry.Bounds{}, false
		}
		for i, p := range pts {
			x, y := tf.apply(p.X, p.Y)
			pts[i] = geometry.Point{X: x, Y: y}
		}
		return boundsOf(pts), true

	case "circle":
		r := f("r")
		if r <= 0 {
			return geometry.Bounds{}, false
		}
		x0, y0 := tf.apply(f("cx")-r, f("cy")-r)
		x1, y1 := tf.apply(f("cx")+r, f("cy")+r)
		return geometry.NewBounds(x0, y0, x1, y1), true

	case "ellipse":
		rx, ry := f("rx"), f("ry")
		if rx <= 0 || ry <= 0 {
			return geometry.Bounds{}, false
		}
		x0, y0 := tf.apply(f("cx")-rx, f("cy")-ry)
		x1, y1 := tf.apply(f("cx")+rx, f("cy")+ry)
		return geometry.NewBounds(x0, y0, x1, y1), true
	}
	return geometry.Bounds{}, false
}

// svgShapeAvailable reads availability from styling: corner markers and
// excluded regions are conventionally tagged by class or drawn unfilled.
func svgShapeAvailable(attrs map[string]string) bool {
	if svgUnavailablePattern.MatchString(attrs["class"]) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(attrs["fill"]), "none") {
		return false
	}
	return true
}

// svgDetectDies filters candidate shapes down to the repeated die pattern.
func svgDetectDies(shapes []svgShape, hints Hints) []schematic.DieBoundary {
	areas := make([]float64, 0, len(shapes))
	for _, s := range shapes {
		if a := s.bounds.Area(); a > 0 {
			areas = append(areas, a)
		}
	}
	if len(areas) == 0 {
		return nil
	}
	median := medianFloat(areas)

	dies := make([]schematic.DieBoundary, 0, len(shapes))
	for _, s := range shapes {
		area := s.bounds.Area()
		if area <= 0 {
			continue
		}
		if area < median/10 || area > median*10 {
			continue
		}
		w, h := s.bounds.Width(), s.bounds.Height()
		if w == 0 || h == 0 {
			continue
		}
		aspect := w / h
		if aspect < 1 {
			aspect = 1 / aspect
		}
		if aspect > 4 {
			continue
		}
		die := schematic.NewDieBoundary(s.label, s.bounds, s.available)
		dies = append(dies, die)
	}
	return dies
}

func parseSVGTransform(s string) svgAffine {
	out := svgIdentity()
	for _, m := range svgTransformPattern.FindAllStringSubmatch(s, -1) {
		args := splitSVGNumbers(m[2])
		switch strings.ToLower(m[1]) {
		case "translate":
			if len(args) >= 1 {
				out.tx += args[0]
			}
			if len(args) >= 2 {
				out.ty += args[1]
			}
		case "scale":
			if len(args) >= 1 {
				out.sx *= args[0]
				out.sy *= args[0]
			}
			if len(args) >= 2 {
				out.sy = out.sy / args[0] * args[1]
			}
		case "matrix":
			if len(args) == 6 {
				out = out.then(svgAffine{sx: args[0], sy: args[3], tx: args[4], ty: args[5]})
			}
		}
	}
	return out
}

func parseSVGPoints(s string) []geometry.Point {
	nums := splitSVGNumbers(s)
	pts := make([]geometry.Point, 0, len(nums)/2)
	for i := 0; i+1 < len(nums); i += 2 {
		pts = append(pts, geometry.Point{X: nums[i], Y: nums[i+1]})
	}
	return pts
}

// parseSVGPathPoints extracts vertex coordinates from a path data string.
// Only line-ish commands matter for a bounding box: M, L, H, V and their
// relative forms, plus Z. Curves contribute their endpoints.
func parseSVGPathPoints(d string) []geometry.Point {
	var (
		pts      []geometry.Point
		cx, cy   float64
		startX   float64
		startY   float64
		i        int
	)
	push := func() { pts = append(pts, geometry.Point{X: cx, Y: cy}) }

	for i < len(d) {
		c := d[i]
		if c == ' ' || c == ',' || c == '\n' || c == '\t' || c == '\r' {
			i++
			continue
		}
		if !isPathCommand(c) {
			i++
			continue
		}
		i++
		nums, next := readSVGNumbers(d, i)
		i = next

		rel := c >= 'a' && c <= 'z'
		switch c {
		case 'M', 'm', 'L', 'l', 'T', 't':
			for j := 0; j+1 < len(nums); j += 2 {
				if rel {
					cx += nums[j]
					cy += nums[j+1]
				} else {
					cx, cy = nums[j], nums[j+1]
				}
				if (c == 'M' || c == 'm') && j == 0 {
					startX, startY = cx, cy
				}
				push()
			}
		case 'H', 'h':
			for _, n := range nums {
				if rel {
					cx += n
				} else {
					cx = n
				}
				push()
			}
		case 'V', 'v':
			for _, n := range nums {
				if rel {
					cy += n
				} else {
					cy = n
				}
				push()
			}
		case 'C', 'c':
			for j := 0; j+5 < len(nums); j += 6 {
				if rel {
					cx += nums[j+4]
					cy += nums[j+5]
				} else {
					cx, cy = nums[j+4], nums[j+5]
				}
				push()
			}
		case 'S', 's', 'Q', 'q':
			for j := 0; j+3 < len(nums); j += 4 {
				if rel {
					cx += nums[j+2]
					cy += nums[j+3]
				} else {
					cx, cy = nums[j+2], nums[j+3]
				}
				push()
			}
		case 'A', 'a':
			for j := 0; j+6 < len(nums); j += 7 {
				if rel {
					cx += nums[j+5]
					cy += nums[j+6]
				} else {
					cx, cy = nums[j+5], nums[j+6]
				}
				push()
			}
		case 'Z', 'z':
			cx, cy = startX, startY
		}
	}
	return pts
}

func isPathCommand(c byte) bool {
	switch c {
	case 'M', 'm', 'L', 'l', 'H', 'h', 'V', 'v', 'C', 'c', 'S', 's', 'Q', 'q', 'T', 't', 'A', 'a', 'Z', 'z':
		return true
	}
	return false
}

func readSVGNumbers(s string, i int) ([]float64, int) {
	start := i
	for i < len(s) && !isPathCommand(s[i]) {
		i++
	}
	return splitSVGNumbers(s[start:i]), i
}

var svgNumberPattern = regexp.MustCompile(`-?\d*\.?\d+(?:[eE][-+]?\d+)?`)

func splitSVGNumbers(s string) []float64 {
	matches := svgNumberPattern.FindAllString(s, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func classMatches(class, want string) bool {
	for _, c := range strings.Fields(class) {
		if c == want {
			return true
		}
	}
	return false
}

func medianFloat(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
