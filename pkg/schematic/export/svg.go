// Package export renders parsed schematics back out as SVG or DXF, for
// visual review of what the parser detected and which sites a strategy
// selected.
package export

import (
	"fmt"
	"io"

	svg "github.com/ajstarks/svgo"

	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"
)

// SVGOptions controls the rendered preview.
type SVGOptions struct {
	// CanvasWidth is the output width in pixels. Height follows the layout
	// aspect ratio. 0 means 1000.
	CanvasWidth int

	// Sites are sampling points (in schematic coordinates) drawn as circles
	// on top of the die grid.
	Sites []geometry.Point

	// ShowLabels draws die ids inside each boundary.
	ShowLabels bool
}

const (
	dieStyle         = "fill:#d8e6f3;stroke:#40618a;stroke-width:1"
	unavailableStyle = "fill:#e8e8e8;stroke:#a0a0a0;stroke-width:1;stroke-dasharray:3,2"
	siteStyle        = "fill:#c0392b;stroke:#7b241c;stroke-width:1"
	labelStyle       = "font-size:%dpx;font-family:monospace;fill:#1f3550;text-anchor:middle"
)

// WriteSVG renders the schematic's die grid to w.
func WriteSVG(w io.Writer, s *schematic.SchematicData, opts SVGOptions) error {
	width := opts.CanvasWidth
	if width <= 0 {
		width = 1000
	}

	lb := s.LayoutBounds
	if lb.Width() <= 0 || lb.Height() <= 0 {
		return fmt.Errorf("schematic %s has degenerate layout bounds", s.ID)
	}

	const margin = 20
	scale := float64(width-2*margin) / lb.Width()
	height := int(lb.Height()*scale) + 2*margin

	// Layout Y grows upward for GDSII and DXF sources; SVG Y grows downward,
	// so those sources are flipped vertically.
	flipY := s.FormatType != schematic.FormatSVG
	px := func(x float64) int { return margin + int((x-lb.XMin)*scale) }
	py := func(y float64) int {
		if flipY {
			return margin + int((lb.YMax-y)*scale)
		}
		return margin + int((y-lb.YMin)*scale)
	}

	canvas := svg.New(w)
	canvas.Start(width, height)
	canvas.Title(s.Filename)

	for _, d := range s.Dies {
		style := dieStyle
		if !d.Available {
			style = unavailableStyle
		}
		x := px(d.Bounds.XMin)
		y := py(d.Bounds.YMax)
		if !flipY {
			y = py(d.Bounds.YMin)
		}
		canvas.Rect(x, y, int(d.Width()*scale), int(d.Height()*scale), style)
	}

	if opts.ShowLabels {
		fontSize := labelFontSize(s, scale)
		for _, d := range s.Dies {
			canvas.Text(px(d.CenterX), py(d.CenterY)+fontSize/3, d.DieID,
				fmt.Sprintf(labelStyle, fontSize))
		}
	}

	r := siteRadius(s, scale)
	for _, p := range opts.Sites {
		canvas.Circle(px(p.X), py(p.Y), r, siteStyle)
	}

	canvas.End()
	return nil
}

func labelFontSize(s *schematic.SchematicData, scale float64) int {
	size := int(s.MedianDieWidth() * scale / 6)
	if size < 6 {
		size = 6
	}
	if size > 18 {
		size = 18
	}
	return size
}

func siteRadius(s *schematic.SchematicData, scale float64) int {
	r := int(s.MedianDieWidth() * scale / 8)
	if r < 3 {
		r = 3
	}
	if r > 12 {
		r = 12
	}
	return r
}
