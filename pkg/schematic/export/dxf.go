package export

import (
	"bufio"
	"fmt"
	"io"

	"github.com/metrolab/wafersample/pkg/schematic"
)

// dxfLayer is the layer die boundaries are written to.
const dxfLayer = "DIE_BOUNDARY"

// WriteDXF emits the die grid as a minimal R12-style DXF: one closed
// LWPOLYLINE per boundary plus a TEXT entity carrying the die id.
func WriteDXF(w io.Writer, s *schematic.SchematicData) error {
	bw := bufio.NewWriter(w)

	tag := func(code int, value string) {
		fmt.Fprintf(bw, "%d\n%s\n", code, value)
	}
	num := func(code int, value float64) {
		fmt.Fprintf(bw, "%d\n%.6f\n", code, value)
	}

	tag(0, "SECTION")
	tag(2, "HEADER")
	tag(9, "$ACADVER")
	tag(1, "AC1009")
	tag(9, "$INSUNITS")
	tag(70, "13")
	tag(0, "ENDSEC")

	tag(0, "SECTION")
	tag(2, "ENTITIES")
	for _, d := range s.Dies {
		b := d.Bounds
		tag(0, "LWPOLYLINE")
		tag(8, dxfLayer)
		tag(90, "4")
		tag(70, "1")
		num(10, b.XMin)
		num(20, b.YMin)
		num(10, b.XMax)
		num(20, b.YMin)
		num(10, b.XMax)
		num(20, b.YMax)
		num(10, b.XMin)
		num(20, b.YMax)

		if d.DieID != "" {
			tag(0, "TEXT")
			tag(8, dxfLayer)
			num(10, d.CenterX)
			num(20, d.CenterY)
			num(40, textHeight(d))
			tag(1, d.DieID)
		}
	}
	tag(0, "ENDSEC")
	tag(0, "EOF")

	return bw.Flush()
}

func textHeight(d schematic.DieBoundary) float64 {
	h := d.Height() / 8
	if h <= 0 {
		h = 1
	}
	return h
}
