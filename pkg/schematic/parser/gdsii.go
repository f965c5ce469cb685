package parser

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"

	"github.com/google/uuid"
)

// GDSII stream record types (the subset die detection needs).
const (
	gdsHeader   = 0x00
	gdsBgnLib   = 0x01
	gdsLibName  = 0x02
	gdsUnits    = 0x03
	gdsEndLib   = 0x04
	gdsBgnStr   = 0x05
	gdsStrName  = 0x06
	gdsEndStr   = 0x07
	gdsBoundary = 0x08
	gdsPath     = 0x09
	gdsSRef     = 0x0A
	gdsARef     = 0x0B
	gdsText     = 0x0C
	gdsLayer    = 0x0D
	gdsXY       = 0x10
	gdsEndEl    = 0x11
	gdsSName    = 0x12
	gdsColRow   = 0x13
	gdsString   = 0x19
)

type gdsPolygon struct {
	layer  int
	bounds geometry.Bounds
}

type gdsLabel struct {
	layer int
	pos   geometry.Point
	text  string
}

type gdsRef struct {
	target     string
	origin     geometry.Point
	cols, rows int
	colStep    geometry.Point
	rowStep    geometry.Point
}

type gdsStructure struct {
	name     string
	polygons []gdsPolygon
	labels   []gdsLabel
	refs     []gdsRef
}

// gdsElement accumulates records between a BOUNDARY/TEXT/SREF/AREF open
// and its ENDEL.
type gdsElement struct {
	kind   byte
	layer  int
	points []geometry.Point
	text   string
	sname  string
	cols   int
	rows   int
}

// parseGDSII walks the length-tagged record stream without buffering the
// whole geometry: per-polygon state collapses to a bounding box as soon as
// the element closes, which keeps large streams within the memory budget.
func (p *Parser) parseGDSII(ctx context.Context, filename string, data []byte, hints Hints) (*schematic.SchematicData, error) {
	// GDSII layers are numbered; a non-numeric hint would otherwise silently
	// disable the filter and keep every layer.
	dieLayer := -1
	if hints.TargetLayer != "" {
		n, err := strconv.Atoi(hints.TargetLayer)
		if err != nil {
			return nil, errcode.New(errcode.ValidationError,
				"targetLayer %q is not a GDSII layer number", hints.TargetLayer).
				WithFieldErrors(errcode.FieldError{Field: "targetLayer", Message: "must be a layer number"})
		}
		dieLayer = n
	}

	structures := make(map[string]*gdsStructure)
	order := []string{}

	var (
		current *gdsStructure
		elem    *gdsElement
		libName string
		dbUnitM float64 // database unit in meters
	)

	offset := 0
	records := 0
	for offset < len(data) {
		if records%1024 == 0 {
			if err := checkCancelled(ctx); err != nil {
				return nil, err
			}
		}
		records++

		if offset+4 > len(data) {
			return nil, gdsError(offset, "truncated record header")
		}
		length := int(binary.BigEndian.Uint16(data[offset:]))
		if length < 4 || offset+length > len(data) {
			return nil, gdsError(offset, fmt.Sprintf("invalid record length %d", length))
		}
		recType := data[offset+2]
		payload := data[offset+4 : offset+length]

		switch recType {
		case gdsHeader, gdsBgnLib, gdsEndLib:
			// bookkeeping records, no payload we need
		case gdsLibName:
			libName = gdsString12(payload)
		case gdsUnits:
			if len(payload) < 16 {
				return nil, gdsError(offset, "short UNITS record")
			}
			dbUnitM = gdsReal8(payload[8:16])
		case gdsBgnStr:
			current = &gdsStructure{}
		case gdsStrName:
			if current == nil {
				return nil, gdsError(offset, "STRNAME outside structure")
			}
			current.name = gdsString12(payload)
		case gdsEndStr:
			if current == nil {
				return nil, gdsError(offset, "ENDSTR outside structure")
			}
			structures[current.name] = current
			order = append(order, current.name)
			current = nil
		case gdsBoundary, gdsPath, gdsSRef, gdsARef, gdsText:
			elem = &gdsElement{kind: recType, cols: 1, rows: 1}
		case gdsLayer:
			if elem != nil && len(payload) >= 2 {
				elem.layer = int(int16(binary.BigEndian.Uint16(payload)))
			}
		case gdsSName:
			if elem != nil {
				elem.sname = gdsString12(payload)
			}
		case gdsColRow:
			if elem != nil && len(payload) >= 4 {
				elem.cols = int(int16(binary.BigEndian.Uint16(payload)))
				elem.rows = int(int16(binary.BigEndian.Uint16(payload[2:])))
			}
		case gdsString:
			if elem != nil {
				elem.text = gdsString12(payload)
			}
		case gdsXY:
			if elem != nil {
				if len(payload)%8 != 0 {
					return nil, gdsError(offset, "XY record not a multiple of 8 bytes")
				}
				for i := 0; i+8 <= len(payload); i += 8 {
					x := int32(binary.BigEndian.Uint32(payload[i:]))
					y := int32(binary.BigEndian.Uint32(payload[i+4:]))
					elem.points = append(elem.points, geometry.Point{X: float64(x), Y: float64(y)})
				}
			}
		case gdsEndEl:
			if elem != nil && current != nil {
				closeGDSElement(current, elem)
			}
			elem = nil
		default:
			// unknown records are skipped; the stream format is forward
			// compatible by construction
		}

		offset += length
	}

	if len(structures) == 0 {
		return nil, gdsError(0, "no structures in stream")
	}

	// Coordinates are database units; convert to micrometers when the UNITS
	// record is present, unless the caller supplied an explicit scale.
	scale := hints.CoordinateScale
	if scale == 0 {
		scale = 1
		if dbUnitM > 0 {
			scale = dbUnitM / 1e-6
		}
	}

	top := findTopStructure(structures, order, hints.TargetCell)
	if top == nil {
		return nil, errcode.New(errcode.ParserError, "target cell %q not found", hints.TargetCell).
			WithDetail("format", "gdsii")
	}

	dies := detectGDSDies(top, structures, dieLayer, scale)

	return &schematic.SchematicData{
		ID:               uuid.NewString(),
		Filename:         filename,
		FormatType:       schematic.FormatGDSII,
		UploadDate:       time.Now().UTC(),
		CoordinateSystem: geometry.GDSIIUnits,
		Dies:             dies,
		Metadata: schematic.Metadata{
			Software:    "GDSII stream " + libName,
			Units:       fmt.Sprintf("%g m/db-unit", dbUnitM),
			ScaleFactor: scale,
		},
	}, nil
}

func closeGDSElement(s *gdsStructure, e *gdsElement) {
	switch e.kind {
	case gdsBoundary, gdsPath:
		if len(e.points) < 2 {
			return
		}
		b := boundsOf(e.points)
		s.polygons = append(s.polygons, gdsPolygon{layer: e.layer, bounds: b})
	case gdsText:
		if len(e.points) >= 1 {
			s.labels = append(s.labels, gdsLabel{layer: e.layer, pos: e.points[0], text: e.text})
		}
	case gdsSRef:
		if len(e.points) >= 1 {
			s.refs = append(s.refs, gdsRef{target: e.sname, origin: e.points[0], cols: 1, rows: 1})
		}
	case gdsARef:
		// AREF XY holds origin, column extent point, row extent point.
		if len(e.points) >= 3 && e.cols > 0 && e.rows > 0 {
			origin := e.points[0]
			s.refs = append(s.refs, gdsRef{
				target: e.sname,
				origin: origin,
				cols:   e.cols,
				rows:   e.rows,
				colStep: geometry.Point{
					X: (e.points[1].X - origin.X) / float64(e.cols),
					Y: (e.points[1].Y - origin.Y) / float64(e.cols),
				},
				rowStep: geometry.Point{
					X: (e.points[2].X - origin.X) / float64(e.rows),
					Y: (e.points[2].Y - origin.Y) / float64(e.rows),
				},
			})
		}
	}
}

func boundsOf(pts []geometry.Point) geometry.Bounds {
	b := geometry.Bounds{XMin: pts[0].X, YMin: pts[0].Y, XMax: pts[0].X, YMax: pts[0].Y}
	for _, p := range pts[1:] {
		if p.X < b.XMin {
			b.XMin = p.X
		}
		if p.X > b.XMax {
			b.XMax = p.X
		}
		if p.Y < b.YMin {
			b.YMin = p.Y
		}
		if p.Y > b.YMax {
			b.YMax = p.Y
		}
	}
	return b
}

// findTopStructure returns the named cell, or the first cell in traversal
// order that no other cell references.
func findTopStructure(structures map[string]*gdsStructure, order []string, target string) *gdsStructure {
	if target != "" {
		return structures[target]
	}
	referenced := make(map[string]bool)
	for _, s := range structures {
		for _, r := range s.refs {
			referenced[r.target] = true
		}
	}
	for _, name := range order {
		if !referenced[name] {
			return structures[name]
		}
	}
	return structures[order[0]]
}

// detectGDSDies applies the three detection methods in priority order:
// shape analysis, then text labels for ids, then structure references.
func detectGDSDies(top *gdsStructure, structures map[string]*gdsStructure, targetLayer int, scale float64) []schematic.DieBoundary {
	polys := top.polygons
	if targetLayer >= 0 {
		filtered := polys[:0:0]
		for _, p := range polys {
			if p.layer == targetLayer {
				filtered = append(filtered, p)
			}
		}
		polys = filtered
	} else {
		polys = dominantLayerPolygons(polys)
	}

	var dies []schematic.DieBoundary
	for _, poly := range polys {
		b := scaleBounds(poly.bounds, scale)
		die := schematic.NewDieBoundary("", b, true)
		die.Metadata = map[string]string{
			"layer":  strconv.Itoa(poly.layer),
			"source": "shape",
		}
		dies = append(dies, die)
	}

	// Labels inside a boundary name that die.
	for i := range dies {
		for _, l := range top.labels {
			p := geometry.Point{X: l.pos.X * scale, Y: l.pos.Y * scale}
			if dies[i].Contains(p) {
				dies[i].DieID = l.text
				break
			}
		}
	}

	if len(dies) > 0 {
		return dies
	}

	// Fallback: an array of references to the same child cell, each instance
	// taking the child's bounding box translated by the instance position.
	for _, ref := range top.refs {
		child := structures[ref.target]
		if child == nil || len(child.polygons) == 0 {
			continue
		}
		childBounds := child.polygons[0].bounds
		for _, poly := range child.polygons[1:] {
			childBounds = childBounds.Union(poly.bounds)
		}
		for row := 0; row < ref.rows; row++ {
			for col := 0; col < ref.cols; col++ {
				dx := ref.origin.X + float64(col)*ref.colStep.X + float64(row)*ref.rowStep.X
				dy := ref.origin.Y + float64(col)*ref.colStep.Y + float64(row)*ref.rowStep.Y
				b := geometry.Bounds{
					XMin: (childBounds.XMin + dx) * scale,
					YMin: (childBounds.YMin + dy) * scale,
					XMax: (childBounds.XMax + dx) * scale,
					YMax: (childBounds.YMax + dy) * scale,
				}
				die := schematic.NewDieBoundary("", b, true)
				die.Metadata = map[string]string{
					"source":  "sref",
					"refCell": ref.target,
				}
				dies = append(dies, die)
			}
		}
	}
	return dies
}

// dominantLayerPolygons picks the layer with the most closed shapes of
// similar size ("similar" = within 10% area of that layer's median) and
// returns those shapes.
func dominantLayerPolygons(polys []gdsPolygon) []gdsPolygon {
	byLayer := make(map[int][]gdsPolygon)
	for _, p := range polys {
		byLayer[p.layer] = append(byLayer[p.layer], p)
	}

	bestLayer, bestCount := -1, 0
	bestSimilar := map[int][]gdsPolygon{}
	layers := make([]int, 0, len(byLayer))
	for l := range byLayer {
		layers = append(layers, l)
	}
	sort.Ints(layers)

	for _, layer := range layers {
		group := byLayer[layer]
		median := medianArea(group)
		var similar []gdsPolygon
		for _, p := range group {
			if math.Abs(p.bounds.Area()-median) <= 0.1*median {
				similar = append(similar, p)
			}
		}
		if len(similar) > bestCount {
			bestLayer, bestCount = layer, len(similar)
			bestSimilar[layer] = similar
		}
	}
	if bestLayer < 0 {
		return nil
	}
	return bestSimilar[bestLayer]
}

func medianArea(polys []gdsPolygon) float64 {
	areas := make([]float64, len(polys))
	for i, p := range polys {
		areas[i] = p.bounds.Area()
	}
	sort.Float64s(areas)
	mid := len(areas) / 2
	if len(areas)%2 == 0 {
		return (areas[mid-1] + areas[mid]) / 2
	}
	return areas[mid]
}

func scaleBounds(b geometry.Bounds, s float64) geometry.Bounds {
	return geometry.Bounds{XMin: b.XMin * s, YMin: b.YMin * s, XMax: b.XMax * s, YMax: b.YMax * s}
}

// gdsString12 strips the padding NUL GDSII appends to odd-length strings.
func gdsString12(b []byte) string {
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// gdsReal8 decodes the GDSII 8-byte excess-64 base-16 float.
func gdsReal8(b []byte) float64 {
	if len(b) < 8 {
		return 0
	}
	sign := b[0]&0x80 != 0
	exp := int(b[0]&0x7F) - 64
	var mant uint64
	for i := 1; i < 8; i++ {
		mant = mant<<8 | uint64(b[i])
	}
	v := float64(mant) / math.Pow(2, 56) * math.Pow(16, float64(exp))
	if sign {
		v = -v
	}
	return v
}

func gdsError(offset int, reason string) error {
	return errcode.New(errcode.ParserError, "malformed GDSII stream at offset %d: %s", offset, reason).
		WithDetail("format", "gdsii").
		WithDetail("offset", offset).
		WithDetail("reason", reason)
}
