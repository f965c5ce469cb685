package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/schematic"

	"github.com/google/uuid"
)

// dxfTag is one group-code/value pair from the tagged DXF text stream.
type dxfTag struct {
	code  int
	value string
}

type dxfEntity struct {
	kind  string
	layer string
	// coordinate streams keyed by group code (10/20 vertices, 11/21 line end)
	xs, ys   []float64
	x2, y2   float64
	radius   float64
	closed   bool
	text     string
	block    string
	xScale   float64
	yScale   float64
}

type dxfText struct {
	pos  geometry.Point
	text string
	used bool
}

var dieLayerPattern = regexp.MustCompile(`(?i)die|boundary|chip`)

// parseDXF decodes the tagged DXF text format. Layers carry semantics: an
// explicit target layer restricts detection, otherwise the layer whose name
// looks like a die-boundary layer wins, falling back to layer "0".
func (p *Parser) parseDXF(ctx context.Context, filename string, data []byte, hints Hints) (*schematic.SchematicData, error) {
	tags, err := dxfTokenize(ctx, data)
	if err != nil {
		return nil, err
	}

	blocks, entities, header := dxfSectionSplit(tags)

	layer := hints.TargetLayer
	if layer == "" {
		layer = pickDXFLayer(entities)
	}

	scale := hints.scale()
	blockBounds := dxfBlockBounds(blocks)

	var (
		dies  []schematic.DieBoundary
		texts []dxfText
		loose []dxfEntity // LINE entities, grouped into loops afterwards
	)

	appendDie := func(b geometry.Bounds, entity string) {
		die := schematic.NewDieBoundary("", scaleBounds(b, scale), true)
		die.Metadata = map[string]string{"layer": layer, "entity": entity}
		dies = append(dies, die)
	}

	for _, e := range dxfEntities(entities) {
		if e.layer != layer {
			// text labels near boundaries may live on annotation layers, so
			// they are collected regardless of layer
			if e.kind == "TEXT" || e.kind == "MTEXT" {
				if len(e.xs) > 0 && len(e.ys) > 0 {
					texts = append(texts, dxfText{
						pos:  geometry.Point{X: e.xs[0] * scale, Y: e.ys[0] * scale},
						text: strings.TrimSpace(e.text),
					})
				}
			}
			continue
		}

		switch e.kind {
		case "LWPOLYLINE", "POLYLINE":
			if len(e.xs) >= 3 && e.closed {
				appendDie(boundsOfXY(e.xs, e.ys), e.kind)
			}
		case "LINE":
			loose = append(loose, e)
		case "CIRCLE":
			if len(e.xs) > 0 && len(e.ys) > 0 && e.radius > 0 {
				cx, cy, r := e.xs[0], e.ys[0], e.radius
				appendDie(geometry.Bounds{XMin: cx - r, YMin: cy - r, XMax: cx + r, YMax: cy + r}, e.kind)
			}
		case "INSERT":
			bb, ok := blockBounds[e.block]
			if !ok || len(e.xs) == 0 || len(e.ys) == 0 {
				continue
			}
			sx, sy := e.xScale, e.yScale
			if sx == 0 {
				sx = 1
			}
			if sy == 0 {
				sy = 1
			}
			appendDie(geometry.Bounds{
				XMin: bb.XMin*sx + e.xs[0],
				YMin: bb.YMin*sy + e.ys[0],
				XMax: bb.XMax*sx + e.xs[0],
				YMax: bb.YMax*sy + e.ys[0],
			}, "INSERT")
		case "TEXT", "MTEXT":
			if len(e.xs) > 0 && len(e.ys) > 0 {
				texts = append(texts, dxfText{
					pos:  geometry.Point{X: e.xs[0] * scale, Y: e.ys[0] * scale},
					text: strings.TrimSpace(e.text),
				})
			}
		}
	}

	// LINE entities form dies only when they chain into closed loops.
	for _, b := range dxfLineLoops(loose) {
		appendDie(b, "LINE")
	}

	// Each boundary takes its id from the nearest unused text label.
	for i := range dies {
		center := geometry.Point{X: dies[i].CenterX, Y: dies[i].CenterY}
		best, bestDist := -1, math.Inf(1)
		for t := range texts {
			if texts[t].used || texts[t].text == "" {
				continue
			}
			if d := geometry.Distance(center, texts[t].pos); d < bestDist {
				best, bestDist = t, d
			}
		}
		if best >= 0 {
			dies[i].DieID = texts[best].text
			texts[best].used = true
		}
	}

	return &schematic.SchematicData{
		ID:               uuid.NewString(),
		Filename:         filename,
		FormatType:       schematic.FormatDXF,
		UploadDate:       time.Now().UTC(),
		CoordinateSystem: geometry.CADUnits,
		Dies:             dies,
		Metadata: schematic.Metadata{
			Software:    "DXF " + header["$ACADVER"],
			Units:       dxfUnitsName(header["$INSUNITS"]),
			ScaleFactor: scale,
		},
	}, nil
}

func dxfTokenize(ctx context.Context, data []byte) ([]dxfTag, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tags []dxfTag
	lineNo := 0
	for sc.Scan() {
		if lineNo%2048 == 0 {
			if err := checkCancelled(ctx); err != nil {
				return nil, err
			}
		}
		codeLine := strings.TrimSpace(sc.Text())
		lineNo++
		if !sc.Scan() {
			return nil, dxfError(lineNo, "group code without value")
		}
		value := strings.TrimRight(sc.Text(), "\r\n")
		lineNo++

		code, err := strconv.Atoi(codeLine)
		if err != nil {
			return nil, dxfError(lineNo-1, fmt.Sprintf("invalid group code %q", codeLine))
		}
		tags = append(tags, dxfTag{code: code, value: strings.TrimSpace(value)})
	}
	if err := sc.Err(); err != nil {
		return nil, errcode.Wrap(errcode.ParserError, err, "reading DXF input")
	}
	if len(tags) == 0 {
		return nil, dxfError(0, "empty file")
	}
	return tags, nil
}

// dxfSectionSplit separates the BLOCKS and ENTITIES sections and collects
// header variables.
func dxfSectionSplit(tags []dxfTag) (blocks, entities []dxfTag, header map[string]string) {
	header = make(map[string]string)
	section := ""
	var headerVar string
	for _, t := range tags {
		switch {
		case t.code == 2 && section == "pending":
			section = t.value
			continue
		case t.code == 0 && t.value == "SECTION":
			section = "pending"
			continue
		case t.code == 0 && t.value == "ENDSEC":
			section = ""
			continue
		}
		switch section {
		case "BLOCKS":
			blocks = append(blocks, t)
		case "ENTITIES":
			entities = append(entities, t)
		case "HEADER":
			if t.code == 9 {
				headerVar = t.value
			} else if headerVar != "" {
				if _, ok := header[headerVar]; !ok {
					header[headerVar] = t.value
				}
			}
		}
	}
	return blocks, entities, header
}

// dxfEntities groups the tag stream into entities. POLYLINE vertex streams
// are folded into their parent until SEQEND.
func dxfEntities(tags []dxfTag) []dxfEntity {
	var out []dxfEntity
	var cur *dxfEntity
	var polyline *dxfEntity

	flush := func() {
		if cur != nil && cur.kind != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, t := range tags {
		if t.code == 0 {
			switch t.value {
			case "VERTEX":
				cur = nil // vertices accumulate into the open POLYLINE
				continue
			case "SEQEND":
				if polyline != nil {
					out = append(out, *polyline)
					polyline = nil
				}
				cur = nil
				continue
			}
			flush()
			cur = &dxfEntity{kind: t.value}
			if t.value == "POLYLINE" {
				polyline = cur
				cur = nil
			}
			continue
		}

		target := cur
		if target == nil && polyline != nil {
			target = polyline
		}
		if target == nil {
			continue
		}

		switch t.code {
		case 8:
			target.layer = t.value
		case 1:
			target.text = t.value
		case 2:
			target.block = t.value
		case 10:
			target.xs = append(target.xs, parseFloatOr(t.value, 0))
		case 20:
			target.ys = append(target.ys, parseFloatOr(t.value, 0))
		case 11:
			target.x2 = parseFloatOr(t.value, 0)
		case 21:
			target.y2 = parseFloatOr(t.value, 0)
		case 40:
			target.radius = parseFloatOr(t.value, 0)
		case 41:
			target.xScale = parseFloatOr(t.value, 0)
		case 42:
			target.yScale = parseFloatOr(t.value, 0)
		case 70:
			if flags, err := strconv.Atoi(t.value); err == nil {
				target.closed = flags&1 != 0
			}
		}
	}
	flush()
	if polyline != nil {
		out = append(out, *polyline)
	}
	return out
}

// pickDXFLayer chooses the detection layer: the most populated layer whose
// name matches the die/boundary/chip pattern, else "0".
func pickDXFLayer(entities []dxfTag) string {
	counts := make(map[string]int)
	for _, e := range dxfEntities(entities) {
		if e.kind == "TEXT" || e.kind == "MTEXT" {
			continue
		}
		if e.layer != "" {
			counts[e.layer]++
		}
	}
	best, bestN := "", -1
	for name, n := range counts {
		if !dieLayerPattern.MatchString(name) {
			continue
		}
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	if best != "" {
		return best
	}
	return "0"
}

// dxfBlockBounds computes each block definition's bounding box.
func dxfBlockBounds(blocks []dxfTag) map[string]geometry.Bounds {
	out := make(map[string]geometry.Bounds)
	name := ""
	have := false
	var acc geometry.Bounds

	flush := func() {
		if name != "" && have {
			out[name] = acc
		}
		name, have = "", false
	}

	for _, e := range dxfEntities(blocks) {
		switch e.kind {
		case "BLOCK":
			flush()
			name = e.block
		case "ENDBLK":
			flush()
		case "LWPOLYLINE", "POLYLINE", "LINE":
			if name == "" || len(e.xs) == 0 {
				continue
			}
			xs, ys := e.xs, e.ys
			if e.kind == "LINE" {
				xs = append(append([]float64{}, e.xs...), e.x2)
				ys = append(append([]float64{}, e.ys...), e.y2)
			}
			b := boundsOfXY(xs, ys)
			if !have {
				acc, have = b, true
			} else {
				acc = acc.Union(b)
			}
		case "CIRCLE":
			if name == "" || len(e.xs) == 0 || len(e.ys) == 0 {
				continue
			}
			cx, cy, r := e.xs[0], e.ys[0], e.radius
			b := geometry.Bounds{XMin: cx - r, YMin: cy - r, XMax: cx + r, YMax: cy + r}
			if !have {
				acc, have = b, true
			} else {
				acc = acc.Union(b)
			}
		}
	}
	flush()
	return out
}

// dxfLineLoops chains LINE entities into closed loops and returns one
// bounding box per loop. Endpoints are matched with a small tolerance.
func dxfLineLoops(lines []dxfEntity) []geometry.Bounds {
	if len(lines) == 0 {
		return nil
	}
	const quantum = 1e-6
	key := func(x, y float64) [2]int64 {
		return [2]int64{int64(math.Round(x / quantum)), int64(math.Round(y / quantum))}
	}

	type segment struct{ a, b geometry.Point }
	segs := make([]segment, 0, len(lines))
	for _, l := range lines {
		if len(l.xs) == 0 || len(l.ys) == 0 {
			continue
		}
		segs = append(segs, segment{
			a: geometry.Point{X: l.xs[0], Y: l.ys[0]},
			b: geometry.Point{X: l.x2, Y: l.y2},
		})
	}

	// Union endpoints into connected components, then accept components in
	// which every endpoint has degree 2 (a closed loop).
	parent := make(map[[2]int64][2]int64)
	var find func(k [2]int64) [2]int64
	find = func(k [2]int64) [2]int64 {
		if p, ok := parent[k]; ok && p != k {
			root := find(p)
			parent[k] = root
			return root
		}
		if _, ok := parent[k]; !ok {
			parent[k] = k
		}
		return parent[k]
	}
	union := func(a, b [2]int64) { parent[find(a)] = find(b) }

	degree := make(map[[2]int64]int)
	for _, s := range segs {
		ka, kb := key(s.a.X, s.a.Y), key(s.b.X, s.b.Y)
		union(ka, kb)
		degree[ka]++
		degree[kb]++
	}

	closedComponent := make(map[[2]int64]bool)
	for k := range degree {
		root := find(k)
		if _, seen := closedComponent[root]; !seen {
			closedComponent[root] = true
		}
		if degree[k] != 2 {
			closedComponent[root] = false
		}
	}

	compBounds := make(map[[2]int64]geometry.Bounds)
	for _, s := range segs {
		root := find(key(s.a.X, s.a.Y))
		if !closedComponent[root] {
			continue
		}
		b := geometry.NewBounds(s.a.X, s.a.Y, s.b.X, s.b.Y)
		if acc, ok := compBounds[root]; ok {
			compBounds[root] = acc.Union(b)
		} else {
			compBounds[root] = b
		}
	}

	out := make([]geometry.Bounds, 0, len(compBounds))
	for _, b := range compBounds {
		out = append(out, b)
	}
	// map iteration order is random; sort for deterministic die numbering
	sortBoundsRowMajor(out)
	return out
}

func sortBoundsRowMajor(list []geometry.Bounds) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0; j-- {
			ci, cj := list[j].Center(), list[j-1].Center()
			if cj.Y < ci.Y || (cj.Y == ci.Y && cj.X <= ci.X) {
				break
			}
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func boundsOfXY(xs, ys []float64) geometry.Bounds {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	pts := make([]geometry.Point, n)
	for i := 0; i < n; i++ {
		pts[i] = geometry.Point{X: xs[i], Y: ys[i]}
	}
	return boundsOf(pts)
}

func parseFloatOr(s string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return v
}

func dxfUnitsName(code string) string {
	switch code {
	case "1":
		return "inches"
	case "4":
		return "millimeters"
	case "5":
		return "centimeters"
	case "6":
		return "meters"
	case "12":
		return "nanometers"
	case "13":
		return "microns"
	default:
		return "unitless"
	}
}

func dxfError(line int, reason string) error {
	return errcode.New(errcode.ParserError, "malformed DXF at line %d: %s", line, reason).
		WithDetail("format", "dxf").
		WithDetail("offset", line).
		WithDetail("reason", reason)
}
