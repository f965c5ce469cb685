// Package parser decodes layout schematics (GDSII, DXF, SVG) into the
// uniform die-boundary model.
//
// Dispatch is by filename extension first, then by magic-byte sniff. When
// the two disagree the magic bytes win: fabs routinely mislabel exports.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/logging"
	"github.com/metrolab/wafersample/pkg/schematic"
)

// Hints carries optional parse directives supplied by the caller.
type Hints struct {
	// TargetCell restricts GDSII parsing to a named structure.
	TargetCell string

	// TargetLayer restricts detection to one layer (GDSII layer number as a
	// string, DXF layer name, SVG group class/id).
	TargetLayer string

	// CoordinateScale multiplies all parsed coordinates. 0 means 1.
	CoordinateScale float64

	// DieSizeMin/Max drop dies whose area falls outside [min, max].
	// Both zero disables the filter.
	DieSizeMin float64
	DieSizeMax float64
}

func (h Hints) scale() float64 {
	if h.CoordinateScale == 0 {
		return 1
	}
	return h.CoordinateScale
}

// Parser dispatches uploads to the format-specific decoders.
type Parser struct {
	logger *logging.Logger

	// MaxDies rejects schematics with more dies than this. 0 disables.
	MaxDies int
}

// New creates a parser. A nil logger falls back to a no-op logger.
func New(logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Parser{logger: logger}
}

// DetectFormat resolves the schematic format from filename and content.
func DetectFormat(filename string, data []byte) (schematic.Format, error) {
	byExt := formatFromExtension(filename)
	byMagic := formatFromMagic(data)

	if byMagic != "" {
		return byMagic, nil
	}
	if byExt != "" {
		return byExt, nil
	}
	return "", errcode.New(errcode.ParserError,
		"unrecognized schematic format for %q; supported formats: gdsii, dxf, svg", filename).
		WithDetail("supportedFormats", []string{"gdsii", "dxf", "svg"})
}

func formatFromExtension(filename string) schematic.Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gds", ".gdsii", ".gds2":
		return schematic.FormatGDSII
	case ".dxf":
		return schematic.FormatDXF
	case ".svg":
		return schematic.FormatSVG
	default:
		return ""
	}
}

func formatFromMagic(data []byte) schematic.Format {
	// GDSII opens with a HEADER record: 2-byte length, type 0x00, datatype 0x02.
	if len(data) >= 4 && data[2] == 0x00 && data[3] == 0x02 {
		length := int(data[0])<<8 | int(data[1])
		if length >= 4 && length <= 8 {
			return schematic.FormatGDSII
		}
	}
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	if bytes.Contains(head, []byte("<svg")) || bytes.Contains(head, []byte("<?xml")) && bytes.Contains(data, []byte("<svg")) {
		return schematic.FormatSVG
	}
	if bytes.Contains(head, []byte("SECTION")) && (bytes.Contains(data, []byte("ENTITIES")) || bytes.Contains(head, []byte("HEADER"))) {
		return schematic.FormatDXF
	}
	return ""
}

// Parse decodes the upload into a SchematicData. The context cancels at the
// next record boundary.
func (p *Parser) Parse(ctx context.Context, filename string, data []byte, hints Hints) (*schematic.SchematicData, error) {
	format, err := DetectFormat(filename, data)
	if err != nil {
		return nil, err
	}

	p.logger.Info("parsing schematic", "filename", filename, "format", string(format), "bytes", len(data))

	var result *schematic.SchematicData
	switch format {
	case schematic.FormatGDSII:
		result, err = p.parseGDSII(ctx, filename, data, hints)
	case schematic.FormatDXF:
		result, err = p.parseDXF(ctx, filename, data, hints)
	case schematic.FormatSVG:
		result, err = p.parseSVG(ctx, filename, data, hints)
	default:
		err = errcode.New(errcode.ParserError, "unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}

	result.Dies = p.postProcess(result.Dies, hints, mergeThresholdFor(format))
	if len(result.Dies) == 0 {
		return nil, errcode.New(errcode.ParserError, "no dies detected in %q", filename).
			WithDetail("reason", "noDiesDetected").
			WithDetail("format", string(format))
	}
	if p.MaxDies > 0 && len(result.Dies) > p.MaxDies {
		return nil, errcode.New(errcode.TooManyDies,
			"schematic has %d dies, limit is %d", len(result.Dies), p.MaxDies).
			WithDetail("limit", p.MaxDies)
	}

	result.RecomputeLayoutBounds()
	if result.WaferSize == "" {
		result.WaferSize = schematic.EstimateWaferSize(result.Dies)
	}
	result.Metadata.FileSize = int64(len(data))

	p.logger.Info("schematic parsed", "filename", filename, "dies", len(result.Dies))
	return result, nil
}

// mergeThresholdFor is the center-distance below which two detected
// boundaries are considered the same die.
func mergeThresholdFor(format schematic.Format) float64 {
	switch format {
	case schematic.FormatGDSII:
		return 100 // database units
	case schematic.FormatDXF:
		return 0.5 // drawing units
	default:
		return 1.0 // SVG user units
	}
}

// postProcess applies the die-size filter, merges near-duplicate
// boundaries, sorts row-major, and reassigns synthetic ids.
func (p *Parser) postProcess(dies []schematic.DieBoundary, hints Hints, mergeThreshold float64) []schematic.DieBoundary {
	if hints.DieSizeMin != 0 || hints.DieSizeMax != 0 {
		kept := dies[:0]
		for _, d := range dies {
			area := d.Area()
			if area < hints.DieSizeMin {
				continue
			}
			if hints.DieSizeMax != 0 && area > hints.DieSizeMax {
				continue
			}
			kept = append(kept, d)
		}
		dies = kept
	}

	// Merge boundaries whose centers nearly coincide; the first detection
	// method wins, which preserves shape-analysis results over labels.
	unique := make([]schematic.DieBoundary, 0, len(dies))
	for _, d := range dies {
		dup := false
		for _, u := range unique {
			if math.Hypot(d.CenterX-u.CenterX, d.CenterY-u.CenterY) < mergeThreshold {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, d)
		}
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].CenterY != unique[j].CenterY {
			return unique[i].CenterY < unique[j].CenterY
		}
		return unique[i].CenterX < unique[j].CenterX
	})

	// Synthetic ids are reassigned after sorting so they are stable across
	// identical uploads. Meaningful ids from labels are kept.
	counter := 1
	seen := make(map[string]bool, len(unique))
	for i := range unique {
		id := unique[i].DieID
		if id == "" || seen[id] {
			id = fmt.Sprintf("die_%03d", counter)
			for seen[id] {
				counter++
				id = fmt.Sprintf("die_%03d", counter)
			}
		}
		unique[i].DieID = id
		seen[id] = true
		counter++
	}
	return unique
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errcode.Wrap(errcode.Timeout, ctx.Err(), "parse timed out")
		}
		return errcode.Wrap(errcode.Cancelled, ctx.Err(), "parse cancelled")
	default:
		return nil
	}
}
