package emitter

import (
	"encoding/xml"
	"fmt"

	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/validation"
)

// klaPlanVersion is the root element version attribute.
const klaPlanVersion = "2.0"

// KLADocument is the KLA XML sampling plan.
type KLADocument struct {
	XMLName        xml.Name            `xml:"KLA_SamplingPlan"`
	Version        string              `xml:"version,attr"`
	Strategy       string              `xml:"strategy,attr,omitempty"`
	WaferSize      string              `xml:"waferSize,attr,omitempty"`
	Sites          []KLASite           `xml:"Site"`
	ValidationInfo *KLAValidationInfo  `xml:"ValidationInfo,omitempty"`
}

// KLASite is one site in corner-origin, y-down coordinates.
type KLASite struct {
	XPosition float64 `xml:"X_Position,attr"`
	YPosition float64 `xml:"Y_Position,attr"`
	Enabled   bool    `xml:"Enabled,attr"`
}

// KLAValidationInfo carries an optional validation summary.
type KLAValidationInfo struct {
	Score  float64 `xml:"score,attr"`
	Status string  `xml:"status,attr"`
}

// KLA emits the XML sampling plan format. The origin moves to the lower
// left corner of the selected region and Y grows downward, so Y values are
// flipped relative to the engine's y-up representation.
type KLA struct{}

// Name implements Emitter.
func (*KLA) Name() string { return "kla" }

// Emit implements Emitter.
func (*KLA) Emit(result *engine.SimulationResult, meta Meta, val *validation.Result) (Output, error) {
	doc := KLADocument{
		Version:   klaPlanVersion,
		Strategy:  meta.StrategyName,
		WaferSize: meta.WaferSize,
		Sites:     make([]KLASite, 0, len(result.SelectedPoints)),
	}
	minX := result.CoverageStats.XRange[0]
	maxY := result.CoverageStats.YRange[1]
	for _, p := range result.SelectedPoints {
		doc.Sites = append(doc.Sites, KLASite{
			XPosition: p.X - minX,
			YPosition: maxY - p.Y,
			Enabled:   p.Available,
		})
	}
	if val != nil {
		doc.ValidationInfo = &KLAValidationInfo{
			Score:  val.AlignmentScore,
			Status: string(val.Status),
		}
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Output{}, errcode.Wrap(errcode.Internal, err, "encoding KLA export")
	}
	return Output{
		Bytes:       append([]byte(xml.Header), data...),
		ContentType: "application/xml",
		Filename:    fmt.Sprintf("%s_kla.xml", exportBaseName(meta)),
	}, nil
}

// ParseKLA decodes a KLA export back into its document form.
func ParseKLA(data []byte) (*KLADocument, error) {
	var doc KLADocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errcode.Wrap(errcode.ParserError, err, "decoding KLA document")
	}
	if doc.Version == "" {
		return nil, errcode.New(errcode.ParserError, "not a KLA sampling plan: missing version")
	}
	return &doc, nil
}
