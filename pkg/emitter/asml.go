package emitter

import (
	"encoding/json"
	"fmt"

	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/validation"
)

// asmlFormatVersion is the schema version stamped into exports.
const asmlFormatVersion = "1.2"

// ASMLDocument is the ASML JSON export schema.
type ASMLDocument struct {
	Format          string         `json:"format"`
	Version         string         `json:"version"`
	WaferData       ASMLWaferData  `json:"wafer_data"`
	SamplingPoints  []ASMLSite     `json:"sampling_points"`
	ValidationScore *float64       `json:"validation_score,omitempty"`
	VendorSpecific  map[string]any `json:"vendor_specific"`
}

// ASMLWaferData describes the wafer context.
type ASMLWaferData struct {
	Size        string `json:"size"`
	ProductType string `json:"product_type"`
	Layer       string `json:"layer"`
}

// ASMLSite is one sampling point in center-origin, y-up coordinates.
type ASMLSite struct {
	SiteX   float64 `json:"SiteX"`
	SiteY   float64 `json:"SiteY"`
	Enabled bool    `json:"Enabled"`
}

// ASML emits the JSON sampling plan format. Coordinates are re-centered so
// the midpoint of the selected region is the origin, y-up.
type ASML struct{}

// Name implements Emitter.
func (*ASML) Name() string { return "asml" }

// Emit implements Emitter.
func (*ASML) Emit(result *engine.SimulationResult, meta Meta, val *validation.Result) (Output, error) {
	midX := (result.CoverageStats.XRange[0] + result.CoverageStats.XRange[1]) / 2
	midY := (result.CoverageStats.YRange[0] + result.CoverageStats.YRange[1]) / 2

	doc := ASMLDocument{
		Format:         "ASML_JSON",
		Version:        asmlFormatVersion,
		SamplingPoints: make([]ASMLSite, 0, len(result.SelectedPoints)),
		WaferData: ASMLWaferData{
			Size:        meta.WaferSize,
			ProductType: meta.ProductType,
			Layer:       meta.ProcessLayer,
		},
		VendorSpecific: map[string]any{
			"strategy_id":      meta.StrategyID,
			"strategy_name":    meta.StrategyName,
			"strategy_version": meta.Version,
		},
	}
	for k, v := range meta.VendorParams {
		doc.VendorSpecific[k] = v
	}
	for _, p := range result.SelectedPoints {
		doc.SamplingPoints = append(doc.SamplingPoints, ASMLSite{
			SiteX:   p.X - midX,
			SiteY:   p.Y - midY,
			Enabled: p.Available,
		})
	}
	if val != nil {
		score := val.AlignmentScore
		doc.ValidationScore = &score
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Output{}, errcode.Wrap(errcode.Internal, err, "encoding ASML export")
	}
	return Output{
		Bytes:       data,
		ContentType: "application/json",
		Filename:    fmt.Sprintf("%s_asml.json", exportBaseName(meta)),
	}, nil
}

// ParseASML decodes an ASML export back into its document form. Exists so
// round-trips can be verified without a tool in the loop.
func ParseASML(data []byte) (*ASMLDocument, error) {
	var doc ASMLDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errcode.Wrap(errcode.ParserError, err, "decoding ASML document")
	}
	if doc.Format != "ASML_JSON" {
		return nil, errcode.New(errcode.ParserError, "not an ASML document: format %q", doc.Format)
	}
	return &doc, nil
}

func exportBaseName(meta Meta) string {
	if meta.StrategyName != "" {
		return sanitizeName(meta.StrategyName)
	}
	return meta.StrategyID
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "strategy"
	}
	return string(out)
}
