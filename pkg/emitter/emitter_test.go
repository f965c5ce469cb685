package emitter_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/validation"
)

// sampleResult covers x in [0, 4] and y in [0, 2].
func sampleResult() *engine.SimulationResult {
	return &engine.SimulationResult{
		SelectedPoints: []engine.SelectedPoint{
			{X: 0, Y: 0, RuleSource: "fixedPoint", Priority: 1, Available: true},
			{X: 4, Y: 2, RuleSource: "fixedPoint", Priority: 0.8, Available: true},
			{X: 2, Y: 1, RuleSource: "randomSampling", Priority: 0.5, Available: false},
		},
		CoverageStats: engine.CoverageStats{
			SelectedCount: 3,
			XRange:        [2]float64{0, 4},
			YRange:        [2]float64{0, 2},
		},
	}
}

func TestRegistry(t *testing.T) {
	reg := emitter.Builtin()
	assert.Equal(t, []string{"asml", "kla"}, reg.List())
	assert.True(t, reg.Has("asml"))
	assert.False(t, reg.Has("nikon"))

	_, err := reg.Get("nikon")
	require.Error(t, err)
	assert.Equal(t, errcode.UnknownPlugin, errcode.CodeOf(err))
}

func TestASMLRoundTrip(t *testing.T) {
	e := &emitter.ASML{}
	out, err := e.Emit(sampleResult(), emitter.Meta{
		StrategyID:   "id-1",
		StrategyName: "uniform scan",
		Version:      "1.2.0",
		WaferSize:    "300mm",
		VendorParams: map[string]any{"recipe": "R1"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", out.ContentType)
	assert.Equal(t, "uniform_scan_asml.json", out.Filename)

	doc, err := emitter.ParseASML(out.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "ASML_JSON", doc.Format)
	assert.Equal(t, "1.2", doc.Version)
	assert.Equal(t, "300mm", doc.WaferData.Size)
	assert.Equal(t, "R1", doc.VendorSpecific["recipe"])
	assert.Equal(t, "1.2.0", doc.VendorSpecific["strategy_version"])
	assert.Nil(t, doc.ValidationScore)

	// Sites are re-centered on the midpoint of the covered region (2, 1).
	require.Len(t, doc.SamplingPoints, 3)
	assert.Equal(t, emitter.ASMLSite{SiteX: -2, SiteY: -1, Enabled: true}, doc.SamplingPoints[0])
	assert.Equal(t, emitter.ASMLSite{SiteX: 2, SiteY: 1, Enabled: true}, doc.SamplingPoints[1])
	assert.Equal(t, emitter.ASMLSite{SiteX: 0, SiteY: 0, Enabled: false}, doc.SamplingPoints[2])
}

func TestASMLEmbedsValidationScore(t *testing.T) {
	e := &emitter.ASML{}
	out, err := e.Emit(sampleResult(), emitter.Meta{StrategyID: "id-1"}, &validation.Result{
		AlignmentScore: 0.85,
		Status:         validation.StatusWarning,
	})
	require.NoError(t, err)

	doc, err := emitter.ParseASML(out.Bytes)
	require.NoError(t, err)
	require.NotNil(t, doc.ValidationScore)
	assert.InDelta(t, 0.85, *doc.ValidationScore, 1e-9)
}

func TestParseASMLRejectsForeignJSON(t *testing.T) {
	_, err := emitter.ParseASML([]byte(`{"format":"SOMETHING_ELSE"}`))
	require.Error(t, err)
	assert.Equal(t, errcode.ParserError, errcode.CodeOf(err))
}

func TestKLAFlipsYAxis(t *testing.T) {
	e := &emitter.KLA{}
	out, err := e.Emit(sampleResult(), emitter.Meta{
		StrategyName: "edge ring",
		WaferSize:    "200mm",
	}, &validation.Result{AlignmentScore: 1, Status: validation.StatusPass})
	require.NoError(t, err)
	assert.Equal(t, "application/xml", out.ContentType)
	assert.Equal(t, "edge_ring_kla.xml", out.Filename)
	assert.True(t, strings.HasPrefix(string(out.Bytes), "<?xml"))

	doc, err := emitter.ParseKLA(out.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "2.0", doc.Version)
	assert.Equal(t, "200mm", doc.WaferSize)
	require.NotNil(t, doc.ValidationInfo)
	assert.Equal(t, "pass", doc.ValidationInfo.Status)

	// Corner origin, y-down: (0,0) maps to (0, maxY) and the top point maps
	// to y = 0.
	require.Len(t, doc.Sites, 3)
	assert.Equal(t, emitter.KLASite{XPosition: 0, YPosition: 2, Enabled: true}, doc.Sites[0])
	assert.Equal(t, emitter.KLASite{XPosition: 4, YPosition: 0, Enabled: true}, doc.Sites[1])
	assert.Equal(t, emitter.KLASite{XPosition: 2, YPosition: 1, Enabled: false}, doc.Sites[2])
}

func TestParseKLARejectsMissingVersion(t *testing.T) {
	_, err := emitter.ParseKLA([]byte(`<KLA_SamplingPlan></KLA_SamplingPlan>`))
	require.Error(t, err)
	assert.Equal(t, errcode.ParserError, errcode.CodeOf(err))
}

func TestEmptyResultStillEmits(t *testing.T) {
	empty := &engine.SimulationResult{SelectedPoints: []engine.SelectedPoint{}}

	out, err := (&emitter.ASML{}).Emit(empty, emitter.Meta{StrategyID: "id-9"}, nil)
	require.NoError(t, err)
	doc, err := emitter.ParseASML(out.Bytes)
	require.NoError(t, err)
	assert.Empty(t, doc.SamplingPoints)
	assert.Equal(t, "id-9_asml.json", out.Filename)

	out, err = (&emitter.KLA{}).Emit(empty, emitter.Meta{StrategyID: "id-9"}, nil)
	require.NoError(t, err)
	kdoc, err := emitter.ParseKLA(out.Bytes)
	require.NoError(t, err)
	assert.Empty(t, kdoc.Sites)
}
