package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/api"
	"github.com/metrolab/wafersample/pkg/config"
	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/service"
)

const gridSVG = `<svg>` +
	`<rect x="0" y="0" width="10" height="10"/><rect x="12" y="0" width="10" height="10"/><rect x="24" y="0" width="10" height="10"/>` +
	`<rect x="0" y="12" width="10" height="10"/><rect x="12" y="12" width="10" height="10"/><rect x="24" y="12" width="10" height="10"/>` +
	`<rect x="0" y="24" width="10" height="10"/><rect x="12" y="24" width="10" height="10"/><rect x="24" y="24" width="10" height="10"/>` +
	`</svg>`

func newTestServer(t *testing.T, limits service.Limits) *httptest.Server {
	t.Helper()
	if limits == (service.Limits{}) {
		limits = service.DefaultLimits()
	}
	svc, err := service.New(repository.NewMemoryStore(), rules.Builtin(), emitter.Builtin(), nil,
		service.Options{Limits: limits})
	require.NoError(t, err)

	srv := api.New(svc, nil, config.ServerConfig{CORSOrigins: []string{"*"}}, limits)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func uploadSchematic(t *testing.T, ts *httptest.Server, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/schematics/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestUploadSchematic(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp := uploadSchematic(t, ts, "grid.svg", gridSVG)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["id"].(string)
	assert.NotEmpty(t, id)
	assert.Len(t, body["dies"], 9)

	resp, err := http.Get(ts.URL + "/schematics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody(t, resp)
	assert.Equal(t, float64(1), list["count"])

	resp, err = http.Get(ts.URL + "/schematics/" + id + "/die-boundaries")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	dies := decodeBody(t, resp)
	assert.Equal(t, float64(9), dies["count"])
}

func TestUploadSchematicMissingFile(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("notfile", "x"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/schematics/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fileUploadError", errObj["code"])
	assert.NotEmpty(t, body["request_id"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestUploadSchematicTooLarge(t *testing.T) {
	ts := newTestServer(t, service.Limits{MaxUploadBytes: 64, MaxDies: 100})

	resp := uploadSchematic(t, ts, "grid.svg", gridSVG)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "payloadTooLarge", errObj["code"])
}

func TestGetUnknownStrategy(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp, err := http.Get(ts.URL + "/strategies/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "notFound", errObj["code"])
}

func strategyJSON() string {
	return `{
		"name": "inline scan",
		"strategyType": "fixedPoint",
		"author": "alice",
		"processStep": "etch-1",
		"toolType": "cd-sem",
		"rules": [{
			"ruleType": "fixedPoint",
			"parameters": {"points": [[0, 0], [1, 1]]},
			"weight": 1,
			"enabled": true
		}]
	}`
}

const waferMapJSON = `{"dies": [
	{"x": 0, "y": 0, "available": true}, {"x": 1, "y": 0, "available": true}, {"x": 2, "y": 0, "available": true},
	{"x": 0, "y": 1, "available": true}, {"x": 1, "y": 1, "available": true}, {"x": 2, "y": 1, "available": true},
	{"x": 0, "y": 2, "available": true}, {"x": 1, "y": 2, "available": true}, {"x": 2, "y": 2, "available": true}
]}`

func TestStrategyLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp, err := http.Post(ts.URL+"/strategies", "application/json", strings.NewReader(strategyJSON()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	id := created["id"].(string)
	assert.Equal(t, "draft", created["lifecycleState"])

	// Simulation needs a wafer map.
	resp, err = http.Post(ts.URL+"/strategies/"+id+"/simulate", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/strategies/"+id+"/simulate", "application/json",
		strings.NewReader(`{"waferMap": `+waferMapJSON+`}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sim := decodeBody(t, resp)
	assert.Len(t, sim["selectedPoints"], 2)

	// draft -> review -> approved: the clean simulation above unblocks
	// approval.
	resp, err = http.Post(ts.URL+"/strategies/"+id+"/promote?user=rev", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	promoted := decodeBody(t, resp)
	assert.Equal(t, "review", promoted["lifecycleState"])

	resp, err = http.Post(ts.URL+"/strategies/"+id+"/promote?user=appr", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	promoted = decodeBody(t, resp)
	assert.Equal(t, "approved", promoted["lifecycleState"])

	resp, err = http.Post(ts.URL+"/strategies/"+id+"/export/asml", "application/json",
		strings.NewReader(`{"waferMap": `+waferMapJSON+`}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "asml")
	resp.Body.Close()
}

func TestPromoteConflict(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp, err := http.Post(ts.URL+"/strategies", "application/json", strings.NewReader(strategyJSON()))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	id := created["id"].(string)

	resp, err = http.Post(ts.URL+"/strategies/"+id+"/promote?user=rev", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Approval without a clean simulation is a business-rule rejection.
	resp, err = http.Post(ts.URL+"/strategies/"+id+"/promote?user=appr", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "businessLogicError", errObj["code"])
}

func TestMalformedJSONBody(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp, err := http.Post(ts.URL+"/strategies", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "validationError", errObj["code"])
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://fab.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://fab.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetaEndpoints(t *testing.T) {
	ts := newTestServer(t, service.Limits{})

	resp, err := http.Get(ts.URL + "/meta/vendors")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.ElementsMatch(t, []any{"asml", "kla"}, body["vendors"])

	resp, err = http.Get(ts.URL + "/meta/formats")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Len(t, body["formats"], 3)

	resp, err = http.Get(ts.URL + "/meta/rule-types")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Len(t, body["ruleTypes"], 4)
}
