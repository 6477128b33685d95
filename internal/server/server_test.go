package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"image-pipeline/internal/operations"
	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/storage"
)

type fixture struct {
	server   *Server
	registry *operations.Registry
	sessions *operations.Sessions
	db       *storage.DB
}

func newFixture(t *testing.T, withSessions bool) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	db, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	reg := operations.Default(logger)
	f := &fixture{registry: reg, db: db}
	opts := Options{
		Registry: reg,
		Pipeline: pipeline.Options{Recorder: db},
		History:  db,
		Logger:   logger,
	}
	if withSessions {
		f.sessions = operations.NewSessions(reg, time.Hour, 2, logger)
		opts.Sessions = f.sessions
	}
	f.server = New(opts)

	t.Cleanup(func() {
		if f.sessions != nil {
			f.sessions.Close()
		}
		reg.Close()
		db.Close()
	})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T, rows, cols int) []byte {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 200, 90, 0), rows, cols, gocv.MatTypeCV8UC3)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	require.NoError(t, err)
	defer buf.Close()
	return bytes.Clone(buf.GetBytes())
}

func processRequest(t *testing.T, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if image != nil {
		part, err := w.CreateFormFile("image", "input.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeDataURL(t *testing.T, url string) gocv.Mat {
	t.Helper()
	const prefix = "data:image/png;base64,"
	require.True(t, strings.HasPrefix(url, prefix))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	require.NoError(t, err)
	mat, err := gocv.IMDecode(raw, gocv.IMReadUnchanged)
	require.NoError(t, err)
	return mat
}

func TestListOperations(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/operations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Operations []struct {
			ID     string         `json:"id"`
			Params map[string]any `json:"params"`
		} `json:"operations"`
		Categories map[string]any `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Len(t, body.Operations, len(operations.Builtins()))
	assert.Equal(t, "brightness", body.Operations[0].ID)
	assert.Equal(t, 0.0, body.Operations[0].Params["value"])
	assert.Contains(t, body.Categories, "opencv")
}

func TestParamsEndpoints(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/operations/nope/params", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPut, "/api/operations/brightness/params", strings.NewReader(`{"value": 25, "bogus": 1}`))
	req.Header.Set("Content-Type", "application/json")
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body paramsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 25.0, body.Params["value"])
	assert.NotContains(t, body.Params, "bogus")

	values, err := f.registry.Params("brightness")
	require.NoError(t, err)
	assert.Equal(t, 25.0, values["value"])

	req = httptest.NewRequest(http.MethodPut, "/api/operations/brightness/params", strings.NewReader(`{not json`))
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestProcess(t *testing.T) {
	f := newFixture(t, false)

	req := processRequest(t, pngBytes(t, 32, 48), map[string]string{
		"pipeline":      `[{"id": "flip", "params": {"direction": "vertical"}}, {"id": "nope"}, {"id": "grayscale"}]`,
		"preview_steps": `[0, 1]`,
	})
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, []string{"nope"}, body.Skipped)
	assert.GreaterOrEqual(t, body.ProcessingTime, int64(0))
	assert.Contains(t, body.IntermediateResults, "0")
	assert.NotContains(t, body.IntermediateResults, "1", "skipped steps have no snapshot")

	out := decodeDataURL(t, body.Image)
	defer out.Close()
	assert.Equal(t, 32, out.Rows())
	assert.Equal(t, 48, out.Cols())

	runs, err := f.db.GetRuns(req.Context(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, body.RunID, runs[0].ID)
	assert.True(t, runs[0].Success)
}

func TestProcessErrors(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name   string
		image  []byte
		fields map[string]string
		code   int
	}{
		{"missing image", nil, map[string]string{"pipeline": `[]`}, http.StatusBadRequest},
		{"bad pipeline json", pngBytes(t, 8, 8), map[string]string{"pipeline": `[{`}, http.StatusBadRequest},
		{"bad preview json", pngBytes(t, 8, 8), map[string]string{"preview_steps": `zero`}, http.StatusBadRequest},
		{"not an image", []byte("definitely not a png"), map[string]string{"pipeline": `[]`}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(processRequest(t, tt.image, tt.fields))
			assert.Equal(t, tt.code, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestProcessFailureReportsStep(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(processRequest(t, pngBytes(t, 16, 16), map[string]string{
		"pipeline":      `[{"id": "grayscale"}, {"id": "template_matching", "params": {"template_path": "/missing/template.png"}}]`,
		"preview_steps": `[0]`,
	}))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "template_matching", body.Operation)
	require.NotNil(t, body.Position)
	assert.Equal(t, 1, *body.Position)

	runs, err := f.db.GetRuns(t.Context(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.Equal(t, "template_matching", runs[0].FailedOp)
}

func TestSessionsIsolateParams(t *testing.T) {
	f := newFixture(t, true)

	req := httptest.NewRequest(http.MethodPut, "/api/operations/blur/params", strings.NewReader(`{"radius": 15}`))
	req.Header.Set(SessionHeader, "alice")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get(SessionHeader))

	get := func(session string) paramsResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/operations/blur/params", nil)
		req.Header.Set(SessionHeader, session)
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		var body paramsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, 15.0, get("alice").Params["radius"])
	assert.NotEqual(t, 15.0, get("bob").Params["radius"])
	assert.Equal(t, 1, f.sessions.Len(), "reads do not open sessions")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/operations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestSessionLimitRejectsNewSessions(t *testing.T) {
	f := newFixture(t, true)

	put := func(session string) int {
		req := httptest.NewRequest(http.MethodPut, "/api/operations/blur/params", strings.NewReader(`{"radius": 7}`))
		req.Header.Set(SessionHeader, session)
		return f.do(req).Code
	}

	assert.Equal(t, http.StatusOK, put("alice"))
	assert.Equal(t, http.StatusOK, put("bob"))
	assert.Equal(t, http.StatusTooManyRequests, put("carol"))
	assert.Equal(t, http.StatusOK, put("alice"), "existing sessions keep working")
	assert.Equal(t, 2, f.sessions.Len())
}

func TestRunsHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs runsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Empty(t, runs.Runs)
	assert.Equal(t, 5, runs.Limit)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, len(operations.Builtins()), health.Operations)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imagepipeline_http_requests_total")
}

func TestGetRun(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(processRequest(t, pngBytes(t, 8, 8), map[string]string{"pipeline": `[{"id": "grayscale"}]`}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var processed ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &processed))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/runs/"+processed.RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run storage.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, processed.RunID, run.ID)
	assert.True(t, run.Success)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/runs/no-such-run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "run not found")
}

func TestRunsDisabledWithoutHistory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := operations.Default(logger)
	defer reg.Close()

	s := New(Options{Registry: reg, Logger: logger})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
