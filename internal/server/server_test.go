package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"github.com/danielpatrickdp/delay-risk/internal/artifact"
	"github.com/danielpatrickdp/delay-risk/internal/audit"
	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"github.com/danielpatrickdp/delay-risk/internal/pipeline"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	a, err := artifact.New(feature.DefaultSchema(), classifier.Model{
		Weights: []float64{
			-0.6, 0.9, 0.5,
			0.2, 0.3, -0.2, -0.3, 0.1, 0.0, 0.05,
			0.1, 0.35, 0.25, -0.4,
			-0.2, 0.45, -0.35,
			0.8, -0.7, 0.1,
			0.0015,
		},
		Bias:      -0.25,
		Threshold: 0.5,
	}, "server test")
	require.NoError(t, err)
	p, err := pipeline.New(a)
	require.NoError(t, err)
	return p
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *fakeRecorder) snapshot() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func (r *fakeRecorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

// failingPredictor wraps a real pipeline's Info but fails every Evaluate.
type failingPredictor struct {
	info pipeline.Info
	err  error
}

func (f failingPredictor) Evaluate(feature.Record) (pipeline.Result, error) {
	return pipeline.Result{}, f.err
}

func (f failingPredictor) Info() pipeline.Info { return f.info }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, p Predictor, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(p, append([]Option{WithLogger(quietLogger())}, opts...)...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postPredict(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url+api.PathPredict, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func counterValue(t *testing.T, s *Server, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := s.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

const mondayExpressBody = `{"distance_km":100,"weather":"Clear","day_of_week":"Monday","time_of_day":"Morning","train_type":"Express","route_congestion":"Low"}`

// #endregion helpers

// #region health-tests
func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))

	resp, err := http.Get(ts.URL + api.PathHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	var body api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

// #endregion health-tests

// #region predict-tests
func TestPredict_ClearMondayExpress(t *testing.T) {
	rec := &fakeRecorder{}
	s, ts := newTestServer(t, testPipeline(t), WithRecorder(rec))

	resp, body := postPredict(t, ts.URL, mondayExpressBody)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out api.PredictResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "Low", out.DelayRisk)
	assert.GreaterOrEqual(t, out.Probability, 0.0)
	assert.LessOrEqual(t, out.Probability, 1.0)
	// sigmoid(-1.05) = 0.2592
	assert.Equal(t, 0.259, out.Probability)

	entries := rec.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, resp.Header.Get(headerRequestID), entries[0].RequestID)
	assert.Equal(t, "Low", entries[0].Label)
	assert.Empty(t, entries[0].Unknown)
	assert.Equal(t, 1.0, counterValue(t, s, "delayrisk_predictions_total", map[string]string{"label": "Low"}))
}

func TestPredict_UnknownCategoryTolerated(t *testing.T) {
	rec := &fakeRecorder{}
	s, ts := newTestServer(t, testPipeline(t), WithRecorder(rec))

	body := strings.Replace(mondayExpressBody, `"Clear"`, `"Snowy"`, 1)
	resp, out := postPredict(t, ts.URL, body)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(out))

	var pr api.PredictResponse
	require.NoError(t, json.Unmarshal(out, &pr))
	// sigmoid(-0.45) = 0.3894
	assert.Equal(t, 0.389, pr.Probability)

	entries := rec.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, []string{feature.FieldWeather}, entries[0].Unknown)
	assert.Equal(t, 1.0, counterValue(t, s, "delayrisk_unknown_category_total", map[string]string{"field": "weather"}))
}

func TestPredict_MissingDistance(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))

	resp, body := postPredict(t, ts.URL, `{"weather":"Clear","day_of_week":"Monday","time_of_day":"Morning","train_type":"Express","route_congestion":"Low"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var er api.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &er))
	assert.Equal(t, api.CodeValidation, er.Code)
	assert.Equal(t, feature.FieldDistanceKM, er.Field)
	assert.Contains(t, er.Detail, "distance_km")
}

func TestPredict_BadBodies(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t), WithMaxBodyBytes(256))

	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
	}{
		{"not json", `distance=100`, http.StatusBadRequest, api.CodeValidation},
		{"negative distance", strings.Replace(mondayExpressBody, "100", "-4", 1), http.StatusBadRequest, api.CodeValidation},
		{"too large", `{"pad":"` + strings.Repeat("x", 512) + `"}`, http.StatusRequestEntityTooLarge, api.CodePayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postPredict(t, ts.URL, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			var er api.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.Equal(t, tt.wantCode, er.Code)
		})
	}
}

func TestPredict_ErrorMapping(t *testing.T) {
	info := testPipeline(t).Info()
	tests := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"encoding", &feature.EncodingError{Field: feature.FieldDistanceKM, Reason: "not finite"}, http.StatusBadRequest, api.CodeEncoding},
		{"dimension", &classifier.DimensionMismatchError{Want: 21, Got: 20}, http.StatusInternalServerError, api.CodeModelMismatch},
		{"unexpected", errors.New("runtime: index out of range [21]"), http.StatusInternalServerError, api.CodeInference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			s, ts := newTestServer(t, failingPredictor{info: info, err: tt.err}, WithRecorder(rec))

			resp, body := postPredict(t, ts.URL, mondayExpressBody)
			assert.Equal(t, tt.status, resp.StatusCode)
			var er api.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.Equal(t, tt.wantCode, er.Code)
			assert.NotContains(t, string(body), "index out of range")
			assert.Empty(t, rec.snapshot())

			if tt.wantCode == api.CodeModelMismatch {
				assert.Equal(t, 1.0, counterValue(t, s, "delayrisk_model_mismatch_total", nil))
			}
		})
	}
}

func TestPredict_AuditFailureDoesNotFailRequest(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	_, ts := newTestServer(t, testPipeline(t), WithRecorder(rec))

	resp, _ := postPredict(t, ts.URL, mondayExpressBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// #endregion predict-tests

// #region surface-tests
func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))

	resp, err := http.Get(ts.URL + api.PathPredict)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
	var er api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	assert.Equal(t, api.CodeMethodNotAllowed, er.Code)
}

func TestNotFound(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))
	resp, err := http.Get(ts.URL + "/train")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModel(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))

	resp, err := http.Get(ts.URL + api.PathModel)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m api.ModelResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, 21, m.Dimension)
	assert.Equal(t, 0.5, m.Threshold)
	assert.Equal(t, "server test", m.Source)
	require.Len(t, m.Categorical, 5)
	assert.Equal(t, feature.FieldWeather, m.Categorical[0].Name)
	assert.Equal(t, []string{feature.FieldDistanceKM}, m.Numeric)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))
	postPredict(t, ts.URL, mondayExpressBody)

	resp, err := http.Get(ts.URL + api.PathMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `delayrisk_http_requests_total{code="200",route="/predict"} 1`)
	assert.Contains(t, string(b), "delayrisk_predictions_total")
}

func TestRequestIDPropagated(t *testing.T) {
	_, ts := newTestServer(t, testPipeline(t))
	req, _ := http.NewRequest(http.MethodGet, ts.URL+api.PathHealth, nil)
	req.Header.Set(headerRequestID, "trace-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-42", resp.Header.Get(headerRequestID))
}

// #endregion surface-tests
