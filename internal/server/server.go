package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"github.com/danielpatrickdp/delay-risk/internal/audit"
	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"github.com/danielpatrickdp/delay-risk/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/health"
)

// DefaultMaxBodyBytes caps a POST /predict body.
const DefaultMaxBodyBytes = 64 << 10

// #region interfaces
// Predictor is the loaded inference pipeline.
type Predictor interface {
	Evaluate(rec feature.Record) (pipeline.Result, error)
	Info() pipeline.Info
}

// Recorder persists served predictions.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// #endregion interfaces

// #region server
// Server is the prediction HTTP surface. It is built only after the
// pipeline has loaded, so /health is ok for its whole lifetime.
type Server struct {
	predictor Predictor
	info      pipeline.Info
	logger    *slog.Logger
	recorder  Recorder
	maxBody   int64

	registry *prometheus.Registry
	metrics  *metrics
	health   *health.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRecorder appends every successful prediction to r.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New creates a server around a loaded predictor.
func New(p Predictor, opts ...Option) *Server {
	s := &Server{
		predictor: p,
		info:      p.Info(),
		logger:    slog.Default(),
		maxBody:   DefaultMaxBodyBytes,
		registry:  prometheus.NewRegistry(),
		health:    health.NewServer(),
	}
	for _, o := range opts {
		o(s)
	}
	s.metrics = newMetrics(s.registry)
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(path string, h http.Handler) {
		mux.Handle(path, observe(s.logger, s.metrics, path, h))
	}
	route(api.PathHealth, allow(http.MethodGet, s.handleHealth))
	route(api.PathPredict, allow(http.MethodPost, s.handlePredict))
	route(api.PathModel, allow(http.MethodGet, s.handleModel))
	route(api.PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	route("/", http.HandlerFunc(s.handleNotFound))
	return withRequestID(mux)
}

// Gatherer exposes the server's metrics registry.
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.registry
}

// #endregion server

// #region handlers
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	info := s.predictor.Info()
	writeJSON(w, http.StatusOK, api.ModelResponse{
		Version:     info.Version,
		CreatedAt:   info.CreatedAt,
		Source:      info.Source,
		Dimension:   info.Dimension,
		Threshold:   info.Threshold,
		Categorical: info.Categorical,
		Numeric:     info.Numeric,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, api.ErrorResponse{
		Code:   api.CodeNotFound,
		Detail: fmt.Sprintf("no route for %s", r.URL.Path),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := RequestID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{
				Code:   api.CodePayloadTooLarge,
				Detail: fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeError(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeValidation, Detail: "could not read body"})
		return
	}

	rec, err := api.DecodeRecord(body)
	if err != nil {
		var ve *api.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, api.ErrorResponse{
				Code:   api.CodeValidation,
				Detail: ve.Error(),
				Field:  ve.Field(),
			})
			return
		}
		writeError(w, http.StatusBadRequest, api.ErrorResponse{Code: api.CodeValidation, Detail: "invalid body"})
		return
	}

	res, err := s.predictor.Evaluate(rec)
	if err != nil {
		s.writePredictError(w, reqID, err)
		return
	}

	for _, field := range res.Unknown {
		value, _ := rec.Categorical(field)
		s.metrics.unknown.WithLabelValues(field).Inc()
		s.logger.Warn("unrecognised category encoded as zeros",
			"field", field,
			"value", value,
			"expected", api.DomainHint(field),
			"request_id", reqID,
		)
	}
	s.metrics.predictions.WithLabelValues(string(res.Prediction.Label)).Inc()

	s.record(r.Context(), reqID, rec, res, time.Since(start))
	writeJSON(w, http.StatusOK, api.NewPredictResponse(res.Prediction))
}

// writePredictError maps pipeline failures to stable codes. Internal error
// text is logged, never returned.
func (s *Server) writePredictError(w http.ResponseWriter, reqID string, err error) {
	var (
		encErr *feature.EncodingError
		dimErr *classifier.DimensionMismatchError
	)
	switch {
	case errors.As(err, &encErr):
		writeError(w, http.StatusBadRequest, api.ErrorResponse{
			Code:   api.CodeEncoding,
			Detail: encErr.Error(),
			Field:  encErr.Field,
		})
	case errors.As(err, &dimErr):
		s.metrics.mismatches.Inc()
		s.logger.Error("model mismatch: encoder and classifier disagree",
			"want", dimErr.Want,
			"got", dimErr.Got,
			"model_version", s.info.Version,
			"request_id", reqID,
		)
		writeError(w, http.StatusInternalServerError, api.ErrorResponse{
			Code:   api.CodeModelMismatch,
			Detail: "model artifact does not match the feature layout",
		})
	default:
		s.logger.Error("inference failed", "error", err, "request_id", reqID)
		writeError(w, http.StatusInternalServerError, api.ErrorResponse{
			Code:   api.CodeInference,
			Detail: "prediction failed",
		})
	}
}

func (s *Server) record(ctx context.Context, reqID string, rec feature.Record, res pipeline.Result, latency time.Duration) {
	if s.recorder == nil {
		return
	}
	input, err := json.Marshal(api.NewPredictRequest(rec))
	if err != nil {
		s.logger.Error("marshal audit input", "error", err, "request_id", reqID)
		return
	}
	err = s.recorder.Record(context.WithoutCancel(ctx), audit.Entry{
		RequestID:    reqID,
		ModelVersion: s.info.Version,
		InputJSON:    string(input),
		Label:        string(res.Prediction.Label),
		Probability:  res.Prediction.Probability,
		Unknown:      res.Unknown,
		Latency:      latency,
	})
	if err != nil {
		s.logger.Error("audit record failed", "error", err, "request_id", reqID)
	}
}

// #endregion handlers

// #region helpers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e api.ErrorResponse) {
	writeJSON(w, status, e)
}

func errMethodNotAllowed(method string) api.ErrorResponse {
	return api.ErrorResponse{
		Code:   api.CodeMethodNotAllowed,
		Detail: fmt.Sprintf("method %s not allowed", method),
	}
}

// #endregion helpers
