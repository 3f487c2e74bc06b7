package api

import (
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
)

// #region paths
const (
	PathHealth  = "/health"
	PathPredict = "/predict"
	PathModel   = "/model"
	PathMetrics = "/metrics"
)

// #endregion paths

// #region codes
// Stable machine-readable error codes carried in ErrorResponse.Code.
const (
	CodeValidation       = "validation_error"
	CodeEncoding         = "encoding_error"
	CodeModelMismatch    = "model_mismatch"
	CodeInference        = "inference_failed"
	CodePayloadTooLarge  = "payload_too_large"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeNotFound         = "not_found"
)

// HealthService is the grpc.health.v1 service name the server reports.
const HealthService = "delayrisk.PredictionService"

// #endregion codes

// #region wire-types
// PredictRequest is the POST /predict body.
type PredictRequest struct {
	DistanceKM      float64 `json:"distance_km"`
	Weather         string  `json:"weather"`
	DayOfWeek       string  `json:"day_of_week"`
	TimeOfDay       string  `json:"time_of_day"`
	TrainType       string  `json:"train_type"`
	RouteCongestion string  `json:"route_congestion"`
}

// NewPredictRequest builds the wire form of a record.
func NewPredictRequest(r feature.Record) PredictRequest {
	return PredictRequest{
		DistanceKM:      r.DistanceKM,
		Weather:         r.Weather,
		DayOfWeek:       r.DayOfWeek,
		TimeOfDay:       r.TimeOfDay,
		TrainType:       r.TrainType,
		RouteCongestion: r.RouteCongestion,
	}
}

// PredictResponse is the 200 body of POST /predict. Probability is rounded
// to 3 decimals.
type PredictResponse struct {
	DelayRisk   string  `json:"delay_risk"`
	Probability float64 `json:"probability"`
}

// NewPredictResponse rounds p for presentation.
func NewPredictResponse(p classifier.Prediction) PredictResponse {
	return PredictResponse{DelayRisk: string(p.Label), Probability: p.Rounded()}
}

// Prediction converts the wire response back into a classifier prediction.
func (r PredictResponse) Prediction() classifier.Prediction {
	return classifier.Prediction{Label: classifier.Label(r.DelayRisk), Probability: r.Probability}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
}

// ModelResponse is the body of GET /model.
type ModelResponse struct {
	Version     string           `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	Source      string           `json:"source,omitempty"`
	Dimension   int              `json:"dimension"`
	Threshold   float64          `json:"threshold"`
	Categorical []feature.Column `json:"categorical"`
	Numeric     []string         `json:"numeric"`
}

// #endregion wire-types
