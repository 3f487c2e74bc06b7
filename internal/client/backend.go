package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
)

const maxResponseBytes = 1 << 20

// #region interfaces
// Prober checks whether the backend can take a prediction.
type Prober interface {
	Health(ctx context.Context) error
}

// Backend is the prediction service as seen by a Session.
type Backend interface {
	Prober
	Predict(ctx context.Context, rec feature.Record) (classifier.Prediction, error)
}

// #endregion interfaces

// #region http-backend
// HTTPBackend talks to the prediction service over its JSON HTTP surface.
// Deadlines come from the caller's context.
type HTTPBackend struct {
	baseURL string
	http    *http.Client
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) { b.http = c }
}

// NewHTTPBackend creates a backend rooted at baseURL.
func NewHTTPBackend(baseURL string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Health issues GET /health and requires a 200.
func (b *HTTPBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+api.PathHealth, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: status %d", resp.StatusCode)
	}
	return nil
}

// Predict issues POST /predict. A 400 comes back as *api.ValidationError,
// other non-2xx statuses as *ServerError.
func (b *HTTPBackend) Predict(ctx context.Context, rec feature.Record) (classifier.Prediction, error) {
	body, err := json.Marshal(api.NewPredictRequest(rec))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+api.PathPredict, bytes.NewReader(body))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("read predict response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifier.Prediction{}, decodeError(resp.StatusCode, raw)
	}

	var out api.PredictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return classifier.Prediction{}, fmt.Errorf("decode predict response: %w", err)
	}
	return out.Prediction(), nil
}

func decodeError(status int, raw []byte) error {
	var er api.ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Detail == "" {
		er = api.ErrorResponse{Detail: http.StatusText(status)}
	}
	if status == http.StatusBadRequest {
		return &api.ValidationError{Issues: []api.FieldIssue{{Field: er.Field, Reason: er.Detail}}}
	}
	return &ServerError{StatusCode: status, Code: er.Code, Detail: er.Detail}
}

// #endregion http-backend
