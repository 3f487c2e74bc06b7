package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBackendUnreachable is returned once the wake budget is spent. The
	// session stays Unreachable until Reset.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrPredictionTimeout is returned when a predict call exceeds its bound
	// while the backend is Ready. Retrying Predict does not rerun the wake loop.
	ErrPredictionTimeout = errors.New("prediction timed out")

	// ErrRequestInFlight is returned when a session call overlaps another.
	ErrRequestInFlight = errors.New("request already in flight")
)

// ServerError is a non-2xx response that is not a validation failure.
type ServerError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Detail)
}

// Unavailable reports whether the status means the backend went away
// (gateway errors from a proxy in front of a sleeping process).
func (e *ServerError) Unavailable() bool {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
