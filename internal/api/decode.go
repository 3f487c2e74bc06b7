package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/danielpatrickdp/delay-risk/internal/feature"
)

// #region validation-error
// FieldIssue is one field-level validation failure.
type FieldIssue struct {
	Field  string
	Reason string
}

// ValidationError reports a request that does not have the shape of a
// feature record. Issues are listed in wire field order.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.Field == "" {
			parts[i] = is.Reason
			continue
		}
		parts[i] = is.Field + ": " + is.Reason
	}
	return strings.Join(parts, "; ")
}

// Field returns the first offending field, or "" for body-level problems.
func (e *ValidationError) Field() string {
	if len(e.Issues) == 0 {
		return ""
	}
	return e.Issues[0].Field
}

// #endregion validation-error

// #region decode
// DecodeRecord validates a POST /predict body and returns the record it
// describes. Categorical values are only checked for type: values outside
// the trained domain are accepted and handled by the encoder.
func DecodeRecord(body []byte) (feature.Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return feature.Record{}, &ValidationError{Issues: []FieldIssue{{Reason: "body must be a JSON object"}}}
	}

	var rec feature.Record
	var issues []FieldIssue

	if v, ok := field(raw, feature.FieldDistanceKM, &issues); ok {
		var d float64
		switch {
		case json.Unmarshal(v, &d) != nil:
			issues = append(issues, FieldIssue{feature.FieldDistanceKM, "must be a number"})
		case math.IsNaN(d) || math.IsInf(d, 0):
			issues = append(issues, FieldIssue{feature.FieldDistanceKM, "must be finite"})
		case d <= 0:
			issues = append(issues, FieldIssue{feature.FieldDistanceKM, "must be greater than 0"})
		default:
			rec.DistanceKM = d
		}
	}

	targets := []struct {
		name string
		dst  *string
	}{
		{feature.FieldWeather, &rec.Weather},
		{feature.FieldDayOfWeek, &rec.DayOfWeek},
		{feature.FieldTimeOfDay, &rec.TimeOfDay},
		{feature.FieldTrainType, &rec.TrainType},
		{feature.FieldRouteCongestion, &rec.RouteCongestion},
	}
	for _, tgt := range targets {
		v, ok := field(raw, tgt.name, &issues)
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, tgt.dst); err != nil {
			issues = append(issues, FieldIssue{tgt.name, "must be a string"})
		}
	}

	if len(issues) > 0 {
		return feature.Record{}, &ValidationError{Issues: issues}
	}
	return rec, nil
}

// field fetches a required, non-null member of raw, recording an issue
// when it is absent.
func field(raw map[string]json.RawMessage, name string, issues *[]FieldIssue) (json.RawMessage, bool) {
	v, ok := raw[name]
	if !ok {
		*issues = append(*issues, FieldIssue{name, "field required"})
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		*issues = append(*issues, FieldIssue{name, "must not be null"})
		return nil, false
	}
	return v, true
}

// #endregion decode

// #region domain-hint
// DomainHint describes the declared values of a categorical field, for
// log lines and user-facing messages.
func DomainHint(field string) string {
	return fmt.Sprintf("%s not one of {%s}", field, strings.Join(feature.Domain(field), ", "))
}

// #endregion domain-hint
