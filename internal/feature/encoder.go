package feature

import (
	"fmt"
	"math"
)

// #region errors
// EncodingError reports a structurally malformed record. An unrecognised
// category is never an EncodingError.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Field, e.Reason)
}

// #endregion errors

// #region encoder
// Encoder one-hot encodes categorical fields and passes numeric fields
// through unscaled. It is immutable after construction and safe for
// concurrent use.
type Encoder struct {
	schema Schema
	blocks []Block
	index  []map[string]int // per categorical column: category -> position in block
	dim    int
}

// NewEncoder builds an encoder for the given schema.
func NewEncoder(s Schema) (*Encoder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s = s.Clone()
	e := &Encoder{
		schema: s,
		blocks: s.Layout(),
		index:  make([]map[string]int, len(s.Categorical)),
		dim:    s.Dimension(),
	}
	for i, c := range s.Categorical {
		m := make(map[string]int, len(c.Categories))
		for j, cat := range c.Categories {
			m[cat] = j
		}
		e.index[i] = m
	}
	return e, nil
}

// Dimension is the length of every vector this encoder produces.
func (e *Encoder) Dimension() int { return e.dim }

// Schema returns a copy of the encoder's schema.
func (e *Encoder) Schema() Schema { return e.schema.Clone() }

// Encode maps r to its fixed-width vector. A category outside the trained
// set (including the empty string) leaves its block all zero.
func (e *Encoder) Encode(r Record) ([]float64, error) {
	vec := make([]float64, e.dim)
	for i, c := range e.schema.Categorical {
		val, ok := r.Categorical(c.Name)
		if !ok {
			return nil, &EncodingError{Field: c.Name, Reason: "not a categorical field"}
		}
		if pos, known := e.index[i][val]; known {
			vec[e.blocks[i].Offset+pos] = 1
		}
	}
	for j, name := range e.schema.Numeric {
		val, ok := r.Numeric(name)
		if !ok {
			return nil, &EncodingError{Field: name, Reason: "not a numeric field"}
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, &EncodingError{Field: name, Reason: "value is not finite"}
		}
		vec[e.blocks[len(e.schema.Categorical)+j].Offset] = val
	}
	return vec, nil
}

// UnknownFields returns the categorical fields of r whose value is outside
// the trained category set, in schema order.
func (e *Encoder) UnknownFields(r Record) []string {
	var unknown []string
	for i, c := range e.schema.Categorical {
		val, _ := r.Categorical(c.Name)
		if _, known := e.index[i][val]; !known {
			unknown = append(unknown, c.Name)
		}
	}
	return unknown
}

// #endregion encoder
