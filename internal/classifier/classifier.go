package classifier

import (
	"fmt"
	"math"
)

// #region label
// Label is the binary delay-risk decision.
type Label string

const (
	LabelLow  Label = "Low"
	LabelHigh Label = "High"
)

// #endregion label

// #region prediction
// Prediction is the classifier output. Probability keeps full precision;
// Rounded is for presentation only.
type Prediction struct {
	Label       Label
	Probability float64
}

// Rounded returns the probability rounded to 3 decimal places.
func (p Prediction) Rounded() float64 {
	return math.Round(p.Probability*1000) / 1000
}

// #endregion prediction

// #region model
// DefaultThreshold is the decision threshold used when a model does not set one.
const DefaultThreshold = 0.5

// Model holds logistic regression parameters loaded from an artifact.
type Model struct {
	Weights   []float64
	Bias      float64
	Threshold float64
}

// Validate checks that all parameters are finite and the threshold is a probability.
func (m Model) Validate() error {
	if len(m.Weights) == 0 {
		return fmt.Errorf("model has no weights")
	}
	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight %d is not finite", i)
		}
	}
	if math.IsNaN(m.Bias) || math.IsInf(m.Bias, 0) {
		return fmt.Errorf("bias is not finite")
	}
	if math.IsNaN(m.Threshold) || m.Threshold < 0 || m.Threshold > 1 {
		return fmt.Errorf("threshold %v outside [0,1]", m.Threshold)
	}
	return nil
}

// Clone returns a deep copy.
func (m Model) Clone() Model {
	m.Weights = append([]float64(nil), m.Weights...)
	return m
}

// #endregion model

// #region errors
// DimensionMismatchError signals encoder/classifier version skew.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: model expects %d features, got %d", e.Want, e.Got)
}

// #endregion errors

// #region classifier
// Classifier scores encoded vectors with a logistic model. Immutable and
// safe for concurrent use.
type Classifier struct {
	model Model
}

// New creates a classifier from a copy of m.
func New(m Model) (*Classifier, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	return &Classifier{model: m.Clone()}, nil
}

// Dimension is the vector length the model expects.
func (c *Classifier) Dimension() int { return len(c.model.Weights) }

// Threshold is the probability at or above which the label is High.
func (c *Classifier) Threshold() float64 { return c.model.Threshold }

// Classify computes p = sigmoid(w·x + b) and labels High iff p >= threshold.
// The comparison uses the unrounded probability.
func (c *Classifier) Classify(vec []float64) (Prediction, error) {
	if len(vec) != len(c.model.Weights) {
		return Prediction{}, &DimensionMismatchError{Want: len(c.model.Weights), Got: len(vec)}
	}
	s := c.model.Bias
	for i, x := range vec {
		s += c.model.Weights[i] * x
	}
	p := Sigmoid(s)
	label := LabelLow
	if p >= c.model.Threshold {
		label = LabelHigh
	}
	return Prediction{Label: label, Probability: p}, nil
}

// Sigmoid is the logistic function, evaluated without overflow for large |x|.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	z := math.Exp(x)
	return z / (1 + z)
}

// #endregion classifier
