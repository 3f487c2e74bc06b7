package classifier

import (
	"errors"
	"math"
	"testing"
)

// #region helpers
func mustClassifier(t *testing.T, m Model) *Classifier {
	t.Helper()
	c, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// #endregion helpers

// #region sigmoid-tests
func TestSigmoid(t *testing.T) {
	tests := []struct {
		x    float64
		want float64
	}{
		{0, 0.5},
		{math.Log(3), 0.75},
		{-math.Log(3), 0.25},
	}
	for _, tt := range tests {
		if got := Sigmoid(tt.x); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Sigmoid(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestSigmoid_Extremes(t *testing.T) {
	if got := Sigmoid(-1000); got != 0 || math.IsNaN(got) {
		t.Errorf("Sigmoid(-1000) = %v, want 0", got)
	}
	if got := Sigmoid(1000); got != 1 {
		t.Errorf("Sigmoid(1000) = %v, want 1", got)
	}
}

// #endregion sigmoid-tests

// #region classify-tests
func TestClassify_Threshold(t *testing.T) {
	c := mustClassifier(t, Model{Weights: []float64{1, 0}, Bias: 0, Threshold: 0.5})

	p, err := c.Classify([]float64{0, 7})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Probability != 0.5 || p.Label != LabelHigh {
		t.Errorf("p=0.5 should be High, got %+v", p)
	}

	p, _ = c.Classify([]float64{-2, 0})
	if p.Label != LabelLow {
		t.Errorf("negative score should be Low, got %+v", p)
	}
}

func TestClassify_FullPrecisionThreshold(t *testing.T) {
	// p rounds to 0.500 but sits just below the threshold
	c := mustClassifier(t, Model{Weights: []float64{1}, Threshold: 0.5})
	p, err := c.Classify([]float64{-0.001})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if p.Rounded() != 0.5 {
		t.Fatalf("expected rounded 0.5, got %v", p.Rounded())
	}
	if p.Label != LabelLow {
		t.Errorf("expected Low on full precision, got %s", p.Label)
	}
}

func TestClassify_CustomThreshold(t *testing.T) {
	c := mustClassifier(t, Model{Weights: []float64{1}, Threshold: 0.8})
	p, _ := c.Classify([]float64{1}) // sigmoid(1) ~ 0.731
	if p.Label != LabelLow {
		t.Errorf("expected Low below 0.8 threshold, got %+v", p)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := mustClassifier(t, Model{Weights: []float64{0.3, -1.2, 0.004}, Bias: 0.1, Threshold: 0.5})
	vec := []float64{1, 0, 250}
	first, _ := c.Classify(vec)
	for i := 0; i < 100; i++ {
		p, err := c.Classify(vec)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if p != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, p, first)
		}
	}
}

func TestClassify_DimensionMismatch(t *testing.T) {
	c := mustClassifier(t, Model{Weights: []float64{1, 2, 3}, Threshold: 0.5})
	_, err := c.Classify([]float64{1, 2})
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Want != 3 || dm.Got != 2 {
		t.Errorf("unexpected mismatch detail: %+v", dm)
	}
}

// #endregion classify-tests

// #region model-tests
func TestNew_RejectsInvalidModel(t *testing.T) {
	cases := map[string]Model{
		"no weights":     {Threshold: 0.5},
		"nan weight":     {Weights: []float64{math.NaN()}, Threshold: 0.5},
		"inf bias":       {Weights: []float64{1}, Bias: math.Inf(1), Threshold: 0.5},
		"threshold high": {Weights: []float64{1}, Threshold: 1.5},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(m); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_CopiesWeights(t *testing.T) {
	w := []float64{1}
	c := mustClassifier(t, Model{Weights: w, Threshold: 0.5})
	w[0] = -100
	p, _ := c.Classify([]float64{1})
	if p.Label != LabelHigh {
		t.Fatal("classifier weights changed through caller's slice")
	}
}

func TestRounded(t *testing.T) {
	p := Prediction{Probability: 0.123456}
	if p.Rounded() != 0.123 {
		t.Errorf("expected 0.123, got %v", p.Rounded())
	}
}

// #endregion model-tests
