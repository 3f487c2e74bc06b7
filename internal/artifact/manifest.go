package artifact

import (
	"fmt"
	"io"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// #region manifest
// Manifest is the human-readable export of a training run: the fitted
// category order per field plus the logistic regression coefficients.
// JSON manifests parse too, since YAML is a superset.
type Manifest struct {
	Version     string           `yaml:"version,omitempty"`
	CreatedAt   time.Time        `yaml:"created_at,omitempty"`
	Source      string           `yaml:"source,omitempty"`
	Categorical []feature.Column `yaml:"categorical"`
	Numeric     []string         `yaml:"numeric"`
	Weights     []float64        `yaml:"weights"`
	Bias        float64          `yaml:"bias"`
	Threshold   *float64         `yaml:"threshold,omitempty"`
}

// #endregion manifest

// #region read
// ReadManifest parses a manifest and builds the artifact it describes.
// Missing version and created_at are filled in; a missing threshold
// defaults to classifier.DefaultThreshold.
func ReadManifest(r io.Reader) (*Artifact, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	a := &Artifact{
		Version:   m.Version,
		CreatedAt: m.CreatedAt.UTC(),
		Source:    m.Source,
		Schema:    feature.Schema{Categorical: m.Categorical, Numeric: m.Numeric},
		Model: classifier.Model{
			Weights:   m.Weights,
			Bias:      m.Bias,
			Threshold: classifier.DefaultThreshold,
		},
	}
	if m.Threshold != nil {
		a.Model.Threshold = *m.Threshold
	}
	if a.Version == "" {
		a.Version = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return a, nil
}

// #endregion read

// #region write
// WriteManifest writes a as YAML.
func WriteManifest(w io.Writer, a *Artifact) error {
	threshold := a.Model.Threshold
	m := Manifest{
		Version:     a.Version,
		CreatedAt:   a.CreatedAt,
		Source:      a.Source,
		Categorical: a.Schema.Categorical,
		Numeric:     a.Schema.Numeric,
		Weights:     a.Model.Weights,
		Bias:        a.Model.Bias,
		Threshold:   &threshold,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return enc.Close()
}

// #endregion write
