package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/artifact"
	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
)

// RegistryScheme prefixes a source that names a registry database rather
// than a single artifact file.
const RegistryScheme = "sqlite://"

// #region types
// Result is a prediction plus the categorical fields that fell back to the
// all-zero block.
type Result struct {
	Prediction classifier.Prediction
	Unknown    []string
}

// Info describes the loaded artifact.
type Info struct {
	Version     string
	CreatedAt   time.Time
	Source      string
	Dimension   int
	Threshold   float64
	Categorical []feature.Column
	Numeric     []string
}

// #endregion types

// #region pipeline
// Pipeline composes the encoder and classifier of one artifact. It holds no
// per-request state, so concurrent calls need no locking.
type Pipeline struct {
	info       Info
	encoder    *feature.Encoder
	classifier *classifier.Classifier
}

// New builds a pipeline from an artifact. The artifact is copied.
func New(a *artifact.Artifact) (*Pipeline, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a = a.Clone()

	enc, err := feature.NewEncoder(a.Schema)
	if err != nil {
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	clf, err := classifier.New(a.Model)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	if enc.Dimension() != clf.Dimension() {
		return nil, &classifier.DimensionMismatchError{Want: clf.Dimension(), Got: enc.Dimension()}
	}

	return &Pipeline{
		info: Info{
			Version:     a.Version,
			CreatedAt:   a.CreatedAt,
			Source:      a.Source,
			Dimension:   enc.Dimension(),
			Threshold:   clf.Threshold(),
			Categorical: a.Schema.Categorical,
			Numeric:     a.Schema.Numeric,
		},
		encoder:    enc,
		classifier: clf,
	}, nil
}

// Load reads an artifact from a file path, or from the active version of a
// registry when source starts with RegistryScheme. Every failure is an
// *artifact.LoadError.
func Load(source string) (*Pipeline, error) {
	var (
		a   *artifact.Artifact
		err error
	)
	if path, ok := strings.CutPrefix(source, RegistryScheme); ok {
		a, err = loadActive(path)
	} else {
		a, err = artifact.Load(source)
	}
	if err != nil {
		var le *artifact.LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &artifact.LoadError{Source: source, Err: err}
	}

	p, err := New(a)
	if err != nil {
		return nil, &artifact.LoadError{Source: source, Err: err}
	}
	return p, nil
}

func loadActive(dbPath string) (*artifact.Artifact, error) {
	// opening a missing path would create an empty database
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	reg, err := artifact.OpenRegistry(dbPath)
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	return reg.Active()
}

// #endregion pipeline

// #region predict
// Predict encodes r and classifies it.
func (p *Pipeline) Predict(r feature.Record) (classifier.Prediction, error) {
	vec, err := p.encoder.Encode(r)
	if err != nil {
		return classifier.Prediction{}, err
	}
	return p.classifier.Classify(vec)
}

// Evaluate is Predict plus the list of unrecognised categorical fields.
func (p *Pipeline) Evaluate(r feature.Record) (Result, error) {
	pred, err := p.Predict(r)
	if err != nil {
		return Result{}, err
	}
	return Result{Prediction: pred, Unknown: p.encoder.UnknownFields(r)}, nil
}

// Info returns metadata about the loaded artifact.
func (p *Pipeline) Info() Info {
	info := p.info
	s := feature.Schema{Categorical: info.Categorical, Numeric: info.Numeric}.Clone()
	info.Categorical, info.Numeric = s.Categorical, s.Numeric
	return info
}

// #endregion predict
