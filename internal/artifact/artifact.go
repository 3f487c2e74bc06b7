package artifact

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/classifier"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"github.com/google/uuid"
)

// #region artifact
// Artifact bundles the encoder layout and classifier parameters produced by
// one training run. Treat it as immutable once built or loaded.
type Artifact struct {
	Version   string
	CreatedAt time.Time
	Source    string // free-form description of the training data
	Schema    feature.Schema
	Model     classifier.Model
}

// New stamps a fresh version ID and creation time onto the given parameters.
func New(schema feature.Schema, model classifier.Model, source string) (*Artifact, error) {
	a := &Artifact{
		Version:   uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Schema:    schema.Clone(),
		Model:     model.Clone(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks internal consistency: a valid schema, a valid model and a
// weight vector as long as the encoded dimension.
func (a *Artifact) Validate() error {
	if a.Version == "" {
		return fmt.Errorf("artifact has no version")
	}
	if err := a.Schema.Validate(); err != nil {
		return err
	}
	if err := a.Model.Validate(); err != nil {
		return err
	}
	if dim := a.Schema.Dimension(); dim != len(a.Model.Weights) {
		return &classifier.DimensionMismatchError{Want: len(a.Model.Weights), Got: dim}
	}
	return nil
}

// Clone returns a deep copy.
func (a *Artifact) Clone() *Artifact {
	c := *a
	c.Schema = a.Schema.Clone()
	c.Model = a.Model.Clone()
	return &c
}

// #endregion artifact

// #region errors
var (
	ErrBadMagic          = errors.New("not a delay-risk artifact")
	ErrUnsupportedFormat = errors.New("unsupported artifact format version")
	ErrChecksum          = errors.New("artifact checksum mismatch")
	ErrNoActive          = errors.New("registry has no active artifact")
)

// LoadError reports that an artifact source is missing, corrupt or
// incompatible. The service must not start when loading fails.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load artifact %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// #endregion errors
